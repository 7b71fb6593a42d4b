package domain

import (
	"fmt"
	"time"
)

// Action is a moderation action.
type Action string

const (
	ActionBan     Action = "ban"
	ActionMute    Action = "mute"
	ActionTimeout Action = "timeout"

	// Broadcast-only actions.
	ActionReverse  Action = "reverse"
	ActionSlowMode Action = "slow_mode"
)

// ParseAction validates a blocking action (ban, mute or timeout).
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionBan, ActionMute, ActionTimeout:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// ModerationEntry records one active restriction on a user.
type ModerationEntry struct {
	TargetUserID string     `json:"target_user_id"`
	Action       Action     `json:"action"`
	ModeratorID  string     `json:"moderator_id"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Validate checks that a timeout carries an expiry and ban/mute do not.
func (e ModerationEntry) Validate() error {
	switch e.Action {
	case ActionTimeout:
		if e.ExpiresAt == nil {
			return fmt.Errorf("%w: timeout without expiry", ErrInvalidAction)
		}
	case ActionBan, ActionMute:
		if e.ExpiresAt != nil {
			return fmt.Errorf("%w: %s cannot expire", ErrInvalidAction, e.Action)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, e.Action)
	}
	return nil
}

// ModerationEvent is a moderation change broadcast to every participant.
type ModerationEvent struct {
	Action         Action
	TargetUserID   string
	ReversedAction Action
	ModeratorID    string
	ExpiresAt      time.Time
	SlowMode       SlowMode
	Reason         string
}

// ModerationRequest is a moderator command.
type ModerationRequest struct {
	TargetUserID    string `json:"target_user_id" binding:"required"`
	Action          Action `json:"action" binding:"required"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
