package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/backend"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

// Change feed tables.
const (
	TableMessages   = "chat_messages"
	TablePresence   = "chat_presence"
	TableModeration = "chat_moderation"
)

// Change feed operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ChangeRecord is one row change published on the change topic.
type ChangeRecord struct {
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

type presenceRow struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

type moderationRow struct {
	RoomID          string     `json:"room_id"`
	SessionID       string     `json:"session_id"`
	Action          string     `json:"action"`
	TargetUserID    string     `json:"target_user_id"`
	ReversedAction  string     `json:"reversed_action"`
	ModeratorID     string     `json:"moderator_id"`
	ReversedBy      string     `json:"reversed_by"`
	ExpiresAt       *time.Time `json:"expires_at"`
	SlowModeSeconds int        `json:"slow_mode_seconds"`
	Reason          string     `json:"reason"`
}

type rowScope struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
}

// row returns the new record, or the old one for deletes.
func (r ChangeRecord) row() json.RawMessage {
	if r.Type == OpDelete || len(r.Record) == 0 {
		return r.OldRecord
	}
	return r.Record
}

// decodeChange converts a change record into a transport event. ok is false
// for records that belong to another channel.
func decodeChange(raw []byte, ch domain.Channel) (ev Event, ok bool, err error) {
	var rec ChangeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Event{}, false, fmt.Errorf("invalid change record: %w", err)
	}
	row := rec.row()
	if len(row) == 0 {
		return Event{}, false, fmt.Errorf("change record without row")
	}

	var scope rowScope
	if err := json.Unmarshal(row, &scope); err != nil {
		return Event{}, false, fmt.Errorf("invalid row: %w", err)
	}
	if scope.RoomID != ch.RoomID || scope.SessionID != ch.SessionID {
		return Event{}, false, nil
	}

	switch rec.Table {
	case TableMessages:
		var m backend.ChatMessage
		if err := json.Unmarshal(row, &m); err != nil {
			return Event{}, false, fmt.Errorf("invalid message row: %w", err)
		}
		switch rec.Type {
		case OpInsert:
			return Event{Type: EventMessageReceived, Message: m.ToDomain()}, true, nil
		case OpUpdate:
			return Event{Type: EventMessageUpdated, MessageID: m.MessageID, Body: m.Content, Read: m.Read}, true, nil
		case OpDelete:
			return Event{Type: EventMessageDeleted, MessageID: m.MessageID}, true, nil
		}

	case TablePresence:
		var p presenceRow
		if err := json.Unmarshal(row, &p); err != nil {
			return Event{}, false, fmt.Errorf("invalid presence row: %w", err)
		}
		switch rec.Type {
		case OpInsert, OpUpdate:
			return Event{Type: EventPresenceJoined, UserID: p.UserID, Username: p.Username}, true, nil
		case OpDelete:
			return Event{Type: EventPresenceLeft, UserID: p.UserID, Username: p.Username}, true, nil
		}

	case TableModeration:
		var m moderationRow
		if err := json.Unmarshal(row, &m); err != nil {
			return Event{}, false, fmt.Errorf("invalid moderation row: %w", err)
		}
		mev := domain.ModerationEvent{
			Action:         domain.Action(m.Action),
			TargetUserID:   m.TargetUserID,
			ReversedAction: domain.Action(m.ReversedAction),
			ModeratorID:    m.ModeratorID,
			SlowMode:       domain.SlowMode(m.SlowModeSeconds),
			Reason:         m.Reason,
		}
		if m.ExpiresAt != nil {
			mev.ExpiresAt = *m.ExpiresAt
		}
		switch rec.Type {
		case OpInsert:
			return Event{Type: EventModeration, Moderation: mev}, true, nil
		case OpDelete:
			// A deleted restriction row is a reversal. moderator_id names
			// whoever issued the restriction, so the reverser comes from
			// reversed_by and stays empty when the backend does not set it.
			if mev.Action == domain.ActionSlowMode {
				return Event{}, false, nil
			}
			return Event{Type: EventModeration, Moderation: domain.ModerationEvent{
				Action:         domain.ActionReverse,
				TargetUserID:   mev.TargetUserID,
				ReversedAction: mev.Action,
				ModeratorID:    m.ReversedBy,
			}}, true, nil
		}
	}

	return Event{}, false, fmt.Errorf("unsupported change %s on %s", rec.Type, rec.Table)
}
