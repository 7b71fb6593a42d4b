package pubsub

import "fmt"

// Channel naming conventions for live chat.
const (
	// ChannelChat carries every chat event of one room-session.
	ChannelChat = "chat:room:%s:session:%s"

	// PatternChat matches the chat channels of all room-sessions.
	PatternChat = "chat:room:*:session:*"
)

// Event types published on a chat channel.
const (
	EventMessageCreated = "message_created"
	EventMessageDeleted = "message_deleted"
	EventMessageUpdated = "message_updated"
	EventPresenceJoined = "presence_joined"
	EventPresenceLeft   = "presence_left"
	EventModeration     = "moderation"
)

// ChatChannel returns the channel name for a room-session.
func ChatChannel(roomID, sessionID string) string {
	return fmt.Sprintf(ChannelChat, roomID, sessionID)
}

// Event payloads.

// MessagePayload is sent when a chat message is published.
type MessagePayload struct {
	MessageID string `json:"message_id"`
	ClientRef string `json:"client_ref,omitempty"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

// MessageDeletedPayload is sent when a moderator removes a message.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

// MessageUpdatedPayload is sent when a message body or read flag changes.
type MessageUpdatedPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content,omitempty"`
	Read      bool   `json:"read,omitempty"`
}

// PresencePayload is sent when a participant joins or leaves.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// ModerationPayload is sent for every moderator action.
type ModerationPayload struct {
	Action          string `json:"action"` // "ban", "mute", "timeout", "reverse", "slow_mode"
	TargetUserID    string `json:"target_user_id,omitempty"`
	ReversedAction  string `json:"reversed_action,omitempty"`
	ModeratorID     string `json:"moderator_id"`
	ExpiresAt       int64  `json:"expires_at,omitempty"` // unix ms, timeout only
	SlowModeSeconds int    `json:"slow_mode_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
