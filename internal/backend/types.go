package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

// ChatMessage is the persisted message representation of the backend.
type ChatMessage struct {
	MessageID string    `json:"message_id"`
	ClientRef string    `json:"client_ref,omitempty"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	RoomID    string    `json:"room_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Read      bool      `json:"read,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToDomain converts a persisted message into a sent log entry.
func (m ChatMessage) ToDomain() domain.Message {
	return domain.Message{
		ID:        m.MessageID,
		ClientRef: m.ClientRef,
		UserID:    m.UserID,
		Username:  m.Username,
		Role:      domain.ParseRole(m.Role),
		Kind:      domain.ParseKind(m.Kind),
		Body:      m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		Delivery:  domain.Sent{ServerID: m.MessageID},
	}
}

// FromDomain builds the wire form of msg for ch.
func FromDomain(ch domain.Channel, msg domain.Message) ChatMessage {
	return ChatMessage{
		MessageID: msg.ID,
		ClientRef: msg.ClientRef,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Role:      string(msg.Role),
		Kind:      string(msg.Kind),
		RoomID:    ch.RoomID,
		SessionID: ch.SessionID,
		Content:   msg.Body,
		Read:      msg.Read,
		CreatedAt: msg.CreatedAt,
	}
}

// ChatHistoryResponse is one page of history.
type ChatHistoryResponse struct {
	Messages   []ChatMessage `json:"messages"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// SendRequest is the body of the send endpoint.
type SendRequest struct {
	Channel string      `json:"channel"`
	Message ChatMessage `json:"message"`
}

// ModerationRequest is the body of the moderation endpoint.
type ModerationRequest struct {
	Channel        string `json:"channel"`
	TargetUserID   string `json:"target_user_id,omitempty"`
	Action         string `json:"action"`
	ReversedAction string `json:"reversed_action,omitempty"`
	Duration       int    `json:"duration,omitempty"` // seconds
	Reason         string `json:"reason,omitempty"`
}

// PresenceRequest is the body of the presence endpoint.
type PresenceRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// apiResponse is the {success, data, error} envelope. error is either a
// string or a {code, message} object depending on the service.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r apiResponse) errorMessage() string {
	if len(r.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s
	}
	var info errorInfo
	if err := json.Unmarshal(r.Error, &info); err == nil {
		if info.Code != "" {
			return info.Code + ": " + info.Message
		}
		return info.Message
	}
	return string(r.Error)
}

// APIError is a non-success response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}
