package domain

// WebSocket message types from client.
const (
	MsgTypeSend = "send"
	MsgTypePing = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeSnapshot        = "snapshot"
	MsgTypeMessageAppended = "message_appended"
	MsgTypeMessageStatus   = "message_status"
	MsgTypeMessageUpdated  = "message_updated"
	MsgTypeMessageRemoved  = "message_removed"
	MsgTypeConnection      = "connection"
	MsgTypeSlowMode        = "slow_mode"
	MsgTypeModeration      = "moderation"
	MsgTypeStats           = "stats"
	MsgTypeRateLimited     = "rate_limited"
	MsgTypeError           = "error"
	MsgTypePong            = "pong"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeEmptyBody     = "EMPTY_BODY"
	ErrCodeBlocked       = "SENDER_BLOCKED"
	ErrCodeDisconnected  = "DISCONNECTED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type SendMessageWS struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Server -> Client messages

// Stats is the presence/stats aggregate.
type Stats struct {
	OnlineCount  int `json:"online_count"`
	MessageCount int `json:"message_count"`
}

type SnapshotMessage struct {
	Type       string        `json:"type"`
	Channel    Channel       `json:"channel"`
	Connection ConnState     `json:"connection"`
	SlowMode   SlowMode      `json:"slow_mode"`
	Stats      Stats         `json:"stats"`
	Messages   []MessageView `json:"messages"`
}

type MessageOut struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

type MessageRemovedOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type ConnectionOut struct {
	Type   string    `json:"type"`
	Status ConnState `json:"status"`
}

type SlowModeOut struct {
	Type    string   `json:"type"`
	Seconds SlowMode `json:"seconds"`
}

type ModerationOut struct {
	Type           string `json:"type"`
	Action         Action `json:"action"`
	TargetUserID   string `json:"target_user_id"`
	ReversedAction Action `json:"reversed_action,omitempty"`
	ModeratorID    string `json:"moderator_id,omitempty"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}

type StatsOut struct {
	Type string `json:"type"`
	Stats
}

type RateLimitedOut struct {
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
