package domain

import (
	"strings"
	"time"
)

// Role is the author role of a chat participant.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleSubscriber Role = "subscriber"
	RoleHost       Role = "host"
	RoleCreator    Role = "creator"
)

// ParseRole maps a wire value to a Role, defaulting to viewer.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSubscriber:
		return RoleSubscriber
	case RoleHost:
		return RoleHost
	case RoleCreator:
		return RoleCreator
	default:
		return RoleViewer
	}
}

// Privileged reports whether the role bypasses slow mode and may moderate.
func (r Role) Privileged() bool {
	return r == RoleHost || r == RoleCreator
}

// Kind is the message kind.
type Kind string

const (
	KindChat       Kind = "chat"
	KindSystem     Kind = "system"
	KindGift       Kind = "gift"
	KindModeration Kind = "moderation"
	// KindSpam is assigned by the backend to flagged messages.
	KindSpam Kind = "spam"
)

// ParseKind maps a wire value to a Kind, defaulting to chat.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSystem, KindGift, KindModeration, KindSpam:
		return k
	default:
		return KindChat
	}
}

// Identity is the local participant a session runs as.
type Identity struct {
	UserID   string `mapstructure:"user_id" json:"user_id"`
	Username string `mapstructure:"username" json:"username"`
	Role     Role   `mapstructure:"role" json:"role"`
}

// Message is a single entry in the conversation log.
type Message struct {
	ID        string
	UserID    string
	Username  string
	Role      Role
	Body      string
	Kind      Kind
	CreatedAt time.Time
	Delivery  Delivery
	Read      bool

	// ClientRef is the temp id of a locally authored message. It travels with
	// the message so the transport echo can be matched to the pending entry.
	ClientRef string
}

// Status returns the lifecycle status of the message.
func (m Message) Status() Status {
	if m.Delivery == nil {
		return StatusSent
	}
	return m.Delivery.Status()
}

// MessageView is the JSON representation pushed to the UI.
type MessageView struct {
	ID        string `json:"id"`
	ClientRef string `json:"client_ref,omitempty"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	Body      string `json:"body"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Read      bool   `json:"read,omitempty"`
}

// View converts the message to its UI representation.
func (m Message) View() MessageView {
	v := MessageView{
		ID:        m.ID,
		ClientRef: m.ClientRef,
		UserID:    m.UserID,
		Username:  m.Username,
		Role:      m.Role,
		Body:      m.Body,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt.UnixMilli(),
		Status:    m.Status(),
		Read:      m.Read,
	}
	if f, ok := m.Delivery.(Failed); ok {
		v.Reason = f.Reason
	}
	return v
}

// Views converts a snapshot to UI representations.
func Views(msgs []Message) []MessageView {
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = m.View()
	}
	return out
}
