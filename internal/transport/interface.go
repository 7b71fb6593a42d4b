// Package transport normalizes the real-time substrates into one event stream.
package transport

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

// EventType is the kind of a normalized transport event.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventMessageDeleted  EventType = "message_deleted"
	EventMessageUpdated  EventType = "message_updated"
	EventPresenceJoined  EventType = "presence_joined"
	EventPresenceLeft    EventType = "presence_left"
	EventModeration      EventType = "moderation"
	EventDisconnected    EventType = "disconnected"
)

// Event is the strategy-independent event emitted by a Connection.
type Event struct {
	Type EventType

	// message_received
	Message domain.Message

	// message_deleted, message_updated
	MessageID string
	Body      string
	Read      bool

	// presence_joined, presence_left
	UserID   string
	Username string

	// moderation
	Moderation domain.ModerationEvent

	// disconnected
	Err error
}

// Connection is a live subscription to one chat channel.
type Connection interface {
	// Events delivers events in transport order. It is closed after Close
	// or after the disconnected event.
	Events() <-chan Event
	State() domain.ConnState

	// Publish dispatches msg and returns its server id once acknowledged.
	Publish(ctx context.Context, msg domain.Message) (string, error)
	PublishModeration(ctx context.Context, ev domain.ModerationEvent) error
	PublishDeletion(ctx context.Context, messageID, by string) error

	// Close releases every subscription. It is idempotent.
	Close() error
}

// Adapter opens connections on one substrate.
type Adapter interface {
	Name() string
	Connect(ctx context.Context, ch domain.Channel, self domain.Identity) (Connection, error)
	Disconnect(conn Connection) error
}
