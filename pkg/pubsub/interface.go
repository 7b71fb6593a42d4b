// Package pubsub is the broadcast bus behind the pub/sub chat transport.
// Drivers: Redis pub/sub, Kafka topics and an in-process bus.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is the envelope every driver carries. Payload holds one of the
// *Payload types in channels.go, selected by Type.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent encodes payload into an event stamped with the current time.
func NewEvent(eventType, channel string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &Event{
		Type:      eventType,
		Channel:   channel,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// Decode unmarshals the payload of e as a T.
func Decode[T any](e *Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return v, nil
}

// Publisher publishes events. A nil error from Publish means the driver
// accepted the event and serves as the send acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber delivers events for a channel or a glob pattern. The returned
// channel is closed when the subscription ends, whether by ctx, Unsubscribe
// or a lost connection.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub is a full bus driver.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
