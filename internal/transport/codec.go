package transport

import (
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/pubsub"
)

func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeMessage(msg domain.Message, serverID string) pubsub.MessagePayload {
	return pubsub.MessagePayload{
		MessageID: serverID,
		ClientRef: msg.ClientRef,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Role:      string(msg.Role),
		Kind:      string(msg.Kind),
		Content:   msg.Body,
		Timestamp: msg.CreatedAt.UnixMilli(),
	}
}

func decodeMessage(p pubsub.MessagePayload) domain.Message {
	return domain.Message{
		ID:        p.MessageID,
		ClientRef: p.ClientRef,
		UserID:    p.UserID,
		Username:  p.Username,
		Role:      domain.ParseRole(p.Role),
		Kind:      domain.ParseKind(p.Kind),
		Body:      p.Content,
		CreatedAt: unixMilli(p.Timestamp),
		Delivery:  domain.Sent{ServerID: p.MessageID},
	}
}

func encodeModeration(ev domain.ModerationEvent) pubsub.ModerationPayload {
	p := pubsub.ModerationPayload{
		Action:          string(ev.Action),
		TargetUserID:    ev.TargetUserID,
		ReversedAction:  string(ev.ReversedAction),
		ModeratorID:     ev.ModeratorID,
		SlowModeSeconds: int(ev.SlowMode),
		Reason:          ev.Reason,
	}
	if !ev.ExpiresAt.IsZero() {
		p.ExpiresAt = ev.ExpiresAt.UnixMilli()
	}
	return p
}

func decodeModeration(p pubsub.ModerationPayload) domain.ModerationEvent {
	return domain.ModerationEvent{
		Action:         domain.Action(p.Action),
		TargetUserID:   p.TargetUserID,
		ReversedAction: domain.Action(p.ReversedAction),
		ModeratorID:    p.ModeratorID,
		ExpiresAt:      unixMilli(p.ExpiresAt),
		SlowMode:       domain.SlowMode(p.SlowModeSeconds),
		Reason:         p.Reason,
	}
}

// decodeEvent converts a bus event into a transport event.
func decodeEvent(ev *pubsub.Event) (Event, error) {
	switch ev.Type {
	case pubsub.EventMessageCreated:
		p, err := pubsub.Decode[pubsub.MessagePayload](ev)
		if err != nil {
			return Event{}, err
		}
		if p.MessageID == "" {
			return Event{}, fmt.Errorf("message without id")
		}
		return Event{Type: EventMessageReceived, Message: decodeMessage(p)}, nil

	case pubsub.EventMessageDeleted:
		p, err := pubsub.Decode[pubsub.MessageDeletedPayload](ev)
		if err != nil {
			return Event{}, err
		}
		return Event{Type: EventMessageDeleted, MessageID: p.MessageID, UserID: p.DeletedBy}, nil

	case pubsub.EventMessageUpdated:
		p, err := pubsub.Decode[pubsub.MessageUpdatedPayload](ev)
		if err != nil {
			return Event{}, err
		}
		return Event{Type: EventMessageUpdated, MessageID: p.MessageID, Body: p.Content, Read: p.Read}, nil

	case pubsub.EventPresenceJoined, pubsub.EventPresenceLeft:
		p, err := pubsub.Decode[pubsub.PresencePayload](ev)
		if err != nil {
			return Event{}, err
		}
		t := EventPresenceJoined
		if ev.Type == pubsub.EventPresenceLeft {
			t = EventPresenceLeft
		}
		return Event{Type: t, UserID: p.UserID, Username: p.Username}, nil

	case pubsub.EventModeration:
		p, err := pubsub.Decode[pubsub.ModerationPayload](ev)
		if err != nil {
			return Event{}, err
		}
		return Event{Type: EventModeration, Moderation: decodeModeration(p)}, nil

	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
}
