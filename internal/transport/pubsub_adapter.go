package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/ids"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/pubsub"
)

const presenceTimeout = 2 * time.Second

// PubSubAdapter runs chat over a bidirectional pub/sub channel. Publish
// assigns the server id, so a successful publish is the acknowledgement.
type PubSubAdapter struct {
	ps  pubsub.PubSub
	ids ids.Generator
}

// NewPubSubAdapter creates an adapter on top of an existing bus.
func NewPubSubAdapter(ps pubsub.PubSub) *PubSubAdapter {
	return &PubSubAdapter{
		ps:  ps,
		ids: ids.NewULIDGenerator(),
	}
}

func (a *PubSubAdapter) Name() string { return "pubsub" }

// Connect subscribes to the channel and announces self.
func (a *PubSubAdapter) Connect(ctx context.Context, ch domain.Channel, self domain.Identity) (Connection, error) {
	logger := log.ForChannel(ch.RoomID, ch.SessionID).With().Str(log.FieldDriver, a.Name()).Logger()
	c := &pubsubConn{
		baseConn: newBaseConn(a.Name(), logger),
		ps:       a.ps,
		ids:      a.ids,
		channel:  pubsub.ChatChannel(ch.RoomID, ch.SessionID),
		self:     self,
	}

	sub, err := a.ps.Subscribe(c.ctx, c.channel)
	if err != nil {
		c.cancel()
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err)
	}
	c.setState(domain.StateConnected)
	go c.pump(sub)

	if err := c.publish(ctx, pubsub.EventPresenceJoined, pubsub.PresencePayload{
		UserID:   self.UserID,
		Username: self.Username,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to announce presence")
	}

	logger.Info().Str("channel", c.channel).Msg("pubsub connection established")
	return c, nil
}

// Disconnect closes conn. Calling it again is a no-op.
func (a *PubSubAdapter) Disconnect(conn Connection) error {
	return conn.Close()
}

type pubsubConn struct {
	*baseConn
	ps      pubsub.PubSub
	ids     ids.Generator
	channel string
	self    domain.Identity
}

func (c *pubsubConn) pump(sub <-chan *pubsub.Event) {
	defer close(c.pumpDone)
	defer close(c.events)

	for {
		select {
		case <-c.ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				c.reportDisconnect(domain.ErrTransportDisconnected)
				return
			}
			ev, err := decodeEvent(raw)
			if err != nil {
				c.logger.Warn().Err(err).Str("type", raw.Type).Msg("dropping undecodable event")
				continue
			}
			if !c.emit(ev) {
				return
			}
		}
	}
}

func (c *pubsubConn) publish(ctx context.Context, eventType string, payload interface{}) error {
	ev, err := pubsub.NewEvent(eventType, c.channel, payload)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return c.ps.Publish(ctx, c.channel, ev)
}

func (c *pubsubConn) Publish(ctx context.Context, msg domain.Message) (string, error) {
	if !c.connected() {
		return "", domain.ErrTransportDisconnected
	}
	serverID, err := c.ids.Generate()
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	if err := c.publish(ctx, pubsub.EventMessageCreated, encodeMessage(msg, serverID)); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	return serverID, nil
}

func (c *pubsubConn) PublishModeration(ctx context.Context, ev domain.ModerationEvent) error {
	if !c.connected() {
		return domain.ErrTransportDisconnected
	}
	return c.publish(ctx, pubsub.EventModeration, encodeModeration(ev))
}

func (c *pubsubConn) PublishDeletion(ctx context.Context, messageID, by string) error {
	if !c.connected() {
		return domain.ErrTransportDisconnected
	}
	return c.publish(ctx, pubsub.EventMessageDeleted, pubsub.MessageDeletedPayload{
		MessageID: messageID,
		DeletedBy: by,
	})
}

// Close announces the leave and ends the subscription by cancelling its
// context, leaving other subscribers of the same channel untouched.
func (c *pubsubConn) Close() error {
	c.shutdown(func() {
		if !c.connected() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if perr := c.publish(ctx, pubsub.EventPresenceLeft, pubsub.PresencePayload{UserID: c.self.UserID}); perr != nil {
			c.logger.Warn().Err(perr).Msg("failed to announce leave")
		}
	}, nil)
	return nil
}
