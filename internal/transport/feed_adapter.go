package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// ChangeConsumer streams raw change records.
type ChangeConsumer interface {
	// Consume calls fn for every record until ctx is done (nil) or the
	// connection fails (error).
	Consume(ctx context.Context, fn func([]byte)) error
	Close() error
}

// ConsumerFactory opens a ChangeConsumer in its own consumer group.
type ConsumerFactory func(groupID string) (ChangeConsumer, error)

// Backend is the persistence backend used by the feed strategy.
type Backend interface {
	SendMessage(ctx context.Context, ch domain.Channel, msg domain.Message) (domain.Message, error)
	SetPresence(ctx context.Context, ch domain.Channel, who domain.Identity, present bool) error
}

// FeedAdapter runs chat over a row-change feed. The backend is the source of
// truth: sends go to the backend send endpoint and come back through the feed.
type FeedAdapter struct {
	newConsumer ConsumerFactory
	backend     Backend
	groupPrefix string
}

// NewFeedAdapter creates a feed adapter.
func NewFeedAdapter(newConsumer ConsumerFactory, backend Backend, groupPrefix string) *FeedAdapter {
	if groupPrefix == "" {
		groupPrefix = "chat-engine"
	}
	return &FeedAdapter{
		newConsumer: newConsumer,
		backend:     backend,
		groupPrefix: groupPrefix,
	}
}

func (a *FeedAdapter) Name() string { return "feed" }

// Connect starts consuming the change feed and marks self present.
func (a *FeedAdapter) Connect(ctx context.Context, ch domain.Channel, self domain.Identity) (Connection, error) {
	logger := log.ForChannel(ch.RoomID, ch.SessionID).With().Str(log.FieldDriver, a.Name()).Logger()

	// Each connection reads the whole feed.
	groupID := fmt.Sprintf("%s-%s-%s", a.groupPrefix, ch.String(), uuid.NewString())
	consumer, err := a.newConsumer(groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err)
	}

	c := &feedConn{
		baseConn: newBaseConn(a.Name(), logger),
		consumer: consumer,
		backend:  a.backend,
		channel:  ch,
		self:     self,
	}
	c.setState(domain.StateConnected)
	go c.pump()

	if err := a.backend.SetPresence(ctx, ch, self, true); err != nil {
		logger.Warn().Err(err).Msg("failed to announce presence")
	}

	logger.Info().Str("group_id", groupID).Msg("feed connection established")
	return c, nil
}

// Disconnect closes conn. Calling it again is a no-op.
func (a *FeedAdapter) Disconnect(conn Connection) error {
	return conn.Close()
}

type feedConn struct {
	*baseConn
	consumer ChangeConsumer
	backend  Backend
	channel  domain.Channel
	self     domain.Identity

	consumerOnce sync.Once
}

func (c *feedConn) pump() {
	defer close(c.pumpDone)
	defer close(c.events)

	err := c.consumer.Consume(c.ctx, func(raw []byte) {
		ev, ok, err := decodeChange(raw, c.channel)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping undecodable change")
			return
		}
		if ok {
			c.emit(ev)
		}
	})
	if c.ctx.Err() != nil {
		return
	}
	if err == nil {
		err = domain.ErrTransportDisconnected
	}
	c.reportDisconnect(err)
}

// Publish persists msg through the backend; the returned id is the ack.
func (c *feedConn) Publish(ctx context.Context, msg domain.Message) (string, error) {
	if !c.connected() {
		return "", domain.ErrTransportDisconnected
	}
	stored, err := c.backend.SendMessage(ctx, c.channel, msg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	return stored.ID, nil
}

// PublishModeration is a no-op: the backend persists moderation rows and the
// feed redistributes them.
func (c *feedConn) PublishModeration(ctx context.Context, ev domain.ModerationEvent) error {
	if !c.connected() {
		return domain.ErrTransportDisconnected
	}
	return nil
}

// PublishDeletion is a no-op for the same reason as PublishModeration.
func (c *feedConn) PublishDeletion(ctx context.Context, messageID, by string) error {
	if !c.connected() {
		return domain.ErrTransportDisconnected
	}
	return nil
}

func (c *feedConn) Close() error {
	var err error
	c.shutdown(func() {
		if !c.connected() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if perr := c.backend.SetPresence(ctx, c.channel, c.self, false); perr != nil {
			c.logger.Warn().Err(perr).Msg("failed to announce leave")
		}
	}, nil)
	// The consumer is closed after its poll loop has exited.
	if cerr := c.closeConsumer(); cerr != nil {
		err = cerr
	}
	return err
}

func (c *feedConn) closeConsumer() error {
	var err error
	c.consumerOnce.Do(func() {
		err = c.consumer.Close()
	})
	return err
}
