package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/backend"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

type fakeConsumer struct {
	records chan []byte
	fail    chan error
	closed  chan struct{}
	once    sync.Once
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		records: make(chan []byte, 16),
		fail:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConsumer) Consume(ctx context.Context, fn func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-f.fail:
			return err
		case raw := <-f.records:
			fn(raw)
		}
	}
}

func (f *fakeConsumer) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	sendErr  error
	sent     []domain.Message
	presence []bool
}

func (b *fakeBackend) SendMessage(ctx context.Context, ch domain.Channel, msg domain.Message) (domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return domain.Message{}, b.sendErr
	}
	b.sent = append(b.sent, msg)
	msg.ID = "srv-1"
	return msg, nil
}

func (b *fakeBackend) SetPresence(ctx context.Context, ch domain.Channel, who domain.Identity, present bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence = append(b.presence, present)
	return nil
}

func record(t *testing.T, table, op string, row interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(row)
	require.NoError(t, err)
	rec := ChangeRecord{Table: table, Type: op}
	if op == OpDelete {
		rec.OldRecord = data
	} else {
		rec.Record = data
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	return raw
}

func connectFeed(t *testing.T) (*fakeConsumer, *fakeBackend, Connection, *FeedAdapter) {
	t.Helper()
	consumer := newFakeConsumer()
	be := &fakeBackend{}
	a := NewFeedAdapter(func(groupID string) (ChangeConsumer, error) {
		assert.Contains(t, groupID, "r1:s1")
		return consumer, nil
	}, be, "")
	conn, err := a.Connect(context.Background(), testChannel, alice)
	require.NoError(t, err)
	return consumer, be, conn, a
}

func TestFeedDecodesChanges(t *testing.T) {
	consumer, _, conn, _ := connectFeed(t)
	defer conn.Close()

	created := time.Unix(1700000000, 0).UTC()
	consumer.records <- record(t, TableMessages, OpInsert, backend.ChatMessage{
		MessageID: "m1", RoomID: "r1", SessionID: "s1", UserID: "u2", Content: "hi", Kind: "spam", CreatedAt: created,
	})
	// Other channel: ignored.
	consumer.records <- record(t, TableMessages, OpInsert, backend.ChatMessage{MessageID: "x", RoomID: "r9", SessionID: "s1"})
	consumer.records <- record(t, TableMessages, OpUpdate, backend.ChatMessage{MessageID: "m1", RoomID: "r1", SessionID: "s1", Content: "edited"})
	consumer.records <- record(t, TableMessages, OpDelete, backend.ChatMessage{MessageID: "m1", RoomID: "r1", SessionID: "s1"})
	consumer.records <- record(t, TablePresence, OpInsert, presenceRow{RoomID: "r1", SessionID: "s1", UserID: "u2"})
	consumer.records <- record(t, TablePresence, OpDelete, presenceRow{RoomID: "r1", SessionID: "s1", UserID: "u2"})
	consumer.records <- record(t, TableModeration, OpInsert, moderationRow{RoomID: "r1", SessionID: "s1", Action: "ban", TargetUserID: "u3"})
	consumer.records <- record(t, TableModeration, OpDelete, moderationRow{RoomID: "r1", SessionID: "s1", Action: "ban", TargetUserID: "u3"})

	ev := next(t, conn)
	assert.Equal(t, EventMessageReceived, ev.Type)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, domain.KindSpam, ev.Message.Kind)
	assert.Equal(t, created, ev.Message.CreatedAt)

	ev = next(t, conn)
	assert.Equal(t, EventMessageUpdated, ev.Type)
	assert.Equal(t, "edited", ev.Body)

	ev = next(t, conn)
	assert.Equal(t, EventMessageDeleted, ev.Type)
	assert.Equal(t, "m1", ev.MessageID)

	assert.Equal(t, EventPresenceJoined, next(t, conn).Type)
	assert.Equal(t, EventPresenceLeft, next(t, conn).Type)

	ev = next(t, conn)
	assert.Equal(t, EventModeration, ev.Type)
	assert.Equal(t, domain.ActionBan, ev.Moderation.Action)

	ev = next(t, conn)
	assert.Equal(t, domain.ActionReverse, ev.Moderation.Action)
	assert.Equal(t, domain.ActionBan, ev.Moderation.ReversedAction)
}

func TestFeedPublishUsesBackendAck(t *testing.T) {
	_, be, conn, _ := connectFeed(t)
	defer conn.Close()

	id, err := conn.Publish(context.Background(), domain.Message{ID: "tmp-1", ClientRef: "tmp-1", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", id)

	be.mu.Lock()
	be.sendErr = errors.New("503")
	be.mu.Unlock()
	_, err = conn.Publish(context.Background(), domain.Message{Body: "again"})
	assert.ErrorIs(t, err, domain.ErrSendFailed)

	assert.NoError(t, conn.PublishModeration(context.Background(), domain.ModerationEvent{Action: domain.ActionBan}))
}

func TestFeedCloseIsIdempotent(t *testing.T) {
	consumer, be, conn, a := connectFeed(t)

	require.NoError(t, a.Disconnect(conn))
	require.NoError(t, a.Disconnect(conn))

	select {
	case <-consumer.closed:
	default:
		t.Fatal("consumer not closed")
	}
	_, ok := <-conn.Events()
	assert.False(t, ok)

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, []bool{true, false}, be.presence)
}

func TestFeedFailureReportedOnce(t *testing.T) {
	consumer, _, conn, _ := connectFeed(t)
	defer conn.Close()

	consumer.fail <- errors.New("all brokers down")

	ev := next(t, conn)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.EqualError(t, ev.Err, "all brokers down")

	_, ok := <-conn.Events()
	assert.False(t, ok)
	assert.Equal(t, domain.StateDisconnected, conn.State())
}

func TestDecodeChangeErrors(t *testing.T) {
	_, _, err := decodeChange([]byte("{"), testChannel)
	assert.Error(t, err)

	_, _, err = decodeChange([]byte(`{"table":"chat_messages","type":"INSERT"}`), testChannel)
	assert.Error(t, err)

	_, _, err = decodeChange(record(t, "polls", OpInsert, rowScope{RoomID: "r1", SessionID: "s1"}), testChannel)
	assert.Error(t, err)
}

func TestDeletedRestrictionNamesReverser(t *testing.T) {
	row := moderationRow{RoomID: "r1", SessionID: "s1", Action: "ban", TargetUserID: "u3", ModeratorID: "u-host"}

	ev, ok, err := decodeChange(record(t, TableModeration, OpDelete, row), testChannel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ActionReverse, ev.Moderation.Action)
	assert.Empty(t, ev.Moderation.ModeratorID)

	row.ReversedBy = "u-mod"
	ev, _, err = decodeChange(record(t, TableModeration, OpDelete, row), testChannel)
	require.NoError(t, err)
	assert.Equal(t, "u-mod", ev.Moderation.ModeratorID)
}
