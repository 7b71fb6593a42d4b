package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/ids"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/pubsub"
)

var (
	testChannel = domain.Channel{RoomID: "r1", SessionID: "s1"}
	alice       = domain.Identity{UserID: "u1", Username: "alice", Role: domain.RoleViewer}
	bob         = domain.Identity{UserID: "u2", Username: "bob", Role: domain.RoleHost}
)

func next(t *testing.T, conn Connection) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// nextOfType skips events until one of type want arrives.
func nextOfType(t *testing.T, conn Connection, want EventType) Event {
	t.Helper()
	for {
		ev := next(t, conn)
		if ev.Type == want {
			return ev
		}
	}
}

func TestPubSubRoundTrip(t *testing.T) {
	ctx := context.Background()
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()
	a := NewPubSubAdapter(bus)

	connA, err := a.Connect(ctx, testChannel, alice)
	require.NoError(t, err)
	defer connA.Close()
	connB, err := a.Connect(ctx, testChannel, bob)
	require.NoError(t, err)
	defer connB.Close()

	assert.Equal(t, domain.StateConnected, connA.State())

	joined := nextOfType(t, connA, EventPresenceJoined)
	assert.Equal(t, "u2", joined.UserID)

	created := time.UnixMilli(1700000000000)
	serverID, err := connA.Publish(ctx, domain.Message{
		ID: "tmp-1", ClientRef: "tmp-1", UserID: "u1", Username: "alice",
		Role: domain.RoleViewer, Body: "hello", Kind: domain.KindChat, CreatedAt: created,
	})
	require.NoError(t, err)
	assert.True(t, ids.ValidULID(serverID))

	got := nextOfType(t, connB, EventMessageReceived)
	assert.Equal(t, serverID, got.Message.ID)
	assert.Equal(t, "tmp-1", got.Message.ClientRef)
	assert.Equal(t, "hello", got.Message.Body)
	assert.Equal(t, created, got.Message.CreatedAt)
	assert.Equal(t, domain.StatusSent, got.Message.Status())

	expires := time.UnixMilli(1700000030000)
	require.NoError(t, connB.PublishModeration(ctx, domain.ModerationEvent{
		Action: domain.ActionTimeout, TargetUserID: "u1", ModeratorID: "u2", ExpiresAt: expires,
	}))
	mod := nextOfType(t, connA, EventModeration)
	assert.Equal(t, domain.ActionTimeout, mod.Moderation.Action)
	assert.Equal(t, expires, mod.Moderation.ExpiresAt)

	require.NoError(t, connB.PublishDeletion(ctx, serverID, "u2"))
	del := nextOfType(t, connA, EventMessageDeleted)
	assert.Equal(t, serverID, del.MessageID)

	require.NoError(t, connB.Close())
	left := nextOfType(t, connA, EventPresenceLeft)
	assert.Equal(t, "u2", left.UserID)
}

func TestPubSubDisconnectIsIdempotent(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()
	a := NewPubSubAdapter(bus)

	conn, err := a.Connect(context.Background(), testChannel, alice)
	require.NoError(t, err)

	require.NoError(t, a.Disconnect(conn))
	require.NoError(t, a.Disconnect(conn))
	assert.Equal(t, domain.StateClosed, conn.State())

	// Drained and closed.
	for range conn.Events() {
	}

	_, err = conn.Publish(context.Background(), domain.Message{Body: "x"})
	assert.ErrorIs(t, err, domain.ErrTransportDisconnected)
}

func TestPubSubLostConnectionReportedOnce(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()
	a := NewPubSubAdapter(bus)

	conn, err := a.Connect(context.Background(), testChannel, alice)
	require.NoError(t, err)
	defer conn.Close()

	bus.Drop()

	var disconnects int
	for ev := range conn.Events() {
		if ev.Type == EventDisconnected {
			disconnects++
			assert.ErrorIs(t, ev.Err, domain.ErrTransportDisconnected)
		}
	}
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, domain.StateDisconnected, conn.State())

	_, err = conn.Publish(context.Background(), domain.Message{Body: "x"})
	assert.ErrorIs(t, err, domain.ErrTransportDisconnected)
}

func TestPubSubConnectFailsOnClosedBus(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	require.NoError(t, bus.Close())

	_, err := NewPubSubAdapter(bus).Connect(context.Background(), testChannel, alice)
	assert.ErrorIs(t, err, domain.ErrTransportDisconnected)
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	ev, err := pubsub.NewEvent("bogus", "c", struct{}{})
	require.NoError(t, err)
	_, err = decodeEvent(ev)
	assert.Error(t, err)
}

func TestNewAdapter(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()

	a, err := NewAdapter(Config{Driver: "pubsub"}, bus, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pubsub", a.Name())

	_, err = NewAdapter(Config{Driver: "feed"}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewAdapter(Config{Driver: "carrier-pigeon"}, bus, nil, nil)
	assert.Error(t, err)
}
