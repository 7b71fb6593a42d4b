package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(ChatChannel("r1", "s1"))
	require.NoError(t, err)
	assert.Equal(t, "chat-events", topic)
	assert.Equal(t, "r1:s1", key)

	_, _, err = channelToTopicAndKey("chat:r1:s1")
	assert.Error(t, err)

	_, _, err = channelToTopicAndKey(":room:r1:session:s1")
	assert.Error(t, err)
}

func TestPatternToTopic(t *testing.T) {
	topic, err := patternToTopic(PatternChat)
	require.NoError(t, err)
	assert.Equal(t, "chat-events", topic)
}

func TestNewPubSubUnknownDriver(t *testing.T) {
	_, err := NewPubSub(Config{Driver: "nats"})
	assert.Error(t, err)
}

func TestNewPubSubMemory(t *testing.T) {
	ps, err := NewPubSub(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryPubSub{}, ps)
	require.NoError(t, ps.Close())
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryPubSubPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	channel := ChatChannel("r1", "s1")
	ch, err := ps.Subscribe(ctx, channel)
	require.NoError(t, err)

	ev, err := NewEvent(EventMessageCreated, channel, MessagePayload{MessageID: "m1", Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, channel, ev))

	got := receive(t, ch)
	assert.Equal(t, EventMessageCreated, got.Type)

	payload, err := Decode[MessagePayload](got)
	require.NoError(t, err)
	assert.Equal(t, "m1", payload.MessageID)
	assert.Equal(t, "hi", payload.Content)
}

func TestMemoryPubSubPattern(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	ch, err := ps.SubscribePattern(ctx, PatternChat)
	require.NoError(t, err)

	other, err := ps.Subscribe(ctx, ChatChannel("r2", "s2"))
	require.NoError(t, err)

	ev, err := NewEvent(EventPresenceJoined, ChatChannel("r1", "s1"), PresencePayload{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, ev.Channel, ev))

	got := receive(t, ch)
	assert.Equal(t, ChatChannel("r1", "s1"), got.Channel)

	select {
	case <-other:
		t.Fatal("unrelated channel received event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPubSubDropClosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()

	ch, err := ps.Subscribe(ctx, ChatChannel("r1", "s1"))
	require.NoError(t, err)

	ps.Drop()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	// Still usable after a drop.
	_, err = ps.Subscribe(ctx, ChatChannel("r1", "s1"))
	assert.NoError(t, err)
}

func TestMemoryPubSubClosed(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	require.NoError(t, ps.Close())

	_, err := ps.Subscribe(ctx, "chat:room:r:session:s")
	assert.ErrorIs(t, err, ErrClosed)

	ev, _ := NewEvent(EventMessageCreated, "chat:room:r:session:s", MessagePayload{})
	assert.ErrorIs(t, ps.Publish(ctx, ev.Channel, ev), ErrClosed)
}

func TestMemoryPubSubUnsubscribe(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	channel := ChatChannel("r1", "s1")
	ch, err := ps.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, ps.Unsubscribe(ctx, channel))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}
