package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/config"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(config.WebSocketConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h, _ := startHub(t)
	a := NewClient("a", h, nil, h.config)
	b := NewClient("b", h, nil, h.config)
	h.Register(a)
	h.Register(b)
	assert.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	h.Broadcast(&domain.SlowModeOut{Type: domain.MsgTypeSlowMode, Seconds: 10})

	for _, c := range []*Client{a, b} {
		var out domain.SlowModeOut
		require.NoError(t, json.Unmarshal(receive(t, c), &out))
		assert.Equal(t, domain.MsgTypeSlowMode, out.Type)
		assert.Equal(t, domain.SlowMode(10), out.Seconds)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h, _ := startHub(t)
	c := NewClient("a", h, nil, h.config)
	h.Register(c)
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Equal(t, 0, h.ClientCount())

	// A second unregister is harmless.
	h.Unregister(c)
}

func TestSlowClientIsDropped(t *testing.T) {
	h, _ := startHub(t)
	c := NewClient("slow", h, nil, h.config)
	h.Register(c)

	for i := 0; i < cap(c.Send)+1; i++ {
		h.Broadcast(&domain.PongMessage{Type: domain.MsgTypePong})
	}
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStoppedHubDoesNotBlock(t *testing.T) {
	h, cancel := startHub(t)
	c := NewClient("a", h, nil, h.config)
	h.Register(c)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.Broadcast(&domain.PongMessage{Type: domain.MsgTypePong})
		}
		h.Register(NewClient("late", h, nil, h.config))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stopped hub")
	}
}
