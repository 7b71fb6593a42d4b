package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlowModeToggleCycle(t *testing.T) {
	var s SlowMode
	var seen []SlowMode
	for i := 0; i < 6; i++ {
		seen = append(seen, s)
		s = s.Next()
	}
	assert.Equal(t, []SlowMode{0, 5, 10, 30, 60, 0}, seen)
	assert.Equal(t, SlowMode(0), SlowMode(7).Next())
	assert.Equal(t, 10*time.Second, SlowMode(10).Interval())
}

func TestParseSlowMode(t *testing.T) {
	s, err := ParseSlowMode(30)
	require.NoError(t, err)
	assert.Equal(t, SlowMode(30), s)

	_, err = ParseSlowMode(15)
	assert.Error(t, err)
}

func TestDeliveryTransitions(t *testing.T) {
	p := Pending{TempID: "tmp-1"}
	assert.Equal(t, StatusPending, p.Status())

	sent := p.Confirm("srv-1")
	assert.Equal(t, StatusSent, sent.Status())
	assert.Equal(t, "srv-1", sent.ServerID)

	failed := p.Fail("boom")
	assert.Equal(t, StatusFailed, failed.Status())
	assert.Equal(t, "tmp-1", failed.TempID)
	assert.Equal(t, "boom", failed.Reason)
}

func TestMessageView(t *testing.T) {
	created := time.UnixMilli(1700000000000)
	m := Message{
		ID:        "tmp-1",
		ClientRef: "tmp-1",
		UserID:    "u1",
		Username:  "alice",
		Role:      RoleViewer,
		Body:      "hi",
		Kind:      KindChat,
		CreatedAt: created,
		Delivery:  Failed{TempID: "tmp-1", Reason: "timeout"},
	}

	v := m.View()
	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, "timeout", v.Reason)
	assert.Equal(t, created.UnixMilli(), v.CreatedAt)

	m.Delivery = nil
	assert.Equal(t, StatusSent, m.Status())
}

func TestParseRoleAndKind(t *testing.T) {
	assert.Equal(t, RoleHost, ParseRole("HOST"))
	assert.Equal(t, RoleViewer, ParseRole("admin"))
	assert.True(t, RoleCreator.Privileged())
	assert.True(t, RoleHost.Privileged())
	assert.False(t, RoleSubscriber.Privileged())

	assert.Equal(t, KindSpam, ParseKind("spam"))
	assert.Equal(t, KindChat, ParseKind(""))
}

func TestModerationEntryValidate(t *testing.T) {
	exp := time.Now().Add(time.Minute)

	assert.NoError(t, ModerationEntry{Action: ActionTimeout, ExpiresAt: &exp}.Validate())
	assert.ErrorIs(t, ModerationEntry{Action: ActionTimeout}.Validate(), ErrInvalidAction)
	assert.NoError(t, ModerationEntry{Action: ActionBan}.Validate())
	assert.ErrorIs(t, ModerationEntry{Action: ActionMute, ExpiresAt: &exp}.Validate(), ErrInvalidAction)

	_, err := ParseAction("kick")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestRateLimitedError(t *testing.T) {
	var err error = &RateLimitedError{Remaining: 5500 * time.Millisecond}
	wrapped := fmt.Errorf("send: %w", err)

	assert.True(t, errors.Is(wrapped, ErrRateLimited))

	var rl *RateLimitedError
	require.True(t, errors.As(wrapped, &rl))
	assert.Equal(t, 6, rl.RemainingSeconds())
}
