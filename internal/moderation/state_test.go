package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

func newTestState(t *testing.T, opts ...Option) (*State, *ManualScheduler) {
	t.Helper()
	sched := NewManualScheduler(time.Unix(1700000000, 0))
	opts = append([]Option{WithScheduler(sched), WithClock(sched.Now)}, opts...)
	return NewState(opts...), sched
}

func TestBanAndMuteBlockUntilReversed(t *testing.T) {
	s, _ := newTestState(t)

	s.Ban("u1", "mod")
	s.Mute("u2", "mod")
	assert.True(t, s.IsBlocked("u1"))
	assert.True(t, s.IsBlocked("u2"))
	assert.False(t, s.IsBlocked("u3"))

	assert.True(t, s.Reverse("u1", domain.ActionBan))
	assert.False(t, s.IsBlocked("u1"))
	assert.False(t, s.Reverse("u1", domain.ActionBan))

	assert.True(t, s.Reverse("u2", domain.ActionMute))
	assert.False(t, s.IsBlocked("u2"))
}

func TestTimeoutAutoReversal(t *testing.T) {
	var expired []domain.ModerationEntry
	s, sched := newTestState(t, WithExpiryHook(func(e domain.ModerationEntry) {
		expired = append(expired, e)
	}))

	e, err := s.Timeout("u1", 5*time.Second, "mod")
	require.NoError(t, err)
	require.NotNil(t, e.ExpiresAt)
	require.NoError(t, e.Validate())

	for i := 0; i < 4; i++ {
		sched.Advance(time.Second)
		assert.True(t, s.IsBlocked("u1"), "blocked at %ds", i+1)
	}
	sched.Advance(999 * time.Millisecond)
	assert.True(t, s.IsBlocked("u1"))

	sched.Advance(time.Millisecond)
	assert.False(t, s.IsBlocked("u1"))
	require.Len(t, expired, 1)
	assert.Equal(t, "u1", expired[0].TargetUserID)
	assert.Equal(t, 0, sched.Pending())
}

func TestExplicitReverseCancelsTimer(t *testing.T) {
	fired := 0
	s, sched := newTestState(t, WithExpiryHook(func(domain.ModerationEntry) { fired++ }))

	_, err := s.Timeout("u1", 5*time.Second, "mod")
	require.NoError(t, err)
	require.Equal(t, 1, sched.Pending())

	assert.True(t, s.Reverse("u1", domain.ActionMute))
	assert.Equal(t, 0, sched.Pending())
	assert.False(t, s.IsBlocked("u1"))

	sched.Advance(10 * time.Second)
	assert.Equal(t, 0, fired)
}

func TestTimeoutExpiryKeepsIndependentMute(t *testing.T) {
	s, sched := newTestState(t)

	s.Mute("u1", "mod")
	_, err := s.Timeout("u1", 5*time.Second, "mod")
	require.NoError(t, err)

	sched.Advance(5 * time.Second)
	assert.True(t, s.IsBlocked("u1"))
}

func TestTimeoutReplacesRunningTimeout(t *testing.T) {
	fired := 0
	s, sched := newTestState(t, WithExpiryHook(func(domain.ModerationEntry) { fired++ }))

	_, err := s.Timeout("u1", 5*time.Second, "mod")
	require.NoError(t, err)
	sched.Advance(3 * time.Second)
	_, err = s.Timeout("u1", 5*time.Second, "mod")
	require.NoError(t, err)

	sched.Advance(3 * time.Second)
	assert.True(t, s.IsBlocked("u1"))
	assert.Equal(t, 0, fired)

	sched.Advance(2 * time.Second)
	assert.False(t, s.IsBlocked("u1"))
	assert.Equal(t, 1, fired)
}

func TestTimeoutRejectsNonPositive(t *testing.T) {
	s, _ := newTestState(t)
	_, err := s.Timeout("u1", 0, "mod")
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestApplyPeerEvents(t *testing.T) {
	s, sched := newTestState(t)

	changed, err := s.Apply(domain.ModerationEvent{Action: domain.ActionBan, TargetUserID: "u1", ModeratorID: "mod"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.IsBlocked("u1"))

	changed, err = s.Apply(domain.ModerationEvent{
		Action:       domain.ActionTimeout,
		TargetUserID: "u2",
		ExpiresAt:    sched.Now().Add(10 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.IsBlocked("u2"))

	// Lapsed before delivery.
	changed, err = s.Apply(domain.ModerationEvent{
		Action:       domain.ActionTimeout,
		TargetUserID: "u3",
		ExpiresAt:    sched.Now().Add(-time.Second),
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, s.IsBlocked("u3"))

	changed, err = s.Apply(domain.ModerationEvent{Action: domain.ActionReverse, TargetUserID: "u1", ReversedAction: domain.ActionBan})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, s.IsBlocked("u1"))

	_, err = s.Apply(domain.ModerationEvent{Action: "kick"})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestEntriesSorted(t *testing.T) {
	s, _ := newTestState(t)
	s.Mute("b", "mod")
	s.Ban("a", "mod")
	_, err := s.Timeout("b", time.Minute, "mod")
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].TargetUserID)
	assert.Equal(t, domain.ActionMute, entries[1].Action)
	assert.Equal(t, domain.ActionTimeout, entries[2].Action)
}

func TestCloseCancelsTimers(t *testing.T) {
	fired := 0
	s, sched := newTestState(t, WithExpiryHook(func(domain.ModerationEntry) { fired++ }))

	_, err := s.Timeout("u1", time.Second, "mod")
	require.NoError(t, err)
	_, err = s.Timeout("u2", 2*time.Second, "mod")
	require.NoError(t, err)

	s.Close()
	assert.Equal(t, 0, sched.Pending())
	sched.Advance(time.Minute)
	assert.Equal(t, 0, fired)
}
