package moderation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

// ErrInvalidDuration is returned for a non-positive timeout.
var ErrInvalidDuration = errors.New("timeout duration must be positive")

type timeoutEntry struct {
	entry domain.ModerationEntry
	timer Timer
}

// State holds the banned, muted and timed-out users of one chat session.
// Every method is safe for concurrent use.
type State struct {
	mu       sync.Mutex
	banned   map[string]domain.ModerationEntry
	muted    map[string]domain.ModerationEntry
	timeouts map[string]*timeoutEntry
	closed   bool

	sched    Scheduler
	now      func() time.Time
	onExpire func(domain.ModerationEntry)
}

// Option configures a State.
type Option func(*State)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(st *State) { st.sched = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *State) { st.now = now }
}

// WithExpiryHook registers f to run after a timeout lapses on its own.
// f is called without the state lock held.
func WithExpiryHook(f func(domain.ModerationEntry)) Option {
	return func(st *State) { st.onExpire = f }
}

// NewState creates an empty moderation state.
func NewState(opts ...Option) *State {
	s := &State{
		banned:   make(map[string]domain.ModerationEntry),
		muted:    make(map[string]domain.ModerationEntry),
		timeouts: make(map[string]*timeoutEntry),
		sched:    RealScheduler,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ban blocks userID until reversed.
func (s *State) Ban(userID, by string) domain.ModerationEntry {
	e := domain.ModerationEntry{TargetUserID: userID, Action: domain.ActionBan, ModeratorID: by}
	s.mu.Lock()
	s.banned[userID] = e
	s.mu.Unlock()
	return e
}

// Mute blocks userID until reversed.
func (s *State) Mute(userID, by string) domain.ModerationEntry {
	e := domain.ModerationEntry{TargetUserID: userID, Action: domain.ActionMute, ModeratorID: by}
	s.mu.Lock()
	s.muted[userID] = e
	s.mu.Unlock()
	return e
}

// Timeout blocks userID for d and schedules the automatic reversal.
// A new timeout replaces a running one.
func (s *State) Timeout(userID string, d time.Duration, by string) (domain.ModerationEntry, error) {
	if d <= 0 {
		return domain.ModerationEntry{}, ErrInvalidDuration
	}
	return s.TimeoutUntil(userID, s.now().Add(d), by)
}

// TimeoutUntil blocks userID until expiresAt. Peers use it to apply a
// broadcast timeout against their own clock.
func (s *State) TimeoutUntil(userID string, expiresAt time.Time, by string) (domain.ModerationEntry, error) {
	d := expiresAt.Sub(s.now())
	if d <= 0 {
		return domain.ModerationEntry{}, ErrInvalidDuration
	}

	exp := expiresAt
	e := domain.ModerationEntry{
		TargetUserID: userID,
		Action:       domain.ActionTimeout,
		ModeratorID:  by,
		ExpiresAt:    &exp,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return e, nil
	}

	s.cancelTimeoutLocked(userID)
	te := &timeoutEntry{entry: e}
	te.timer = s.sched.AfterFunc(d, func() { s.expire(userID, te) })
	s.timeouts[userID] = te
	return e, nil
}

// expire removes te if it is still the active timeout for userID. A timeout
// that was reversed or replaced meanwhile is left alone.
func (s *State) expire(userID string, te *timeoutEntry) {
	s.mu.Lock()
	current, ok := s.timeouts[userID]
	if !ok || current != te {
		s.mu.Unlock()
		return
	}
	delete(s.timeouts, userID)
	hook := s.onExpire
	s.mu.Unlock()

	if hook != nil {
		hook(te.entry)
	}
}

func (s *State) cancelTimeoutLocked(userID string) bool {
	te, ok := s.timeouts[userID]
	if !ok {
		return false
	}
	te.timer.Stop()
	delete(s.timeouts, userID)
	return true
}

// Reverse lifts action from userID. Reversing a mute also lifts a running
// timeout and cancels its timer. It reports whether anything changed.
func (s *State) Reverse(userID string, action domain.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case domain.ActionBan:
		_, ok := s.banned[userID]
		delete(s.banned, userID)
		return ok
	case domain.ActionMute:
		_, muted := s.muted[userID]
		delete(s.muted, userID)
		timedOut := s.cancelTimeoutLocked(userID)
		return muted || timedOut
	case domain.ActionTimeout:
		return s.cancelTimeoutLocked(userID)
	default:
		return false
	}
}

// IsBlocked reports whether userID is banned, muted or under an active timeout.
func (s *State) IsBlocked(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.banned[userID]; ok {
		return true
	}
	if _, ok := s.muted[userID]; ok {
		return true
	}
	if te, ok := s.timeouts[userID]; ok {
		return s.now().Before(*te.entry.ExpiresAt)
	}
	return false
}

// Entries returns every active restriction, ordered by user then action.
func (s *State) Entries() []domain.ModerationEntry {
	s.mu.Lock()
	out := make([]domain.ModerationEntry, 0, len(s.banned)+len(s.muted)+len(s.timeouts))
	for _, e := range s.banned {
		out = append(out, e)
	}
	for _, e := range s.muted {
		out = append(out, e)
	}
	for _, te := range s.timeouts {
		out = append(out, te.entry)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetUserID != out[j].TargetUserID {
			return out[i].TargetUserID < out[j].TargetUserID
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Apply applies a moderation event received from another participant.
// It reports whether the event changed the blocked set.
func (s *State) Apply(ev domain.ModerationEvent) (bool, error) {
	switch ev.Action {
	case domain.ActionBan:
		s.Ban(ev.TargetUserID, ev.ModeratorID)
	case domain.ActionMute:
		s.Mute(ev.TargetUserID, ev.ModeratorID)
	case domain.ActionTimeout:
		if _, err := s.TimeoutUntil(ev.TargetUserID, ev.ExpiresAt, ev.ModeratorID); err != nil {
			// Already lapsed by the time it reached us.
			if errors.Is(err, ErrInvalidDuration) {
				return false, nil
			}
			return false, err
		}
	case domain.ActionReverse:
		return s.Reverse(ev.TargetUserID, ev.ReversedAction), nil
	default:
		return false, domain.ErrInvalidAction
	}
	return true, nil
}

// Close cancels every pending timer. Later timeouts are not scheduled.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID := range s.timeouts {
		s.cancelTimeoutLocked(userID)
	}
	s.closed = true
}
