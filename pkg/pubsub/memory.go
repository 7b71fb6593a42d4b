package pubsub

import (
	"context"
	"errors"
	"path"
	"sync"
)

// ErrClosed is returned by a MemoryPubSub that has been closed.
var ErrClosed = errors.New("pubsub closed")

type memorySubscription struct {
	key     string
	pattern bool
	ch      chan *Event
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) matches(channel string) bool {
	if !s.pattern {
		return s.key == channel
	}
	ok, err := path.Match(s.key, channel)
	return err == nil && ok
}

func (s *memorySubscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// MemoryPubSub is an in-process PubSub used for single-node deployments and tests.
type MemoryPubSub struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryPubSub creates a new in-memory PubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		subs: make(map[string][]*memorySubscription),
	}
}

// Publish delivers the event to every matching subscriber before returning.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var targets []*memorySubscription
	for _, subs := range m.subs {
		for _, s := range subs {
			if s.matches(channel) {
				targets = append(targets, s)
			}
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- event:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return m.subscribe(ctx, channel, false)
}

// SubscribePattern subscribes to channels matching a glob pattern.
func (m *MemoryPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	return m.subscribe(ctx, pattern, true)
}

func (m *MemoryPubSub) subscribe(ctx context.Context, key string, pattern bool) (<-chan *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		key:     key,
		pattern: pattern,
		ch:      make(chan *Event, 100),
		done:    make(chan struct{}),
	}
	m.subs[key] = append(m.subs[key], sub)

	out := make(chan *Event, 100)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-sub.ch:
				select {
				case out <- ev:
				case <-sub.done:
					return
				case <-ctx.Done():
					m.remove(sub)
					return
				}
			case <-sub.done:
				return
			case <-ctx.Done():
				m.remove(sub)
				return
			}
		}
	}()

	return out, nil
}

func (m *MemoryPubSub) remove(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[sub.key]
	for i, s := range subs {
		if s == sub {
			m.subs[sub.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[sub.key]) == 0 {
		delete(m.subs, sub.key)
	}
	sub.close()
}

// Unsubscribe closes every subscription registered under the channel or pattern.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs[channel] {
		s.close()
	}
	delete(m.subs, channel)
	return nil
}

// Drop simulates a lost connection: every subscription channel is closed
// while the bus itself stays usable.
func (m *MemoryPubSub) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, subs := range m.subs {
		for _, s := range subs {
			s.close()
		}
		delete(m.subs, key)
	}
}

// Close closes all subscriptions.
func (m *MemoryPubSub) Close() error {
	m.Drop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
