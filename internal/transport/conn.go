package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/metrics"
)

// baseConn holds the state shared by both strategies: the event channel,
// the connection state and the once-only close and disconnect reporting.
type baseConn struct {
	driver string
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu    sync.RWMutex
	state domain.ConnState

	closeOnce      sync.Once
	disconnectOnce sync.Once
	pumpDone       chan struct{}
}

func newBaseConn(driver string, logger zerolog.Logger) *baseConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &baseConn{
		driver:   driver,
		events:   make(chan Event, 256),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		state:    domain.StateConnecting,
		pumpDone: make(chan struct{}),
	}
}

func (b *baseConn) Events() <-chan Event {
	return b.events
}

func (b *baseConn) State() domain.ConnState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *baseConn) setState(s domain.ConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == domain.StateClosed {
		return
	}
	b.state = s
}

func (b *baseConn) connected() bool {
	return b.State() == domain.StateConnected
}

// emit delivers ev unless the connection is being torn down.
func (b *baseConn) emit(ev Event) bool {
	select {
	case b.events <- ev:
		metrics.TransportEvents.WithLabelValues(b.driver, string(ev.Type)).Inc()
		return true
	case <-b.ctx.Done():
		return false
	}
}

// reportDisconnect surfaces a lost connection exactly once. It is a no-op
// after Close.
func (b *baseConn) reportDisconnect(err error) {
	if b.ctx.Err() != nil {
		return
	}
	b.disconnectOnce.Do(func() {
		b.setState(domain.StateDisconnected)
		metrics.TransportDisconnects.WithLabelValues(b.driver).Inc()
		b.logger.Warn().Err(err).Msg("transport disconnected")
		b.emit(Event{Type: EventDisconnected, Err: err})
	})
}

// shutdown runs before while the connection is still live, cancels the
// pump, runs after and waits for the event channel to close. Only the first
// call does anything.
func (b *baseConn) shutdown(before, after func()) {
	b.closeOnce.Do(func() {
		if before != nil {
			before()
		}
		b.mu.Lock()
		b.state = domain.StateClosed
		b.mu.Unlock()
		b.cancel()
		if after != nil {
			after()
		}
		<-b.pumpDone
	})
}
