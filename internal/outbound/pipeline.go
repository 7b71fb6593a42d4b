// Package outbound implements the optimistic send pipeline.
package outbound

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/ids"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// Dispatcher publishes a message and returns its server id as the ack.
type Dispatcher interface {
	Publish(ctx context.Context, msg domain.Message) (string, error)
}

// Log is the part of the conversation log the pipeline writes to.
type Log interface {
	Append(msg domain.Message) bool
	UpdateStatus(id string, next domain.Delivery) (domain.Message, bool)
	Get(id string) (domain.Message, bool)
}

// Blocklist reports whether a user is blocked.
type Blocklist interface {
	IsBlocked(userID string) bool
}

// SettledFunc is called once a dispatched message is acknowledged or failed.
// changed is false when the entry had already been settled, e.g. by its echo.
type SettledFunc func(msg domain.Message, changed bool, err error)

// Config configures the pipeline.
type Config struct {
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// Pipeline validates, rate-limits and dispatches locally authored messages.
type Pipeline struct {
	log     Log
	blocked Blocklist
	ids     ids.Generator
	now     func() time.Time
	timeout time.Duration
	logger  zerolog.Logger

	mu        sync.Mutex
	slowMode  domain.SlowMode
	lastSend  time.Time
	onSettled SettledFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDs replaces the temp id generator.
func WithIDs(g ids.Generator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline writing to entries and gated by blocked.
func NewPipeline(cfg Config, entries Log, blocked Blocklist, opts ...Option) *Pipeline {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		log:     entries,
		blocked: blocked,
		ids:     ids.TempGenerator{},
		now:     time.Now,
		timeout: cfg.SendTimeout,
		logger:  zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnSettled registers the settlement callback.
func (p *Pipeline) OnSettled(f SettledFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSettled = f
}

// Send validates body, appends a pending message and dispatches it through
// d. It returns the pending message immediately; the acknowledgement is
// applied asynchronously.
func (p *Pipeline) Send(ctx context.Context, body string, sender domain.Identity, d Dispatcher) (domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		metrics.SendOutcomes.WithLabelValues("empty").Inc()
		return domain.Message{}, domain.ErrEmptyBody
	}
	if p.blocked != nil && p.blocked.IsBlocked(sender.UserID) {
		metrics.SendOutcomes.WithLabelValues("blocked").Inc()
		return domain.Message{}, domain.ErrSenderBlocked
	}

	now := p.now()
	if err := p.checkSlowMode(sender, now); err != nil {
		metrics.SendOutcomes.WithLabelValues("rate_limited").Inc()
		return domain.Message{}, err
	}

	tempID, err := p.ids.Generate()
	if err != nil {
		return domain.Message{}, err
	}
	pending := domain.Pending{TempID: tempID}
	msg := domain.Message{
		ID:        tempID,
		ClientRef: tempID,
		UserID:    sender.UserID,
		Username:  sender.Username,
		Role:      sender.Role,
		Body:      body,
		Kind:      domain.KindChat,
		CreatedAt: now,
		Delivery:  pending,
	}
	p.log.Append(msg)

	p.wg.Add(1)
	go p.dispatch(msg, pending, d)

	return msg, nil
}

func (p *Pipeline) checkSlowMode(sender domain.Identity, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slowMode == 0 || sender.Role.Privileged() || p.lastSend.IsZero() {
		return nil
	}
	elapsed := now.UnixMilli() - p.lastSend.UnixMilli()
	window := int64(p.slowMode) * 1000
	if elapsed < window {
		return &domain.RateLimitedError{Remaining: time.Duration(window-elapsed) * time.Millisecond}
	}
	return nil
}

func (p *Pipeline) dispatch(msg domain.Message, pending domain.Pending, d Dispatcher) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	start := time.Now()
	serverID, err := d.Publish(ctx, msg)
	if p.ctx.Err() != nil {
		// Torn down; pending sends are discarded.
		return
	}

	var (
		settled domain.Message
		changed bool
	)
	if err != nil {
		metrics.SendOutcomes.WithLabelValues("failed").Inc()
		p.logger.Warn().Err(err).Str(log.FieldClientRef, msg.ClientRef).Msg("send failed")
		settled, changed = p.log.UpdateStatus(pending.TempID, pending.Fail(err.Error()))
	} else {
		metrics.SendOutcomes.WithLabelValues("sent").Inc()
		metrics.SendLatency.Observe(time.Since(start).Seconds())
		p.mu.Lock()
		p.lastSend = p.now()
		p.mu.Unlock()
		settled, changed = p.log.UpdateStatus(pending.TempID, pending.Confirm(serverID))
		if !changed {
			// Already confirmed by its echo.
			if m, found := p.log.Get(serverID); found {
				settled = m
			}
		}
	}

	if settled.ID == "" {
		// The entry left the log before the transport answered.
		p.logger.Debug().Str(log.FieldClientRef, msg.ClientRef).Msg("settled send no longer in log")
		return
	}

	p.mu.Lock()
	f := p.onSettled
	p.mu.Unlock()
	if f != nil {
		f(settled, changed, err)
	}
}

// SlowMode returns the current slow-mode interval.
func (p *Pipeline) SlowMode() domain.SlowMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slowMode
}

// SetSlowMode sets the slow-mode interval, e.g. from a peer broadcast.
func (p *Pipeline) SetSlowMode(s domain.SlowMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slowMode = s
}

// ToggleSlowMode advances slow mode along 0, 5, 10, 30, 60 and back to 0.
func (p *Pipeline) ToggleSlowMode() domain.SlowMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slowMode = p.slowMode.Next()
	return p.slowMode
}

// LastSendTime returns the time of the last acknowledged send.
func (p *Pipeline) LastSendTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSend
}

// Wait blocks until every in-flight dispatch has settled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels in-flight dispatches and waits for them to return.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}
