package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/audit"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/backend"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/conversation"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/filter"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/moderation"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/outbound"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/presence"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/transport"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

const advisoryTimeout = 5 * time.Second

// Backend is the persistence collaborator. It may be nil when the pub/sub
// transport runs without a backend.
type Backend interface {
	History(ctx context.Context, ch domain.Channel, limit int) ([]domain.Message, error)
	Moderate(ctx context.Context, ch domain.Channel, req backend.ModerationRequest) error
	DeleteMessage(ctx context.Context, ch domain.Channel, messageID string) error
}

// Config configures a chat session.
type Config struct {
	Channel      domain.Channel  `mapstructure:",squash"`
	Identity     domain.Identity `mapstructure:"identity"`
	HistoryLimit int             `mapstructure:"history_limit"`
	LogLimit     int             `mapstructure:"log_limit"`
	Filter       filter.Config   `mapstructure:"filter"`
	Outbound     outbound.Config `mapstructure:"outbound"`
}

// Option configures a chat session.
type Option func(*sessionOptions)

type sessionOptions struct {
	scheduler moderation.Scheduler
	now       func() time.Time
	notifier  Notifier
}

// WithScheduler replaces the timer source used for timeouts.
func WithScheduler(s moderation.Scheduler) Option {
	return func(o *sessionOptions) { o.scheduler = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) { o.now = now }
}

// WithNotifier sets the receiver of UI updates.
func WithNotifier(n Notifier) Option {
	return func(o *sessionOptions) { o.notifier = n }
}

type chatSession struct {
	channel      domain.Channel
	self         domain.Identity
	historyLimit int

	adapter  transport.Adapter
	backend  Backend
	notifier Notifier
	logger   zerolog.Logger

	log      *conversation.Log
	mod      *moderation.State
	presence *presence.Aggregator
	pipeline *outbound.Pipeline

	// lifecycle serializes Connect, Reconnect and Close.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	conn      transport.Connection
	loopDone  chan struct{}
	filterCfg filter.Config
	closed    bool
}

// NewChatSession creates a session for cfg.Channel running as cfg.Identity.
func NewChatSession(cfg Config, adapter transport.Adapter, be Backend, opts ...Option) ChatSession {
	o := sessionOptions{
		scheduler: moderation.RealScheduler,
		now:       time.Now,
		notifier:  nopNotifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.ForChannel(cfg.Channel.RoomID, cfg.Channel.SessionID).With().
		Str(log.FieldUserID, cfg.Identity.UserID).
		Str(log.FieldRole, string(cfg.Identity.Role)).
		Logger()
	s := &chatSession{
		channel:      cfg.Channel,
		self:         cfg.Identity,
		historyLimit: cfg.HistoryLimit,
		adapter:      adapter,
		backend:      be,
		notifier:     o.notifier,
		logger:       logger,
		log:          conversation.NewLog(cfg.LogLimit),
		presence:     presence.NewAggregator(),
		filterCfg:    cfg.Filter,
	}
	s.mod = moderation.NewState(
		moderation.WithScheduler(o.scheduler),
		moderation.WithClock(o.now),
		moderation.WithExpiryHook(s.onTimeoutExpired),
	)
	s.pipeline = outbound.NewPipeline(cfg.Outbound, s.log, s.mod,
		outbound.WithClock(o.now),
		outbound.WithLogger(s.logger),
	)
	s.pipeline.OnSettled(s.onSettled)
	return s
}

// Connect opens the transport, rehydrates the log from history and starts
// the event loop. It is a no-op while connected.
func (s *chatSession) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.connectLocked(ctx)
}

func (s *chatSession) connectLocked(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	current := s.conn
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("session closed")
	}
	if current != nil && current.State() == domain.StateConnected {
		return nil
	}
	if current != nil {
		s.releaseConnection()
	}

	s.notifier.Broadcast(&domain.ConnectionOut{Type: domain.MsgTypeConnection, Status: domain.StateConnecting})

	conn, err := s.adapter.Connect(ctx, s.channel, s.self)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldDriver, s.adapter.Name()).Msg("failed to connect transport")
		s.notifier.Broadcast(&domain.ConnectionOut{Type: domain.MsgTypeConnection, Status: domain.StateDisconnected})
		return err
	}

	// Subscribed before the history fetch so nothing falls in between;
	// duplicates are skipped by id.
	s.rehydrate(ctx)

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.loopDone = done
	s.mu.Unlock()

	go s.run(conn, done)

	s.logger.Info().Str(log.FieldDriver, s.adapter.Name()).Msg("chat session connected")
	s.notifier.Broadcast(s.Snapshot())
	return nil
}

func (s *chatSession) rehydrate(ctx context.Context) {
	if s.backend == nil {
		return
	}
	history, err := s.backend.History(ctx, s.channel, s.historyLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load chat history")
		return
	}

	cfg := s.FilterConfig()
	admitted := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if d := filter.Admit(m, s.mod, cfg); !d.Admit {
			metrics.FilterDrops.WithLabelValues(string(d.Rule)).Inc()
			continue
		}
		admitted = append(admitted, m)
		s.presence.Count(m.ID, presence.OriginInbound)
	}
	s.log.Rehydrate(admitted)
	s.logger.Debug().Int("count", len(admitted)).Msg("chat history loaded")
}

// run drains conn in order until it closes.
func (s *chatSession) run(conn transport.Connection, done chan struct{}) {
	defer close(done)
	for ev := range conn.Events() {
		s.handle(ev)
	}
}

func (s *chatSession) handle(ev transport.Event) {
	switch ev.Type {
	case transport.EventMessageReceived:
		s.handleMessage(ev.Message)

	case transport.EventMessageDeleted:
		if _, ok := s.log.Remove(ev.MessageID); ok {
			s.notifier.Broadcast(&domain.MessageRemovedOut{Type: domain.MsgTypeMessageRemoved, MessageID: ev.MessageID})
		}

	case transport.EventMessageUpdated:
		var (
			msg domain.Message
			ok  bool
		)
		if ev.Body != "" {
			msg, ok = s.log.Update(ev.MessageID, ev.Body)
		}
		if ev.Read {
			msg, ok = s.log.MarkRead(ev.MessageID)
		}
		if ok {
			s.notifier.Broadcast(&domain.MessageOut{Type: domain.MsgTypeMessageUpdated, Message: msg.View()})
		}

	case transport.EventPresenceJoined:
		if s.presence.Join(ev.UserID, ev.Username) {
			s.broadcastStats()
		}

	case transport.EventPresenceLeft:
		if s.presence.Leave(ev.UserID) {
			s.broadcastStats()
		}

	case transport.EventModeration:
		s.handleModeration(ev.Moderation)

	case transport.EventDisconnected:
		s.logger.Error().Err(ev.Err).Msg("chat transport disconnected")
		s.notifier.Broadcast(&domain.ConnectionOut{Type: domain.MsgTypeConnection, Status: domain.StateDisconnected})
	}
}

func (s *chatSession) handleMessage(msg domain.Message) {
	// Echo of a local send: confirm the pending entry instead of appending.
	if local, ok := s.log.FindByClientRef(msg.ClientRef); ok {
		pending, isPending := local.Delivery.(domain.Pending)
		if !isPending {
			return
		}
		if confirmed, changed := s.log.UpdateStatus(local.ID, pending.Confirm(msg.ID)); changed {
			s.presence.Count(confirmed.ID, presence.OriginOutbound)
			s.notifier.Broadcast(&domain.MessageOut{Type: domain.MsgTypeMessageStatus, Message: confirmed.View()})
			s.broadcastStats()
		}
		return
	}

	if s.log.Contains(msg.ID) {
		return
	}

	if d := filter.Admit(msg, s.mod, s.FilterConfig()); !d.Admit {
		metrics.FilterDrops.WithLabelValues(string(d.Rule)).Inc()
		s.logger.Debug().Str(log.FieldMessageID, msg.ID).Str(log.FieldUserID, msg.UserID).Str("rule", string(d.Rule)).Msg("message filtered")
		return
	}

	if !s.log.Append(msg) {
		return
	}
	s.presence.Count(msg.ID, presence.OriginInbound)
	s.notifier.Broadcast(&domain.MessageOut{Type: domain.MsgTypeMessageAppended, Message: msg.View()})
	s.broadcastStats()
}

func (s *chatSession) handleModeration(ev domain.ModerationEvent) {
	// Own actions were applied when issued.
	if ev.ModeratorID != "" && ev.ModeratorID == s.self.UserID {
		return
	}

	if ev.Action == domain.ActionSlowMode {
		mode, err := domain.ParseSlowMode(int(ev.SlowMode))
		if err != nil {
			s.logger.Warn().Err(err).Msg("ignoring slow mode event")
			return
		}
		s.pipeline.SetSlowMode(mode)
		s.notifier.Broadcast(&domain.SlowModeOut{Type: domain.MsgTypeSlowMode, Seconds: mode})
		return
	}

	changed, err := s.mod.Apply(ev)
	if err != nil {
		s.logger.Warn().Err(err).Str("action", string(ev.Action)).Msg("ignoring moderation event")
		return
	}
	if !changed {
		return
	}
	metrics.ModerationActions.WithLabelValues(string(ev.Action), "remote").Inc()
	s.notifier.Broadcast(moderationOut(ev))
}

func moderationOut(ev domain.ModerationEvent) *domain.ModerationOut {
	out := &domain.ModerationOut{
		Type:           domain.MsgTypeModeration,
		Action:         ev.Action,
		TargetUserID:   ev.TargetUserID,
		ReversedAction: ev.ReversedAction,
		ModeratorID:    ev.ModeratorID,
	}
	if !ev.ExpiresAt.IsZero() {
		out.ExpiresAt = ev.ExpiresAt.UnixMilli()
	}
	return out
}

func (s *chatSession) onSettled(msg domain.Message, changed bool, err error) {
	if msg.ID == "" {
		return
	}
	if err == nil {
		if s.presence.Count(msg.ID, presence.OriginOutbound) {
			s.broadcastStats()
		}
	}
	if changed {
		s.notifier.Broadcast(&domain.MessageOut{Type: domain.MsgTypeMessageStatus, Message: msg.View()})
	}
}

func (s *chatSession) onTimeoutExpired(e domain.ModerationEntry) {
	metrics.ModerationActions.WithLabelValues(string(domain.ActionTimeout), "expiry").Inc()
	audit.LogWithTarget(context.Background(), audit.ActionTimeoutExpired, e.ModeratorID, e.TargetUserID, "", "timeout expired")
	s.notifier.Broadcast(&domain.ModerationOut{
		Type:           domain.MsgTypeModeration,
		Action:         domain.ActionReverse,
		TargetUserID:   e.TargetUserID,
		ReversedAction: domain.ActionTimeout,
	})
}

func (s *chatSession) broadcastStats() {
	s.notifier.Broadcast(&domain.StatsOut{Type: domain.MsgTypeStats, Stats: s.presence.Stats()})
}

func (s *chatSession) connection() transport.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *chatSession) connected() (transport.Connection, error) {
	conn := s.connection()
	if conn == nil || conn.State() != domain.StateConnected {
		return nil, domain.ErrTransportDisconnected
	}
	return conn, nil
}

// Send runs the optimistic send pipeline for the local participant.
func (s *chatSession) Send(ctx context.Context, body string) (domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Message{}, domain.ErrEmptyBody
	}
	conn, err := s.connected()
	if err != nil {
		return domain.Message{}, err
	}

	msg, err := s.pipeline.Send(ctx, body, s.self, conn)
	if err != nil {
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			s.notifier.Broadcast(&domain.RateLimitedOut{Type: domain.MsgTypeRateLimited, RemainingSeconds: rl.RemainingSeconds()})
		}
		return domain.Message{}, err
	}

	s.notifier.Broadcast(&domain.MessageOut{Type: domain.MsgTypeMessageAppended, Message: msg.View()})
	return msg, nil
}

func (s *chatSession) requireModerator() error {
	if !s.self.Role.Privileged() {
		return domain.ErrNotModerator
	}
	return nil
}

// Moderate applies a ban, mute or timeout locally, broadcasts it to peers and
// records it with the backend.
func (s *chatSession) Moderate(ctx context.Context, req domain.ModerationRequest) (domain.ModerationEntry, error) {
	if err := s.requireModerator(); err != nil {
		return domain.ModerationEntry{}, err
	}
	if req.TargetUserID == "" {
		return domain.ModerationEntry{}, fmt.Errorf("%w: target user is required", domain.ErrInvalidAction)
	}
	action, err := domain.ParseAction(string(req.Action))
	if err != nil {
		return domain.ModerationEntry{}, err
	}

	var entry domain.ModerationEntry
	switch action {
	case domain.ActionBan:
		entry = s.mod.Ban(req.TargetUserID, s.self.UserID)
	case domain.ActionMute:
		entry = s.mod.Mute(req.TargetUserID, s.self.UserID)
	case domain.ActionTimeout:
		entry, err = s.mod.Timeout(req.TargetUserID, time.Duration(req.DurationSeconds)*time.Second, s.self.UserID)
		if err != nil {
			return domain.ModerationEntry{}, fmt.Errorf("%w: %w", domain.ErrInvalidAction, err)
		}
	}
	metrics.ModerationActions.WithLabelValues(string(action), "local").Inc()

	ev := domain.ModerationEvent{
		Action:       action,
		TargetUserID: req.TargetUserID,
		ModeratorID:  s.self.UserID,
		Reason:       req.Reason,
	}
	if entry.ExpiresAt != nil {
		ev.ExpiresAt = *entry.ExpiresAt
	}
	s.broadcastModeration(ctx, ev)
	s.recordModeration(backend.ModerationRequest{
		TargetUserID: req.TargetUserID,
		Action:       string(action),
		Duration:     req.DurationSeconds,
		Reason:       req.Reason,
	})

	audit.LogWithTarget(ctx, audit.ActionModerate, s.self.UserID, req.TargetUserID, string(action), "user moderated")
	s.notifier.Broadcast(moderationOut(ev))
	return entry, nil
}

// Reverse lifts a restriction and broadcasts the reversal.
func (s *chatSession) Reverse(ctx context.Context, userID string, action domain.Action) (bool, error) {
	if err := s.requireModerator(); err != nil {
		return false, err
	}
	if _, err := domain.ParseAction(string(action)); err != nil {
		return false, err
	}

	changed := s.mod.Reverse(userID, action)
	if !changed {
		return false, nil
	}
	metrics.ModerationActions.WithLabelValues(string(domain.ActionReverse), "local").Inc()

	ev := domain.ModerationEvent{
		Action:         domain.ActionReverse,
		TargetUserID:   userID,
		ReversedAction: action,
		ModeratorID:    s.self.UserID,
	}
	s.broadcastModeration(ctx, ev)
	s.recordModeration(backend.ModerationRequest{
		TargetUserID:   userID,
		Action:         string(domain.ActionReverse),
		ReversedAction: string(action),
	})

	audit.LogWithTarget(ctx, audit.ActionReverse, s.self.UserID, userID, string(action), "moderation reversed")
	s.notifier.Broadcast(moderationOut(ev))
	return true, nil
}

// ToggleSlowMode advances slow mode and broadcasts the new value.
func (s *chatSession) ToggleSlowMode(ctx context.Context) (domain.SlowMode, error) {
	if err := s.requireModerator(); err != nil {
		return 0, err
	}
	mode := s.pipeline.ToggleSlowMode()

	s.broadcastModeration(ctx, domain.ModerationEvent{
		Action:      domain.ActionSlowMode,
		ModeratorID: s.self.UserID,
		SlowMode:    mode,
	})
	s.recordModeration(backend.ModerationRequest{
		Action:   string(domain.ActionSlowMode),
		Duration: int(mode),
	})

	audit.LogWithTarget(ctx, audit.ActionSlowMode, s.self.UserID, s.channel.String(), fmt.Sprintf("%ds", mode), "slow mode changed")
	s.notifier.Broadcast(&domain.SlowModeOut{Type: domain.MsgTypeSlowMode, Seconds: mode})
	return mode, nil
}

// DeleteMessage deletes a message through the backend and removes it locally
// without waiting for the echo.
func (s *chatSession) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.requireModerator(); err != nil {
		return err
	}
	if !s.log.Contains(messageID) {
		return domain.ErrMessageNotFound
	}

	if s.backend != nil {
		if err := s.backend.DeleteMessage(ctx, s.channel, messageID); err != nil {
			return err
		}
	}

	if _, ok := s.log.Remove(messageID); ok {
		s.notifier.Broadcast(&domain.MessageRemovedOut{Type: domain.MsgTypeMessageRemoved, MessageID: messageID})
	}

	if conn := s.connection(); conn != nil {
		if err := conn.PublishDeletion(ctx, messageID, s.self.UserID); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldMessageID, messageID).Msg("failed to broadcast deletion")
		}
	}

	audit.LogWithTarget(ctx, audit.ActionDeleteMessage, s.self.UserID, messageID, "", "message deleted")
	return nil
}

// broadcastModeration publishes ev to peers. The local state is already
// authoritative, so a failure is reported and not returned.
func (s *chatSession) broadcastModeration(ctx context.Context, ev domain.ModerationEvent) {
	conn, err := s.connected()
	if err == nil {
		err = conn.PublishModeration(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("action", string(ev.Action)).Msg("failed to broadcast moderation")
	}
}

// recordModeration notifies the backend in the background; its answer is advisory.
func (s *chatSession) recordModeration(req backend.ModerationRequest) {
	if s.backend == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), advisoryTimeout)
		defer cancel()
		if err := s.backend.Moderate(ctx, s.channel, req); err != nil {
			s.logger.Warn().Err(err).Str("action", req.Action).Msg("backend rejected moderation")
		}
	}()
}

// Reconnect tears down the current connection and connects again.
func (s *chatSession) Reconnect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.releaseConnection()
	audit.Log(ctx, audit.ActionReconnect, s.self.UserID, "chat session reconnecting")
	return s.connectLocked(ctx)
}

// releaseConnection closes the current connection, waits for the event loop
// to drain and discards presence.
func (s *chatSession) releaseConnection() {
	s.mu.Lock()
	conn := s.conn
	done := s.loopDone
	s.conn = nil
	s.loopDone = nil
	s.mu.Unlock()

	if conn != nil {
		if err := s.adapter.Disconnect(conn); err != nil {
			s.logger.Warn().Err(err).Msg("failed to disconnect transport")
		}
		<-done
	}
	s.presence.Reset()
}

// Close tears the session down: timers, connection, presence and in-flight sends.
func (s *chatSession) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.mod.Close()
	s.pipeline.Close()
	s.releaseConnection()
	s.notifier.Broadcast(&domain.ConnectionOut{Type: domain.MsgTypeConnection, Status: domain.StateClosed})
	s.logger.Info().Msg("chat session closed")
	return nil
}

func (s *chatSession) Snapshot() *domain.SnapshotMessage {
	return &domain.SnapshotMessage{
		Type:       domain.MsgTypeSnapshot,
		Channel:    s.channel,
		Connection: s.Status(),
		SlowMode:   s.pipeline.SlowMode(),
		Stats:      s.presence.Stats(),
		Messages:   domain.Views(s.log.Snapshot()),
	}
}

func (s *chatSession) Messages() []domain.Message {
	return s.log.Snapshot()
}

func (s *chatSession) Status() domain.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.StateClosed
	}
	if s.conn == nil {
		return domain.StateDisconnected
	}
	return s.conn.State()
}

func (s *chatSession) SlowMode() domain.SlowMode {
	return s.pipeline.SlowMode()
}

func (s *chatSession) IsBlocked(userID string) bool {
	return s.mod.IsBlocked(userID)
}

func (s *chatSession) Blocked() []domain.ModerationEntry {
	return s.mod.Entries()
}

func (s *chatSession) Stats() domain.Stats {
	return s.presence.Stats()
}

func (s *chatSession) Identity() domain.Identity {
	return s.self
}

func (s *chatSession) FilterConfig() filter.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterCfg
}

func (s *chatSession) SetFilterConfig(cfg filter.Config) {
	s.mu.Lock()
	s.filterCfg = cfg
	s.mu.Unlock()
}
