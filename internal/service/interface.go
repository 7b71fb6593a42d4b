package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/filter"
)

// ChatSession owns the chat state of one channel: log, moderation, presence
// and the outbound pipeline.
type ChatSession interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error

	Send(ctx context.Context, body string) (domain.Message, error)
	Moderate(ctx context.Context, req domain.ModerationRequest) (domain.ModerationEntry, error)
	Reverse(ctx context.Context, userID string, action domain.Action) (bool, error)
	ToggleSlowMode(ctx context.Context) (domain.SlowMode, error)
	DeleteMessage(ctx context.Context, messageID string) error

	Snapshot() *domain.SnapshotMessage
	Messages() []domain.Message
	Status() domain.ConnState
	SlowMode() domain.SlowMode
	IsBlocked(userID string) bool
	Blocked() []domain.ModerationEntry
	Stats() domain.Stats
	Identity() domain.Identity

	FilterConfig() filter.Config
	SetFilterConfig(cfg filter.Config)
}

// Notifier receives UI updates.
type Notifier interface {
	Broadcast(v interface{})
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(interface{}) {}
