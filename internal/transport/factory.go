package transport

import (
	"fmt"

	"github.com/weiawesome/wes-io-live/chat-engine/pkg/pubsub"
)

// Config selects and configures the transport strategy.
type Config struct {
	Driver string          `mapstructure:"driver"` // "pubsub", "feed"
	PubSub pubsub.Config   `mapstructure:"pubsub"`
	Feed   KafkaFeedConfig `mapstructure:"feed"`
}

// NewAdapter builds the adapter named by cfg.Driver. ps is required for the
// pubsub strategy, newConsumer and backend for the feed strategy.
func NewAdapter(cfg Config, ps pubsub.PubSub, newConsumer ConsumerFactory, backend Backend) (Adapter, error) {
	switch cfg.Driver {
	case "pubsub", "":
		if ps == nil {
			return nil, fmt.Errorf("pubsub transport requires a pubsub driver")
		}
		return NewPubSubAdapter(ps), nil
	case "feed":
		if newConsumer == nil || backend == nil {
			return nil, fmt.Errorf("feed transport requires a consumer and a backend")
		}
		return NewFeedAdapter(newConsumer, backend, cfg.Feed.GroupPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported transport driver: %s", cfg.Driver)
	}
}
