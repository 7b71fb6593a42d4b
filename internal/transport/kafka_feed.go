package transport

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// KafkaFeedConfig configures the change feed consumer.
type KafkaFeedConfig struct {
	Brokers             string `mapstructure:"brokers"`
	Topic               string `mapstructure:"topic"`
	GroupPrefix         string `mapstructure:"group_prefix"`
	SessionTimeoutMs    int    `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
}

// KafkaChangeConsumer reads change records from a Kafka topic.
type KafkaChangeConsumer struct {
	consumer *kafka.Consumer
	topic    string
	groupID  string
}

// NewKafkaConsumerFactory returns a ConsumerFactory for cfg.
func NewKafkaConsumerFactory(cfg KafkaFeedConfig) ConsumerFactory {
	return func(groupID string) (ChangeConsumer, error) {
		return NewKafkaChangeConsumer(cfg, groupID)
	}
}

// NewKafkaChangeConsumer creates a consumer in groupID. History is loaded
// over REST, so the consumer starts at the latest offset.
func NewKafkaChangeConsumer(cfg KafkaFeedConfig, groupID string) (*KafkaChangeConsumer, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	}
	if cfg.SessionTimeoutMs > 0 {
		cm.SetKey("session.timeout.ms", cfg.SessionTimeoutMs)
	}
	if cfg.HeartbeatIntervalMs > 0 {
		cm.SetKey("heartbeat.interval.ms", cfg.HeartbeatIntervalMs)
	}

	c, err := kafka.NewConsumer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(cfg.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", cfg.Topic, err)
	}

	return &KafkaChangeConsumer{
		consumer: c,
		topic:    cfg.Topic,
		groupID:  groupID,
	}, nil
}

// Consume polls until ctx is done or the brokers become unreachable.
func (k *KafkaChangeConsumer) Consume(ctx context.Context, fn func([]byte)) error {
	l := log.L()
	l.Info().Str("topic", k.topic).Str("group_id", k.groupID).Msg("change feed consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ev := k.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			fn(e.Value)
		case kafka.Error:
			l.Error().Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg(e.Error())
			if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
				return fmt.Errorf("kafka consumer: %w", e)
			}
		case kafka.OffsetsCommitted:
			// Normal auto-commit acknowledgement
		default:
			// Ignore other events (rebalance, etc.)
		}
	}
}

// Close closes the Kafka consumer.
func (k *KafkaChangeConsumer) Close() error {
	return k.consumer.Close()
}
