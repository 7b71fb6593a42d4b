package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and message key.
//
//	"chat:room:R1:session:S1" → topic: "chat-events", key: "R1:S1"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	// Expected format: {prefix}:room:{roomID}:session:{sessionID}
	parts := strings.Split(channel, ":")
	if len(parts) != 5 || parts[1] != "room" || parts[3] != "session" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid channel prefix: %s", channel)
	}

	topic = parts[0] + "-events"
	return topic, parts[2] + ":" + parts[4], nil
}

// patternToTopic converts a Redis-style subscribe pattern to a Kafka topic.
//
//	"chat:room:*:session:*" → "chat-events"
func patternToTopic(pattern string) (string, error) {
	channel := strings.ReplaceAll(pattern, "*", "_placeholder_")
	topic, _, err := channelToTopicAndKey(channel)
	return topic, err
}

// kafkaSubscription tracks a single consumer subscription. The consumer is
// owned by its poll goroutine, which closes it on exit.
type kafkaSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
}

// KafkaPubSub implements PubSub interface using Apache Kafka.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string][]*kafkaSubscription // key (channel or pattern) → subscriptions
	config        KafkaConfig
	mu            sync.Mutex
	ensured       map[string]struct{}
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string][]*kafkaSubscription),
		config:        cfg,
		ensured:       make(map[string]struct{}),
		doneCh:        make(chan struct{}),
	}

	go kps.producerEventHandler()

	return kps, nil
}

// producerEventHandler drains producer events that have no per-message
// delivery channel (client-level errors, stats).
func (k *KafkaPubSub) producerEventHandler() {
	l := log.L()
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			l.Error().Int("code", int(ev.Code())).Bool("fatal", ev.IsFatal()).Msg(ev.Error())
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Error().Err(ev.TopicPartition.Error).Msg("kafka pubsub delivery failed")
			}
		}
	}
	close(k.doneCh)
}

// ensureTopic creates the topic once per process if it does not exist.
func (k *KafkaPubSub) ensureTopic(topic string) {
	k.mu.Lock()
	if _, ok := k.ensured[topic]; ok {
		k.mu.Unlock()
		return
	}
	k.ensured[topic] = struct{}{}
	k.mu.Unlock()

	l := log.L()

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		l.Warn().Err(err).Str("topic", topic).Msg("failed to create kafka admin client")
		return
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic (may already exist)")
		return
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create kafka topic")
		}
	}
}

// Publish produces an event to the topic derived from channel and waits for
// its delivery report.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	k.ensureTopic(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	deliveryCh := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, deliveryCh)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	timer := time.NewTimer(k.config.DeliveryTimeout)
	defer timer.Stop()

	select {
	case e := <-deliveryCh:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("kafka delivery timed out after %s", k.config.DeliveryTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe subscribes to a specific channel, filtering messages by key.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	return k.subscribeToTopic(ctx, channel, topic, key)
}

// SubscribePattern subscribes to channels matching a pattern (consumes all messages on the topic).
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}

	return k.subscribeToTopic(ctx, pattern, topic, "")
}

// subscribeToTopic creates a consumer for a topic, optionally filtering by key.
func (k *KafkaPubSub) subscribeToTopic(ctx context.Context, subKey, topic, filterKey string) (<-chan *Event, error) {
	k.ensureTopic(topic)

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "pubsub-default"
	}

	// Every subscriber of a chat channel must see every event, so each
	// subscription gets its own consumer group.
	consumerGroupID := fmt.Sprintf("%s-%s-%d", groupID, sanitizeGroupID(subKey), time.Now().UnixNano())

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                consumerGroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, 100)
	sub := &kafkaSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	k.mu.Lock()
	k.subscriptions[subKey] = append(k.subscriptions[subKey], sub)
	k.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer k.release(subKey, sub)
		defer c.Close()
		k.consumeMessages(subCtx, c, eventCh, filterKey)
	}()

	return eventCh, nil
}

// consumeMessages polls Kafka and forwards events to the channel.
func (k *KafkaPubSub) consumeMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event, filterKey string) {
	defer close(eventCh)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if filterKey != "" && string(e.Key) != filterKey {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("kafka pubsub: failed to unmarshal event")
				continue
			}

			// Chat events must not be dropped silently; block until the
			// reader catches up or the subscription ends.
			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}

		case kafka.Error:
			l.Error().Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg(e.Error())
			if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
				return
			}

		default:
			// Ignore other events (offsets committed, rebalance, etc.)
		}
	}
}

func (k *KafkaPubSub) release(key string, sub *kafkaSubscription) {
	k.mu.Lock()
	defer k.mu.Unlock()

	subs := k.subscriptions[key]
	for i, s := range subs {
		if s == sub {
			k.subscriptions[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(k.subscriptions[key]) == 0 {
		delete(k.subscriptions, key)
	}
}

// Unsubscribe stops every subscription on a channel or pattern.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	subs := append([]*kafkaSubscription(nil), k.subscriptions[channel]...)
	k.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	var all []*kafkaSubscription
	for _, subs := range k.subscriptions {
		all = append(all, subs...)
	}
	k.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
