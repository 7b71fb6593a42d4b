package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// RedisPubSub implements PubSub interface using Redis.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string][]*redis.PubSub
	mu            sync.RWMutex
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string][]*redis.PubSub),
	}, nil
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.subscribe(ctx, channel, r.client.Subscribe(ctx, channel))
}

// SubscribePattern subscribes to channels matching a pattern.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.subscribe(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) subscribe(ctx context.Context, key string, ps *redis.PubSub) (<-chan *Event, error) {
	// Wait for the subscription to be confirmed so connection failures
	// surface here instead of inside the receive loop.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	r.mu.Lock()
	r.subscriptions[key] = append(r.subscriptions[key], ps)
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)

	go func() {
		defer r.release(key, ps)
		r.processMessages(ctx, ps, eventCh)
	}()

	return eventCh, nil
}

// release closes ps and forgets it once its receive loop has ended.
func (r *RedisPubSub) release(key string, ps *redis.PubSub) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscriptions[key]
	for i, s := range subs {
		if s == ps {
			r.subscriptions[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subscriptions[key]) == 0 {
		delete(r.subscriptions, key)
	}
	ps.Close()
}

// Unsubscribe closes every subscription on a channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	subs := r.subscriptions[channel]
	delete(r.subscriptions, channel)
	r.mu.Unlock()

	var firstErr error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.subscriptions {
		for _, ps := range subs {
			ps.Close()
		}
	}
	r.subscriptions = make(map[string][]*redis.PubSub)

	return r.client.Close()
}

// processMessages reads messages from the Redis pubsub and sends them to the
// event channel. It returns on the first receive error instead of letting
// go-redis resubscribe, so a lost connection closes the event channel.
func (r *RedisPubSub) processMessages(ctx context.Context, pubsub *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)
	l := log.L()

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.Warn().Err(err).Msg("redis pubsub receive failed")
			}
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue // subscription confirmations, pongs
		}

		var event Event
		if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
			l.Warn().Err(err).Str("channel", m.Channel).Msg("redis pubsub: invalid event")
			continue
		}

		select {
		case eventCh <- &event:
		case <-ctx.Done():
			return
		}
	}
}
