package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/backend"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/filter"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/outbound"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/transport"
	pkgconfig "github.com/weiawesome/wes-io-live/chat-engine/pkg/config"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	WebSocket WebSocketConfig
	Log       log.Config
	Chat      ChatConfig
	Filter    filter.Config
	Outbound  outbound.Config
	Transport transport.Config
	Backend   BackendConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type GRPCConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type ChatConfig struct {
	RoomID       string          `mapstructure:"room_id"`
	SessionID    string          `mapstructure:"session_id"`
	Identity     domain.Identity `mapstructure:"identity"`
	HistoryLimit int             `mapstructure:"history_limit"`
	LogLimit     int             `mapstructure:"log_limit"`
}

// Channel returns the configured room/session pair.
func (c ChatConfig) Channel() domain.Channel {
	return domain.Channel{RoomID: c.RoomID, SessionID: c.SessionID}
}

// BackendConfig configures the persistence backend. An empty BaseURL runs
// the engine without one.
type BackendConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Cache    CacheConfig
}

// CacheConfig configures the Redis history cache. An empty Address disables it.
type CacheConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Client returns the backend client configuration.
func (c *Config) Client() backend.Config {
	return backend.Config{
		BaseURL:      c.Backend.BaseURL,
		Token:        c.Backend.Token,
		Timeout:      c.Backend.Timeout,
		HistoryLimit: c.Chat.HistoryLimit,
		CacheTTL:     c.Backend.CacheTTL,
	}
}

func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-engine")
	v.SetDefault("chat.room_id", "")
	v.SetDefault("chat.session_id", "")
	v.SetDefault("chat.identity.user_id", "")
	v.SetDefault("chat.identity.username", "")
	v.SetDefault("chat.identity.role", "viewer")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.log_limit", 500)
	v.SetDefault("filter.hide_spam", true)
	v.SetDefault("filter.hide_links", false)
	v.SetDefault("filter.caps_filter", false)
	v.SetDefault("outbound.send_timeout", "10s")
	v.SetDefault("transport.driver", "pubsub")
	ps := pubsub.DefaultConfig()
	v.SetDefault("transport.pubsub.driver", ps.Driver)
	v.SetDefault("transport.pubsub.redis.address", ps.Redis.Address)
	v.SetDefault("transport.pubsub.redis.password", ps.Redis.Password)
	v.SetDefault("transport.pubsub.redis.db", ps.Redis.DB)
	v.SetDefault("transport.pubsub.redis.pool_size", ps.Redis.PoolSize)
	v.SetDefault("transport.pubsub.redis.read_timeout", ps.Redis.ReadTimeout.String())
	v.SetDefault("transport.pubsub.redis.write_timeout", ps.Redis.WriteTimeout.String())
	v.SetDefault("transport.pubsub.kafka.brokers", ps.Kafka.Brokers)
	v.SetDefault("transport.pubsub.kafka.group_id", ps.Kafka.GroupID)
	v.SetDefault("transport.pubsub.kafka.partitions", ps.Kafka.Partitions)
	v.SetDefault("transport.pubsub.kafka.delivery_timeout", ps.Kafka.DeliveryTimeout.String())
	v.SetDefault("transport.feed.brokers", "localhost:9092")
	v.SetDefault("transport.feed.topic", "chat-changes")
	v.SetDefault("transport.feed.group_prefix", "chat-engine-feed")
	v.SetDefault("transport.feed.session_timeout_ms", 10000)
	v.SetDefault("transport.feed.heartbeat_interval_ms", 3000)
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.cache_ttl", "30s")
	v.SetDefault("backend.cache.address", "")
	v.SetDefault("backend.cache.password", "")
	v.SetDefault("backend.cache.db", 0)
	v.SetDefault("backend.cache.prefix", "chat:history")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("chat.room_id", "CHAT_ROOM_ID")
	v.BindEnv("chat.session_id", "CHAT_SESSION_ID")
	v.BindEnv("chat.identity.user_id", "CHAT_USER_ID")
	v.BindEnv("chat.identity.username", "CHAT_USERNAME")
	v.BindEnv("chat.identity.role", "CHAT_ROLE")
	v.BindEnv("transport.driver", "TRANSPORT_DRIVER")
	v.BindEnv("transport.pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("transport.pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("transport.pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("transport.pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("transport.feed.brokers", "FEED_BROKERS")
	v.BindEnv("transport.feed.topic", "FEED_TOPIC")
	v.BindEnv("backend.base_url", "BACKEND_BASE_URL")
	v.BindEnv("backend.token", "BACKEND_TOKEN")
	v.BindEnv("backend.cache.address", "HISTORY_CACHE_ADDRESS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Outbound.SendTimeout = parseDuration(v, "outbound.send_timeout", 10*time.Second)
	cfg.Transport.PubSub.Redis.ReadTimeout = parseDuration(v, "transport.pubsub.redis.read_timeout", 3*time.Second)
	cfg.Transport.PubSub.Redis.WriteTimeout = parseDuration(v, "transport.pubsub.redis.write_timeout", 3*time.Second)
	cfg.Transport.PubSub.Kafka.DeliveryTimeout = parseDuration(v, "transport.pubsub.kafka.delivery_timeout", 5*time.Second)
	cfg.Backend.Timeout = parseDuration(v, "backend.timeout", 10*time.Second)
	cfg.Backend.CacheTTL = parseDuration(v, "backend.cache_ttl", 30*time.Second)

	cfg.Chat.Identity.Role = domain.ParseRole(string(cfg.Chat.Identity.Role))

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
