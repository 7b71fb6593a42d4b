package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/backend"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/config"
	chatgrpc "github.com/weiawesome/wes-io-live/chat-engine/internal/grpc"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/handler"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/service"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/transport"
	pkgconfig "github.com/weiawesome/wes-io-live/chat-engine/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load(pkgconfig.GetEnv("CONFIG_PATH", "./config"))
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	channel := cfg.Chat.Channel()
	if !channel.Valid() {
		logger.Fatal().Msg("chat.room_id and chat.session_id are required")
	}
	if cfg.Chat.Identity.UserID == "" {
		logger.Fatal().Msg("chat.identity.user_id is required")
	}

	// Backend client, optional for the pubsub transport
	var (
		sessionBackend service.Backend
		feedBackend    transport.Backend
	)
	if cfg.Backend.BaseURL != "" {
		var opts []backend.Option
		if cfg.Backend.Cache.Address != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Backend.Cache.Address,
				Password: cfg.Backend.Cache.Password,
				DB:       cfg.Backend.Cache.DB,
			})
			defer rdb.Close()
			opts = append(opts, backend.WithHistoryCache(backend.NewRedisHistoryCache(rdb, cfg.Backend.Cache.Prefix)))
			logger.Info().Str("address", cfg.Backend.Cache.Address).Msg("history cache enabled")
		}
		client := backend.NewClient(cfg.Client(), opts...)
		sessionBackend = client
		feedBackend = client
		logger.Info().Str("base_url", cfg.Backend.BaseURL).Msg("backend client configured")
	}

	// Transport adapter
	var (
		ps          pubsub.PubSub
		newConsumer transport.ConsumerFactory
	)
	switch cfg.Transport.Driver {
	case "feed":
		newConsumer = transport.NewKafkaConsumerFactory(cfg.Transport.Feed)
	default:
		ps, err = pubsub.NewPubSub(cfg.Transport.PubSub)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create pubsub")
		}
		defer ps.Close()
	}

	adapter, err := transport.NewAdapter(cfg.Transport, ps, newConsumer, feedBackend)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create transport adapter")
	}

	// Initialize Hub
	wsHub := hub.NewHub(cfg.WebSocket)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wsHub.Run(ctx)

	// Initialize chat session
	session := service.NewChatSession(service.Config{
		Channel:      channel,
		Identity:     cfg.Chat.Identity,
		HistoryLimit: cfg.Chat.HistoryLimit,
		LogLimit:     cfg.Chat.LogLimit,
		Filter:       cfg.Filter,
		Outbound:     cfg.Outbound,
	}, adapter, sessionBackend, service.WithNotifier(wsHub))

	if err := session.Connect(ctx); err != nil {
		// The session stays usable; POST /api/v1/chat/reconnect retries.
		logger.Error().Err(err).Msg("initial connect failed")
	}

	// Start gRPC health server
	health := chatgrpc.NewHealth(session)
	go health.Watch(ctx, 5*time.Second)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	grpcServer, err := chatgrpc.StartGRPCServer(grpcAddr, health, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start grpc server")
	}

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "connection": session.Status()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Register routes
	handler.NewHandler(session).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, session, cfg.WebSocket).RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("channel", channel.String()).
			Str("transport", adapter.Name()).
			Str("role", string(cfg.Chat.Identity.Role)).
			Msg("chat-engine starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat-engine")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	grpcServer.GracefulStop()

	if err := session.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close chat session")
	}
	cancel()

	logger.Info().Msg("chat-engine stopped")
}
