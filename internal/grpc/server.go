package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// ServiceName is the health service name reported for the chat session.
const ServiceName = "chat.engine"

// StatusSource reports the session connection state.
type StatusSource interface {
	Status() domain.ConnState
}

// Health mirrors the session connection state into the gRPC health service.
type Health struct {
	server *health.Server
	source StatusSource
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealth(source StatusSource) *Health {
	return &Health{
		server: health.NewServer(),
		source: source,
	}
}

func servingStatus(s domain.ConnState) healthpb.HealthCheckResponse_ServingStatus {
	if s == domain.StateConnected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Sync publishes the current session state.
func (h *Health) Sync() {
	status := servingStatus(h.source.Status())
	if status == h.last {
		return
	}
	h.last = status
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)

	l := log.L()
	l.Info().Str("status", status.String()).Msg("health status changed")
}

// Watch calls Sync every interval until ctx is done, then marks the
// service as shutting down.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Sync()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Sync()
		}
	}
}

func StartGRPCServer(addr string, h *Health, logger zerolog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	healthpb.RegisterHealthServer(s, h.server)

	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("chat grpc server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return s, nil
}
