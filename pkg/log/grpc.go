package log

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// UnaryServerInterceptor stores a request-scoped logger in the call context
// and logs the completed call.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		child := callLogger(ctx, logger, info.FullMethod)

		resp, err := handler(WithLogger(ctx, child), req)
		logCall(child, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls such as
// health Watch.
func StreamServerInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		child := callLogger(ss.Context(), logger, info.FullMethod)

		err := handler(srv, &loggedStream{ServerStream: ss, ctx: WithLogger(ss.Context(), child)})
		logCall(child, info.FullMethod, start, err)
		return err
	}
}

type loggedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *loggedStream) Context() context.Context {
	return s.ctx
}

func callLogger(ctx context.Context, logger zerolog.Logger, method string) zerolog.Logger {
	return logger.With().
		Str(FieldRequestID, requestIDFromMD(ctx)).
		Str(FieldGRPCMethod, method).
		Logger()
}

func logCall(l zerolog.Logger, method string, start time.Time, err error) {
	code := status.Code(err)

	var evt *zerolog.Event
	switch code {
	case codes.OK, codes.Canceled:
		// Health probes run every few seconds.
		if strings.HasPrefix(method, "/grpc.health.") {
			evt = l.Debug()
		} else {
			evt = l.Info()
		}
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		evt = l.Error()
	default:
		evt = l.Warn()
	}

	evt.Str(FieldGRPCCode, code.String()).
		Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
		Err(err).
		Msg("grpc call completed")
}

func requestIDFromMD(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.New().String()
}
