package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// ForChannel returns a child of the global logger scoped to one room-session.
func ForChannel(roomID, sessionID string) zerolog.Logger {
	return L().With().
		Str(FieldRoomID, roomID).
		Str(FieldSessionID, sessionID).
		Logger()
}
