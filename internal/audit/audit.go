package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// Audit actions for chat-engine.
const (
	ActionModerate       = "chat.moderate"
	ActionReverse        = "chat.reverse"
	ActionTimeoutExpired = "chat.timeout_expired"
	ActionSlowMode       = "chat.slow_mode"
	ActionDeleteMessage  = "chat.delete_message"
	ActionReconnect      = "chat.reconnect"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithTarget emits an audit log for an action on another user or message.
func LogWithTarget(ctx context.Context, action string, userID string, targetID string, detail string, msg string) {
	l := log.Ctx(ctx)
	evt := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID)
	if detail != "" {
		evt = evt.Str(FieldDetail, detail)
	}
	evt.Msg(msg)
}
