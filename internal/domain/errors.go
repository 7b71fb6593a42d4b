package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyBody             = errors.New("message body is empty")
	ErrSenderBlocked         = errors.New("sender is blocked")
	ErrNotModerator          = errors.New("only host or creator may moderate")
	ErrRateLimited           = errors.New("rate limited by slow mode")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrSendFailed            = errors.New("send failed")
	ErrMessageNotFound       = errors.New("message not found")
	ErrInvalidAction         = errors.New("invalid moderation action")
)

// RateLimitedError carries the wait remaining before the next send is allowed.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("slow mode: wait %ds", e.RemainingSeconds())
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RemainingSeconds rounds the remaining wait up to whole seconds.
func (e *RateLimitedError) RemainingSeconds() int {
	return int((e.Remaining + time.Second - 1) / time.Second)
}
