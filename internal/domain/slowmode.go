package domain

import (
	"fmt"
	"time"
)

// SlowMode is the minimum interval in seconds between sends of a
// non-privileged participant. Zero disables it.
type SlowMode int

// SlowModeSteps is the toggle order.
var SlowModeSteps = []SlowMode{0, 5, 10, 30, 60}

// Next returns the value following s in the toggle order, wrapping to 0.
// Values outside the set restart the cycle.
func (s SlowMode) Next() SlowMode {
	for i, step := range SlowModeSteps {
		if step == s {
			return SlowModeSteps[(i+1)%len(SlowModeSteps)]
		}
	}
	return SlowModeSteps[0]
}

// Interval returns the slow-mode interval as a duration.
func (s SlowMode) Interval() time.Duration {
	return time.Duration(s) * time.Second
}

// ParseSlowMode validates a slow-mode value.
func ParseSlowMode(seconds int) (SlowMode, error) {
	for _, step := range SlowModeSteps {
		if int(step) == seconds {
			return step, nil
		}
	}
	return 0, fmt.Errorf("invalid slow mode %ds", seconds)
}
