// Package presence tracks who is in the channel and how many messages it carried.
package presence

import (
	"sync"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/metrics"
)

// Origin labels where a counted message came from.
type Origin string

const (
	OriginInbound  Origin = "inbound"
	OriginOutbound Origin = "outbound"
)

// Aggregator maintains the presence set and a deduplicated message count.
type Aggregator struct {
	mu      sync.Mutex
	online  map[string]string // user id -> username
	counted map[string]struct{}
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		online:  make(map[string]string),
		counted: make(map[string]struct{}),
	}
}

// Join adds userID to the presence set. It reports whether the set changed.
func (a *Aggregator) Join(userID, username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, existed := a.online[userID]
	a.online[userID] = username
	metrics.OnlineUsers.Set(float64(len(a.online)))
	return !existed
}

// Leave removes userID from the presence set. It reports whether the set changed.
func (a *Aggregator) Leave(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.online[userID]; !ok {
		return false
	}
	delete(a.online, userID)
	metrics.OnlineUsers.Set(float64(len(a.online)))
	return true
}

// IsOnline reports whether userID is present.
func (a *Aggregator) IsOnline(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.online[userID]
	return ok
}

// Count records messageID once. Echoes of an already counted id are ignored.
func (a *Aggregator) Count(messageID string, origin Origin) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.counted[messageID]; ok {
		return false
	}
	a.counted[messageID] = struct{}{}
	metrics.MessagesCounted.WithLabelValues(string(origin)).Inc()
	return true
}

// Stats returns the current online and message counts.
func (a *Aggregator) Stats() domain.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.Stats{
		OnlineCount:  len(a.online),
		MessageCount: len(a.counted),
	}
}

// Reset discards the presence set. The message count survives reconnects.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = make(map[string]string)
	metrics.OnlineUsers.Set(0)
}
