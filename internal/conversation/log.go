// Package conversation holds the insertion-ordered message log of a chat session.
package conversation

import (
	"sync"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

// Log is an insertion-ordered message log with targeted removal.
// Entries are never re-sorted by timestamp.
type Log struct {
	mu    sync.RWMutex
	items []domain.Message
	index map[string]int // id -> position in items
	refs  map[string]int // client ref -> position in items
	limit int
}

// NewLog creates an empty log. A positive limit caps the number of
// retained entries, evicting the oldest first.
func NewLog(limit int) *Log {
	return &Log{
		index: make(map[string]int),
		refs:  make(map[string]int),
		limit: limit,
	}
}

// Append adds msg at the end. It reports false if an entry with the same id
// is already present.
func (l *Log) Append(msg domain.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[msg.ID]; ok {
		return false
	}
	l.items = append(l.items, msg)
	pos := len(l.items) - 1
	l.index[msg.ID] = pos
	if msg.ClientRef != "" {
		l.refs[msg.ClientRef] = pos
	}

	if l.limit > 0 && len(l.items) > l.limit {
		l.items = append([]domain.Message(nil), l.items[len(l.items)-l.limit:]...)
		l.reindexLocked()
	}
	return true
}

// Remove destroys the entry with id. It is the only destroying mutation.
func (l *Log) Remove(id string) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.index[id]
	if !ok {
		return domain.Message{}, false
	}
	removed := l.items[pos]
	l.items = append(l.items[:pos], l.items[pos+1:]...)
	l.reindexLocked()
	return removed, true
}

// UpdateStatus moves a pending entry to next. The entry is looked up by its
// current id; confirming rekeys it under the server id. Entries that are not
// pending are left unchanged, so each entry transitions at most once.
func (l *Log) UpdateStatus(id string, next domain.Delivery) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.index[id]
	if !ok {
		return domain.Message{}, false
	}
	msg := l.items[pos]
	if _, pending := msg.Delivery.(domain.Pending); !pending {
		return msg, false
	}
	if _, pending := next.(domain.Pending); pending {
		return msg, false
	}

	if sent, ok := next.(domain.Sent); ok && sent.ServerID != "" && sent.ServerID != msg.ID {
		if _, taken := l.index[sent.ServerID]; taken {
			return msg, false
		}
		delete(l.index, msg.ID)
		msg.ID = sent.ServerID
		l.index[msg.ID] = pos
	}
	msg.Delivery = next
	l.items[pos] = msg
	return msg, true
}

// Update replaces the body of a sent entry.
func (l *Log) Update(id, body string) (domain.Message, bool) {
	return l.mutate(id, func(m *domain.Message) { m.Body = body })
}

// MarkRead sets the read flag of an entry.
func (l *Log) MarkRead(id string) (domain.Message, bool) {
	return l.mutate(id, func(m *domain.Message) { m.Read = true })
}

func (l *Log) mutate(id string, f func(*domain.Message)) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.index[id]
	if !ok {
		return domain.Message{}, false
	}
	f(&l.items[pos])
	return l.items[pos], true
}

// Get returns the entry with id.
func (l *Log) Get(id string) (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return l.items[pos], true
}

// FindByClientRef returns the entry created locally under ref.
func (l *Log) FindByClientRef(ref string) (domain.Message, bool) {
	if ref == "" {
		return domain.Message{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.refs[ref]
	if !ok {
		return domain.Message{}, false
	}
	return l.items[pos], true
}

// Contains reports whether an entry with id exists.
func (l *Log) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Snapshot returns a copy of the entries in insertion order.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.items))
	copy(out, l.items)
	return out
}

// Reset drops every entry and loads msgs in order. Used to rehydrate from
// history on (re)connect.
func (l *Log) Reset(msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaceLocked(msgs, nil)
}

// Rehydrate loads history like Reset but keeps local entries that never
// reached the backend (pending or failed). They follow the history in their
// original order; an entry whose id or client ref shows up in history is
// dropped in favour of the stored copy.
func (l *Log) Rehydrate(history []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var local []domain.Message
	for _, m := range l.items {
		switch m.Delivery.(type) {
		case domain.Pending, domain.Failed:
			local = append(local, m)
		}
	}
	l.replaceLocked(history, local)
}

func (l *Log) replaceLocked(history, local []domain.Message) {
	items := make([]domain.Message, 0, len(history)+len(local))
	seen := make(map[string]bool, len(history))
	refs := make(map[string]bool)
	for _, m := range history {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.ClientRef != "" {
			refs[m.ClientRef] = true
		}
		items = append(items, m)
	}
	for _, m := range local {
		if seen[m.ID] || (m.ClientRef != "" && refs[m.ClientRef]) {
			continue
		}
		seen[m.ID] = true
		items = append(items, m)
	}
	if l.limit > 0 && len(items) > l.limit {
		items = items[len(items)-l.limit:]
	}
	l.items = items
	l.reindexLocked()
}

func (l *Log) reindexLocked() {
	l.index = make(map[string]int, len(l.items))
	l.refs = make(map[string]int)
	for i, m := range l.items {
		l.index[m.ID] = i
		if m.ClientRef != "" {
			l.refs[m.ClientRef] = i
		}
	}
}
