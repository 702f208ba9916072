// Package actionlog keeps the operator-visible outcomes of recent mutations.
package actionlog

import (
	"sync"
	"time"

	"sheratan/internal/domain"
)

// Capacity is the number of entries kept; older entries are evicted first.
const Capacity = 20

const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
	LevelWarning = "warning"
)

// Log is a bounded in-memory ring of action entries. It is not persisted.
type Log struct {
	Now func() time.Time

	mu      sync.Mutex
	entries []domain.ActionLogEntry // oldest first
	nextID  int64
	subs    []chan struct{}
}

func New() *Log {
	return &Log{}
}

// Append records an entry and returns it.
func (l *Log) Append(level, message string) domain.ActionLogEntry {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	l.mu.Lock()
	l.nextID++
	e := domain.ActionLogEntry{ID: l.nextID, Level: level, Message: message, Timestamp: now()}
	l.entries = append(l.entries, e)
	if over := len(l.entries) - Capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	subs := l.subs
	l.mu.Unlock()
	notify(subs)
	return e
}

func (l *Log) Info(message string) domain.ActionLogEntry    { return l.Append(LevelInfo, message) }
func (l *Log) Success(message string) domain.ActionLogEntry { return l.Append(LevelSuccess, message) }
func (l *Log) Error(message string) domain.ActionLogEntry   { return l.Append(LevelError, message) }
func (l *Log) Warning(message string) domain.ActionLogEntry { return l.Append(LevelWarning, message) }

// Entries returns a copy of the log, newest first.
func (l *Log) Entries() []domain.ActionLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ActionLogEntry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the log. Ids keep increasing afterwards.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	subs := l.subs
	l.mu.Unlock()
	notify(subs)
}

// Changed returns a channel that receives a value, without blocking the
// writer, whenever the log changes.
func (l *Log) Changed() <-chan struct{} {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()
	return ch
}

func notify(subs []chan struct{}) {
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
