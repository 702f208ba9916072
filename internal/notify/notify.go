// Package notify holds the client-local notification center shown in the
// dashboard header.
package notify

import (
	"fmt"
	"sync"
	"time"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

const (
	TypeError   = "error"
	TypeWarning = "warning"
	TypeInfo    = "info"
	TypeSuccess = "success"
)

type Center struct {
	Now func() time.Time

	mu     sync.Mutex
	items  []domain.Notification // newest first
	nextID int
}

// New returns a center seeded with items.
func New(items ...domain.Notification) *Center {
	c := &Center{}
	c.items = append(c.items, items...)
	c.nextID = len(items)
	return c
}

// Samples are the notifications a fresh dashboard starts with.
func Samples(now time.Time) []domain.Notification {
	return []domain.Notification{
		{ID: "n1", Type: TypeWarning, Category: "mesh", Title: "Worker heartbeat late", Message: "A mesh worker has not reported for over a minute.", Timestamp: now.Add(-2 * time.Minute)},
		{ID: "n2", Type: TypeInfo, Category: "selfloop", Title: "Self-loop idle", Message: "No self-loop iteration is running.", Timestamp: now.Add(-10 * time.Minute)},
		{ID: "n3", Type: TypeSuccess, Category: "api", Title: "Core API connected", Message: "Dashboard connected to the core API.", Timestamp: now.Add(-30 * time.Minute), Read: true},
	}
}

// Push adds a notification at the top and returns it with its id set.
func (c *Center) Push(typ, category, title, message string) domain.Notification {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	n := domain.Notification{
		ID:        fmt.Sprintf("n%d", c.nextID),
		Type:      typ,
		Category:  category,
		Title:     title,
		Message:   message,
		Timestamp: now(),
	}
	c.items = append([]domain.Notification{n}, c.items...)
	return n
}

func (c *Center) List() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.items...)
}

func (c *Center) Unread() int {
	return derive.UnreadCount(c.List())
}

// MarkRead marks one notification read. It reports whether id was found.
func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Read = true
			return true
		}
	}
	return false
}

// ClearAll marks every notification read; nothing is removed.
func (c *Center) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		c.items[i].Read = true
	}
}
