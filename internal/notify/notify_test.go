package notify

import (
	"testing"
	"time"
)

func TestCenterReadState(t *testing.T) {
	now := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	c := New(Samples(now)...)
	if got := c.Unread(); got != 2 {
		t.Fatalf("expected 2 unread samples, got %d", got)
	}
	if !c.MarkRead("n1") {
		t.Fatalf("expected n1 to exist")
	}
	if c.MarkRead("missing") {
		t.Fatalf("unexpected match for missing id")
	}
	if got := c.Unread(); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}

	c.Now = func() time.Time { return now }
	n := c.Push(TypeError, "api", "Backend down", "core not reachable")
	if n.ID != "n4" || !n.Timestamp.Equal(now) {
		t.Fatalf("unexpected pushed notification %+v", n)
	}
	if list := c.List(); list[0].ID != "n4" || len(list) != 4 {
		t.Fatalf("expected newest first, got %+v", list)
	}

	c.ClearAll()
	if c.Unread() != 0 || len(c.List()) != 4 {
		t.Fatalf("clear all should mark read without removing")
	}
}
