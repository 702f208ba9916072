package actionlog

import (
	"fmt"
	"testing"
	"time"
)

func TestLogEvictsOldestFirst(t *testing.T) {
	l := New()
	for i := 1; i <= 45; i++ {
		l.Info(fmt.Sprintf("action %d", i))
		if l.Len() > Capacity {
			t.Fatalf("log grew to %d entries", l.Len())
		}
	}
	entries := l.Entries()
	if len(entries) != Capacity {
		t.Fatalf("expected %d entries, got %d", Capacity, len(entries))
	}
	if entries[0].Message != "action 45" || entries[len(entries)-1].Message != "action 26" {
		t.Fatalf("unexpected window %q .. %q", entries[0].Message, entries[len(entries)-1].Message)
	}
}

func TestClearKeepsIDsIncreasing(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l := &Log{Now: func() time.Time { return now }}
	first := l.Success("created mission")
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("expected empty log after clear")
	}
	second := l.Error("dispatch failed")
	if second.ID <= first.ID {
		t.Fatalf("expected id after clear to exceed %d, got %d", first.ID, second.ID)
	}
	if !second.Timestamp.Equal(now) || second.Level != LevelError {
		t.Fatalf("unexpected entry %+v", second)
	}
}

func TestChangedSignalsWithoutBlocking(t *testing.T) {
	l := New()
	ch := l.Changed()
	l.Warning("one")
	l.Warning("two")
	select {
	case <-ch:
	default:
		t.Fatalf("expected change signal")
	}
	select {
	case <-ch:
		t.Fatalf("signals should coalesce")
	default:
	}
}
