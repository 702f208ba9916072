package derive_test

import (
	"testing"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

func jobsWith(statuses ...string) []domain.Job {
	out := make([]domain.Job, len(statuses))
	for i, s := range statuses {
		out[i] = domain.Job{ID: s, RawStatus: s}
	}
	return out
}

func TestLiveStatusSelfLoopState(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"running", []string{"running"}, domain.LoopRunning},
		{"working", []string{"done", "working"}, domain.LoopRunning},
		{"queued is degraded", []string{"queued", "done"}, domain.LoopDegraded},
		{"all finished", []string{"done", "failed"}, domain.LoopStopped},
		{"completed stays active", []string{"completed", "done"}, domain.LoopDegraded},
		{"empty", nil, domain.LoopStopped},
	}
	for _, tc := range cases {
		got := derive.LiveStatus(domain.CoreStatus{}, jobsWith(tc.statuses...), nil)
		if got.SelfLoopState != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.SelfLoopState)
		}
	}
}

func TestLiveStatusCounts(t *testing.T) {
	nodes := []domain.MeshNode{{ID: "w1", Status: "online"}, {ID: "w2", Status: "offline"}, {ID: "w3", Status: "online"}}
	got := derive.LiveStatus(domain.CoreStatus{Model: "gpt-4o"}, jobsWith("queued", "failed", "failed", "done"), nodes)
	if got.ActiveModel != "gpt-4o" {
		t.Fatalf("model: %s", got.ActiveModel)
	}
	if got.MeshNodesOnline != 2 || got.MeshNodesTotal != 3 {
		t.Fatalf("mesh counts: %+v", got)
	}
	if got.JobsInQueue != 1 || got.UnreadAlerts != 2 {
		t.Fatalf("job counts: %+v", got)
	}
	if derive.LiveStatus(domain.CoreStatus{}, nil, nil).ActiveModel != derive.DefaultModel {
		t.Fatalf("expected default model")
	}
}

func TestOverallHealth(t *testing.T) {
	e := func(statuses ...string) []domain.EndpointHealth {
		out := make([]domain.EndpointHealth, len(statuses))
		for i, s := range statuses {
			out[i] = domain.EndpointHealth{Endpoint: s, Status: s}
		}
		return out
	}
	if got := derive.OverallHealth(e("healthy", "healthy", "healthy", "healthy")); got != domain.HealthHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}
	if got := derive.OverallHealth(e("healthy", "degraded", "healthy", "healthy")); got != domain.HealthDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
	if got := derive.OverallHealth(e("down", "healthy", "healthy", "healthy")); got != domain.HealthDegraded {
		t.Fatalf("one down of four should be degraded, got %s", got)
	}
	if got := derive.OverallHealth(e("down", "down", "healthy", "healthy")); got != domain.HealthDown {
		t.Fatalf("half down should be down, got %s", got)
	}
}
