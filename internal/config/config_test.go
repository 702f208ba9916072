package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("expected 10s request timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.ProbeTimeout != 3*time.Second {
		t.Fatalf("expected 3s probe timeout, got %s", cfg.ProbeTimeout)
	}
	jobs := cfg.Resource("jobs")
	if jobs.Interval != 10*time.Second || jobs.RefetchOnFocus {
		t.Fatalf("unexpected jobs policy: %+v", jobs)
	}
	live := cfg.Resource("live-system-status")
	if live.Interval != 3*time.Second || live.Stale != 2*time.Second {
		t.Fatalf("unexpected live status policy: %+v", live)
	}
}

func TestRoutesQuickStartToPoC(t *testing.T) {
	cfg, err := FromYAML([]byte(`
backends:
  core:
    url: http://core.local:8001/api
  poc:
    url: http://poc.local:9000/api
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.BaseURL("quick_start"); got != "http://poc.local:9000/api" {
		t.Fatalf("quick_start routed to %s", got)
	}
	if got := cfg.BaseURL("list_missions"); got != "http://core.local:8001/api" {
		t.Fatalf("unrouted op should use core, got %s", got)
	}
}

func TestValidateRejectsStaleNotShorterThanInterval(t *testing.T) {
	_, err := FromYAML([]byte(`
resources:
  missions:
    interval: 5s
    stale: 5s
`))
	if err == nil || !strings.Contains(err.Error(), "stale window") {
		t.Fatalf("expected stale window error, got %v", err)
	}
}

func TestValidateRejectsUnknownRouteBackend(t *testing.T) {
	_, err := FromYAML([]byte(`
routes:
  quick_start: elsewhere
`))
	if err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestValidateRejectsRelativeURL(t *testing.T) {
	_, err := FromYAML([]byte(`
backends:
  core:
    url: /api
`))
	if err == nil {
		t.Fatalf("expected url error")
	}
}

func TestLoadOptionalFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.LedgerUser != "alice" {
		t.Fatalf("expected default ledger user, got %q", cfg.LedgerUser)
	}
	if err := os.WriteFile(filepath.Join(dir, "sheratan.yml"), []byte("ledger_user: bob\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.LedgerUser != "bob" {
		t.Fatalf("expected override, got %q", cfg.LedgerUser)
	}
	if cfg.Resource("missions").Interval != 5*time.Second {
		t.Fatalf("defaults lost on merge")
	}
}

func TestValidateRejectsJobsRefetchOnFocus(t *testing.T) {
	_, err := FromYAML([]byte("resources:\n  jobs:\n    interval: 10s\n    stale: 8s\n    refetch_on_focus: true\n"))
	if err == nil || !strings.Contains(err.Error(), "jobs") {
		t.Fatalf("expected jobs focus refetch to be rejected, got %v", err)
	}
}

func TestResourceOverrideKeepsUnsetFields(t *testing.T) {
	cfg, err := FromYAML([]byte("resources:\n  missions:\n    interval: 7s\n  projects:\n    refetch_on_focus: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	missions := cfg.Resource("missions")
	if missions.Interval != 7*time.Second || missions.Stale != 4*time.Second || !missions.RefetchOnFocus {
		t.Fatalf("partial override lost defaults: %+v", missions)
	}
	projects := cfg.Resource("projects")
	if projects.RefetchOnFocus || projects.Stale != 30*time.Second {
		t.Fatalf("explicit false not applied: %+v", projects)
	}
}
