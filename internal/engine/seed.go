package engine

import (
	"context"
	"fmt"
	"time"

	"sheratan/internal/domain"
)

type seedProject struct {
	project domain.Project
	files   []string
}

// Seed inserts sample workers, projects and ledger entries so the dashboard
// has something to show against a fresh stub. It is safe to run twice.
func (e Engine) Seed(ctx context.Context) error {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	r := e.Repo.Tx(tx)

	workers := []domain.WorkerRecord{
		{
			WorkerID:     "node-alpha",
			Capabilities: []domain.Capability{{Kind: "llm", Cost: 1.5}, {Kind: "read_file", Cost: 0.1}},
			Status:       "online",
			LastSeen:     float64(now.Unix()),
			Endpoint:     "http://10.0.0.7:9000",
		},
		{
			WorkerID:     "node-beta",
			Capabilities: []domain.Capability{{Kind: "list_files", Cost: 0.1}},
			Status:       "online",
			LastSeen:     float64(now.Add(-30 * time.Second).Unix()),
			Endpoint:     "http://10.0.0.8:9000",
		},
		{
			WorkerID:     "node-gamma",
			Capabilities: []domain.Capability{{Kind: "llm", Cost: 2}},
			Status:       "offline",
			LastSeen:     float64(now.Add(-2 * time.Hour).Unix()),
			Endpoint:     "http://10.0.0.9:9000",
		},
	}
	for _, w := range workers {
		if err := r.UpsertWorker(ctx, w); err != nil {
			return fmt.Errorf("seed worker %s: %w", w.WorkerID, err)
		}
	}

	access := now.UTC().Format(time.RFC3339)
	projects := []seedProject{
		{
			project: domain.Project{ID: "sheratan-core", Name: "sheratan-core", Path: "/workspace/sheratan-core", Status: "active", LastAccess: access},
			files:   []string{"README.md", "core/main.py", "core/jobs.py", "core/mesh/ledger.py", "webrelay/server.ts"},
		},
		{
			project: domain.Project{ID: "dashboard", Name: "dashboard", Path: "/workspace/dashboard", Status: "inactive", LastAccess: access},
			files:   []string{"package.json", "src/App.tsx", "src/api/client.ts"},
		},
	}
	existing, err := r.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if containsProject(existing, p.project.ID) {
			continue
		}
		if err := r.InsertProject(ctx, p.project); err != nil {
			return fmt.Errorf("seed project %s: %w", p.project.ID, err)
		}
		for _, f := range p.files {
			if err := r.AddProjectFile(ctx, p.project.ID, f); err != nil {
				return fmt.Errorf("seed project file %s: %w", f, err)
			}
		}
	}

	if err := r.SetBalance(ctx, "alice", 120.5); err != nil {
		return err
	}
	if err := r.SetBalance(ctx, "bob", 42); err != nil {
		return err
	}
	transfers := []domain.Transfer{
		{ID: "tx-1", FromUser: "bob", ToUser: "alice", Amount: 10, Memo: "llm inference", CreatedAt: now.Add(-time.Hour).UTC().Format(time.RFC3339)},
		{ID: "tx-2", FromUser: "alice", ToUser: "bob", Amount: 2.5, Memo: "file scan", CreatedAt: now.UTC().Format(time.RFC3339)},
	}
	for _, t := range transfers {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_transfers WHERE id=?`, t.ID); err != nil {
			return err
		}
		if err := r.InsertTransfer(ctx, t); err != nil {
			return fmt.Errorf("seed transfer %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func containsProject(items []domain.Project, id string) bool {
	for _, p := range items {
		if p.ID == id {
			return true
		}
	}
	return false
}
