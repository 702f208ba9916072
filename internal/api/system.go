package api

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

// CoreStatus reads GET /status.
func (c *Client) CoreStatus(ctx context.Context) (domain.CoreStatus, error) {
	var st domain.CoreStatus
	err := c.do(ctx, OpStatus, http.MethodGet, "/status", nil, &st)
	return st, err
}

// SystemMetrics reads GET /system/metrics; zero metrics when unavailable.
func (c *Client) SystemMetrics(ctx context.Context) domain.SystemMetrics {
	var m domain.SystemMetrics
	if err := c.do(ctx, OpMetrics, http.MethodGet, "/system/metrics", nil, &m); err != nil {
		c.logger().Warn("system metrics unavailable", "err", err)
		return domain.SystemMetrics{}
	}
	return m
}

// Services reads GET /system/health; empty when unavailable.
func (c *Client) Services(ctx context.Context) []domain.Service {
	items, err := getList[domain.Service](ctx, c, OpServices, "/system/health")
	if err != nil {
		c.absorb(OpServices, err)
		return []domain.Service{}
	}
	if items == nil {
		items = []domain.Service{}
	}
	return items
}

// LiveStatus reads status, jobs and workers concurrently and derives the
// header summary. Any failed read yields the offline status.
func (c *Client) LiveStatus(ctx context.Context) domain.LiveSystemStatus {
	var (
		core    domain.CoreStatus
		jobs    []domain.JobRecord
		workers []domain.WorkerRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.do(gctx, OpStatus, http.MethodGet, "/status", nil, &core)
	})
	g.Go(func() error {
		var err error
		jobs, err = getList[domain.JobRecord](gctx, c, OpListJobs, "/jobs")
		return err
	})
	g.Go(func() error {
		var err error
		workers, err = getList[domain.WorkerRecord](gctx, c, OpWorkers, "/mesh/workers")
		return err
	})
	if err := g.Wait(); err != nil {
		c.logger().Warn("live status unavailable", "err", err)
		return derive.OfflineStatus()
	}
	return derive.LiveStatus(core, c.jobs(jobs), c.nodes(workers))
}

// LiveLogs synthesizes the log stream from the current jobs. When jobs cannot
// be read the stream holds a single error entry.
func (c *Client) LiveLogs(ctx context.Context) []domain.LogEntry {
	now := c.now()
	recs, err := getList[domain.JobRecord](ctx, c, OpListJobs, "/jobs")
	if err != nil {
		c.logger().Warn("live logs unavailable", "err", err)
		return []domain.LogEntry{{
			ID:        "error-" + now.UTC().Format("20060102T150405.000"),
			Timestamp: now,
			Level:     domain.LevelError,
			Source:    domain.SourceCore,
			Message:   "Failed to fetch logs: " + Explain(err),
		}}
	}
	return derive.SynthesizeLogs(c.jobs(recs), now)
}
