// Package app wires the dashboard: configuration, the backend client, the
// cache keys every view reads, the write operations and the local logs.
package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sheratan/internal/actionlog"
	"sheratan/internal/api"
	"sheratan/internal/cache"
	"sheratan/internal/config"
	"sheratan/internal/derive"
	"sheratan/internal/domain"
	"sheratan/internal/notify"
	"sheratan/internal/ops"
)

// Resource keys. Parameterized keys append "/{id}" to these.
const (
	KeyMissions     = ops.KeyMissions
	KeyTasks        = ops.KeyTasks
	KeyJobs         = ops.KeyJobs
	KeySelfLoopJobs = ops.KeySelfLoopJobs
	KeyLoopState    = ops.KeyLoopState
	KeyWorkers      = "mesh-workers"
	KeyLiveStatus   = "live-system-status"
	KeyLiveLogs     = "live-logs"
	KeyHealth       = "system-health"
	KeyCoreStatus   = "system-status"
	KeyProjects     = "projects"
)

type Dashboard struct {
	Config        *config.Config
	Client        *api.Client
	Cache         *cache.Cache
	Ops           ops.Service
	Actions       *actionlog.Log
	Notifications *notify.Center
	Logger        *slog.Logger
}

// New builds a dashboard from cfg. The client, cache and logs share logger.
func New(cfg *config.Config, logger *slog.Logger) (*Dashboard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := api.New(cfg)
	client.Logger = logger
	return NewWithClient(cfg, client, logger)
}

// NewWithClient builds a dashboard around an existing client.
func NewWithClient(cfg *config.Config, client *api.Client, logger *slog.Logger) (*Dashboard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if client.Now != nil {
		now = client.Now
	}
	c := cache.New()
	c.Logger = logger
	c.Now = now
	actions := actionlog.New()
	actions.Now = now
	d := &Dashboard{
		Config:        cfg,
		Client:        client,
		Cache:         c,
		Actions:       actions,
		Notifications: notify.New(notify.Samples(now())...),
		Logger:        logger,
	}
	d.Ops = ops.Service{Backend: client, Cache: c, Log: actions, Logger: logger}

	static := map[string]cache.Fetcher{
		KeyMissions:   func(ctx context.Context) (any, error) { return client.ListMissions(ctx), nil },
		KeyTasks:      func(ctx context.Context) (any, error) { return client.ListTasks(ctx), nil },
		KeyJobs:       func(ctx context.Context) (any, error) { return client.ListJobs(ctx), nil },
		KeyWorkers:    func(ctx context.Context) (any, error) { return client.Workers(ctx), nil },
		KeyLiveStatus: func(ctx context.Context) (any, error) { return d.liveStatus(ctx), nil },
		KeyLiveLogs:   func(ctx context.Context) (any, error) { return client.LiveLogs(ctx), nil },
		KeyHealth:     func(ctx context.Context) (any, error) { return client.ProbeHealth(ctx), nil },
		KeyCoreStatus: func(ctx context.Context) (any, error) { return client.CoreStatus(ctx) },
		KeyProjects:   func(ctx context.Context) (any, error) { return client.Projects(ctx), nil },
	}
	for key, fetch := range static {
		if err := c.Register(key, d.policy(key), fetch); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dashboard) policy(resource string) cache.Policy {
	r := d.Config.Resource(resource)
	p := cache.Policy{Interval: r.Interval, Stale: r.Stale, RefetchOnFocus: r.RefetchOnFocus}
	if resource == config.ResourceJobs {
		p.RefetchOnFocus = false
	}
	return p
}

// detailPolicy is the policy of a single-item key below resource: same
// staleness, fetched on demand only.
func (d *Dashboard) detailPolicy(resource string) cache.Policy {
	p := d.policy(resource)
	p.Interval = 0
	return p
}

// liveStatus adds the unread notification count, which lives client side.
// UnreadAlerts stays the failed job count derived from the backend.
func (d *Dashboard) liveStatus(ctx context.Context) domain.LiveSystemStatus {
	st := d.Client.LiveStatus(ctx)
	st.UnreadNotifications = d.Notifications.Unread()
	return st
}

// Run polls every resource until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	return cache.NewPoller(d.Cache).Run(ctx)
}

// Focus refreshes the stale resources that allow it when the operator
// returns to the dashboard. Jobs are excluded by their policy.
func (d *Dashboard) Focus(ctx context.Context) []string {
	return d.Cache.Focus(ctx)
}

// Refresh invalidates every key and refetches the top-level resources.
func (d *Dashboard) Refresh(ctx context.Context) {
	d.Cache.Invalidate(d.Cache.Keys()...)
	var g errgroup.Group
	for _, key := range []string{KeyMissions, KeyTasks, KeyJobs, KeyWorkers, KeyLiveStatus, KeyLiveLogs} {
		g.Go(func() error {
			_, _ = d.Cache.Fetch(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dashboard) Missions(ctx context.Context) ([]domain.Mission, error) {
	return cache.Read[[]domain.Mission](ctx, d.Cache, KeyMissions)
}

func (d *Dashboard) Tasks(ctx context.Context) ([]domain.Task, error) {
	return cache.Read[[]domain.Task](ctx, d.Cache, KeyTasks)
}

func (d *Dashboard) Jobs(ctx context.Context) ([]domain.Job, error) {
	return cache.Read[[]domain.Job](ctx, d.Cache, KeyJobs)
}

func (d *Dashboard) Workers(ctx context.Context) ([]domain.MeshNode, error) {
	return cache.Read[[]domain.MeshNode](ctx, d.Cache, KeyWorkers)
}

func (d *Dashboard) LiveStatus(ctx context.Context) (domain.LiveSystemStatus, error) {
	return cache.Read[domain.LiveSystemStatus](ctx, d.Cache, KeyLiveStatus)
}

func (d *Dashboard) LiveLogs(ctx context.Context) ([]domain.LogEntry, error) {
	return cache.Read[[]domain.LogEntry](ctx, d.Cache, KeyLiveLogs)
}

func (d *Dashboard) Health(ctx context.Context) (domain.SystemHealth, error) {
	return cache.Read[domain.SystemHealth](ctx, d.Cache, KeyHealth)
}

func (d *Dashboard) CoreStatus(ctx context.Context) (domain.CoreStatus, error) {
	return cache.Read[domain.CoreStatus](ctx, d.Cache, KeyCoreStatus)
}

func (d *Dashboard) Projects(ctx context.Context) ([]domain.Project, error) {
	return cache.Read[[]domain.Project](ctx, d.Cache, KeyProjects)
}

// Mission reads one mission through the "missions/{id}" key.
func (d *Dashboard) Mission(ctx context.Context, id string) (domain.Mission, error) {
	key := KeyMissions + "/" + id
	d.Cache.Ensure(key, d.detailPolicy(KeyMissions), func(ctx context.Context) (any, error) {
		return d.Client.GetMission(ctx, id)
	})
	return cache.Read[domain.Mission](ctx, d.Cache, key)
}

func (d *Dashboard) Job(ctx context.Context, id string) (domain.Job, error) {
	key := KeyJobs + "/" + id
	d.Cache.Ensure(key, d.detailPolicy(KeyJobs), func(ctx context.Context) (any, error) {
		return d.Client.GetJob(ctx, id)
	})
	return cache.Read[domain.Job](ctx, d.Cache, key)
}

// MissionTasks reads the tasks of one mission through "tasks/mission/{id}".
func (d *Dashboard) MissionTasks(ctx context.Context, missionID string) ([]domain.Task, error) {
	key := KeyTasks + "/mission/" + missionID
	d.Cache.Ensure(key, d.detailPolicy(KeyTasks), func(ctx context.Context) (any, error) {
		return d.Client.TasksForMission(ctx, missionID), nil
	})
	return cache.Read[[]domain.Task](ctx, d.Cache, key)
}

// SelfLoopJobs reads the self-loop jobs of a mission; the key is polled.
func (d *Dashboard) SelfLoopJobs(ctx context.Context, missionID string) ([]domain.Job, error) {
	key := KeySelfLoopJobs + "/" + missionID
	d.Cache.Ensure(key, d.policy(KeySelfLoopJobs), func(ctx context.Context) (any, error) {
		return d.Client.SelfLoopJobs(ctx, missionID), nil
	})
	return cache.Read[[]domain.Job](ctx, d.Cache, key)
}

// LoopState reads the latest finished loop state of a mission. ok is false
// while no iteration has finished.
func (d *Dashboard) LoopState(ctx context.Context, missionID string) (domain.LoopState, bool, error) {
	key := KeyLoopState + "/" + missionID
	d.Cache.Ensure(key, d.policy(KeyLoopState), func(ctx context.Context) (any, error) {
		ls, ok := d.Client.LatestLoopState(ctx, missionID)
		if !ok {
			return (*domain.LoopState)(nil), nil
		}
		return &ls, nil
	})
	ls, err := cache.Read[*domain.LoopState](ctx, d.Cache, key)
	if err != nil || ls == nil {
		return domain.LoopState{}, false, err
	}
	return *ls, true, nil
}

// MissionJobs joins the cached tasks and jobs of one mission.
func (d *Dashboard) MissionJobs(ctx context.Context, missionID string) ([]domain.Job, error) {
	tasks, jobs, err := d.tasksAndJobs(ctx)
	if err != nil {
		return nil, err
	}
	return derive.MissionJobs(missionID, tasks, jobs), nil
}

// TaskTree groups the mission's jobs under their tasks.
func (d *Dashboard) TaskTree(ctx context.Context, missionID string) ([]derive.TaskNode, error) {
	tasks, jobs, err := d.tasksAndJobs(ctx)
	if err != nil {
		return nil, err
	}
	return derive.BuildTaskTree(missionID, tasks, jobs), nil
}

func (d *Dashboard) tasksAndJobs(ctx context.Context) ([]domain.Task, []domain.Job, error) {
	var (
		g     errgroup.Group
		tasks []domain.Task
		jobs  []domain.Job
	)
	g.Go(func() error {
		var err error
		tasks, err = d.Tasks(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		jobs, err = d.Jobs(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return tasks, jobs, nil
}
