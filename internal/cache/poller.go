package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Poller refreshes every key with a positive interval on its own ticker and
// refetches invalidated keys immediately. Keys registered while the poller
// runs are picked up.
type Poller struct {
	Cache *Cache

	mu      sync.Mutex
	started map[string]bool
}

func NewPoller(c *Cache) *Poller {
	return &Poller{Cache: c, started: map[string]bool{}}
}

// Run blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range p.Cache.Keys() {
		p.start(ctx, g, key)
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-p.Cache.signals:
				switch s.kind {
				case signalRegistered:
					p.start(ctx, g, s.key)
				case signalInvalidated:
					if e, ok := p.Cache.Peek(s.key); ok && e.Invalidated {
						g.Go(func() error {
							_, _ = p.Cache.Fetch(ctx, s.key)
							return nil
						})
					}
				}
			}
		}
	})
	return g.Wait()
}

func (p *Poller) start(ctx context.Context, g *errgroup.Group, key string) {
	policy, ok := p.Cache.policy(key)
	if !ok || policy.Interval <= 0 {
		return
	}
	p.mu.Lock()
	if p.started[key] {
		p.mu.Unlock()
		return
	}
	p.started[key] = true
	p.mu.Unlock()
	g.Go(func() error {
		p.loop(ctx, key, policy.Interval)
		return nil
	})
}

func (p *Poller) loop(ctx context.Context, key string, interval time.Duration) {
	if !p.Cache.Fresh(key) {
		_, _ = p.Cache.Fetch(ctx, key)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.Cache.Fetch(ctx, key)
		}
	}
}
