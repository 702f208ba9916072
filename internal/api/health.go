package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

// ProbeEndpoints are checked by ProbeHealth.
var ProbeEndpoints = []string{"/status", "/missions", "/tasks", "/jobs"}

// slowProbe marks a reachable endpoint as degraded.
const slowProbe = time.Second

// ProbeHealth calls every probe endpoint concurrently with the probe timeout.
func (c *Client) ProbeHealth(ctx context.Context) domain.SystemHealth {
	results := make([]domain.EndpointHealth, len(ProbeEndpoints))
	var g errgroup.Group
	for i, ep := range ProbeEndpoints {
		g.Go(func() error {
			results[i] = c.probe(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()
	return domain.SystemHealth{
		Overall:   derive.OverallHealth(results),
		Endpoints: results,
		Timestamp: c.now(),
	}
}

func (c *Client) probe(ctx context.Context, endpoint string) domain.EndpointHealth {
	start := c.now()
	err := c.doTimeout(ctx, OpProbe, c.ProbeTimeout, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return domain.EndpointHealth{Endpoint: endpoint, Status: domain.HealthDown, Error: Explain(err)}
	}
	elapsed := c.now().Sub(start)
	status := domain.HealthHealthy
	if elapsed >= slowProbe {
		status = domain.HealthDegraded
	}
	return domain.EndpointHealth{Endpoint: endpoint, Status: status, ResponseTime: elapsed}
}
