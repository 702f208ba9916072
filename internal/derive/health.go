package derive

import "sheratan/internal/domain"

// OverallHealth is down when at least half the probes are down, degraded
// when any probe is down or slow, healthy otherwise.
func OverallHealth(endpoints []domain.EndpointHealth) string {
	var down, degraded int
	for _, e := range endpoints {
		switch e.Status {
		case domain.HealthDown:
			down++
		case domain.HealthDegraded:
			degraded++
		}
	}
	switch {
	case down > 0 && float64(down) >= float64(len(endpoints))/2:
		return domain.HealthDown
	case down > 0 || degraded > 0:
		return domain.HealthDegraded
	}
	return domain.HealthHealthy
}

// UnreadCount counts notifications not yet marked read.
func UnreadCount(items []domain.Notification) int {
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n
}
