package health

import (
	"context"
	"time"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/rs/zerolog"
)

// Monitor runs a fixed set of Checkers on a ticker and reports each one's
// hysteresis-smoothed Status, the same poll-then-inspect shape as
// pkg/director's monitorChildren.
type Monitor struct {
	checkers []Checker
	statuses []*Status
	cfg      Config
	logger   zerolog.Logger
}

// NewMonitor builds a Monitor over checkers, one Status per checker.
func NewMonitor(cfg Config, checkers ...Checker) *Monitor {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	statuses := make([]*Status, len(checkers))
	for i := range statuses {
		statuses[i] = NewStatus()
	}
	return &Monitor{checkers: checkers, statuses: statuses, cfg: cfg, logger: log.WithRole("health")}
}

// Run polls every checker on cfg.Interval until ctx is done, invoking
// onUnhealthy the first time a checker's Status transitions to unhealthy.
func (m *Monitor) Run(ctx context.Context, onUnhealthy func(Checker, *Status)) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx, onUnhealthy)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context, onUnhealthy func(Checker, *Status)) {
	for i, c := range m.checkers {
		result := c.Check(ctx)
		status := m.statuses[i]
		wasHealthy := status.Healthy
		status.Update(result, m.cfg)

		if !status.Healthy {
			m.logger.Warn().Str("check", string(c.Type())).Str("message", result.Message).Msg("liveness check unhealthy")
			if wasHealthy && onUnhealthy != nil {
				onUnhealthy(c, status)
			}
		} else {
			m.logger.Debug().Str("check", string(c.Type())).Str("message", result.Message).Msg("liveness check ok")
		}
	}
}

// Statuses returns the current Status of every checker, in the order
// passed to NewMonitor.
func (m *Monitor) Statuses() []*Status { return m.statuses }
