package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/greentrace/internal/monitoring"
)

const (
	defaultDatabaseTimeout = 2 * time.Second
	defaultUpstreamTimeout = 3 * time.Second
)

// Prober reports whether the origin answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// Controller reports the worker lifecycle.
type Controller interface {
	Controlling() bool
}

// Database returns a readiness probe that pings the database holding partitions and the registration.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError(err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()

		return monitoring.ResultFromError(sqlDB.PingContext(probeCtx), time.Since(start))
	})
}

// Upstream probes the origin. An unreachable origin is degraded rather than down since
// cached responses and the offline queue keep serving.
func Upstream(prober Prober, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("upstream", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if prober == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "origin not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultUpstreamTimeout))
		defer cancel()

		if err := prober.Probe(probeCtx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  fmt.Sprintf("offline: %v", err),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}

// Worker is down until the worker has activated and intercepts requests.
func Worker(controller Controller) monitoring.Check {
	return monitoring.NewCheck("worker", func(context.Context) monitoring.ProbeResult {
		if controller == nil || !controller.Controlling() {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "worker not activated"}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
