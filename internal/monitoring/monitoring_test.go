package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/greentrace/internal/database/testutil"
	"github.com/charlesng35/greentrace/internal/monitoring"
	"github.com/charlesng35/greentrace/internal/monitoring/checks"
)

type prober struct{ err error }

func (p prober) Probe(context.Context) error { return p.err }

type controller bool

func (c controller) Controlling() bool { return bool(c) }

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("worker", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "not activated"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "worker", report.Checks[1].Component)
}

func TestDegradedDependencyKeepsReportSuccessful(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(checks.Upstream(prober{err: errors.New("connection refused")}, time.Second))
	manager.RegisterReadiness(checks.Worker(controller(true)))

	report := manager.EvaluateReadiness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Contains(t, report.Checks[0].Details, "offline")
}

func TestPanickingCheckIsDown(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		panic("boom")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, "broken", report.Checks[0].Component)
	require.Equal(t, "boom", report.Checks[0].Details)
}

func TestWorkerCheck(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusDown, checks.Worker(controller(false)).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, checks.Worker(nil).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusUp, checks.Worker(controller(true)).Run(context.Background()).Status)
}

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := checks.Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Database(nil, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestResultFromError(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError(nil, time.Millisecond).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError(context.DeadlineExceeded, 0).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError(errors.New("boom"), -1).Status)
}
