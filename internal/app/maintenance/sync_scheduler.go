package maintenance

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/syncqueue"
	"github.com/charlesng35/greentrace/pkg/logger"
	"github.com/charlesng35/greentrace/pkg/metrics"
)

const defaultProbeSpec = "@every 15s"

// Prober checks whether the origin is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Syncer flushes the queue bound to a sync tag.
type Syncer interface {
	Sync(ctx context.Context, tag string) (syncqueue.FlushResult, error)
}

// PendingCounter reports queued records per kind.
type PendingCounter interface {
	Pending(ctx context.Context) map[syncqueue.Kind]int
}

// SyncScheduler stands in for the platform connectivity signal: it probes the origin on a cron
// schedule and fires background sync for every tag with pending records while the origin answers.
type SyncScheduler struct {
	prober  Prober
	syncer  Syncer
	pending PendingCounter
	cron    *cron.Cron
	log     *zap.Logger

	schedule string

	mu     sync.Mutex
	online bool
	probed bool
}

// Option customises the SyncScheduler.
type Option func(*SyncScheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *SyncScheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron specification of the connectivity probe.
func WithSchedule(spec string) Option {
	return func(s *SyncScheduler) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// NewSyncScheduler constructs a SyncScheduler with sensible defaults.
func NewSyncScheduler(prober Prober, syncer Syncer, pending PendingCounter, opts ...Option) *SyncScheduler {
	s := &SyncScheduler{
		prober:   prober,
		syncer:   syncer,
		pending:  pending,
		schedule: defaultProbeSpec,
		log:      logger.WithModule("scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the probe job and launches the scheduler.
func (s *SyncScheduler) Start() error {
	if s.prober == nil || s.syncer == nil || s.pending == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("background sync failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *SyncScheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// Online reports the result of the most recent probe.
func (s *SyncScheduler) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// RunOnce probes the origin and, when it is reachable, flushes every tag that has pending records.
// An unreachable origin is not an error.
func (s *SyncScheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	online := s.prober.Probe(ctx) == nil
	s.recordProbe(online)
	if !online {
		return nil
	}

	counts := s.pending.Pending(ctx)

	var errs error
	for _, route := range syncqueue.Routes() {
		if counts[route.Kind] == 0 {
			continue
		}
		if _, err := s.syncer.Sync(ctx, route.Tag); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (s *SyncScheduler) recordProbe(online bool) {
	s.mu.Lock()
	changed := !s.probed || s.online != online
	s.online = online
	s.probed = true
	s.mu.Unlock()

	if online {
		metrics.UpstreamOnline.Set(1)
	} else {
		metrics.UpstreamOnline.Set(0)
	}

	if changed {
		s.log.Info("origin connectivity changed", zap.Bool("online", online))
	}
}
