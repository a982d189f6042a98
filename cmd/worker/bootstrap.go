package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/greentrace/internal/api"
	"github.com/charlesng35/greentrace/internal/app"
	"github.com/charlesng35/greentrace/internal/app/maintenance"
	"github.com/charlesng35/greentrace/internal/cache"
	"github.com/charlesng35/greentrace/internal/database"
	"github.com/charlesng35/greentrace/internal/monitoring"
	"github.com/charlesng35/greentrace/internal/monitoring/checks"
	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/realtime"
	"github.com/charlesng35/greentrace/internal/services"
	"github.com/charlesng35/greentrace/internal/syncqueue"
	"github.com/charlesng35/greentrace/internal/upstream"
	"github.com/charlesng35/greentrace/internal/worker"
	"github.com/charlesng35/greentrace/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Hub       *realtime.Hub
	Worker    *worker.Worker
	Scheduler *maintenance.SyncScheduler
	Router    *gin.Engine
}

// bootstrapRuntime opens storage, installs and activates the worker and builds the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = database.OpenAndMigrate(cfg.DatabaseSettings())
	if err != nil {
		return nil, err
	}
	log.Info("database connected", zap.String("driver", cfg.Database.Driver), zap.String("path", cfg.Database.Path))

	storage := newStorage(cfg, stack.DB)
	log.Info("cache storage ready", zap.String("backend", cfg.Cache.Backend))

	origin, err := upstream.New(cfg.UpstreamSettings(), upstream.WithLogger(logger.WithModule("upstream")))
	if err != nil {
		return nil, fmt.Errorf("initialise upstream client: %w", err)
	}

	registrations, err := services.NewRegistrationService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise registration service: %w", err)
	}

	wcfg := cfg.WorkerSettings()
	stack.Hub = realtime.NewHub()
	queue := syncqueue.New(storage, wcfg.QueuePartition(), origin)

	stack.Worker, err = worker.New(&worker.Context{
		Config:        wcfg,
		Storage:       storage,
		Fetcher:       origin,
		Queue:         queue,
		Notifications: notify.NewGateway(stack.Hub, stack.Hub, cfg.NotificationDefaults()),
		Clients:       stack.Hub,
		Registrations: registrations,
		Log:           logger.WithModule("worker"),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise worker: %w", err)
	}
	stack.Hub.SetHandler(stack.Worker.Inbound())

	if err := stack.Worker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	if cfg.Sync.Enabled {
		stack.Scheduler = maintenance.NewSyncScheduler(origin, stack.Worker, queue, maintenance.WithSchedule(cfg.Sync.Schedule))
		if err := stack.Scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start sync scheduler: %w", err)
		}
	}

	health := monitoring.NewHealthManager()
	health.RegisterLiveness(checks.Worker(stack.Worker.Context()))
	health.RegisterReadiness(checks.Database(stack.DB, 0))
	health.RegisterReadiness(checks.Upstream(origin, 0))
	health.RegisterReadiness(checks.Worker(stack.Worker.Context()))

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config: cfg,
		Worker: stack.Worker,
		Queue:  queue,
		Hub:    stack.Hub,
		Health: health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newStorage(cfg *app.Config, db *gorm.DB) cache.Storage {
	if cfg.Cache.Backend == "memory" {
		return cache.NewMemoryStorage()
	}
	return cache.NewDatabaseStorage(db)
}

// Shutdown stops background jobs, waits for in-flight worker tasks and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		<-s.Scheduler.Stop().Done()
	}

	if s.Worker != nil {
		if err := s.Worker.Drain(ctx); err != nil {
			log.Warn("worker tasks did not finish", zap.Error(err))
		}
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}
