package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/greentrace/internal/app"
	"github.com/charlesng35/greentrace/internal/handlers"
	"github.com/charlesng35/greentrace/internal/middleware"
	"github.com/charlesng35/greentrace/internal/monitoring"
	"github.com/charlesng35/greentrace/internal/realtime"
	"github.com/charlesng35/greentrace/internal/syncqueue"
	"github.com/charlesng35/greentrace/internal/worker"
)

// SurfacePrefix is where the worker's own endpoints live. Every other path is intercepted.
const SurfacePrefix = "/__worker"

// Dependencies are the components the router exposes.
type Dependencies struct {
	Config *app.Config
	Worker *worker.Worker
	Queue  *syncqueue.Queue
	Hub    *realtime.Hub
	Health *monitoring.HealthManager
}

// NewRouter builds the Gin engine. Control endpoints are registered under SurfacePrefix and
// all remaining requests fall through to the worker's fetch handling.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Worker == nil {
		return nil, fmt.Errorf("worker must be provided")
	}

	workerHandler, err := handlers.NewWorkerHandler(deps.Worker, deps.Queue, deps.Hub)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	surface := r.Group(SurfacePrefix)
	surface.Use(middleware.SurfaceHeaders())
	{
		if deps.Config.Monitoring.Health.Enabled {
			surface.GET("/health", workerHandler.Health)
			registerHealthRoutes(surface, deps.Health)
		}
		surface.GET("/version", workerHandler.Version)
		surface.GET("/windows", workerHandler.Windows)
		surface.GET("/clients", workerHandler.Clients)

		// Pages post control traffic in bursts; 120 requests/minute per IP+route is ample.
		limited := surface.Group("")
		limited.Use(middleware.RateLimit(middleware.NewMemoryRateStore(), 120, time.Minute))
		limited.POST("/messages", workerHandler.Message)
		limited.POST("/push", workerHandler.Push)
		limited.POST("/notifications/click", workerHandler.NotificationClick)
		limited.POST("/sync/:tag", workerHandler.Sync)

		queue := limited.Group("/queue")
		queue.GET("/:kind", workerHandler.ListQueue)
		queue.POST("/:kind", workerHandler.Enqueue)
		queue.DELETE("/:kind/:id", workerHandler.Dequeue)
	}

	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled && prom.Endpoint != "" {
		r.GET(prom.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Everything else is a page request.
	r.NoRoute(gin.WrapH(deps.Worker))

	return r, nil
}
