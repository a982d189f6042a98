package worker

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	"github.com/charlesng35/greentrace/internal/models"
	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/syncqueue"
)

// Config names the worker version and the resources it manages.
type Config struct {
	AppName string
	Version string
	// Scope identifies the persisted registration row.
	Scope        string
	StaticAssets []string
	ShellPath    string
	APIPrefix    string
	CacheableAPI []string
	SkipWaiting  bool
}

// DefaultConfig returns the stock GreenTrace worker configuration.
func DefaultConfig() Config {
	return Config{
		AppName:      "greentrace",
		Version:      "v1.0.0",
		Scope:        "/",
		StaticAssets: []string{"/", "/index.html", "/manifest.json"},
		ShellPath:    "/index.html",
		APIPrefix:    "/api/",
		CacheableAPI: []string{
			"/api/challenges",
			"/api/achievements",
			"/api/leaderboard/universities",
			"/api/social/feed",
		},
		SkipWaiting: true,
	}
}

// StaticPartition is the name of the current build-asset partition.
func (c Config) StaticPartition() string {
	return c.AppName + "-static-" + c.Version
}

// DynamicPartition is the name of the current runtime partition.
func (c Config) DynamicPartition() string {
	return c.AppName + "-dynamic-" + c.Version
}

// QueuePartition holds pending offline writes. It carries no version and activation never
// evicts it, so queued records survive upgrades until a replay confirms them.
func (c Config) QueuePartition() string {
	return c.AppName + "-offline-queue"
}

// VersionTag is the cache version reported to pages.
func (c Config) VersionTag() string {
	return c.AppName + "-" + c.Version
}

// Cacheable reports whether an API path is on the caching allow-list.
func (c Config) Cacheable(path string) bool {
	for _, prefix := range c.CacheableAPI {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Fetcher reaches the origin server.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*cache.Response, error)
	Get(ctx context.Context, path string) (*cache.Response, error)
	// Forward proxies a request the worker does not handle.
	Forward(w http.ResponseWriter, r *http.Request)
}

// Claimer takes control of open page windows after activation.
type Claimer interface {
	Claim(ctx context.Context) error
}

// RegistrationStore persists the active worker version between restarts.
type RegistrationStore interface {
	Load(ctx context.Context, scope string) (*models.WorkerRegistration, error)
	Save(ctx context.Context, reg *models.WorkerRegistration) error
}

// Context carries every dependency and piece of lifecycle state the event handlers share.
type Context struct {
	Config        Config
	Storage       cache.Storage
	Fetcher       Fetcher
	Queue         *syncqueue.Queue
	Notifications *notify.Gateway
	Clients       Claimer
	Registrations RegistrationStore
	Log           *zap.Logger

	mu    sync.RWMutex
	state State
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == "" {
		return StateParsed
	}
	return c.state
}

// Controlling reports whether intercepted requests are handled by the worker.
func (c *Context) Controlling() bool {
	return c.State() == StateActivated
}

func (c *Context) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
