package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/greentrace/pkg/validator"
)

// Config represents the runtime configuration of the GreenTrace offline worker.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Upstream      UpstreamConfig     `mapstructure:"upstream"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Worker        WorkerConfig       `mapstructure:"worker"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json console"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig describes the origin the worker fronts.
type UpstreamConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Timeout of zero leaves origin fetches unbounded.
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"min=0"`
	ProbePath    string        `mapstructure:"probe_path" validate:"omitempty,apppath"`
}

// DatabaseConfig describes the embedded database holding partitions and the registration.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=sqlite"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig selects where cache partitions live.
type CacheConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=database memory"`
}

// WorkerConfig names the worker version and the resources it manages.
type WorkerConfig struct {
	AppName      string   `mapstructure:"app_name" validate:"required"`
	Version      string   `mapstructure:"version" validate:"required"`
	Scope        string   `mapstructure:"scope"`
	StaticAssets []string `mapstructure:"static_assets" validate:"dive,apppath"`
	ShellPath    string   `mapstructure:"shell_path" validate:"apppath"`
	APIPrefix    string   `mapstructure:"api_prefix" validate:"apppath"`
	CacheableAPI []string `mapstructure:"cacheable_api" validate:"dive,apppath"`
	SkipWaiting  bool     `mapstructure:"skip_waiting"`
}

// SyncConfig controls the connectivity probe that triggers background sync.
type SyncConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// NotificationConfig overrides the defaults applied to push payloads.
type NotificationConfig struct {
	Title string `mapstructure:"title"`
	Body  string `mapstructure:"body"`
	Icon  string `mapstructure:"icon"`
	Badge string `mapstructure:"badge"`
	Tag   string `mapstructure:"tag"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	return load(v)
}

// LoadConfigFile reads configuration from an explicit file path.
func LoadConfigFile(file string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigFile(file)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("GREENTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.ValidateStruct(&config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("upstream.base_url", "http://127.0.0.1:3000")
	v.SetDefault("upstream.timeout", "0s")
	v.SetDefault("upstream.max_body_bytes", 32<<20)
	v.SetDefault("upstream.probe_path", "/")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/greentrace-worker.sqlite")

	v.SetDefault("cache.backend", "database")

	v.SetDefault("worker.app_name", "greentrace")
	v.SetDefault("worker.version", "v1.0.0")
	v.SetDefault("worker.scope", "/")
	v.SetDefault("worker.static_assets", []string{"/", "/index.html", "/manifest.json"})
	v.SetDefault("worker.shell_path", "/index.html")
	v.SetDefault("worker.api_prefix", "/api/")
	v.SetDefault("worker.cacheable_api", []string{
		"/api/challenges",
		"/api/achievements",
		"/api/leaderboard/universities",
		"/api/social/feed",
	})
	v.SetDefault("worker.skip_waiting", true)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedule", "@every 15s")

	v.SetDefault("notifications.title", "GreenTrace AI")
	v.SetDefault("notifications.body", "You have a new sustainability update!")
	v.SetDefault("notifications.icon", "/icon-192.png")
	v.SetDefault("notifications.badge", "/badge-72.png")
	v.SetDefault("notifications.tag", "general")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/__worker/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
