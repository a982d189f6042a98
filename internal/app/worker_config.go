package app

import (
	"github.com/charlesng35/greentrace/internal/database"
	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/upstream"
	"github.com/charlesng35/greentrace/internal/worker"
)

// WorkerSettings adapts the worker section into the worker package configuration.
func (c *Config) WorkerSettings() worker.Config {
	if c == nil {
		return worker.DefaultConfig()
	}
	w := c.Worker
	return worker.Config{
		AppName:      w.AppName,
		Version:      w.Version,
		Scope:        w.Scope,
		StaticAssets: append([]string(nil), w.StaticAssets...),
		ShellPath:    w.ShellPath,
		APIPrefix:    w.APIPrefix,
		CacheableAPI: append([]string(nil), w.CacheableAPI...),
		SkipWaiting:  w.SkipWaiting,
	}
}

// UpstreamSettings adapts the upstream section for the origin client.
func (c *Config) UpstreamSettings() upstream.Config {
	if c == nil {
		return upstream.Config{}
	}
	return upstream.Config{
		BaseURL:      c.Upstream.BaseURL,
		Timeout:      c.Upstream.Timeout,
		MaxBodyBytes: c.Upstream.MaxBodyBytes,
		ProbePath:    c.Upstream.ProbePath,
	}
}

// DatabaseSettings adapts the database section for database.Open.
func (c *Config) DatabaseSettings() database.Config {
	if c == nil {
		return database.Config{Driver: "sqlite"}
	}
	return database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}
}

// NotificationDefaults overlays configured values on the stock notification defaults.
func (c *Config) NotificationDefaults() notify.Defaults {
	defaults := notify.DefaultSettings()
	if c == nil {
		return defaults
	}
	n := c.Notifications
	if n.Title != "" {
		defaults.Title = n.Title
	}
	if n.Body != "" {
		defaults.Body = n.Body
	}
	if n.Icon != "" {
		defaults.Icon = n.Icon
	}
	if n.Badge != "" {
		defaults.Badge = n.Badge
	}
	if n.Tag != "" {
		defaults.Tag = n.Tag
	}
	return defaults
}
