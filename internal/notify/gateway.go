package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/pkg/logger"
)

// Window is an open page of the client application.
type Window struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Clients exposes the windows controlled by the worker.
type Clients interface {
	MatchAll(ctx context.Context) []Window
	Focus(ctx context.Context, id string) error
	OpenWindow(ctx context.Context, url string) error
}

// Presenter displays notifications to the user.
type Presenter interface {
	ShowNotification(ctx context.Context, intent Intent) error
}

// Click describes an interaction with a displayed notification.
type Click struct {
	Action string `json:"action"`
	Tag    string `json:"tag,omitempty"`
	Data   Data   `json:"data"`
}

// Outcome reports what a click resolved to.
type Outcome struct {
	Dismissed bool   `json:"dismissed"`
	Target    string `json:"target,omitempty"`
	Focused   string `json:"focused,omitempty"`
	Opened    bool   `json:"opened"`
}

// Gateway turns push payloads into notifications and clicks into navigation.
type Gateway struct {
	presenter Presenter
	clients   Clients
	defaults  Defaults
	log       *zap.Logger
}

// NewGateway constructs a Gateway.
func NewGateway(presenter Presenter, clients Clients, defaults Defaults) *Gateway {
	return &Gateway{
		presenter: presenter,
		clients:   clients,
		defaults:  defaults,
		log:       logger.WithModule("notify"),
	}
}

// Defaults returns the configured notification defaults.
func (g *Gateway) Defaults() Defaults {
	return g.defaults
}

// Push displays the notification described by payload. Empty payloads are ignored and malformed
// ones are logged and dropped; shown reports whether anything was displayed.
func (g *Gateway) Push(ctx context.Context, payload []byte) (Intent, bool, error) {
	intent, ok, err := ParsePush(payload, g.defaults)
	if err != nil {
		g.log.Warn("dropping malformed push payload", zap.Error(err))
		return Intent{}, false, nil
	}
	if !ok {
		g.log.Debug("ignoring empty push payload")
		return Intent{}, false, nil
	}

	if err := g.presenter.ShowNotification(ctx, intent); err != nil {
		return intent, false, fmt.Errorf("notify: show notification: %w", err)
	}
	g.log.Info("notification shown", zap.String("tag", intent.Tag), zap.String("type", intent.Data.Type))
	return intent, true, nil
}

// Click resolves the navigation target of a notification interaction, then focuses a window already
// showing it or opens a new one.
func (g *Gateway) Click(ctx context.Context, click Click) (Outcome, error) {
	target, ok := ResolveTarget(click.Action, click.Data, g.defaults.Sections)
	if !ok {
		return Outcome{Dismissed: true}, nil
	}

	outcome := Outcome{Target: target}
	for _, window := range g.clients.MatchAll(ctx) {
		if !strings.Contains(window.URL, target) {
			continue
		}
		if err := g.clients.Focus(ctx, window.ID); err != nil {
			g.log.Warn("focus failed", zap.String("window", window.ID), zap.Error(err))
			continue
		}
		outcome.Focused = window.ID
		return outcome, nil
	}

	if err := g.clients.OpenWindow(ctx, target); err != nil {
		return outcome, fmt.Errorf("notify: open window: %w", err)
	}
	outcome.Opened = true
	return outcome, nil
}
