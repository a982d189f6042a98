package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	"github.com/charlesng35/greentrace/internal/models"
	appErrors "github.com/charlesng35/greentrace/pkg/errors"
)

// State is a worker lifecycle state.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// handleInstall pre-caches the static assets. All assets are stored or none are.
func handleInstall(wctx *Context, ev *InstallEvent) error {
	ev.WaitUntil(func(ctx context.Context) error {
		part, err := wctx.Storage.Open(ctx, wctx.Config.StaticPartition())
		if err != nil {
			return err
		}

		entries := make([]cache.Entry, 0, len(wctx.Config.StaticAssets))
		for _, asset := range wctx.Config.StaticAssets {
			resp, err := wctx.Fetcher.Get(ctx, asset)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", asset, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: status %d", asset, resp.Status)
			}
			entries = append(entries, cache.Entry{Key: cache.GetKey(asset), Response: resp})
		}
		return part.PutAll(ctx, entries)
	})
	return nil
}

// handleActivate deletes every partition that is not current, then claims open windows.
func handleActivate(wctx *Context, ev *ActivateEvent) error {
	ev.WaitUntil(func(ctx context.Context) error {
		keep := map[string]struct{}{
			wctx.Config.StaticPartition():  {},
			wctx.Config.DynamicPartition(): {},
			wctx.Config.QueuePartition():   {},
		}

		names, err := wctx.Storage.Keys(ctx)
		if err != nil {
			return fmt.Errorf("list partitions: %w", err)
		}

		var errs error
		for _, name := range names {
			if _, ok := keep[name]; ok {
				continue
			}
			if _, err := wctx.Storage.Delete(ctx, name); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("delete partition %s: %w", name, err))
				continue
			}
			wctx.Log.Info("deleted stale partition", zap.String("partition", name))
		}
		if errs != nil {
			return errs
		}

		// Claiming only happens once stale generations are gone.
		wctx.setState(StateActivated)
		if wctx.Clients != nil {
			if err := wctx.Clients.Claim(ctx); err != nil {
				wctx.Log.Warn("failed to claim clients", zap.Error(err))
			}
		}
		return nil
	})
	return nil
}

// Start brings the worker to its steady state: install unless the persisted registration already
// covers this version, then activate unless the worker has to wait for SKIP_WAITING.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	reg := w.loadRegistration(ctx)
	current := reg != nil &&
		reg.ActiveVersion == w.ctx.Config.Version &&
		State(reg.State) == StateActivated &&
		w.hasStaticPartition(ctx)

	if current {
		w.log.Info("worker version already installed", zap.String("version", w.ctx.Config.VersionTag()))
		w.ctx.setState(StateInstalled)
	} else if err := w.install(ctx); err != nil {
		return err
	}

	if !current && !w.ctx.Config.SkipWaiting {
		w.log.Info("worker installed, waiting for SKIP_WAITING", zap.String("version", w.ctx.Config.VersionTag()))
		return nil
	}
	return w.activate(ctx)
}

// SkipWaiting activates an installed worker that is waiting. It is a no-op in any other state.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.ctx.State() != StateInstalled {
		return nil
	}
	return w.activate(ctx)
}

// Activate re-runs activation. Repeated activation without a version change leaves the current
// partitions untouched.
func (w *Worker) Activate(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.activate(ctx)
}

func (w *Worker) install(ctx context.Context) error {
	w.ctx.setState(StateInstalling)
	if err := w.dispatcher.DispatchInstall(ctx); err != nil {
		w.ctx.setState(StateRedundant)
		// Leave nothing half-populated behind.
		if _, delErr := w.ctx.Storage.Delete(ctx, w.ctx.Config.StaticPartition()); delErr != nil {
			w.log.Warn("failed to discard static partition", zap.Error(delErr))
		}
		return appErrors.ErrInstallFailed.WithInternal(err)
	}

	w.ctx.setState(StateInstalled)
	now := time.Now()
	w.saveRegistration(ctx, func(reg *models.WorkerRegistration) {
		reg.State = string(StateInstalled)
		reg.InstalledAt = &now
	})
	w.log.Info("worker installed", zap.String("version", w.ctx.Config.VersionTag()))
	return nil
}

func (w *Worker) activate(ctx context.Context) error {
	previous := w.ctx.State()
	w.ctx.setState(StateActivating)
	if err := w.dispatcher.DispatchActivate(ctx); err != nil {
		w.ctx.setState(previous)
		return fmt.Errorf("worker: activate: %w", err)
	}

	now := time.Now()
	w.saveRegistration(ctx, func(reg *models.WorkerRegistration) {
		reg.ActiveVersion = w.ctx.Config.Version
		reg.State = string(StateActivated)
		reg.ActivatedAt = &now
	})
	w.log.Info("worker activated", zap.String("version", w.ctx.Config.VersionTag()))
	return nil
}

func (w *Worker) hasStaticPartition(ctx context.Context) bool {
	ok, err := w.ctx.Storage.Has(ctx, w.ctx.Config.StaticPartition())
	return err == nil && ok
}

func (w *Worker) loadRegistration(ctx context.Context) *models.WorkerRegistration {
	if w.ctx.Registrations == nil {
		return nil
	}
	reg, err := w.ctx.Registrations.Load(ctx, w.ctx.Config.Scope)
	if err != nil {
		w.log.Warn("failed to load worker registration", zap.Error(err))
		return nil
	}
	return reg
}

func (w *Worker) saveRegistration(ctx context.Context, mutate func(*models.WorkerRegistration)) {
	if w.ctx.Registrations == nil {
		return
	}
	reg := w.loadRegistration(ctx)
	if reg == nil {
		reg = &models.WorkerRegistration{Scope: w.ctx.Config.Scope}
	}
	mutate(reg)
	if err := w.ctx.Registrations.Save(ctx, reg); err != nil {
		w.log.Warn("failed to persist worker registration", zap.Error(err))
	}
}
