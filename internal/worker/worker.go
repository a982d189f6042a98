package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/syncqueue"
	appErrors "github.com/charlesng35/greentrace/pkg/errors"
	"github.com/charlesng35/greentrace/pkg/logger"
)

// Worker hosts the offline cache and sync subsystem: it owns the dispatcher and exposes one entry
// point per event type.
type Worker struct {
	ctx        *Context
	dispatcher *Dispatcher
	log        *zap.Logger

	// lifecycle serialises install and activation.
	lifecycle sync.Mutex
}

// New wires the default handlers for every event type onto a fresh dispatcher.
func New(wctx *Context) (*Worker, error) {
	if wctx == nil || wctx.Storage == nil || wctx.Fetcher == nil {
		return nil, errors.New("worker: storage and fetcher are required")
	}
	if wctx.Log == nil {
		wctx.Log = logger.WithModule("worker")
	}

	w := &Worker{
		ctx: wctx,
		log: wctx.Log,
	}
	w.dispatcher = NewDispatcher(wctx, wctx.Log)

	w.dispatcher.OnInstall(handleInstall)
	w.dispatcher.OnActivate(handleActivate)
	w.dispatcher.OnFetch(handleFetch)
	w.dispatcher.OnSync(handleSync)
	w.dispatcher.OnPush(handlePush)
	w.dispatcher.OnNotificationClick(handleNotificationClick)
	w.dispatcher.OnMessage(w.handleMessage)

	return w, nil
}

// Dispatcher exposes the event dispatcher so callers can register additional handlers.
func (w *Worker) Dispatcher() *Dispatcher {
	return w.dispatcher
}

// Context returns the shared worker context.
func (w *Worker) Context() *Context {
	return w.ctx
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	return w.ctx.State()
}

// Version returns the cache version reported to pages.
func (w *Worker) Version() string {
	return w.ctx.Config.VersionTag()
}

// ServeHTTP intercepts a page request. Requests no strategy settles are proxied to the origin.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ev := w.dispatcher.DispatchFetch(r)
	defer ev.MarkDelivered()

	resp := ev.Response()
	if resp == nil {
		passthrough(rw, r, w.ctx.Fetcher)
		return
	}

	if err := resp.WriteTo(rw); err != nil {
		w.log.Debug("failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// Sync flushes the queue bound to tag. Unknown tags are logged and reported as ErrUnknownSyncTag.
func (w *Worker) Sync(ctx context.Context, tag string) (syncqueue.FlushResult, error) {
	ev, err := w.dispatcher.DispatchSync(ctx, tag)
	return ev.Result(), err
}

// Push displays the notification carried by payload. shown is false for empty or malformed payloads.
func (w *Worker) Push(ctx context.Context, payload []byte) (intent notify.Intent, shown bool, err error) {
	ev, err := w.dispatcher.DispatchPush(ctx, payload)
	intent, shown = ev.Shown()
	return intent, shown, err
}

// NotificationClick navigates to the target of a notification interaction.
func (w *Worker) NotificationClick(ctx context.Context, click notify.Click) (notify.Outcome, error) {
	ev, err := w.dispatcher.DispatchNotificationClick(ctx, click)
	return ev.Outcome(), err
}

// Message handles a control-channel message; replies go through reply.
func (w *Worker) Message(ctx context.Context, msg Message, reply ReplyFunc) error {
	return w.dispatcher.DispatchMessage(ctx, msg, reply)
}

// Drain waits for all background work to finish.
func (w *Worker) Drain(ctx context.Context) error {
	return w.dispatcher.Drain(ctx)
}

func handleSync(wctx *Context, ev *SyncEvent) error {
	if wctx.Queue == nil {
		return nil
	}
	if _, ok := syncqueue.TagKind(ev.Tag); !ok {
		wctx.Log.Info("ignoring unknown sync tag", zap.String("tag", ev.Tag))
		return appErrors.ErrUnknownSyncTag
	}

	ev.WaitUntil(func(ctx context.Context) error {
		result, err := wctx.Queue.Flush(ctx, ev.Tag)
		ev.SetResult(result)
		return err
	})
	return nil
}

func handlePush(wctx *Context, ev *PushEvent) error {
	if wctx.Notifications == nil {
		return nil
	}
	ev.WaitUntil(func(ctx context.Context) error {
		intent, shown, err := wctx.Notifications.Push(ctx, ev.Payload)
		if shown {
			ev.SetShown(intent)
		}
		return err
	})
	return nil
}

func handleNotificationClick(wctx *Context, ev *NotificationClickEvent) error {
	if wctx.Notifications == nil {
		return nil
	}
	ev.WaitUntil(func(ctx context.Context) error {
		outcome, err := wctx.Notifications.Click(ctx, ev.Click)
		ev.SetOutcome(outcome)
		if err != nil {
			return err
		}
		wctx.Log.Debug("notification click handled",
			zap.String("target", outcome.Target),
			zap.String("focused", outcome.Focused),
			zap.Bool("opened", outcome.Opened),
		)
		return nil
	})
	return nil
}
