package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/syncqueue"
	"github.com/charlesng35/greentrace/pkg/metrics"
)

// EventType names a worker event.
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventSync              EventType = "sync"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
	EventMessage           EventType = "message"
)

// Event is the part shared by every dispatched event: the keep-alive guard.
type Event struct {
	Type EventType

	ctx        context.Context
	dispatcher *Dispatcher
	wg         sync.WaitGroup
	mu         sync.Mutex
	err        error
}

func (d *Dispatcher) newEvent(ctx context.Context, typ EventType) *Event {
	metrics.WorkerEvents.WithLabelValues(string(typ)).Inc()
	return &Event{Type: typ, ctx: ctx, dispatcher: d}
}

// Context returns the context the event was dispatched with.
func (e *Event) Context() context.Context {
	return e.ctx
}

// WaitUntil keeps the event alive until fn returns. fn runs on a context that is not cancelled
// when the triggering request finishes; the dispatcher tracks it until Drain.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	e.wg.Add(1)
	e.dispatcher.wg.Add(1)

	ctx := context.WithoutCancel(e.ctx)
	go func() {
		defer e.dispatcher.wg.Done()
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.fail(fmt.Errorf("worker: %s handler panicked: %v", e.Type, r))
			}
		}()

		if err := fn(ctx); err != nil {
			e.fail(err)
		}
	}()
}

// Wait blocks until all work attached to the event completes and returns the joined errors.
func (e *Event) Wait() error {
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Event) fail(err error) {
	e.mu.Lock()
	e.err = multierr.Append(e.err, err)
	e.mu.Unlock()
}

// InstallEvent asks the worker to populate its static partition.
type InstallEvent struct {
	*Event
}

// ActivateEvent asks the worker to purge stale partitions and claim windows.
type ActivateEvent struct {
	*Event
}

// FetchEvent is an intercepted page request.
type FetchEvent struct {
	*Event
	Request *http.Request

	once        sync.Once
	response    *cache.Response
	strategy    Strategy
	source      string
	delivered   chan struct{}
	deliverOnce sync.Once
}

// RespondWith settles the response for the request. Only the first call has any effect.
func (e *FetchEvent) RespondWith(resp *cache.Response, strategy Strategy, source string) {
	e.once.Do(func() {
		e.response = resp
		e.strategy = strategy
		e.source = source
	})
}

// Response returns the settled response, or nil when no handler responded.
func (e *FetchEvent) Response() *cache.Response {
	return e.response
}

// Delivered is closed once the response has been written to the page.
func (e *FetchEvent) Delivered() <-chan struct{} {
	return e.delivered
}

// MarkDelivered releases work waiting for the response to reach the page.
func (e *FetchEvent) MarkDelivered() {
	e.deliverOnce.Do(func() { close(e.delivered) })
}

// SyncEvent wakes the sync queue for a tag.
type SyncEvent struct {
	*Event
	Tag string

	result syncqueue.FlushResult
}

// SetResult records the outcome of the flush.
func (e *SyncEvent) SetResult(result syncqueue.FlushResult) {
	e.mu.Lock()
	e.result = result
	e.mu.Unlock()
}

// Result returns the recorded flush outcome.
func (e *SyncEvent) Result() syncqueue.FlushResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// PushEvent carries a raw push payload.
type PushEvent struct {
	*Event
	Payload []byte

	intent notify.Intent
	shown  bool
}

// SetShown records the notification that was displayed.
func (e *PushEvent) SetShown(intent notify.Intent) {
	e.mu.Lock()
	e.intent = intent
	e.shown = true
	e.mu.Unlock()
}

// Shown returns the displayed notification, if any.
func (e *PushEvent) Shown() (notify.Intent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intent, e.shown
}

// NotificationClickEvent carries an interaction with a displayed notification.
type NotificationClickEvent struct {
	*Event
	Click notify.Click

	outcome notify.Outcome
}

// SetOutcome records what the click resolved to.
func (e *NotificationClickEvent) SetOutcome(outcome notify.Outcome) {
	e.mu.Lock()
	e.outcome = outcome
	e.mu.Unlock()
}

// Outcome returns the recorded click outcome.
func (e *NotificationClickEvent) Outcome() notify.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome
}

// MessageEvent carries a control-channel message from a page.
type MessageEvent struct {
	*Event
	Message Message
	Reply   ReplyFunc
}

// Handler types accepted by the dispatcher.
type (
	InstallHandler           func(*Context, *InstallEvent) error
	ActivateHandler          func(*Context, *ActivateEvent) error
	FetchHandler             func(*Context, *FetchEvent) error
	SyncHandler              func(*Context, *SyncEvent) error
	PushHandler              func(*Context, *PushEvent) error
	NotificationClickHandler func(*Context, *NotificationClickEvent) error
	MessageHandler           func(*Context, *MessageEvent) error
)

// Dispatcher routes events to the handlers registered for their type.
type Dispatcher struct {
	wctx *Context
	log  *zap.Logger

	mu       sync.RWMutex
	install  []InstallHandler
	activate []ActivateHandler
	fetch    []FetchHandler
	sync     []SyncHandler
	push     []PushHandler
	click    []NotificationClickHandler
	message  []MessageHandler

	wg sync.WaitGroup
}

// NewDispatcher constructs a dispatcher bound to the shared worker context.
func NewDispatcher(wctx *Context, log *zap.Logger) *Dispatcher {
	return &Dispatcher{wctx: wctx, log: log}
}

func (d *Dispatcher) OnInstall(h InstallHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.install = append(d.install, h)
}

func (d *Dispatcher) OnActivate(h ActivateHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activate = append(d.activate, h)
}

func (d *Dispatcher) OnFetch(h FetchHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetch = append(d.fetch, h)
}

func (d *Dispatcher) OnSync(h SyncHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sync = append(d.sync, h)
}

func (d *Dispatcher) OnPush(h PushHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.push = append(d.push, h)
}

func (d *Dispatcher) OnNotificationClick(h NotificationClickHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.click = append(d.click, h)
}

func (d *Dispatcher) OnMessage(h MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.message = append(d.message, h)
}

// DispatchInstall runs the install handlers and waits for their work.
func (d *Dispatcher) DispatchInstall(ctx context.Context) error {
	ev := &InstallEvent{Event: d.newEvent(ctx, EventInstall)}
	d.mu.RLock()
	handlers := append([]InstallHandler(nil), d.install...)
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h(d.wctx, ev))
	}
	return multierr.Append(err, ev.Wait())
}

// DispatchActivate runs the activate handlers and waits for their work.
func (d *Dispatcher) DispatchActivate(ctx context.Context) error {
	ev := &ActivateEvent{Event: d.newEvent(ctx, EventActivate)}
	d.mu.RLock()
	handlers := append([]ActivateHandler(nil), d.activate...)
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h(d.wctx, ev))
	}
	return multierr.Append(err, ev.Wait())
}

// DispatchFetch offers r to the fetch handlers in order until one responds. The returned event
// carries the response, or none when the request should pass through. The caller must call
// MarkDelivered once the response has been written.
func (d *Dispatcher) DispatchFetch(r *http.Request) *FetchEvent {
	ev := &FetchEvent{
		Event:     d.newEvent(r.Context(), EventFetch),
		Request:   r,
		delivered: make(chan struct{}),
	}
	d.mu.RLock()
	handlers := append([]FetchHandler(nil), d.fetch...)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(d.wctx, ev); err != nil {
			d.log.Warn("fetch handler failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		if ev.response != nil {
			break
		}
	}
	return ev
}

// DispatchSync runs the sync handlers for tag and waits for their work.
func (d *Dispatcher) DispatchSync(ctx context.Context, tag string) (*SyncEvent, error) {
	ev := &SyncEvent{Event: d.newEvent(ctx, EventSync), Tag: tag}
	d.mu.RLock()
	handlers := append([]SyncHandler(nil), d.sync...)
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h(d.wctx, ev))
	}
	return ev, multierr.Append(err, ev.Wait())
}

// DispatchPush runs the push handlers and waits for their work.
func (d *Dispatcher) DispatchPush(ctx context.Context, payload []byte) (*PushEvent, error) {
	ev := &PushEvent{Event: d.newEvent(ctx, EventPush), Payload: payload}
	d.mu.RLock()
	handlers := append([]PushHandler(nil), d.push...)
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h(d.wctx, ev))
	}
	return ev, multierr.Append(err, ev.Wait())
}

// DispatchNotificationClick runs the click handlers and waits for their work.
func (d *Dispatcher) DispatchNotificationClick(ctx context.Context, click notify.Click) (*NotificationClickEvent, error) {
	ev := &NotificationClickEvent{Event: d.newEvent(ctx, EventNotificationClick), Click: click}
	d.mu.RLock()
	handlers := append([]NotificationClickHandler(nil), d.click...)
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h(d.wctx, ev))
	}
	return ev, multierr.Append(err, ev.Wait())
}

// DispatchMessage runs the message handlers and waits for their work.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message, reply ReplyFunc) error {
	if reply == nil {
		reply = discardReply
	}
	ev := &MessageEvent{Event: d.newEvent(ctx, EventMessage), Message: msg, Reply: reply}
	d.mu.RLock()
	handlers := append([]MessageHandler(nil), d.message...)
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h(d.wctx, ev))
	}
	return multierr.Append(err, ev.Wait())
}

// Drain blocks until every piece of work registered through WaitUntil has finished, or ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: drain interrupted: %w", ctx.Err())
	}
}
