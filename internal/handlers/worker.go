package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/realtime"
	"github.com/charlesng35/greentrace/internal/syncqueue"
	"github.com/charlesng35/greentrace/internal/worker"
	"github.com/charlesng35/greentrace/pkg/errors"
	"github.com/charlesng35/greentrace/pkg/response"
)

// maxPushPayload bounds the body accepted by the push endpoint.
const maxPushPayload = 64 << 10

// WorkerHandler exposes the worker's non-fetch events over HTTP.
type WorkerHandler struct {
	worker *worker.Worker
	queue  *syncqueue.Queue
	hub    *realtime.Hub
}

// NewWorkerHandler constructs a WorkerHandler. queue and hub may be nil.
func NewWorkerHandler(w *worker.Worker, queue *syncqueue.Queue, hub *realtime.Hub) (*WorkerHandler, error) {
	if w == nil {
		return nil, errors.New("WORKER_REQUIRED", "worker must be provided", http.StatusInternalServerError)
	}
	return &WorkerHandler{worker: w, queue: queue, hub: hub}, nil
}

// Health reports the lifecycle state and whether the worker is intercepting requests.
// GET /__worker/health
func (h *WorkerHandler) Health(c *gin.Context) {
	wctx := h.worker.Context()
	payload := gin.H{
		"status":      "ok",
		"state":       h.worker.State(),
		"controlling": wctx.Controlling(),
		"version":     h.worker.Version(),
	}
	if h.hub != nil {
		payload["windows"] = h.hub.Count()
	}
	if h.queue != nil {
		payload["pending"] = h.queue.Pending(requestContext(c))
	}
	response.Success(c, http.StatusOK, payload)
}

// Version answers with the worker version tag.
// GET /__worker/version
func (h *WorkerHandler) Version(c *gin.Context) {
	response.Success(c, http.StatusOK, worker.VersionReply{Version: h.worker.Version()})
}

type messageRequest struct {
	Type string         `json:"type" validate:"required"`
	Data map[string]any `json:"data"`
}

// Message delivers a control-channel message and returns any replies it produced.
// POST /__worker/messages
func (h *WorkerHandler) Message(c *gin.Context) {
	var req messageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var (
		mu      sync.Mutex
		replies = make([]any, 0, 1)
	)
	reply := func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, v)
		return nil
	}

	if err := h.worker.Message(requestContext(c), worker.Message{Type: req.Type, Data: req.Data}, reply); err != nil {
		response.Error(c, err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	response.Success(c, http.StatusOK, gin.H{"replies": replies})
}

// Push delivers a push payload. Empty or malformed payloads are accepted and not shown.
// POST /__worker/push
func (h *WorkerHandler) Push(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushPayload+1))
	if err != nil {
		response.Error(c, errors.NewBadRequest("unable to read push payload"))
		return
	}
	if len(payload) > maxPushPayload {
		response.Error(c, errors.NewBadRequest("push payload too large"))
		return
	}

	intent, shown, err := h.worker.Push(requestContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}

	data := gin.H{"shown": shown}
	if shown {
		data["notification"] = intent
	}
	response.Success(c, http.StatusOK, data)
}

// NotificationClick resolves a notification interaction to a window focus or open.
// POST /__worker/notifications/click
func (h *WorkerHandler) NotificationClick(c *gin.Context) {
	var click notify.Click
	if err := c.ShouldBindJSON(&click); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	outcome, err := h.worker.NotificationClick(requestContext(c), click)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, outcome)
}

// Sync fires a background sync for the given tag.
// POST /__worker/sync/:tag
func (h *WorkerHandler) Sync(c *gin.Context) {
	result, err := h.worker.Sync(requestContext(c), c.Param("tag"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ListQueue returns the pending records of a kind.
// GET /__worker/queue/:kind
func (h *WorkerHandler) ListQueue(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, h.queue.List(requestContext(c), kind))
}

type enqueueRequest struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Enqueue appends a record for later replay.
// POST /__worker/queue/:kind
func (h *WorkerHandler) Enqueue(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	var req enqueueRequest
	if !bindAndValidate(c, &req) {
		return
	}

	record, err := h.queue.Append(requestContext(c), kind, syncqueue.Record{ID: req.ID, Payload: req.Payload})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, record)
}

// Dequeue drops a pending record.
// DELETE /__worker/queue/:kind/:id
func (h *WorkerHandler) Dequeue(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	if err := h.queue.Remove(requestContext(c), kind, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Windows lists the windows currently connected to the worker.
// GET /__worker/windows
func (h *WorkerHandler) Windows(c *gin.Context) {
	if h.hub == nil {
		response.Success(c, http.StatusOK, []notify.Window{})
		return
	}
	response.Success(c, http.StatusOK, h.hub.MatchAll(requestContext(c)))
}

// Clients upgrades a page connection into the window control channel.
// GET /__worker/clients
func (h *WorkerHandler) Clients(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}
	h.hub.Serve(c.Writer, c.Request)
}

func (h *WorkerHandler) kind(c *gin.Context) (syncqueue.Kind, bool) {
	if h.queue == nil {
		response.Error(c, errors.ErrNotFound)
		return "", false
	}
	kind, err := syncqueue.ParseKind(c.Param("kind"))
	if err != nil {
		response.Error(c, err)
		return "", false
	}
	return kind, true
}
