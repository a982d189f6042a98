package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/greentrace/internal/app"
	"github.com/charlesng35/greentrace/internal/cache"
	"github.com/charlesng35/greentrace/internal/monitoring"
	"github.com/charlesng35/greentrace/internal/monitoring/checks"
	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/internal/realtime"
	"github.com/charlesng35/greentrace/internal/syncqueue"
	"github.com/charlesng35/greentrace/internal/upstream"
	"github.com/charlesng35/greentrace/internal/worker"
	"github.com/charlesng35/greentrace/pkg/response"
)

const origin = "http://origin.test"

type env struct {
	router *gin.Engine
	mock   *httpmock.MockTransport
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, origin+"/", httpmock.NewStringResponder(http.StatusOK, "<html>root</html>"))
	mock.RegisterResponder(http.MethodGet, origin+"/index.html", httpmock.NewStringResponder(http.StatusOK, "<html>shell</html>"))
	mock.RegisterResponder(http.MethodGet, origin+"/manifest.json", httpmock.NewStringResponder(http.StatusOK, `{"name":"GreenTrace AI"}`))

	client, err := upstream.New(upstream.Config{BaseURL: origin}, upstream.WithHTTPClient(&http.Client{Transport: mock}))
	require.NoError(t, err)

	storage := cache.NewMemoryStorage()
	wcfg := worker.DefaultConfig()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	queue := syncqueue.New(storage, wcfg.QueuePartition(), client)
	w, err := worker.New(&worker.Context{
		Config:        wcfg,
		Storage:       storage,
		Fetcher:       client,
		Queue:         queue,
		Notifications: notify.NewGateway(hub, hub, notify.DefaultSettings()),
		Clients:       hub,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Drain(context.Background()) })

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/__worker/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	health := monitoring.NewHealthManager()
	health.RegisterLiveness(checks.Worker(w.Context()))
	health.RegisterReadiness(checks.Upstream(client, 0))

	router, err := NewRouter(Dependencies{Config: cfg, Worker: w, Queue: queue, Hub: hub, Health: health})
	require.NoError(t, err)

	return &env{router: router, mock: mock}
}

func (e *env) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)

	_, err = NewRouter(Dependencies{Config: &app.Config{}})
	require.Error(t, err)
}

func TestSurfaceVersionAndHealth(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/__worker/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	data := decode(t, w).Data.(map[string]any)
	require.Equal(t, "greentrace-v1.0.0", data["version"])

	w = e.do(t, http.MethodGet, "/__worker/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	data = decode(t, w).Data.(map[string]any)
	require.Equal(t, "activated", data["state"])
	require.Equal(t, true, data["controlling"])
}

func TestHealthProbes(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/__worker/health/live", "")
	require.Equal(t, http.StatusOK, w.Code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Equal(t, "up", report["status"])

	// The mock origin has no HEAD responder, so the probe fails and readiness only degrades.
	w = e.do(t, http.MethodGet, "/__worker/health/ready", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Equal(t, "degraded", report["status"])
}

func TestPageRequestsFallThroughToWorker(t *testing.T) {
	e := newEnv(t)
	e.mock.RegisterResponder(http.MethodGet, origin+"/dashboard", httpmock.NewStringResponder(http.StatusOK, "<html>dashboard</html>"))

	w := e.do(t, http.MethodGet, "/dashboard", "", "Sec-Fetch-Dest", "document")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "<html>dashboard</html>", w.Body.String())
}

func TestOfflineNavigationServesShell(t *testing.T) {
	e := newEnv(t)
	e.mock.RegisterResponder(http.MethodGet, origin+"/profile", httpmock.NewErrorResponder(context.DeadlineExceeded))

	w := e.do(t, http.MethodGet, "/profile", "", "Sec-Fetch-Dest", "document")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "<html>shell</html>", w.Body.String())
}

func TestQueueAndSyncRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.mock.RegisterResponder(http.MethodPost, origin+"/api/activities", httpmock.NewStringResponder(http.StatusCreated, `{}`))

	w := e.do(t, http.MethodPost, "/__worker/queue/activities", `{"id":"a1","payload":{"km":3}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodGet, "/__worker/queue/activities", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode(t, w).Data, 1)

	w = e.do(t, http.MethodPost, "/__worker/sync/sync-activities", "")
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w).Data.(map[string]any)
	require.Equal(t, []any{"a1"}, result["replayed"])

	w = e.do(t, http.MethodGet, "/__worker/queue/activities", "")
	require.Empty(t, decode(t, w).Data)
}

func TestQueueDequeue(t *testing.T) {
	e := newEnv(t)

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/__worker/queue/social-posts", `{"id":"p1"}`).Code)
	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/__worker/queue/social-posts/p1", "").Code)

	w := e.do(t, http.MethodGet, "/__worker/queue/social-posts", "")
	require.Empty(t, decode(t, w).Data)
}

func TestUnknownTagAndKind(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/__worker/sync/sync-unknown", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "sync.unknown_tag", decode(t, w).Error.Code)

	w = e.do(t, http.MethodPost, "/__worker/queue/comments", `{}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "queue.unknown_kind", decode(t, w).Error.Code)
}

func TestMessages(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/__worker/messages", `{"type":"GET_VERSION"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	replies := data["replies"].([]any)
	require.Len(t, replies, 1)
	require.Equal(t, "greentrace-v1.0.0", replies[0].(map[string]any)["version"])

	w = e.do(t, http.MethodPost, "/__worker/messages", `{"type":"CACHE_URLS","data":{}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/__worker/messages", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushWithEmptyPayloadIsNotShown(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/__worker/push", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	require.Equal(t, false, data["shown"])
}

func TestPushShowsNotification(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/__worker/push", `{"title":"T","body":"B","data":{"type":"challenge"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	require.Equal(t, true, data["shown"])
	require.Equal(t, "T", data["notification"].(map[string]any)["title"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/__worker/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "greentrace_")
}
