package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/greentrace/internal/cache"
)

const dynamicPartition = "greentrace-dynamic-v1.0.0"

func TestCachedAPIServesStaleAndRevalidatesOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	var version atomic.Int32
	version.Store(1)
	h.fetcher.set("/api/challenges", func() (*cache.Response, error) {
		body := `{"v":` + string(rune('0'+version.Load())) + `}`
		return cache.NewResponse(http.StatusOK, "application/json", []byte(body)), nil
	})

	first := h.get("/api/challenges", "")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, `{"v":1}`, first.Body.String())
	require.Equal(t, 1, h.fetcher.count("/api/challenges"))

	version.Store(2)
	second := h.get("/api/challenges", "")
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, `{"v":1}`, second.Body.String(), "served from cache")

	require.NoError(t, h.worker.Drain(context.Background()))
	require.Equal(t, 2, h.fetcher.count("/api/challenges"), "exactly one background revalidation")

	third := h.get("/api/challenges", "")
	require.Equal(t, `{"v":2}`, third.Body.String(), "revalidation refreshed the entry")
}

type flaggingRecorder struct {
	*httptest.ResponseRecorder
	written *atomic.Bool
}

func (f flaggingRecorder) Write(p []byte) (int, error) {
	n, err := f.ResponseRecorder.Write(p)
	f.written.Store(true)
	return n, err
}

func TestRevalidationStartsAfterResponseIsDelivered(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/api/achievements", "application/json", `[]`)
	h.get("/api/achievements", "")

	var written, revalidatedEarly atomic.Bool
	h.fetcher.set("/api/achievements", func() (*cache.Response, error) {
		if !written.Load() {
			revalidatedEarly.Store(true)
		}
		return cache.NewResponse(http.StatusOK, "application/json", []byte(`[]`)), nil
	})

	rec := flaggingRecorder{ResponseRecorder: httptest.NewRecorder(), written: &written}
	h.worker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/achievements", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, h.worker.Drain(context.Background()))
	require.Equal(t, 2, h.fetcher.count("/api/achievements"))
	require.False(t, revalidatedEarly.Load())
}

func TestRevalidationFailureKeepsStaleEntry(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/api/social/feed", "application/json", `["post"]`)
	h.get("/api/social/feed", "")

	h.fetcher.fail("/api/social/feed")
	rec := h.get("/api/social/feed", "")
	require.Equal(t, `["post"]`, rec.Body.String())
	require.NoError(t, h.worker.Drain(context.Background()))

	h.fetcher.status("/api/social/feed", http.StatusInternalServerError)
	rec = h.get("/api/social/feed", "")
	require.Equal(t, `["post"]`, rec.Body.String())
	require.NoError(t, h.worker.Drain(context.Background()))

	rec = h.get("/api/social/feed", "")
	require.Equal(t, `["post"]`, rec.Body.String())
}

func TestUncachedEligibleAPIOffline(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	rec := h.get("/api/leaderboard/universities", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"Offline - please try again when connected"}`, rec.Body.String())
	require.Empty(t, h.keys(t, dynamicPartition))
}

func TestNonOKEligibleAPIIsReturnedButNotCached(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.status("/api/challenges", http.StatusInternalServerError)

	rec := h.get("/api/challenges", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, h.keys(t, dynamicPartition))
}

func TestNonEligibleAPIBypassesCache(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/api/profile", "application/json", `{"name":"Sam"}`)

	rec := h.get("/api/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.get("/api/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, h.fetcher.count("/api/profile"))
	require.Empty(t, h.keys(t, dynamicPartition))

	h.fetcher.fail("/api/profile")
	rec = h.get("/api/profile", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNonGETRequestsPassThrough(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		req := httptest.NewRequest(method, "/api/challenges", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		h.worker.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	require.Len(t, h.fetcher.forwarded, 4)
	require.Zero(t, h.fetcher.count("/api/challenges"))
	require.Empty(t, h.keys(t, dynamicPartition))
}

func TestUpgradeRequestsPassThrough(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	h.worker.ServeHTTP(rec, req)

	require.Equal(t, []string{"GET /ws"}, h.fetcher.forwarded)
}

func TestImageFailingTwiceYieldsPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.fetcher.fail("/images/badge.png")
	first := h.get("/images/badge.png", "image")

	h.fetcher.status("/images/badge.png", http.StatusNotFound)
	second := h.get("/images/badge.png", "image")

	for _, rec := range []*httptest.ResponseRecorder{first, second} {
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
		require.True(t, strings.HasPrefix(rec.Body.String(), "<svg"))
	}
	require.Empty(t, h.keys(t, dynamicPartition))
}

func TestImageIsCacheFirst(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/images/tree.png", "image/png", "PNG")

	first := h.get("/images/tree.png", "image")
	require.Equal(t, "PNG", first.Body.String())

	h.fetcher.fail("/images/tree.png")
	second := h.get("/images/tree.png", "image")
	require.Equal(t, "PNG", second.Body.String())
	require.Equal(t, "image/png", second.Header().Get("Content-Type"))
	require.Equal(t, 1, h.fetcher.count("/images/tree.png"))
}

func TestDestinationOverrideHeader(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	req := httptest.NewRequest(http.MethodGet, "/cdn/avatar", nil)
	req.Header.Set(DestinationHeader, "image")
	rec := httptest.NewRecorder()
	h.worker.ServeHTTP(rec, req)

	require.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
}

func TestNavigationIsNetworkFirst(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/?section=social", "text/html", "<html>fresh</html>")

	rec := h.get("/?section=social", "document")
	require.Equal(t, "<html>fresh</html>", rec.Body.String())
	assert.Contains(t, h.keys(t, dynamicPartition), cache.GetKey("/?section=social"))

	h.fetcher.fail("/?section=social")
	rec = h.get("/?section=social", "document")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<html>shell</html>", rec.Body.String(), "falls back to the cached shell")
}

func TestAbsoluteFormNavigationStaysOnOrigin(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/secret?x=1", "text/html", "<html>origin</html>")

	req := httptest.NewRequest(http.MethodGet, "http://other.test/secret?x=1", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	require.True(t, req.URL.IsAbs())
	rec := httptest.NewRecorder()
	h.worker.ServeHTTP(rec, req)

	require.Equal(t, "<html>origin</html>", rec.Body.String())
	require.Equal(t, 1, h.fetcher.count("/secret?x=1"))
	keys := h.keys(t, dynamicPartition)
	assert.Contains(t, keys, cache.GetKey("/secret?x=1"))
	assert.NotContains(t, keys, cache.GetKey("http://other.test/secret?x=1"))

	h.fetcher.fail("/secret?x=1")
	rec = h.get("/secret?x=1", "image")
	require.Equal(t, "<html>origin</html>", rec.Body.String(), "absolute and relative forms share one entry")
}

func TestNavigationOfflineWithoutShell(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.storage.Delete(context.Background(), "greentrace-static-v1.0.0")
	require.NoError(t, err)

	rec := h.get("/leaderboard", "document")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "Try again")
}

func TestNavigationReturnsNonOKWithoutCaching(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.status("/missing", http.StatusNotFound)

	rec := h.get("/missing", "document")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, h.keys(t, dynamicPartition), cache.GetKey("/missing"))
}

func TestDrainWaitsForSlowRevalidation(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fetcher.ok("/api/challenges", "application/json", `[]`)
	h.get("/api/challenges", "")

	release := make(chan struct{})
	h.fetcher.set("/api/challenges", func() (*cache.Response, error) {
		<-release
		return cache.NewResponse(http.StatusOK, "application/json", []byte(`[1]`)), nil
	})
	h.get("/api/challenges", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, h.worker.Drain(ctx))

	close(release)
	require.NoError(t, h.worker.Drain(context.Background()))
	require.Equal(t, `[1]`, h.get("/api/challenges", "").Body.String())
}
