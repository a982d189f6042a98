package worker

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	"github.com/charlesng35/greentrace/pkg/metrics"
)

// Response sources recorded in metrics and logs.
const (
	sourceCache    = "cache"
	sourceNetwork  = "network"
	sourceFallback = "fallback"
)

func handleFetch(wctx *Context, ev *FetchEvent) error {
	r := ev.Request
	if !wctx.Controlling() || !Interceptable(r) {
		return nil
	}

	switch Classify(r.URL.Path, Destination(r), wctx.Config.APIPrefix) {
	case StrategyAPI:
		apiStrategy(wctx, ev)
	case StrategyImage:
		imageStrategy(wctx, ev)
	default:
		navigationStrategy(wctx, ev)
	}
	return nil
}

// apiStrategy serves allow-listed collections stale-while-revalidate and everything else straight
// from the network.
func apiStrategy(wctx *Context, ev *FetchEvent) {
	r := ev.Request
	ctx := r.Context()

	if !wctx.Config.Cacheable(r.URL.Path) {
		resp, err := wctx.Fetcher.Fetch(ctx, r)
		if err != nil {
			wctx.Log.Debug("api request failed", zap.String("path", r.URL.Path), zap.Error(err))
			respond(ev, OfflineAPIResponse(), StrategyAPI, sourceFallback)
			return
		}
		respond(ev, resp, StrategyAPI, sourceNetwork)
		return
	}

	key := cache.KeyFor(r)
	part, err := wctx.Storage.Open(ctx, wctx.Config.DynamicPartition())
	if err != nil {
		wctx.Log.Warn("dynamic partition unavailable", zap.Error(err))
	}

	if part != nil {
		cached, ok, err := part.Match(ctx, key)
		if err != nil {
			wctx.Log.Warn("cache lookup failed", zap.String("key", key.String()), zap.Error(err))
		}
		if ok {
			respond(ev, cached, StrategyAPI, sourceCache)
			revalidate(wctx, ev, part, key, cached.Digest())
			return
		}
	}

	resp, err := wctx.Fetcher.Fetch(ctx, r)
	if err != nil {
		wctx.Log.Debug("api request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respond(ev, OfflineAPIResponse(), StrategyAPI, sourceFallback)
		return
	}
	if resp.OK() && part != nil {
		store(ctx, wctx, part, key, resp)
	}
	respond(ev, resp, StrategyAPI, sourceNetwork)
}

// revalidate refreshes a cached entry after the stale copy has been delivered. Failures leave the
// entry as it was.
func revalidate(wctx *Context, ev *FetchEvent, part cache.Partition, key cache.Key, digest string) {
	// The page's request is finished by the time the refresh runs, so work from a detached copy.
	req := ev.Request.Clone(context.WithoutCancel(ev.Request.Context()))

	ev.WaitUntil(func(ctx context.Context) error {
		<-ev.Delivered()

		resp, err := wctx.Fetcher.Fetch(ctx, req)
		if err != nil {
			metrics.Revalidations.WithLabelValues("error").Inc()
			wctx.Log.Debug("background revalidation failed", zap.String("key", key.String()), zap.Error(err))
			return nil
		}
		if !resp.OK() {
			metrics.Revalidations.WithLabelValues("error").Inc()
			return nil
		}
		if resp.Digest() == digest {
			metrics.Revalidations.WithLabelValues("unchanged").Inc()
			return nil
		}
		if err := part.Put(ctx, key, resp); err != nil {
			metrics.Revalidations.WithLabelValues("error").Inc()
			wctx.Log.Warn("failed to store revalidated response", zap.String("key", key.String()), zap.Error(err))
			return nil
		}
		metrics.Revalidations.WithLabelValues("updated").Inc()
		return nil
	})
}

// imageStrategy is cache-first and never lets an image request fail.
func imageStrategy(wctx *Context, ev *FetchEvent) {
	r := ev.Request
	ctx := r.Context()
	key := cache.KeyFor(r)

	part, err := wctx.Storage.Open(ctx, wctx.Config.DynamicPartition())
	if err != nil {
		wctx.Log.Warn("dynamic partition unavailable", zap.Error(err))
	}
	if part != nil {
		if cached, ok, _ := part.Match(ctx, key); ok {
			respond(ev, cached, StrategyImage, sourceCache)
			return
		}
	}

	resp, err := wctx.Fetcher.Fetch(ctx, r)
	if err != nil || !resp.OK() {
		respond(ev, PlaceholderImageResponse(), StrategyImage, sourceFallback)
		return
	}
	if part != nil {
		store(ctx, wctx, part, key, resp)
	}
	respond(ev, resp, StrategyImage, sourceNetwork)
}

// navigationStrategy is network-first with the cached shell and then the offline page as fallbacks.
func navigationStrategy(wctx *Context, ev *FetchEvent) {
	r := ev.Request
	ctx := r.Context()

	resp, err := wctx.Fetcher.Fetch(ctx, r)
	if err == nil {
		if resp.OK() {
			if part, openErr := wctx.Storage.Open(ctx, wctx.Config.DynamicPartition()); openErr == nil {
				store(ctx, wctx, part, cache.KeyFor(r), resp)
			}
		}
		respond(ev, resp, StrategyNavigation, sourceNetwork)
		return
	}
	wctx.Log.Debug("navigation request failed", zap.String("path", r.URL.Path), zap.Error(err))

	if part, openErr := wctx.Storage.Open(ctx, wctx.Config.StaticPartition()); openErr == nil {
		if shell, ok, _ := part.Match(ctx, cache.GetKey(wctx.Config.ShellPath)); ok {
			respond(ev, shell, StrategyNavigation, sourceCache)
			return
		}
	}
	respond(ev, OfflinePageResponse(), StrategyNavigation, sourceFallback)
}

func store(ctx context.Context, wctx *Context, part cache.Partition, key cache.Key, resp *cache.Response) {
	if err := part.Put(ctx, key, resp.Clone()); err != nil {
		wctx.Log.Warn("failed to cache response", zap.String("partition", part.Name()), zap.String("key", key.String()), zap.Error(err))
	}
}

func respond(ev *FetchEvent, resp *cache.Response, strategy Strategy, source string) {
	metrics.FetchResponses.WithLabelValues(string(strategy), source).Inc()
	ev.RespondWith(resp, strategy, source)
}

// passthrough is used when no strategy settled the request.
func passthrough(w http.ResponseWriter, r *http.Request, fetcher Fetcher) {
	metrics.FetchResponses.WithLabelValues(string(StrategyNone), "network").Inc()
	fetcher.Forward(w, r)
}
