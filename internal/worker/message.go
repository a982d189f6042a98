package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	appErrors "github.com/charlesng35/greentrace/pkg/errors"
	"github.com/charlesng35/greentrace/pkg/validator"
)

// Control-channel message types.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
	MessageCacheURLs   = "CACHE_URLS"
)

// Message is a control-channel message sent by a page.
type Message struct {
	Type string         `json:"type" validate:"required"`
	Data map[string]any `json:"data,omitempty"`
}

// ReplyFunc answers a message over the channel it arrived on.
type ReplyFunc func(v any) error

// VersionReply answers GET_VERSION.
type VersionReply struct {
	Version string `json:"version"`
}

// CacheURLsData is the payload of CACHE_URLS.
type CacheURLsData struct {
	URLs []string `mapstructure:"urls" validate:"required,min=1,dive,apppath"`
}

func discardReply(any) error { return nil }

// DecodeCacheURLs extracts and validates the URL list of a CACHE_URLS message.
func DecodeCacheURLs(data map[string]any) (CacheURLsData, error) {
	var out CacheURLsData
	if err := mapstructure.Decode(data, &out); err != nil {
		return CacheURLsData{}, appErrors.NewBadRequest("invalid CACHE_URLS data").WithInternal(err)
	}
	if err := validator.ValidateStruct(&out); err != nil {
		return CacheURLsData{}, appErrors.NewBadRequest("invalid CACHE_URLS data").WithInternal(err)
	}
	return out, nil
}

func (w *Worker) handleMessage(wctx *Context, ev *MessageEvent) error {
	switch strings.ToUpper(strings.TrimSpace(ev.Message.Type)) {
	case MessageSkipWaiting:
		ev.WaitUntil(func(ctx context.Context) error {
			return w.SkipWaiting(ctx)
		})
	case MessageGetVersion:
		return ev.Reply(VersionReply{Version: wctx.Config.VersionTag()})
	case MessageCacheURLs:
		data, err := DecodeCacheURLs(ev.Message.Data)
		if err != nil {
			wctx.Log.Warn("dropping malformed CACHE_URLS message", zap.Error(err))
			return err
		}
		ev.WaitUntil(func(ctx context.Context) error {
			if err := cacheURLs(ctx, wctx, data.URLs); err != nil {
				wctx.Log.Warn("failed to cache urls", zap.Strings("urls", data.URLs), zap.Error(err))
				return err
			}
			return nil
		})
	default:
		wctx.Log.Info("ignoring unknown message", zap.String("type", ev.Message.Type))
	}
	return nil
}

// cacheURLs fetches every URL and stores them in the dynamic partition only if all succeed.
func cacheURLs(ctx context.Context, wctx *Context, urls []string) error {
	entries := make([]cache.Entry, 0, len(urls))
	for _, url := range urls {
		resp, err := wctx.Fetcher.Get(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		if !resp.OK() {
			return fmt.Errorf("fetch %s: status %d", url, resp.Status)
		}
		entries = append(entries, cache.Entry{Key: cache.GetKey(url), Response: resp})
	}

	part, err := wctx.Storage.Open(ctx, wctx.Config.DynamicPartition())
	if err != nil {
		return err
	}
	return part.PutAll(ctx, entries)
}
