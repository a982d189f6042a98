package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	appErrors "github.com/charlesng35/greentrace/pkg/errors"
	"github.com/charlesng35/greentrace/pkg/logger"
)

// Config describes how the worker reaches the origin server.
type Config struct {
	BaseURL string
	// Timeout bounds a single fetch. Zero leaves fetches unbounded.
	Timeout      time.Duration
	MaxBodyBytes int64
	ProbePath    string
}

// Client fetches resources from the origin on behalf of intercepted requests.
type Client struct {
	base      *url.URL
	http      *http.Client
	proxy     *httputil.ReverseProxy
	maxBody   int64
	probePath string
	log       *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for origin requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New constructs a Client for the configured origin.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("upstream: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream: unsupported scheme %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	probe := strings.TrimSpace(cfg.ProbePath)
	if probe == "" {
		probe = "/"
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: cfg.Timeout},
		maxBody:   cfg.MaxBodyBytes,
		probePath: probe,
		log:       logger.WithModule("upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(c.base)
			pr.SetXForwarded()
		},
		// Resolve the transport per request so a swapped client transport is honoured.
		Transport:    roundTripperFunc(func(r *http.Request) (*http.Response, error) { return c.transport().RoundTrip(r) }),
		ErrorHandler: c.proxyError,
	}

	return c, nil
}

// BaseURL returns the origin the client targets.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Fetch replays an intercepted request against the origin and buffers the response.
// Any status is returned as a response; only transport failures produce an error.
func (c *Client) Fetch(ctx context.Context, r *http.Request) (*cache.Response, error) {
	target := c.resolve(r.URL)

	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	copyRequestHeaders(req.Header, r.Header)

	return c.do(req)
}

// Get fetches an origin-relative path.
func (c *Client) Get(ctx context.Context, path string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePath(path), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	return c.do(req)
}

// PostJSON sends body as a JSON document to an origin-relative path.
func (c *Client) PostJSON(ctx context.Context, path string, body []byte) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolvePath(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Probe reports whether the origin answers at all. Any HTTP status counts as reachable.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.resolvePath(c.probePath), nil)
	if err != nil {
		return fmt.Errorf("upstream: build probe: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Forward proxies a request to the origin without touching any cache partition.
func (c *Client) Forward(w http.ResponseWriter, r *http.Request) {
	c.proxy.ServeHTTP(w, r)
}

func (c *Client) do(req *http.Request) (*cache.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return cache.ReadResponse(resp, c.maxBody)
}

func (c *Client) transport() http.RoundTripper {
	if c.http.Transport != nil {
		return c.http.Transport
	}
	return http.DefaultTransport
}

func (c *Client) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	c.log.Warn("pass-through request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	appErr := appErrors.ErrUpstreamUnavailable
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": appErr.Message})
}

// resolve maps a request URL onto the configured origin. Absolute-form targets keep only
// their path and query, so a client cannot point the worker at another host.
func (c *Client) resolve(u *url.URL) string {
	if u == nil {
		return c.base.String()
	}
	return c.resolvePath(u.RequestURI())
}

func (c *Client) resolvePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base.Scheme + "://" + c.base.Host + c.base.Path + path
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
	for _, name := range hopHeaders {
		dst.Del(name)
	}
	// Let the transport negotiate compression so stored bodies are always decoded.
	dst.Del("Accept-Encoding")
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
