package worker

import (
	"net/http"
	"strings"
)

// Strategy is the handling policy chosen for an intercepted request.
type Strategy string

const (
	StrategyAPI        Strategy = "api"
	StrategyImage      Strategy = "image"
	StrategyNavigation Strategy = "navigation"
	StrategyNone       Strategy = "passthrough"
)

// DestinationHeader lets non-browser callers declare the request destination explicitly.
const DestinationHeader = "X-Request-Destination"

// Destination returns the declared destination of a request ("image", "document", ...).
func Destination(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(DestinationHeader)); v != "" {
		return strings.ToLower(v)
	}
	return strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Dest")))
}

// Interceptable reports whether the worker may handle r at all. Only plain GET requests over
// http(s) qualify; everything else passes through untouched.
func Interceptable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	switch strings.ToLower(r.URL.Scheme) {
	case "", "http", "https":
	default:
		return false
	}
	return r.Header.Get("Upgrade") == ""
}

// Classify picks the strategy for a GET request. Every (path, destination) pair maps to exactly one.
func Classify(path, destination, apiPrefix string) Strategy {
	switch {
	case apiPrefix != "" && strings.HasPrefix(path, apiPrefix):
		return StrategyAPI
	case destination == "image":
		return StrategyImage
	default:
		return StrategyNavigation
	}
}
