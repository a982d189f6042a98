package syncqueue

import (
	"strings"

	appErrors "github.com/charlesng35/greentrace/pkg/errors"
)

// Kind names a class of pending offline writes.
type Kind string

const (
	KindActivities  Kind = "activities"
	KindSocialPosts Kind = "social-posts"
)

// Background sync tags registered by the client application.
const (
	TagActivities  = "sync-activities"
	TagSocialPosts = "sync-social-posts"
)

// Route binds a sync tag to the records it flushes and the endpoint they replay against.
type Route struct {
	Tag      string
	Kind     Kind
	Endpoint string
}

var routes = []Route{
	{Tag: TagActivities, Kind: KindActivities, Endpoint: "/api/activities"},
	{Tag: TagSocialPosts, Kind: KindSocialPosts, Endpoint: "/api/social/posts"},
}

// Routes lists every known tag binding.
func Routes() []Route {
	out := make([]Route, len(routes))
	copy(out, routes)
	return out
}

// TagKind resolves a sync tag to its record kind.
func TagKind(tag string) (Kind, bool) {
	route, ok := routeForTag(tag)
	return route.Kind, ok
}

// ParseKind validates a kind received from a client.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.TrimSpace(raw))
	for _, route := range routes {
		if route.Kind == kind {
			return kind, nil
		}
	}
	return "", appErrors.ErrUnknownQueueKind
}

// Tag returns the sync tag that flushes records of this kind.
func (k Kind) Tag() string {
	for _, route := range routes {
		if route.Kind == k {
			return route.Tag
		}
	}
	return ""
}

func routeForTag(tag string) (Route, bool) {
	tag = strings.TrimSpace(tag)
	for _, route := range routes {
		if route.Tag == tag {
			return route, true
		}
	}
	return Route{}, false
}
