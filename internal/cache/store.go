package cache

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
)

// ErrPartitionNotFound is returned when an operation targets a partition that was never opened.
var ErrPartitionNotFound = errors.New("cache: partition not found")

// Storage is the set of named partitions owned by the worker.
type Storage interface {
	// Open returns the named partition, creating it when it does not exist yet.
	Open(ctx context.Context, name string) (Partition, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists partition names in lexical order.
	Keys(ctx context.Context) ([]string, error)
	// Delete drops a partition and every entry in it. It reports whether the partition existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Partition maps request identities to stored responses.
type Partition interface {
	Name() string
	Match(ctx context.Context, key Key) (*Response, bool, error)
	Put(ctx context.Context, key Key, resp *Response) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, key Key) (bool, error)
	Keys(ctx context.Context) ([]Key, error)
}

// Key identifies a cached request by method and URL.
type Key struct {
	Method string
	URL    string
}

// Entry pairs a key with the response stored under it.
type Entry struct {
	Key      Key
	Response *Response
}

// NewKey normalises the method and URL of a request identity.
func NewKey(method, url string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: strings.TrimSpace(url)}
}

// GetKey is shorthand for the identity of a GET request to url.
func GetKey(url string) Key {
	return NewKey(http.MethodGet, url)
}

// KeyFor derives the identity of an intercepted request. Requests are keyed by their
// request URI, so absolute-form and origin-relative targets share one entry.
func KeyFor(r *http.Request) Key {
	if r == nil || r.URL == nil {
		return Key{}
	}
	return NewKey(r.Method, r.URL.RequestURI())
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].URL == keys[j].URL {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].URL < keys[j].URL
	})
}

func validEntries(entries []Entry) error {
	for _, entry := range entries {
		if entry.Response == nil {
			return errors.New("cache: nil response for " + entry.Key.String())
		}
		if entry.Key.URL == "" {
			return errors.New("cache: empty url in entry")
		}
	}
	return nil
}
