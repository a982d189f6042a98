package cache

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/greentrace/internal/database/testutil"
)

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	return map[string]Storage{
		"database": NewDatabaseStorage(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())),
		"memory":   NewMemoryStorage(),
	}
}

func jsonResponse(body string) *Response {
	return NewResponse(http.StatusOK, "application/json", []byte(body))
}

func TestStorageOpenIsIdempotent(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := storage.Open(ctx, "greentrace-dynamic-v1.0.0")
			require.NoError(t, err)
			require.NoError(t, first.Put(ctx, GetKey("/api/challenges"), jsonResponse(`[1]`)))

			second, err := storage.Open(ctx, "greentrace-dynamic-v1.0.0")
			require.NoError(t, err)

			resp, ok, err := second.Match(ctx, GetKey("/api/challenges"))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, `[1]`, string(resp.Body))
			require.Equal(t, "application/json", resp.ContentType())

			keys, err := storage.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"greentrace-dynamic-v1.0.0"}, keys)
		})
	}
}

func TestPartitionPutOverwritesAndMatchesByMethod(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			part, err := storage.Open(ctx, "p")
			require.NoError(t, err)

			require.NoError(t, part.Put(ctx, GetKey("/x"), jsonResponse(`"old"`)))
			require.NoError(t, part.Put(ctx, GetKey("/x"), jsonResponse(`"new"`)))

			resp, ok, err := part.Match(ctx, GetKey("/x"))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, `"new"`, string(resp.Body))

			_, ok, err = part.Match(ctx, NewKey(http.MethodHead, "/x"))
			require.NoError(t, err)
			require.False(t, ok)

			keys, err := part.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []Key{GetKey("/x")}, keys)
		})
	}
}

func TestPartitionPutAllIsAllOrNothing(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			part, err := storage.Open(ctx, "static")
			require.NoError(t, err)

			err = part.PutAll(ctx, []Entry{
				{Key: GetKey("/"), Response: jsonResponse(`{}`)},
				{Key: GetKey("/manifest.json"), Response: nil},
			})
			require.Error(t, err)

			keys, err := part.Keys(ctx)
			require.NoError(t, err)
			require.Empty(t, keys)

			require.NoError(t, part.PutAll(ctx, []Entry{
				{Key: GetKey("/index.html"), Response: NewResponse(http.StatusOK, "text/html", []byte("<html>"))},
				{Key: GetKey("/"), Response: NewResponse(http.StatusOK, "text/html", []byte("<html>"))},
			}))
			keys, err = part.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []Key{GetKey("/"), GetKey("/index.html")}, keys)
		})
	}
}

func TestStorageDeleteRemovesEntries(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old, err := storage.Open(ctx, "greentrace-static-v0.9.0")
			require.NoError(t, err)
			require.NoError(t, old.Put(ctx, GetKey("/"), jsonResponse(`{}`)))

			deleted, err := storage.Delete(ctx, "greentrace-static-v0.9.0")
			require.NoError(t, err)
			require.True(t, deleted)

			has, err := storage.Has(ctx, "greentrace-static-v0.9.0")
			require.NoError(t, err)
			require.False(t, has)

			deleted, err = storage.Delete(ctx, "greentrace-static-v0.9.0")
			require.NoError(t, err)
			require.False(t, deleted)

			// Reopening yields an empty partition.
			reopened, err := storage.Open(ctx, "greentrace-static-v0.9.0")
			require.NoError(t, err)
			_, ok, err := reopened.Match(ctx, GetKey("/"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestPartitionDeleteKey(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			part, err := storage.Open(ctx, "dynamic")
			require.NoError(t, err)
			require.NoError(t, part.Put(ctx, GetKey("/y"), jsonResponse(`1`)))

			removed, err := part.Delete(ctx, GetKey("/y"))
			require.NoError(t, err)
			require.True(t, removed)

			removed, err = part.Delete(ctx, GetKey("/y"))
			require.NoError(t, err)
			require.False(t, removed)
		})
	}
}

func TestMatchReturnsIndependentCopies(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			part, err := storage.Open(ctx, "dynamic")
			require.NoError(t, err)
			require.NoError(t, part.Put(ctx, GetKey("/img.png"), NewResponse(http.StatusOK, "image/png", []byte{1, 2, 3})))

			first, _, err := part.Match(ctx, GetKey("/img.png"))
			require.NoError(t, err)
			first.Body[0] = 9

			second, _, err := part.Match(ctx, GetKey("/img.png"))
			require.NoError(t, err)
			require.Equal(t, []byte{1, 2, 3}, second.Body)
		})
	}
}
