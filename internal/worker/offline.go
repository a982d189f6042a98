package worker

import (
	"encoding/json"
	"net/http"

	"github.com/charlesng35/greentrace/internal/cache"
	appErrors "github.com/charlesng35/greentrace/pkg/errors"
	"github.com/charlesng35/greentrace/web"
)

// OfflineAPIResponse is returned for API requests the origin could not answer.
func OfflineAPIResponse() *cache.Response {
	body, _ := json.Marshal(map[string]string{"error": appErrors.ErrOffline.Message})
	return cache.NewResponse(appErrors.ErrOffline.StatusCode, "application/json", body)
}

// PlaceholderImageResponse stands in for an image that could not be loaded.
func PlaceholderImageResponse() *cache.Response {
	return cache.NewResponse(http.StatusOK, "image/svg+xml", web.PlaceholderImage())
}

// OfflinePageResponse is the navigation fallback when neither the network nor the shell is available.
func OfflinePageResponse() *cache.Response {
	return cache.NewResponse(http.StatusOK, "text/html; charset=utf-8", web.OfflinePage())
}
