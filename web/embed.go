package web

import (
	"embed"
	"io/fs"
)

// offlineFS embeds the documents the worker synthesizes when the origin is unreachable.
//
//go:embed offline
var offlineFS embed.FS

// FS returns the embedded offline assets rooted at the "offline" directory.
func FS() (fs.FS, error) {
	return fs.Sub(offlineFS, "offline")
}

// OfflinePage returns the offline HTML document with its retry button.
func OfflinePage() []byte {
	return mustRead("offline/offline.html")
}

// PlaceholderImage returns the SVG served in place of images that cannot be loaded.
func PlaceholderImage() []byte {
	return mustRead("offline/placeholder.svg")
}

func mustRead(name string) []byte {
	data, err := offlineFS.ReadFile(name)
	if err != nil {
		panic("web: missing embedded asset " + name)
	}
	return data
}
