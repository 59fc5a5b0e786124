//go:build ui_embed

package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

// Embed the frontend build output directly from dist folder
// Build with: go build -tags ui_embed .
// Requires: cd ui && pnpm build

//go:embed all:dist
var distFS embed.FS

// Handler returns an http.Handler for the dashboard. A non-empty
// staticDir overrides the embedded copy with files from disk.
func Handler(staticDir string) (http.Handler, error) {
	if staticDir != "" {
		return dirHandler(staticDir)
	}

	fsys, err := fs.Sub(distFS, "dist")
	if err != nil {
		return nil, err
	}
	return spaHandler(fsys), nil
}
