//go:build !ui_embed

package ui

import (
	"net/http"
)

// Handler serves the dashboard from staticDir when set. Without an
// embedded build or an override it redirects to the API docs.
func Handler(staticDir string) (http.Handler, error) {
	if staticDir != "" {
		return dirHandler(staticDir)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusFound)
	}), nil
}
