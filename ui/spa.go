// Package ui serves the dashboard, either embedded at build time or
// from a directory on disk.
package ui

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// spaHandler serves files from fsys with single-page-app routing:
// unknown extensionless paths fall back to index.html so client-side
// routes survive a page reload.
func spaHandler(fsys fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Clean the path; fs.FS rejects anything escaping the root.
		p := path.Clean(r.URL.Path)

		f, openErr := fsys.Open(strings.TrimPrefix(p, "/"))
		if openErr == nil {
			defer func() { _ = f.Close() }()
			stat, statErr := f.Stat()
			if statErr == nil && !stat.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		// No such file and no extension: client-side route.
		if !strings.Contains(path.Base(p), ".") {
			r.URL.Path = "/"
		}

		fileServer.ServeHTTP(w, r)
	})
}

// dirHandler serves the dashboard from a directory on disk, used when
// a static dir override is configured.
func dirHandler(dir string) (http.Handler, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return spaHandler(os.DirFS(dir)), nil
}
