package api

import (
	"io/fs"
	"net/http"
	"strings"
)

// spaHandler serves the popup UI from an embedded filesystem.
// Unknown paths fall back to index.html so client-side routes resolve.
type spaHandler struct {
	staticFS http.Handler
	indexFS  fs.FS
}

func newSPAHandler(webFS fs.FS) *spaHandler {
	return &spaHandler{
		staticFS: http.FileServer(http.FS(webFS)),
		indexFS:  webFS,
	}
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	f, err := h.indexFS.Open(path)
	if err == nil {
		f.Close()
		h.staticFS.ServeHTTP(w, r)
		return
	}

	indexContent, err := fs.ReadFile(h.indexFS, "index.html")
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(indexContent)
}
