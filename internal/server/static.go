package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// staticHandler serves the bundled single-page application, preferring
// pre-compressed variants when the client accepts them. Unknown paths
// fall back to index.html for client-side routing.
func (s *Server) staticHandler() http.Handler {
	root := s.cfg.FrontendDir
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if root == "" {
			http.NotFound(w, r)
			return
		}

		reqPath := path.Clean(r.URL.Path)
		if reqPath == "/" || strings.Contains(reqPath, "..") {
			reqPath = "/index.html"
		}

		filePath := filepath.Join(root, filepath.FromSlash(reqPath))
		if info, err := os.Stat(filePath); err != nil || info.IsDir() {
			// SPA route.
			filePath = filepath.Join(root, "index.html")
			reqPath = "/index.html"
		}

		setCacheHeaders(w, reqPath)

		encoding := r.Header.Get("Accept-Encoding")
		for _, variant := range []struct {
			token string
			ext   string
		}{
			{"br", ".br"},
			{"gzip", ".gz"},
		} {
			if !strings.Contains(encoding, variant.token) {
				continue
			}
			compressed := filePath + variant.ext
			if _, err := os.Stat(compressed); err != nil {
				continue
			}
			w.Header().Set("Content-Encoding", variant.token)
			w.Header().Set("Content-Type", contentTypeFor(reqPath))
			http.ServeFile(w, r, compressed)
			return
		}

		http.ServeFile(w, r, filePath)
	})
}

// setCacheHeaders marks hashed assets immutable and everything else
// short-lived.
func setCacheHeaders(w http.ResponseWriter, reqPath string) {
	if strings.HasPrefix(reqPath, "/assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
}

// contentTypeFor resolves the type from the uncompressed name, since
// ServeFile would otherwise derive it from the .br/.gz extension.
func contentTypeFor(reqPath string) string {
	switch path.Ext(reqPath) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".json":
		return "application/json"
	case ".ico":
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}
