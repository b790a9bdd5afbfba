package httpserver

import (
	"embed"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
)

//go:embed assets/*
var embeddedAssets embed.FS

// staticHandler serves the setup page at "/" in access point mode and
// redirects to the monitor page otherwise. Other paths map to assets.
func (s *Server) staticHandler() http.Handler {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		normalized := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if normalized == "" || normalized == "index.html" {
			if !s.apMode() {
				http.Redirect(w, r, "/monitor", http.StatusFound)
				return
			}
			s.serveAsset(w, r, "index.html")
			return
		}

		if _, err := fs.Stat(sub, normalized); err == nil {
			r2 := new(http.Request)
			*r2 = *r
			r2.URL = cloneURL(r.URL)
			r2.URL.Path = "/" + normalized
			fileServer.ServeHTTP(w, r2)
			return
		}

		http.NotFound(w, r)
	})
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, name string) {
	logger := s.loggerFromContext(r.Context())
	data, err := embeddedAssets.ReadFile("assets/" + name)
	if err != nil {
		logger.Error("failed to read asset", "asset", name, "err", err)
		http.Error(w, "missing asset", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		logger.Warn("failed to write asset", "asset", name, "err", err)
	}
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return &url.URL{Path: "/"}
	}
	clone := *u
	return &clone
}
