// Package web serves the embedded admin editor page.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist/*
var content embed.FS

// Handler returns an http.Handler that serves the embedded editor assets.
//
// The editor is a single page: /edit, /editor and any other path without a
// matching asset load index.html, and the page asks /api/check-auth which
// view to show.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}

	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}

	static := http.FileServer(http.FS(fsys))

	serveIndex := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Write(indexBytes)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if cleanPath == "." || cleanPath == "" || cleanPath == "index.html" {
			serveIndex(w)
			return
		}

		if _, err := fs.Stat(fsys, cleanPath); err == nil {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			static.ServeHTTP(w, r)
			return
		}

		serveIndex(w)
	}), nil
}
