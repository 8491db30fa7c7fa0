// Package web serves the single-page browser UI.
package web

import (
	"embed"
	"net/http"
)

//go:embed static/index.html
var staticFS embed.FS

// Handler serves the UI page.
func Handler() http.Handler {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		panic("web: embedded index.html missing: " + err.Error())
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(page)
	})
}
