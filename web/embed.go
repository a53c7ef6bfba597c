// Package web serves the embeddable chat widget: the loader script that
// site owners paste into their pages, and the iframe page it opens.
package web

import (
	"embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/widget.js static/widget.html
var static embed.FS

func RegisterRoutes(r chi.Router) {
	r.Get("/widget.js", serve("static/widget.js", "application/javascript; charset=utf-8"))
	r.Get("/widget", serve("static/widget.html", "text/html; charset=utf-8"))
}

func serve(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body, err := static.ReadFile(name)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(body)
	}
}
