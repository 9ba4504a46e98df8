package hierarchy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Post("/rebuild", RebuildHandler)
	r.Get("/entities/{id}/ancestors", AncestorsHandler)
	r.Get("/entities/{id}/descendants", DescendantsHandler)

	return r
}
