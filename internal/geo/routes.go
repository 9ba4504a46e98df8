package geo

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Post("/resolve", ResolveHandler)
	r.Get("/entities/{id}", EntityHandler)
	r.Get("/review", ReviewHandler)

	return r
}
