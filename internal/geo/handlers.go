package geo

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type resolveRequest struct {
	Record
	Strict bool `json:"strict,omitempty"`
}

func ResolveHandler(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" || req.ExternalID == "" || !req.Type.Valid() {
		http.Error(w, "source, external_id and a valid type are required", http.StatusBadRequest)
		return
	}

	var (
		res Resolution
		err error
	)
	if req.Strict {
		res, err = resolver.ResolveStrict(r.Context(), req.Record)
	} else {
		res, err = resolver.Resolve(r.Context(), req.Record)
	}
	if errors.Is(err, ErrResolutionNotFound) {
		http.Error(w, "No matching entity", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to resolve record", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func EntityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid entity id", http.StatusBadRequest)
		return
	}

	entity, err := store.GetEntity(r.Context(), id)
	if err != nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entity)
}

func ReviewHandler(w http.ResponseWriter, r *http.Request) {
	mappings, err := store.MappingsNeedingReview(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch review queue", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mappings)
}
