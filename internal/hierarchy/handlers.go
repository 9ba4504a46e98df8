package hierarchy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/th309/Realestate-sub002/internal/geo"
)

type rebuildRequest struct {
	Manifest string `json:"manifest"`
}

func RebuildHandler(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Manifest == "" {
		http.Error(w, "manifest path is required", http.StatusBadRequest)
		return
	}

	report, err := service.Rebuild(r.Context(), req.Manifest)
	if err != nil {
		http.Error(w, "Rebuild failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func AncestorsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid entity id", http.StatusBadRequest)
		return
	}

	path, err := accessor.GetAncestors(r.Context(), id)
	if errors.Is(err, ErrCycleDetected) {
		http.Error(w, "Hierarchy cycle detected", http.StatusInternalServerError)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch ancestors", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(path)
}

func DescendantsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid entity id", http.StatusBadRequest)
		return
	}

	var typeFilter *geo.EntityType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := geo.EntityType(raw)
		if !t.Valid() {
			http.Error(w, "Invalid type filter", http.StatusBadRequest)
			return
		}
		typeFilter = &t
	}

	descendants, err := accessor.GetDescendants(r.Context(), id, typeFilter)
	if errors.Is(err, ErrCycleDetected) {
		http.Error(w, "Hierarchy cycle detected", http.StatusInternalServerError)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch descendants", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(descendants)
}
