// Package api provides the HTTP surface beside the WebSocket endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aivlingual/aivlingual-server/internal/vocab"
	"github.com/go-chi/chi/v5"
)

const defaultSearchLimit = 50

// VocabularyHandler serves read access to the vocabulary database.
type VocabularyHandler struct {
	vocab *vocab.Service
}

// NewVocabularyHandler creates the vocabulary API handler.
func NewVocabularyHandler(svc *vocab.Service) *VocabularyHandler {
	return &VocabularyHandler{vocab: svc}
}

// RegisterRoutes registers vocabulary routes.
func (h *VocabularyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/vocabulary", func(r chi.Router) {
		r.Get("/", h.Search)
	})
}

// Search handles GET /api/vocabulary?q=<query>&limit=<n>.
func (h *VocabularyHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := h.vocab.Search(r.Context(), query, limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "vocabulary search failed")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
