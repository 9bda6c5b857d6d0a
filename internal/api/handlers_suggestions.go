package api

import (
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/LanreCloud/minicoach/internal/api/respond"
	"github.com/LanreCloud/minicoach/internal/suggest"
)

// SuggestionHandler exposes admin-facing suggestions.
type SuggestionHandler struct {
	svc *suggest.Service
}

func NewSuggestionHandler(svc *suggest.Service) *SuggestionHandler {
	return &SuggestionHandler{svc: svc}
}

// ListSuggestions GET /api/apps/{appId}/users/{userId}/suggestions
func (h *SuggestionHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := ids(vars["appId"], vars["userId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	res, err := h.svc.Suggestions(r.Context(), vars["appId"], vars["userId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": res.Suggestions,
		"count":       len(res.Suggestions),
		"mode":        res.Mode,
	})
}
