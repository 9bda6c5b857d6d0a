package api

import (
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/LanreCloud/minicoach/internal/api/respond"
	"github.com/LanreCloud/minicoach/internal/api/validate"
	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/triggers"
)

// MessageHandler serves the widget's polling and acknowledgement calls.
type MessageHandler struct {
	engine *triggers.Engine
	ledger *ledger.Ledger
}

func NewMessageHandler(e *triggers.Engine, l *ledger.Ledger) *MessageHandler {
	return &MessageHandler{engine: e, ledger: l}
}

// ListPending GET /api/apps/{appId}/users/{userId}/messages/pending
func (h *MessageHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := ids(vars["appId"], vars["userId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	views, err := h.engine.Pending(r.Context(), vars["appId"], vars["userId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": views, "count": len(views)})
}

// MarkRead POST /api/apps/{appId}/users/{userId}/messages/{messageId}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := ids(vars["appId"], vars["userId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if err := h.ledger.MarkRead(r.Context(), vars["appId"], vars["userId"], vars["messageId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ids(appID, userID string) error {
	if err := validate.ID("appId", appID); err != nil {
		return err
	}
	return validate.ID("userId", userID)
}
