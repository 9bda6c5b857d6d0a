package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/LanreCloud/minicoach/internal/api/respond"
	"github.com/LanreCloud/minicoach/internal/api/validate"
	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/metrics"
	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/triggers"
)

// EventHandler ingests behavioral events and evaluates triggers for them.
type EventHandler struct {
	ledger *ledger.Ledger
	engine *triggers.Engine
}

func NewEventHandler(l *ledger.Ledger, e *triggers.Engine) *EventHandler {
	return &EventHandler{ledger: l, engine: e}
}

// CreateEvent POST /api/apps/{appId}/users/{userId}/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID, userID := vars["appId"], vars["userId"]

	var req struct {
		EventName string          `json:"eventName"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.Event(appID, userID, req.EventName); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	raw, err := validate.Metadata(req.Metadata)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	metadata := model.CoerceMetadata(raw)

	if _, err := h.ledger.Record(r.Context(), &model.UserEvent{
		AppID: appID, UserID: userID, EventName: req.EventName, Metadata: metadata,
	}); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	metrics.EventsTotal.Inc()

	fired, err := h.engine.Evaluate(r.Context(), appID, userID, req.EventName, metadata)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	views := make([]model.MessageView, 0, len(fired))
	for _, m := range fired {
		views = append(views, m.View())
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]interface{}{"messages": views, "count": len(views)})
}
