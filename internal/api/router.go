package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/api/recovery"
	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/suggest"
	"github.com/LanreCloud/minicoach/internal/triggers"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Store   store.Store
	Ledger  *ledger.Ledger
	Engine  *triggers.Engine
	Suggest *suggest.Service
	Log     zerolog.Logger
}

// NewRouter wires HTTP routes to handlers.
func NewRouter(d Deps) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.WithLogger(d.Log))

	// Events and messages
	events := NewEventHandler(d.Ledger, d.Engine)
	messages := NewMessageHandler(d.Engine, d.Ledger)
	root.HandleFunc("/api/apps/{appId}/users/{userId}/events", events.CreateEvent).Methods("POST")
	root.HandleFunc("/api/apps/{appId}/users/{userId}/messages/pending", messages.ListPending).Methods("GET")
	root.HandleFunc("/api/apps/{appId}/users/{userId}/messages/{messageId}/read", messages.MarkRead).Methods("POST")

	// Suggestions
	suggestions := NewSuggestionHandler(d.Suggest)
	root.HandleFunc("/api/apps/{appId}/users/{userId}/suggestions", suggestions.ListSuggestions).Methods("GET")

	// Rules
	rules := NewRuleHandler(d.Store.Rules())
	root.HandleFunc("/api/apps/{appId}/rules", rules.CreateRule).Methods("POST")
	root.HandleFunc("/api/apps/{appId}/rules", rules.ListRules).Methods("GET")
	root.HandleFunc("/api/apps/{appId}/rules/{ruleId}/deactivate", rules.DeactivateRule).Methods("POST")

	// Health
	healthHandler := NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	// Metrics
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return root
}
