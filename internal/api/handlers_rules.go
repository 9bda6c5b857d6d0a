package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/LanreCloud/minicoach/internal/api/respond"
	"github.com/LanreCloud/minicoach/internal/api/validate"
	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// RuleHandler is a minimal admin surface for seeding trigger rules.
type RuleHandler struct {
	rules store.Rules
}

func NewRuleHandler(rules store.Rules) *RuleHandler { return &RuleHandler{rules: rules} }

// CreateRule POST /api/apps/{appId}/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["appId"]
	var req struct {
		RuleID         string `json:"ruleId"`
		TriggerEvent   string `json:"triggerEvent"`
		IsActive       *bool  `json:"isActive"`
		AllowRepeat    bool   `json:"allowRepeat"`
		ConditionKey   string `json:"conditionKey"`
		ConditionValue string `json:"conditionValue"`
		MessageBody    string `json:"messageBody"`
		SenderName     string `json:"senderName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	rule := &model.TriggerRule{
		RuleID:         req.RuleID,
		AppID:          appID,
		TriggerEvent:   req.TriggerEvent,
		IsActive:       req.IsActive == nil || *req.IsActive,
		AllowRepeat:    req.AllowRepeat,
		ConditionKey:   req.ConditionKey,
		ConditionValue: req.ConditionValue,
		MessageBody:    req.MessageBody,
		SenderName:     req.SenderName,
	}
	if err := validate.CreateRule(rule); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	out, err := h.rules.Create(r.Context(), rule)
	if errors.Is(err, model.ErrDuplicate) {
		err = fmt.Errorf("rule %s already exists: %w", rule.RuleID, model.ErrConflict)
	}
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// ListRules GET /api/apps/{appId}/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["appId"]
	if err := validate.ID("appId", appID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	rules, err := h.rules.List(r.Context(), appID)
	if err != nil {
		respond.WriteDomainError(w, model.Unavailable("list rules", err))
		return
	}
	if rules == nil {
		rules = []*model.TriggerRule{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "count": len(rules)})
}

// DeactivateRule POST /api/apps/{appId}/rules/{ruleId}/deactivate
func (h *RuleHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.rules.Deactivate(r.Context(), vars["appId"], vars["ruleId"])
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		err = model.Unavailable("deactivate rule", err)
	}
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
