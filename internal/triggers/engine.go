// Package triggers evaluates an application's trigger rules against incoming user events.
package triggers

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/metrics"
	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// Engine fires pre-authored messages for events that match active rules.
type Engine struct {
	rules  store.Rules
	ledger *ledger.Ledger
	log    zerolog.Logger
}

func NewEngine(rules store.Rules, l *ledger.Ledger, log zerolog.Logger) *Engine {
	return &Engine{rules: rules, ledger: l, log: log.With().Str("component", "triggers").Logger()}
}

// Evaluate runs every active rule for the event in rule id order and returns the
// messages that fired. Failures of individual rules are logged and do not stop
// the remaining rules.
func (e *Engine) Evaluate(ctx context.Context, appID, userID, eventName string, metadata map[string]string) ([]*model.Message, error) {
	if err := validate(appID, userID, eventName); err != nil {
		return nil, err
	}
	rules, err := e.rules.ListActive(ctx, appID, eventName)
	if err != nil {
		return nil, model.Unavailable("list active rules", err)
	}

	fired := []*model.Message{}
	for _, rule := range rules {
		msg, outcome := e.apply(ctx, rule, appID, userID, metadata)
		metrics.TriggerRulesTotal.WithLabelValues(outcome).Inc()
		if msg != nil {
			fired = append(fired, msg)
		}
	}
	return fired, nil
}

func (e *Engine) apply(ctx context.Context, rule *model.TriggerRule, appID, userID string, metadata map[string]string) (*model.Message, string) {
	log := e.log.With().
		Str("app_id", appID).
		Str("user_id", userID).
		Str("rule_id", rule.RuleID).
		Logger()

	if !rule.AllowRepeat {
		sent, err := e.ledger.HasFired(ctx, appID, userID, rule.RuleID)
		if err != nil {
			log.Error().Stack().Err(err).Msg("repeat check failed; skipping rule")
			return nil, metrics.OutcomeFailed
		}
		if sent {
			return nil, metrics.OutcomeRepeat
		}
	}

	if !conditionMatches(rule, metadata, log) {
		return nil, metrics.OutcomeCondition
	}

	msg, err := e.ledger.Fire(ctx, rule, appID, userID)
	switch {
	case errors.Is(err, model.ErrDuplicate):
		log.Debug().Msg("rule already fired by a concurrent event")
		return nil, metrics.OutcomeDuplicate
	case err != nil:
		log.Error().Stack().Err(err).Msg("fire rule failed")
		return nil, metrics.OutcomeFailed
	}
	log.Info().Str("message_id", msg.MessageID).Msg("rule fired")
	return msg, metrics.OutcomeFired
}

// conditionMatches compares metadata[key] (empty when absent) with the rule's value.
// A rule with only one half of its condition is treated as unconditional.
func conditionMatches(rule *model.TriggerRule, metadata map[string]string, log zerolog.Logger) bool {
	if rule.HalfCondition() {
		log.Warn().
			Str("condition_key", rule.ConditionKey).
			Str("condition_value", rule.ConditionValue).
			Msg("rule has a partial condition; evaluating as unconditional")
		return true
	}
	if !rule.HasCondition() {
		return true
	}
	return metadata[rule.ConditionKey] == rule.ConditionValue
}

// Pending returns the user's unread messages oldest first.
func (e *Engine) Pending(ctx context.Context, appID, userID string) ([]model.MessageView, error) {
	msgs, err := e.ledger.Pending(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	views := make([]model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.View())
	}
	return views, nil
}

func validate(appID, userID, eventName string) error {
	switch {
	case strings.TrimSpace(appID) == "":
		return model.NewValidationError("appId", "is required")
	case strings.TrimSpace(userID) == "":
		return model.NewValidationError("userId", "is required")
	case strings.TrimSpace(eventName) == "":
		return model.NewValidationError("eventName", "is required")
	}
	return nil
}
