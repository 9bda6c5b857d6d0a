// Package suggest produces candidate messages an admin could send to a user.
package suggest

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/model"
)

// MatchedReason is the reason attached to every rule-based suggestion.
const MatchedReason = "Matched behavior pattern"

// UserIDPlaceholder is replaced with the user id in tip templates.
const UserIDPlaceholder = "{user_id}"

// Tip is a behavior pattern paired with the suggestion it produces.
type Tip struct {
	Name     string
	Matches  func(h *ledger.History) bool
	Template string
}

// Ruleset is an ordered, immutable list of tips.
type Ruleset struct {
	tips []Tip
}

// NewRuleset copies tips into a new Ruleset.
func NewRuleset(tips ...Tip) Ruleset {
	return Ruleset{tips: append([]Tip(nil), tips...)}
}

// Len returns the number of tips.
func (r Ruleset) Len() int { return len(r.tips) }

// Evaluate returns one medium-confidence suggestion per matching tip, in order.
// A tip that panics is logged and skipped.
func (r Ruleset) Evaluate(userID string, h *ledger.History, log zerolog.Logger) []model.Suggestion {
	if h == nil {
		h = &ledger.History{}
	}
	out := []model.Suggestion{}
	for _, tip := range r.tips {
		ok, err := safeMatch(tip, h)
		if err != nil {
			log.Error().Err(err).Str("tip", tip.Name).Msg("tip predicate failed")
			continue
		}
		if !ok {
			continue
		}
		out = append(out, model.Suggestion{
			Text:       strings.ReplaceAll(tip.Template, UserIDPlaceholder, userID),
			Reason:     MatchedReason,
			Confidence: model.ConfidenceMedium,
		})
	}
	return out
}

func safeMatch(tip Tip, h *ledger.History) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tip %q: %v", tip.Name, r)
		}
	}()
	if tip.Matches == nil {
		return false, nil
	}
	return tip.Matches(h), nil
}

// DefaultTips are the onboarding patterns shipped with the service.
func DefaultTips() []Tip {
	return []Tip{
		{
			Name: "dashboard_without_setup",
			Matches: func(h *ledger.History) bool {
				return anyEvent(h, func(e *model.UserEvent) bool {
					return e.EventName == "page_view" && strings.Contains(e.Metadata["page"], "/dashboard")
				}) && !anyEvent(h, func(e *model.UserEvent) bool { return e.EventName == "checklist_step_done" })
			},
			Template: "👋 Looks like {user_id} visited the dashboard but hasn't completed any setup steps yet. " +
				"Consider sending: \"Need help getting started? Here's what to do first →\"",
		},
		{
			Name: "repeatedly_idle",
			Matches: func(h *ledger.History) bool {
				n := 0
				for _, e := range h.Events {
					if e.EventName == "idle_5min" {
						n++
					}
				}
				return n >= 3
			},
			Template: "😴 {user_id} has gone idle 3+ times. They might be stuck. " +
				"Try: \"Still with us? Here's a quick 2-minute guide to get you moving →\"",
		},
		{
			Name:    "no_activity",
			Matches: func(h *ledger.History) bool { return len(h.Events) == 0 },
			Template: "🌱 {user_id} signed up but hasn't done anything yet. " +
				"A warm welcome message within the first hour dramatically improves activation. " +
				"Try: \"Welcome! Here's the one thing most users do first →\"",
		},
	}
}

// DefaultRuleset is NewRuleset(DefaultTips()...).
func DefaultRuleset() Ruleset { return NewRuleset(DefaultTips()...) }

func anyEvent(h *ledger.History, pred func(*model.UserEvent) bool) bool {
	for _, e := range h.Events {
		if pred(e) {
			return true
		}
	}
	return false
}
