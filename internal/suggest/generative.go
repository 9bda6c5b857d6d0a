package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/LanreCloud/minicoach/internal/generative"
	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/model"
)

// Generative asks a text-completion backend for suggestions.
type Generative struct {
	provider generative.Provider
}

func NewGenerative(p generative.Provider) *Generative {
	return &Generative{provider: p}
}

// Suggest builds the prompt, calls the backend and parses its JSON answer.
// Any transport, status or format problem is returned as an error.
func (g *Generative) Suggest(ctx context.Context, userID string, h *ledger.History) ([]model.Suggestion, error) {
	raw, err := g.provider.Complete(ctx, BuildPrompt(userID, h))
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", g.provider.Name(), err)
	}
	return ParseSuggestions(raw)
}

// BuildPrompt summarises the history as sorted distinct event names and a message count.
func BuildPrompt(userID string, h *ledger.History) string {
	var events []*model.UserEvent
	var msgCount int
	if h != nil {
		events = h.Events
		msgCount = len(h.Messages)
	}
	seen := map[string]struct{}{}
	var names []string
	for _, e := range events {
		if _, ok := seen[e.EventName]; ok {
			continue
		}
		seen[e.EventName] = struct{}{}
		names = append(names, e.EventName)
	}
	sort.Strings(names)
	summary := strings.Join(names, ", ")
	if summary == "" {
		summary = "none"
	}
	return fmt.Sprintf(
		"You are an onboarding coach assistant. A user (id: %s) has triggered these events: %s. "+
			"They've received %d messages so far. "+
			"Suggest 2 short, friendly in-app messages an admin could send to help them succeed. "+
			`Return as JSON array: [{"text": "...", "reason": "..."}]`,
		userID, summary, msgCount)
}

type rawSuggestion struct {
	Text   *string `json:"text"`
	Reason *string `json:"reason"`
}

// ParseSuggestions decodes a JSON array of {text, reason}, tolerating a
// surrounding markdown code fence. Every parsed suggestion has high confidence.
func ParseSuggestions(raw string) ([]model.Suggestion, error) {
	body := stripFence(raw)
	var items []rawSuggestion
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("decode suggestions: empty list")
	}
	out := make([]model.Suggestion, 0, len(items))
	for i, it := range items {
		if it.Text == nil || strings.TrimSpace(*it.Text) == "" {
			return nil, fmt.Errorf("decode suggestions: item %d has no text", i)
		}
		if it.Reason == nil {
			return nil, fmt.Errorf("decode suggestions: item %d has no reason", i)
		}
		out = append(out, model.Suggestion{Text: *it.Text, Reason: *it.Reason, Confidence: model.ConfidenceHigh})
	}
	return out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
