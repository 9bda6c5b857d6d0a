package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/model"
)

func TestBuildPrompt(t *testing.T) {
	h := &ledger.History{
		Events:   []*model.UserEvent{ev("signup", nil), ev("login", nil), ev("signup", nil)},
		Messages: []*model.Message{{}, {}},
	}
	p := BuildPrompt("u-7", h)
	assert.Contains(t, p, "A user (id: u-7) has triggered these events: login, signup.")
	assert.Contains(t, p, "They've received 2 messages so far.")
	assert.Contains(t, p, `Return as JSON array: [{"text": "...", "reason": "..."}]`)

	assert.Contains(t, BuildPrompt("u", &ledger.History{}), "these events: none.")
	assert.Contains(t, BuildPrompt("u", nil), "received 0 messages")
}

func TestParseSuggestions(t *testing.T) {
	got, err := ParseSuggestions(`[{"text":"Hi!","reason":"new"},{"text":"Tour","reason":""}]`)
	require.NoError(t, err)
	assert.Equal(t, []model.Suggestion{
		{Text: "Hi!", Reason: "new", Confidence: model.ConfidenceHigh},
		{Text: "Tour", Reason: "", Confidence: model.ConfidenceHigh},
	}, got)

	fenced := "```json\n[{\"text\":\"a\",\"reason\":\"b\"}]\n```"
	got, err = ParseSuggestions(fenced)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParseSuggestions_Malformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":       "Sure! Here are some ideas",
		"object":         `{"text":"a","reason":"b"}`,
		"empty list":     `[]`,
		"missing text":   `[{"reason":"b"}]`,
		"blank text":     `[{"text":"  ","reason":"b"}]`,
		"missing reason": `[{"text":"a"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSuggestions(raw)
			assert.Error(t, err)
		})
	}
}
