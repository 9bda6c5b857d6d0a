package validate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/model"
)

func TestID(t *testing.T) {
	assert.NoError(t, ID("userId", "user_42@acme.io"))
	assert.Error(t, ID("userId", ""))
	assert.Error(t, ID("userId", "has space"))
	assert.Error(t, ID("userId", strings.Repeat("a", 129)))
	assert.True(t, model.IsValidationError(ID("appId", "")))
}

func TestEvent(t *testing.T) {
	assert.NoError(t, Event("app", "user", "page_view"))
	var ve model.ValidationError
	require.ErrorAs(t, Event("app", "user", " "), &ve)
	assert.Equal(t, "eventName", ve.Field)
	require.ErrorAs(t, Event("", "user", "x"), &ve)
	assert.Equal(t, "appId", ve.Field)
}

func TestMetadata(t *testing.T) {
	m, err := Metadata(json.RawMessage(`{"page":"/dashboard","n":3}`))
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", m["page"])

	m, err = Metadata(nil)
	assert.NoError(t, err)
	assert.Nil(t, m)
	m, err = Metadata(json.RawMessage(`null`))
	assert.NoError(t, err)
	assert.Nil(t, m)

	_, err = Metadata(json.RawMessage(`[1,2]`))
	assert.True(t, model.IsValidationError(err))
	_, err = Metadata(json.RawMessage(`"str"`))
	assert.Error(t, err)
}

func TestCreateRule(t *testing.T) {
	ok := &model.TriggerRule{AppID: "app", TriggerEvent: "signup", MessageBody: "hi"}
	assert.NoError(t, CreateRule(ok))

	tests := []struct {
		name  string
		rule  model.TriggerRule
		field string
	}{
		{"missing app", model.TriggerRule{TriggerEvent: "signup", MessageBody: "hi"}, "appId"},
		{"missing event", model.TriggerRule{AppID: "app", MessageBody: "hi"}, "triggerEvent"},
		{"missing body", model.TriggerRule{AppID: "app", TriggerEvent: "signup"}, "messageBody"},
		{"bad rule id", model.TriggerRule{AppID: "app", RuleID: "a b", TriggerEvent: "signup", MessageBody: "hi"}, "ruleId"},
		{"long sender", model.TriggerRule{AppID: "app", TriggerEvent: "signup", MessageBody: "hi", SenderName: strings.Repeat("s", 101)}, "senderName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve model.ValidationError
			require.ErrorAs(t, CreateRule(&tt.rule), &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
