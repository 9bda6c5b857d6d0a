package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/LanreCloud/minicoach/internal/model"
)

// idRx allows the characters apps use in their own identifiers.
var idRx = regexp.MustCompile(`^[A-Za-z0-9_.:@\-]{1,128}$`)

// eventNameRx keeps event names to a simple token.
var eventNameRx = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,100}$`)

const (
	maxMessageBody = 4000
	maxSenderName  = 100
	maxConditionKV = 200
)

// ID validates an app, user, rule or message identifier.
func ID(field, v string) error {
	if v == "" {
		return model.NewValidationError(field, "is required")
	}
	if !idRx.MatchString(v) {
		return model.NewValidationError(field, fmt.Sprintf("must match %s", idRx.String()))
	}
	return nil
}

// EventName validates a behavioral event name.
func EventName(v string) error { return eventToken("eventName", v) }

func eventToken(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return model.NewValidationError(field, "is required")
	}
	if !eventNameRx.MatchString(v) {
		return model.NewValidationError(field, fmt.Sprintf("must match %s", eventNameRx.String()))
	}
	return nil
}

func NonEmpty(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return model.NewValidationError(field, "is required")
	}
	return nil
}

func MaxLen(field, v string, limit int) error {
	if len(v) > limit {
		return model.NewValidationError(field, fmt.Sprintf("exceeds %d characters", limit))
	}
	return nil
}

// Metadata decodes an optional JSON object. null or absent yields nil.
func Metadata(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, model.NewValidationError("metadata", "must be JSON object")
	}
	return m, nil
}

// -------- Request specific helpers ----------

// Event validates the path ids and event name of an ingest request.
func Event(appID, userID, eventName string) error {
	if err := ID("appId", appID); err != nil {
		return err
	}
	if err := ID("userId", userID); err != nil {
		return err
	}
	return EventName(eventName)
}

// CreateRule validates a rule before it is stored.
func CreateRule(r *model.TriggerRule) error {
	if err := ID("appId", r.AppID); err != nil {
		return err
	}
	if r.RuleID != "" {
		if err := ID("ruleId", r.RuleID); err != nil {
			return err
		}
	}
	if err := eventToken("triggerEvent", r.TriggerEvent); err != nil {
		return err
	}
	if err := NonEmpty("messageBody", r.MessageBody); err != nil {
		return err
	}
	if err := MaxLen("messageBody", r.MessageBody, maxMessageBody); err != nil {
		return err
	}
	if err := MaxLen("senderName", r.SenderName, maxSenderName); err != nil {
		return err
	}
	if err := MaxLen("conditionKey", r.ConditionKey, maxConditionKV); err != nil {
		return err
	}
	return MaxLen("conditionValue", r.ConditionValue, maxConditionKV)
}
