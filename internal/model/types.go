package model

import "time"

// DefaultSenderName is used when a rule does not name its sender.
const DefaultSenderName = "Coach"

// UserEvent is an immutable behavioral event reported by an embedding app.
type UserEvent struct {
	EventID      string            `json:"eventId"`
	AppID        string            `json:"appId"`
	UserID       string            `json:"userId"`
	EventName    string            `json:"eventName"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreationTime time.Time         `json:"createdAt"`
}

// TriggerRule fires a pre-authored message when a matching event arrives.
type TriggerRule struct {
	RuleID         string    `json:"ruleId"`
	AppID          string    `json:"appId"`
	TriggerEvent   string    `json:"triggerEvent"`
	IsActive       bool      `json:"isActive"`
	AllowRepeat    bool      `json:"allowRepeat"`
	ConditionKey   string    `json:"conditionKey,omitempty"`
	ConditionValue string    `json:"conditionValue,omitempty"`
	MessageBody    string    `json:"messageBody"`
	SenderName     string    `json:"senderName,omitempty"`
	CreationTime   time.Time `json:"createdAt"`
}

// HasCondition reports whether both halves of the metadata condition are set.
func (r *TriggerRule) HasCondition() bool {
	return r.ConditionKey != "" && r.ConditionValue != ""
}

// HalfCondition reports a rule with exactly one of key/value configured.
func (r *TriggerRule) HalfCondition() bool {
	return (r.ConditionKey == "") != (r.ConditionValue == "")
}

// Sender returns the configured sender name or DefaultSenderName.
func (r *TriggerRule) Sender() string {
	if r.SenderName == "" {
		return DefaultSenderName
	}
	return r.SenderName
}

// Conversation is the single thread per (app, user).
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	AppID          string    `json:"appId"`
	UserID         string    `json:"userId"`
	CreationTime   time.Time `json:"createdAt"`
}

// Message belongs to exactly one conversation. Only IsRead ever changes.
type Message struct {
	MessageID      string    `json:"messageId"`
	AppID          string    `json:"appId"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	TriggerRuleID  *string   `json:"triggerRuleId,omitempty"`
	Body           string    `json:"body"`
	SenderName     string    `json:"senderName"`
	IsRead         bool      `json:"isRead"`
	CreationTime   time.Time `json:"createdAt"`
}

// View returns the widget-facing projection of the message.
func (m *Message) View() MessageView {
	return MessageView{
		MessageID:    m.MessageID,
		Body:         m.Body,
		SenderName:   m.SenderName,
		CreationTime: m.CreationTime,
	}
}

// MessageView is what the widget polls for.
type MessageView struct {
	MessageID    string    `json:"id"`
	Body         string    `json:"body"`
	SenderName   string    `json:"senderName"`
	CreationTime time.Time `json:"createdAt"`
}

// Confidence grades a suggestion.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Suggestion is candidate message text for an admin.
type Suggestion struct {
	Text       string     `json:"text"`
	Reason     string     `json:"reason"`
	Confidence Confidence `json:"confidence"`
}

// FireRequest captures everything needed to insert a rule-triggered message.
type FireRequest struct {
	AppID  string
	UserID string
	Rule   *TriggerRule
}

// OutboxRecord is a pending side effect written alongside a domain mutation.
type OutboxRecord struct {
	ID          int64
	Op          string
	AggregateID string
	Payload     []byte
	Attempts    int
}

// ListRequest bounds a newest-first history read.
type ListRequest struct {
	AppID  string
	UserID string
	Limit  int
}
