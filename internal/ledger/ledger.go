// Package ledger owns conversations, messages and the event history they are derived from.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// Ledger records events and messages on top of a store.Store.
// Storage faults surface as model.ErrLedgerUnavailable; uniqueness losses as model.ErrDuplicate.
type Ledger struct {
	store store.Store
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// History is the recent behavior snapshot a suggestion is computed from.
type History struct {
	Events   []*model.UserEvent
	Messages []*model.Message
}

// Record appends a user event.
func (l *Ledger) Record(ctx context.Context, ev *model.UserEvent) (*model.UserEvent, error) {
	if err := requireIDs(ev.AppID, ev.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.EventName) == "" {
		return nil, model.NewValidationError("eventName", "is required")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	out, err := l.store.Events().Append(ctx, ev)
	if err != nil {
		return nil, model.Unavailable("record event", err)
	}
	return out, nil
}

// GetOrCreateConversation returns the single conversation for the user, creating it if needed.
func (l *Ledger) GetOrCreateConversation(ctx context.Context, appID, userID string) (*model.Conversation, error) {
	if err := requireIDs(appID, userID); err != nil {
		return nil, err
	}
	conv, err := l.store.Conversations().GetOrCreate(ctx, appID, userID)
	if err != nil {
		return nil, model.Unavailable("get or create conversation", err)
	}
	return conv, nil
}

// Fire creates the rule's message in the user's conversation.
// A non-repeatable rule that already fired returns model.ErrDuplicate.
func (l *Ledger) Fire(ctx context.Context, rule *model.TriggerRule, appID, userID string) (*model.Message, error) {
	conv, err := l.GetOrCreateConversation(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	msg, err := l.store.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: appID, UserID: userID, Rule: rule})
	if errors.Is(err, model.ErrDuplicate) {
		return nil, err
	}
	if err != nil {
		return nil, model.Unavailable("create message", err)
	}
	return msg, nil
}

// HasFired reports whether any message for the rule exists for the user.
func (l *Ledger) HasFired(ctx context.Context, appID, userID, ruleID string) (bool, error) {
	ok, err := l.store.Messages().ExistsForRule(ctx, appID, userID, ruleID)
	if err != nil {
		return false, model.Unavailable("check rule history", err)
	}
	return ok, nil
}

// Pending returns unread messages oldest first. Never nil on success.
func (l *Ledger) Pending(ctx context.Context, appID, userID string) ([]*model.Message, error) {
	if err := requireIDs(appID, userID); err != nil {
		return nil, err
	}
	msgs, err := l.store.Messages().ListUnread(ctx, appID, userID)
	if err != nil {
		return nil, model.Unavailable("list pending", err)
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return msgs, nil
}

// MarkRead flips a message to read. Marking an already read message is a no-op.
func (l *Ledger) MarkRead(ctx context.Context, appID, userID, messageID string) error {
	if err := requireIDs(appID, userID); err != nil {
		return err
	}
	if strings.TrimSpace(messageID) == "" {
		return model.NewValidationError("messageId", "is required")
	}
	err := l.store.Messages().MarkRead(ctx, appID, userID, messageID)
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	if err != nil {
		return model.Unavailable("mark read", err)
	}
	return nil
}

// History reads the newest maxEvents events and maxMessages messages for the user.
func (l *Ledger) History(ctx context.Context, appID, userID string, maxEvents, maxMessages int) (*History, error) {
	if err := requireIDs(appID, userID); err != nil {
		return nil, err
	}
	evs, err := l.store.Events().Recent(ctx, model.ListRequest{AppID: appID, UserID: userID, Limit: maxEvents})
	if err != nil {
		return nil, model.Unavailable("read events", err)
	}
	msgs, err := l.store.Messages().Recent(ctx, model.ListRequest{AppID: appID, UserID: userID, Limit: maxMessages})
	if err != nil {
		return nil, model.Unavailable("read messages", err)
	}
	return &History{Events: evs, Messages: msgs}, nil
}

func requireIDs(appID, userID string) error {
	if strings.TrimSpace(appID) == "" {
		return model.NewValidationError("appId", "is required")
	}
	if strings.TrimSpace(userID) == "" {
		return model.NewValidationError("userId", "is required")
	}
	return nil
}
