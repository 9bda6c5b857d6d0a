package store

import (
	"context"

	"github.com/LanreCloud/minicoach/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
type Store interface {
	Rules() Rules
	Events() Events
	Conversations() Conversations
	Messages() Messages
	Outbox() Outbox
	Close() error
}

// Rules is read-only from the engine's point of view; Create and Deactivate serve admin tooling.
type Rules interface {
	Create(ctx context.Context, r *model.TriggerRule) (*model.TriggerRule, error)
	Get(ctx context.Context, appID, ruleID string) (*model.TriggerRule, error)
	// ListActive returns active rules for the event ordered by rule id.
	ListActive(ctx context.Context, appID, eventName string) ([]*model.TriggerRule, error)
	List(ctx context.Context, appID string) ([]*model.TriggerRule, error)
	Deactivate(ctx context.Context, appID, ruleID string) error
}

type Events interface {
	Append(ctx context.Context, e *model.UserEvent) (*model.UserEvent, error)
	// Recent returns the newest events first.
	Recent(ctx context.Context, req model.ListRequest) ([]*model.UserEvent, error)
}

type Conversations interface {
	// GetOrCreate must converge on a single record under concurrent callers.
	GetOrCreate(ctx context.Context, appID, userID string) (*model.Conversation, error)
	Count(ctx context.Context, appID, userID string) (int, error)
}

type Messages interface {
	// CreateFromRule inserts the rule's message and a message_created outbox row.
	// For non-repeatable rules a lost uniqueness race returns model.ErrDuplicate.
	CreateFromRule(ctx context.Context, conv *model.Conversation, req model.FireRequest) (*model.Message, error)
	ExistsForRule(ctx context.Context, appID, userID, ruleID string) (bool, error)
	// ListUnread returns unread messages oldest first.
	ListUnread(ctx context.Context, appID, userID string) ([]*model.Message, error)
	// Recent returns the newest messages first.
	Recent(ctx context.Context, req model.ListRequest) ([]*model.Message, error)
	MarkRead(ctx context.Context, appID, userID, messageID string) error
}

// Outbox exposes side-effect records for the relay worker.
type Outbox interface {
	// Claim returns up to limit records that are due, oldest first.
	Claim(ctx context.Context, limit int) ([]model.OutboxRecord, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}

// OpMessageCreated is the outbox op written for every fired message.
const OpMessageCreated = "message_created"

// DedupKey is the uniqueness key for a non-repeatable rule fire.
func DedupKey(appID, userID, ruleID string) string {
	return appID + "\x1f" + userID + "\x1f" + ruleID
}
