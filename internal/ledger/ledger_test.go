package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/store/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func TestGetOrCreateConversation_ConcurrentCallersConverge(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := l.GetOrCreateConversation(ctx, "app", "user")
			if assert.NoError(t, err) {
				ids[i] = conv.ConversationID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	count, err := s.Conversations().Count(ctx, "app", "user")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFire(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	once, err := s.Rules().Create(ctx, &model.TriggerRule{AppID: "app", TriggerEvent: "signup", IsActive: true, MessageBody: "Welcome"})
	require.NoError(t, err)

	fired, err := l.HasFired(ctx, "app", "user", once.RuleID)
	require.NoError(t, err)
	assert.False(t, fired)

	msg, err := l.Fire(ctx, once, "app", "user")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", msg.Body)
	assert.Equal(t, model.DefaultSenderName, msg.SenderName)
	assert.False(t, msg.IsRead)

	_, err = l.Fire(ctx, once, "app", "user")
	assert.ErrorIs(t, err, model.ErrDuplicate)
	assert.NotErrorIs(t, err, model.ErrLedgerUnavailable)

	fired, err = l.HasFired(ctx, "app", "user", once.RuleID)
	require.NoError(t, err)
	assert.True(t, fired)

	// another user of the same app gets their own message
	_, err = l.Fire(ctx, once, "app", "other")
	require.NoError(t, err)
}

func TestPendingAndMarkRead(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	rule, err := s.Rules().Create(ctx, &model.TriggerRule{AppID: "app", TriggerEvent: "e", IsActive: true, AllowRepeat: true, MessageBody: "tip"})
	require.NoError(t, err)

	pending, err := l.Pending(ctx, "app", "user")
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)

	first, err := l.Fire(ctx, rule, "app", "user")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := l.Fire(ctx, rule, "app", "user")
	require.NoError(t, err)

	pending, err = l.Pending(ctx, "app", "user")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.MessageID, pending[0].MessageID)
	assert.Equal(t, second.MessageID, pending[1].MessageID)

	require.NoError(t, l.MarkRead(ctx, "app", "user", first.MessageID))
	require.NoError(t, l.MarkRead(ctx, "app", "user", first.MessageID), "marking twice is a no-op")
	assert.ErrorIs(t, l.MarkRead(ctx, "app", "user", "missing"), model.ErrNotFound)
	assert.True(t, model.IsValidationError(l.MarkRead(ctx, "app", "user", " ")))

	pending, err = l.Pending(ctx, "app", "user")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.MessageID, pending[0].MessageID)
}

func TestRecordAndHistory(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := l.Record(ctx, &model.UserEvent{AppID: "app", UserID: "user", EventName: name})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	h, err := l.History(ctx, "app", "user", 2, 20)
	require.NoError(t, err)
	require.Len(t, h.Events, 2)
	assert.Equal(t, "c", h.Events[0].EventName)
	assert.Equal(t, "b", h.Events[1].EventName)
	assert.Empty(t, h.Messages)
}

func TestValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, &model.UserEvent{AppID: "app", UserID: "user"})
	assert.True(t, model.IsValidationError(err))
	_, err = l.GetOrCreateConversation(ctx, "", "user")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = l.Pending(ctx, "app", "")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = l.History(ctx, " ", "user", 1, 1)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestStorageFailureIsLedgerUnavailable(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := l.Pending(ctx, "app", "user")
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)
	_, err = l.GetOrCreateConversation(ctx, "app", "user")
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)
	_, err = l.Record(ctx, &model.UserEvent{AppID: "app", UserID: "user", EventName: "x"})
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)
	_, err = l.History(ctx, "app", "user", 50, 20)
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)
}
