package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/store/storetest"
)

func makeSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, makeSQLiteStore)
}

func TestSQLiteStore_InMemoryCompliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestCreateFromRule_ConcurrentNonRepeatableFiresOnce(t *testing.T) {
	s := makeSQLiteStore(t)
	ctx := context.Background()
	rule, err := s.Rules().Create(ctx, &model.TriggerRule{AppID: "a", TriggerEvent: "signup", IsActive: true, MessageBody: "hi"})
	require.NoError(t, err)
	conv, err := s.Conversations().GetOrCreate(ctx, "a", "u")
	require.NoError(t, err)

	var created, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: "a", UserID: "u", Rule: rule})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, model.ErrDuplicate):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(9), dup.Load())

	// the outbox row is written only for the winner
	recs, err := s.Outbox().Claim(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestListUnread_TiesBrokenByInsertionOrder(t *testing.T) {
	s := makeSQLiteStore(t)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.(*sqliteStore).now = func() time.Time { return fixed }
	ctx := context.Background()

	rule, err := s.Rules().Create(ctx, &model.TriggerRule{AppID: "a", TriggerEvent: "e", IsActive: true, AllowRepeat: true, MessageBody: "x"})
	require.NoError(t, err)
	conv, err := s.Conversations().GetOrCreate(ctx, "a", "u")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 4; i++ {
		m, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: "a", UserID: "u", Rule: rule})
		require.NoError(t, err)
		ids = append(ids, m.MessageID)
	}
	unread, err := s.Messages().ListUnread(ctx, "a", "u")
	require.NoError(t, err)
	require.Len(t, unread, 4)
	for i, m := range unread {
		assert.Equal(t, ids[i], m.MessageID)
		assert.True(t, m.CreationTime.Equal(fixed))
	}
}

func TestOutbox_MarkFailedDelaysRetry(t *testing.T) {
	s := makeSQLiteStore(t)
	ctx := context.Background()
	rule, err := s.Rules().Create(ctx, &model.TriggerRule{AppID: "a", TriggerEvent: "e", IsActive: true, MessageBody: "x"})
	require.NoError(t, err)
	conv, err := s.Conversations().GetOrCreate(ctx, "a", "u")
	require.NoError(t, err)
	_, err = s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: "a", UserID: "u", Rule: rule})
	require.NoError(t, err)

	recs, err := s.Outbox().Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].Attempts)

	require.NoError(t, s.Outbox().MarkFailed(ctx, recs[0].ID))
	recs, err = s.Outbox().Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "failed record must not be due immediately")

	s.(*sqliteStore).now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	recs, err = s.Outbox().Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Attempts)

	require.NoError(t, s.Outbox().MarkDone(ctx, recs[0].ID))
	recs, err = s.Outbox().Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, translate(nil))
	other := errors.New("boom")
	assert.Same(t, other, translate(other))
	// Only typed driver errors are translated.
	text := errors.New("UNIQUE constraint failed: messages.dedup_key")
	assert.Same(t, text, translate(text))

	s := makeSQLiteStore(t)
	ctx := context.Background()
	rule := &model.TriggerRule{RuleID: "welcome", AppID: "acme", TriggerEvent: "signup", MessageBody: "hi", IsActive: true}
	_, err := s.Rules().Create(ctx, rule)
	require.NoError(t, err)
	_, err = s.Rules().Create(ctx, rule)
	assert.ErrorIs(t, err, model.ErrDuplicate)
}
