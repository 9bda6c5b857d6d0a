package triggers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEngine(s store.Store) *Engine {
	return NewEngine(s.Rules(), ledger.New(s), zerolog.Nop())
}

func createRule(t *testing.T, s store.Store, r model.TriggerRule) *model.TriggerRule {
	t.Helper()
	if r.AppID == "" {
		r.AppID = "app"
	}
	r.IsActive = true
	out, err := s.Rules().Create(context.Background(), &r)
	require.NoError(t, err)
	return out
}

func TestEvaluate_NonRepeatableFiresOnce(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{TriggerEvent: "signup", MessageBody: "Welcome aboard"})

	msgs, err := e.Evaluate(ctx, "app", "user", "signup", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Welcome aboard", msgs[0].Body)
	assert.Equal(t, model.DefaultSenderName, msgs[0].SenderName)

	msgs, err = e.Evaluate(ctx, "app", "user", "signup", nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	pending, err := e.Pending(ctx, "app", "user")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEvaluate_ConcurrentDuplicateEventsProduceOneMessage(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{TriggerEvent: "signup", MessageBody: "Welcome"})

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := e.Evaluate(ctx, "app", "user", "signup", nil)
			assert.NoError(t, err)
			mu.Lock()
			total += len(msgs)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)

	pending, err := e.Pending(ctx, "app", "user")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	count, err := s.Conversations().Count(ctx, "app", "user")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEvaluate_RepeatableFiresEveryTime(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{TriggerEvent: "idle", AllowRepeat: true, MessageBody: "Need help?", SenderName: "Ava"})

	for i := 0; i < 3; i++ {
		msgs, err := e.Evaluate(ctx, "app", "user", "idle", nil)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Ava", msgs[0].SenderName)
	}
	pending, err := e.Pending(ctx, "app", "user")
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestEvaluate_Conditions(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{
		TriggerEvent: "page_view", AllowRepeat: true, MessageBody: "Pricing help",
		ConditionKey: "page", ConditionValue: "/pricing",
	})

	tests := []struct {
		name     string
		metadata map[string]string
		want     int
	}{
		{name: "match", metadata: map[string]string{"page": "/pricing"}, want: 1},
		{name: "mismatch", metadata: map[string]string{"page": "/home"}, want: 0},
		{name: "absent key", metadata: map[string]string{"other": "/pricing"}, want: 0},
		{name: "nil metadata", metadata: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := e.Evaluate(ctx, "app", "user-"+tt.name, "page_view", tt.metadata)
			require.NoError(t, err)
			assert.Len(t, msgs, tt.want)
		})
	}
}

func TestEvaluate_HalfConditionIsUnconditional(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{TriggerEvent: "login", MessageBody: "key only", ConditionKey: "plan"})

	msgs, err := e.Evaluate(ctx, "app", "user", "login", map[string]string{"plan": "free"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestEvaluate_IgnoresInactiveAndOtherEvents(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	r := createRule(t, s, model.TriggerRule{TriggerEvent: "signup", MessageBody: "off"})
	require.NoError(t, s.Rules().Deactivate(ctx, "app", r.RuleID))
	createRule(t, s, model.TriggerRule{TriggerEvent: "checkout", MessageBody: "thanks"})
	createRule(t, s, model.TriggerRule{AppID: "other-app", TriggerEvent: "signup", MessageBody: "other"})

	msgs, err := e.Evaluate(ctx, "app", "user", "signup", nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEvaluate_FiresInRuleIDOrder(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{RuleID: "b", TriggerEvent: "signup", MessageBody: "second"})
	createRule(t, s, model.TriggerRule{RuleID: "a", TriggerEvent: "signup", MessageBody: "first"})

	msgs, err := e.Evaluate(ctx, "app", "user", "signup", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
}

// flakyStore fails the repeat check for one rule id.
type flakyStore struct {
	store.Store
	badRule string
}

func (f *flakyStore) Messages() store.Messages {
	return &flakyMessages{Messages: f.Store.Messages(), badRule: f.badRule}
}

type flakyMessages struct {
	store.Messages
	badRule string
}

func (f *flakyMessages) ExistsForRule(ctx context.Context, appID, userID, ruleID string) (bool, error) {
	if ruleID == f.badRule {
		return false, errors.New("disk I/O error")
	}
	return f.Messages.ExistsForRule(ctx, appID, userID, ruleID)
}

func TestEvaluate_RuleFailureIsIsolated(t *testing.T) {
	base := newTestStore(t)
	createRule(t, base, model.TriggerRule{RuleID: "r1", TriggerEvent: "signup", MessageBody: "one"})
	createRule(t, base, model.TriggerRule{RuleID: "r2", TriggerEvent: "signup", MessageBody: "two"})
	createRule(t, base, model.TriggerRule{RuleID: "r3", TriggerEvent: "signup", MessageBody: "three"})

	s := &flakyStore{Store: base, badRule: "r2"}
	e := newEngine(s)

	msgs, err := e.Evaluate(context.Background(), "app", "user", "signup", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "three", msgs[1].Body)
}

func TestEvaluate_RuleFetchFailureIsLedgerUnavailable(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	require.NoError(t, s.Close())

	_, err := e.Evaluate(context.Background(), "app", "user", "signup", nil)
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)

	_, err = e.Pending(context.Background(), "app", "user")
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)
}

func TestEvaluate_Validation(t *testing.T) {
	e := newEngine(newTestStore(t))
	ctx := context.Background()

	for _, args := range [][3]string{{"", "u", "e"}, {"a", "", "e"}, {"a", "u", " "}} {
		_, err := e.Evaluate(ctx, args[0], args[1], args[2], nil)
		assert.True(t, model.IsValidationError(err), "args %v", args)
	}
}

func TestPending_OrderAndReadExclusion(t *testing.T) {
	s := newTestStore(t)
	e := newEngine(s)
	ctx := context.Background()
	createRule(t, s, model.TriggerRule{TriggerEvent: "e1", MessageBody: "first"})
	createRule(t, s, model.TriggerRule{TriggerEvent: "e2", MessageBody: "second"})
	createRule(t, s, model.TriggerRule{TriggerEvent: "e3", MessageBody: "third"})

	empty, err := e.Pending(ctx, "app", "user")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, ev := range []string{"e1", "e2", "e3"} {
		_, err := e.Evaluate(ctx, "app", "user", ev, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	pending, err := e.Pending(ctx, "app", "user")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{pending[0].Body, pending[1].Body, pending[2].Body})

	require.NoError(t, ledger.New(s).MarkRead(ctx, "app", "user", pending[1].MessageID))
	pending, err = e.Pending(ctx, "app", "user")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Body)
	assert.Equal(t, "third", pending[1].Body)
}
