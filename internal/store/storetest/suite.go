package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// Run exercises a minimal compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	// Unique test identifiers
	appID := "app-" + uuid.New().String()
	userID := "u-" + uuid.New().String()

	// Rules
	once, err := s.Rules().Create(ctx, &model.TriggerRule{
		RuleID: "r-1-" + uuid.New().String(), AppID: appID, TriggerEvent: "signup",
		IsActive: true, MessageBody: "Welcome!",
	})
	if err != nil {
		t.Fatalf("CreateRule once: %v", err)
	}
	repeat, err := s.Rules().Create(ctx, &model.TriggerRule{
		RuleID: "r-2-" + uuid.New().String(), AppID: appID, TriggerEvent: "signup",
		IsActive: true, AllowRepeat: true, MessageBody: "Again", SenderName: "Ava",
		ConditionKey: "plan", ConditionValue: "pro",
	})
	if err != nil {
		t.Fatalf("CreateRule repeat: %v", err)
	}
	inactive, err := s.Rules().Create(ctx, &model.TriggerRule{
		RuleID: "r-3-" + uuid.New().String(), AppID: appID, TriggerEvent: "signup",
		IsActive: true, MessageBody: "Gone",
	})
	if err != nil {
		t.Fatalf("CreateRule inactive: %v", err)
	}
	if err := s.Rules().Deactivate(ctx, appID, inactive.RuleID); err != nil {
		t.Fatalf("DeactivateRule: %v", err)
	}
	if err := s.Rules().Deactivate(ctx, appID, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("DeactivateRule missing: want ErrNotFound, got %v", err)
	}
	if got, err := s.Rules().Get(ctx, appID, repeat.RuleID); err != nil || got.ConditionKey != "plan" || got.SenderName != "Ava" || !got.AllowRepeat {
		t.Fatalf("GetRule: got=%+v err=%v", got, err)
	}
	if _, err := s.Rules().Get(ctx, appID, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetRule missing: want ErrNotFound, got %v", err)
	}
	active, err := s.Rules().ListActive(ctx, appID, "signup")
	if err != nil || len(active) != 2 {
		t.Fatalf("ListActive: n=%d err=%v", len(active), err)
	}
	if active[0].RuleID != once.RuleID || active[1].RuleID != repeat.RuleID {
		t.Fatalf("ListActive order: got %s,%s", active[0].RuleID, active[1].RuleID)
	}
	if other, err := s.Rules().ListActive(ctx, "other-"+appID, "signup"); err != nil || len(other) != 0 {
		t.Fatalf("ListActive other app: n=%d err=%v", len(other), err)
	}
	if all, err := s.Rules().List(ctx, appID); err != nil || len(all) != 3 {
		t.Fatalf("ListRules: n=%d err=%v", len(all), err)
	}

	// Events
	for _, name := range []string{"login", "view", "checkout"} {
		if _, err := s.Events().Append(ctx, &model.UserEvent{
			AppID: appID, UserID: userID, EventName: name, Metadata: map[string]string{"step": name},
		}); err != nil {
			t.Fatalf("AppendEvent %s: %v", name, err)
		}
		time.Sleep(2 * time.Millisecond) // ensure monotonic creation time ordering
	}
	evs, err := s.Events().Recent(ctx, model.ListRequest{AppID: appID, UserID: userID, Limit: 2})
	if err != nil || len(evs) != 2 {
		t.Fatalf("RecentEvents limit: n=%d err=%v", len(evs), err)
	}
	if evs[0].EventName != "checkout" || evs[1].EventName != "view" {
		t.Fatalf("RecentEvents order: got %s,%s", evs[0].EventName, evs[1].EventName)
	}
	if evs[0].Metadata["step"] != "checkout" {
		t.Fatalf("RecentEvents metadata: got %v", evs[0].Metadata)
	}
	if all, err := s.Events().Recent(ctx, model.ListRequest{AppID: appID, UserID: userID}); err != nil || len(all) != 3 {
		t.Fatalf("RecentEvents all: n=%d err=%v", len(all), err)
	}

	// Conversations converge under concurrency
	const callers = 8
	convs := make([]*model.Conversation, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			convs[i], errs[i] = s.Conversations().GetOrCreate(ctx, appID, userID)
		}(i)
	}
	wg.Wait()
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("GetOrCreate #%d: %v", i, errs[i])
		}
		if convs[i].ConversationID != convs[0].ConversationID {
			t.Fatalf("GetOrCreate diverged: %s vs %s", convs[i].ConversationID, convs[0].ConversationID)
		}
	}
	if n, err := s.Conversations().Count(ctx, appID, userID); err != nil || n != 1 {
		t.Fatalf("CountConversations: n=%d err=%v", n, err)
	}
	conv := convs[0]

	// Messages
	if ok, err := s.Messages().ExistsForRule(ctx, appID, userID, once.RuleID); err != nil || ok {
		t.Fatalf("ExistsForRule before fire: ok=%v err=%v", ok, err)
	}
	m1, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: appID, UserID: userID, Rule: once})
	if err != nil {
		t.Fatalf("CreateFromRule once: %v", err)
	}
	if m1.SenderName != model.DefaultSenderName || m1.TriggerRuleID == nil || *m1.TriggerRuleID != once.RuleID {
		t.Fatalf("CreateFromRule fields: %+v", m1)
	}
	if _, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: appID, UserID: userID, Rule: once}); !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("CreateFromRule once twice: want ErrDuplicate, got %v", err)
	}
	if ok, err := s.Messages().ExistsForRule(ctx, appID, userID, once.RuleID); err != nil || !ok {
		t.Fatalf("ExistsForRule after fire: ok=%v err=%v", ok, err)
	}
	time.Sleep(2 * time.Millisecond)
	m2, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: appID, UserID: userID, Rule: repeat})
	if err != nil {
		t.Fatalf("CreateFromRule repeat 1: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	m3, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: appID, UserID: userID, Rule: repeat})
	if err != nil {
		t.Fatalf("CreateFromRule repeat 2: %v", err)
	}
	if m2.SenderName != "Ava" {
		t.Fatalf("CreateFromRule sender: got %q", m2.SenderName)
	}

	unread, err := s.Messages().ListUnread(ctx, appID, userID)
	if err != nil || len(unread) != 3 {
		t.Fatalf("ListUnread: n=%d err=%v", len(unread), err)
	}
	if unread[0].MessageID != m1.MessageID || unread[1].MessageID != m2.MessageID || unread[2].MessageID != m3.MessageID {
		t.Fatalf("ListUnread order: got %s,%s,%s", unread[0].MessageID, unread[1].MessageID, unread[2].MessageID)
	}
	if err := s.Messages().MarkRead(ctx, appID, userID, m2.MessageID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := s.Messages().MarkRead(ctx, appID, userID, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("MarkRead missing: want ErrNotFound, got %v", err)
	}
	if err := s.Messages().MarkRead(ctx, appID, "someone-else", m1.MessageID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("MarkRead other user: want ErrNotFound, got %v", err)
	}
	unread, err = s.Messages().ListUnread(ctx, appID, userID)
	if err != nil || len(unread) != 2 || unread[0].MessageID != m1.MessageID || unread[1].MessageID != m3.MessageID {
		t.Fatalf("ListUnread after MarkRead: n=%d err=%v", len(unread), err)
	}
	if empty, err := s.Messages().ListUnread(ctx, appID, "nobody"); err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("ListUnread empty: got=%v err=%v", empty, err)
	}
	recent, err := s.Messages().Recent(ctx, model.ListRequest{AppID: appID, UserID: userID, Limit: 2})
	if err != nil || len(recent) != 2 || recent[0].MessageID != m3.MessageID {
		t.Fatalf("RecentMessages: n=%d err=%v", len(recent), err)
	}
	if !recent[1].IsRead {
		t.Fatalf("RecentMessages: expected %s to be read", recent[1].MessageID)
	}

	// Outbox
	recs, err := s.Outbox().Claim(ctx, 100)
	if err != nil {
		t.Fatalf("ClaimOutbox: %v", err)
	}
	mine := map[string]model.OutboxRecord{}
	for _, r := range recs {
		for _, m := range []*model.Message{m1, m2, m3} {
			if r.AggregateID == m.MessageID {
				mine[r.AggregateID] = r
			}
		}
	}
	if len(mine) != 3 {
		t.Fatalf("ClaimOutbox: expected 3 records for this test, got %d", len(mine))
	}
	for _, r := range mine {
		if r.Op != store.OpMessageCreated || len(r.Payload) == 0 {
			t.Fatalf("ClaimOutbox record: %+v", r)
		}
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].ID > recs[i].ID {
			t.Fatalf("ClaimOutbox order: %d before %d", recs[i-1].ID, recs[i].ID)
		}
	}
	if err := s.Outbox().MarkDone(ctx, mine[m1.MessageID].ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := s.Outbox().MarkFailed(ctx, mine[m2.MessageID].ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	// Rule ids are scoped to their app
	otherApp := "app-b-" + uuid.New().String()
	sharedID := "welcome-" + uuid.New().String()
	ruleA, err := s.Rules().Create(ctx, &model.TriggerRule{
		RuleID: sharedID, AppID: appID, TriggerEvent: "signup", IsActive: true, MessageBody: "Welcome to A",
	})
	if err != nil {
		t.Fatalf("CreateRule shared id app A: %v", err)
	}
	ruleB, err := s.Rules().Create(ctx, &model.TriggerRule{
		RuleID: sharedID, AppID: otherApp, TriggerEvent: "signup", IsActive: true, MessageBody: "Welcome to B",
	})
	if err != nil {
		t.Fatalf("CreateRule shared id app B: %v", err)
	}
	if _, err := s.Rules().Create(ctx, &model.TriggerRule{
		RuleID: sharedID, AppID: otherApp, TriggerEvent: "signup", IsActive: true, MessageBody: "again",
	}); !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("CreateRule same app twice: want ErrDuplicate, got %v", err)
	}
	if got, err := s.Rules().Get(ctx, otherApp, sharedID); err != nil || got.MessageBody != "Welcome to B" {
		t.Fatalf("GetRule app B: got=%+v err=%v", got, err)
	}
	convB, err := s.Conversations().GetOrCreate(ctx, otherApp, userID)
	if err != nil {
		t.Fatalf("GetOrCreate app B: %v", err)
	}
	if _, err := s.Messages().CreateFromRule(ctx, conv, model.FireRequest{AppID: appID, UserID: userID, Rule: ruleA}); err != nil {
		t.Fatalf("CreateFromRule shared id app A: %v", err)
	}
	if _, err := s.Messages().CreateFromRule(ctx, convB, model.FireRequest{AppID: otherApp, UserID: userID, Rule: ruleB}); err != nil {
		t.Fatalf("CreateFromRule shared id app B: %v", err)
	}
	if _, err := s.Messages().CreateFromRule(ctx, convB, model.FireRequest{AppID: otherApp, UserID: userID, Rule: ruleB}); !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("CreateFromRule shared id app B twice: want ErrDuplicate, got %v", err)
	}
	if err := s.Rules().Deactivate(ctx, appID, sharedID); err != nil {
		t.Fatalf("DeactivateRule shared id app A: %v", err)
	}
	if active, err := s.Rules().ListActive(ctx, otherApp, "signup"); err != nil || len(active) != 1 || active[0].RuleID != sharedID {
		t.Fatalf("ListActive app B after deactivating A: n=%d err=%v", len(active), err)
	}
}
