package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/store/sqlite"
	"github.com/LanreCloud/minicoach/internal/suggest"
	"github.com/LanreCloud/minicoach/internal/triggers"
)

type testEnv struct {
	srv   *httptest.Server
	store store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	l := ledger.New(st)
	log := zerolog.Nop()
	router := NewRouter(Deps{
		Store:   st,
		Ledger:  l,
		Engine:  triggers.NewEngine(st.Rules(), l, log),
		Suggest: suggest.NewService(l, suggest.Options{}, log),
		Log:     log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = st.Close()
	})
	return &testEnv{srv: srv, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (e *testEnv) createRule(t *testing.T, appID string, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	resp, out := e.do(t, "POST", "/api/apps/"+appID+"/rules", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return out
}

func TestEventFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "acme", map[string]interface{}{
		"triggerEvent": "signup", "messageBody": "Welcome to Acme!", "senderName": "Ava",
	})

	resp, out := env.do(t, "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{"eventName": "signup"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])
	msgs := out["messages"].([]interface{})
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "Welcome to Acme!", first["body"])
	assert.Equal(t, "Ava", first["senderName"])
	assert.NotEmpty(t, first["id"])

	// Second signup does not fire a non-repeatable rule again
	resp, out = env.do(t, "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{"eventName": "signup"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 0, out["count"])
	assert.NotNil(t, out["messages"])

	// Pending
	resp, out = env.do(t, "GET", "/api/apps/acme/users/u1/messages/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])
	id := out["messages"].([]interface{})[0].(map[string]interface{})["id"].(string)

	// Mark read
	resp, _ = env.do(t, "POST", "/api/apps/acme/users/u1/messages/"+id+"/read", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = env.do(t, "GET", "/api/apps/acme/users/u1/messages/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, out["count"])
	assert.Equal(t, []interface{}{}, out["messages"])
}

func TestEventMetadataCoercion(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "acme", map[string]interface{}{
		"triggerEvent": "upgrade", "messageBody": "Thanks for going annual", "allowRepeat": true,
		"conditionKey": "annual", "conditionValue": "true",
	})

	resp, out := env.do(t, "POST", "/api/apps/acme/users/u1/events", `{"eventName":"upgrade","metadata":{"annual":true,"seats":3}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])

	resp, out = env.do(t, "POST", "/api/apps/acme/users/u1/events", `{"eventName":"upgrade","metadata":{"annual":false}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 0, out["count"])

	// Bools and whole numbers take their JSON spelling
	env.createRule(t, "acme", map[string]interface{}{
		"ruleId": "renew-capitalized", "triggerEvent": "renew", "messageBody": "never", "allowRepeat": true,
		"conditionKey": "annual", "conditionValue": "True",
	})
	env.createRule(t, "acme", map[string]interface{}{
		"ruleId": "renew-one-seat", "triggerEvent": "renew", "messageBody": "solo", "allowRepeat": true,
		"conditionKey": "seats", "conditionValue": "1",
	})
	resp, out = env.do(t, "POST", "/api/apps/acme/users/u2/events", `{"eventName":"renew","metadata":{"annual":true,"seats":1.0}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 1, out["count"])
	assert.Equal(t, "solo", out["messages"].([]interface{})[0].(map[string]interface{})["body"])

	evs, err := env.store.Events().Recent(context.Background(), model.ListRequest{AppID: "acme", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "3", evs[1].Metadata["seats"])
}

func TestConcurrentEventsFireOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "acme", map[string]interface{}{"triggerEvent": "signup", "messageBody": "hi"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0.0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, out := env.do(t, "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{"eventName": "signup"})
			if assert.Equal(t, http.StatusCreated, resp.StatusCode) {
				mu.Lock()
				total += out["count"].(float64)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1.0, total)
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
	}{
		{"invalid json", "POST", "/api/apps/acme/users/u1/events", "{", http.StatusBadRequest},
		{"missing event name", "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{}, http.StatusBadRequest},
		{"metadata array", "POST", "/api/apps/acme/users/u1/events", `{"eventName":"x","metadata":[1]}`, http.StatusBadRequest},
		{"bad user id", "GET", "/api/apps/acme/users/bad%20id/messages/pending", nil, http.StatusBadRequest},
		{"unknown message", "POST", "/api/apps/acme/users/u1/messages/nope/read", nil, http.StatusNotFound},
		{"rule without body", "POST", "/api/apps/acme/rules", map[string]interface{}{"triggerEvent": "x"}, http.StatusBadRequest},
		{"deactivate unknown rule", "POST", "/api/apps/acme/rules/nope/deactivate", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode, out)
		})
	}
}

func TestRuleAdmin(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRule(t, "acme", map[string]interface{}{"ruleId": "welcome", "triggerEvent": "signup", "messageBody": "hi"})
	assert.Equal(t, "welcome", created["ruleId"])
	assert.Equal(t, true, created["isActive"])

	resp, _ := env.do(t, "POST", "/api/apps/acme/rules", map[string]interface{}{"ruleId": "welcome", "triggerEvent": "signup", "messageBody": "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Another app may reuse the id
	other := env.createRule(t, "globex", map[string]interface{}{"ruleId": "welcome", "triggerEvent": "signup", "messageBody": "hello"})
	assert.Equal(t, "welcome", other["ruleId"])
	resp, out := env.do(t, "POST", "/api/apps/globex/users/u1/events", map[string]interface{}{"eventName": "signup"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])

	resp, out = env.do(t, "GET", "/api/apps/acme/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])

	resp, _ = env.do(t, "POST", "/api/apps/acme/rules/welcome/deactivate", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = env.do(t, "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{"eventName": "signup"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 0, out["count"])
}

func TestSuggestions(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, "GET", "/api/apps/acme/users/u1/suggestions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, suggest.ModeRuleBased, out["mode"])
	assert.EqualValues(t, 1, out["count"])
	s := out["suggestions"].([]interface{})[0].(map[string]interface{})
	assert.True(t, strings.HasPrefix(s["text"].(string), "🌱 u1"))
	assert.Equal(t, "medium", s["confidence"])
	assert.Equal(t, suggest.MatchedReason, s["reason"])
}

func TestStorageDownIs503(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	resp, _ := env.do(t, "GET", "/api/apps/acme/users/u1/messages/pending", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = env.do(t, "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{"eventName": "signup"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = env.do(t, "GET", "/api/apps/acme/users/u1/suggestions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "acme", map[string]interface{}{"triggerEvent": "signup", "messageBody": "hi"})
	env.do(t, "POST", "/api/apps/acme/users/u1/events", map[string]interface{}{"eventName": "signup"})

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), "coach_trigger_rules_total")
	assert.Contains(t, buf.String(), "coach_events_total")
}
