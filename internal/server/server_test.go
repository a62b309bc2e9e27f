package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-ai/reins/internal/agent"
	"github.com/overwatch-ai/reins/internal/agent/tools"
	"github.com/overwatch-ai/reins/internal/authz"
	"github.com/overwatch-ai/reins/internal/event"
	"github.com/overwatch-ai/reins/internal/eventlog"
	"github.com/overwatch-ai/reins/internal/llm"
	"github.com/overwatch-ai/reins/internal/retry"
	"github.com/overwatch-ai/reins/internal/testutil"
)

const testAPIKey = "test-api-key"

type serverHarness struct {
	api      *httptest.Server
	provider *testutil.ScriptedProvider
	sessions *agent.SessionStore
	plans    *agent.PlanStore
	events   *eventlog.Store
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()

	db := testutil.NewTestDB(t)
	sessions, err := agent.NewSessionStore(db)
	require.NoError(t, err)
	plans, err := agent.NewPlanStore(db)
	require.NoError(t, err)

	events := testutil.NewTestEventStore(t)
	bus := event.NewBus(event.DefaultBufferSize)
	emitter := event.NewEmitter(events, bus)

	checker, err := authz.NewChecker(context.Background(), nil)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	registry.Register(tools.NewFuncTool("write_file", "writes a file", nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			return "written", nil
		}))

	provider := &testutil.ScriptedProvider{}
	runner := agent.NewRunner(agent.RunnerConfig{
		Sessions: sessions,
		Plans:    plans,
		Registry: registry,
		Checker:  checker,
		Emitter:  emitter,
		Router:   llm.NewRouter(provider, nil),
		Retry: retry.NewExecutor(retry.Config{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		}),
		Model: "gpt-4o-mini",
	})

	srv := NewServer(runner, sessions, plans, events, nil, map[string]string{testAPIKey: "user-1"})
	api := httptest.NewServer(srv.Routes())
	t.Cleanup(api.Close)

	return &serverHarness{api: api, provider: provider, sessions: sessions, plans: plans, events: events}
}

func (h *serverHarness) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.api.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Reins-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *serverHarness) createSession(t *testing.T, autonomy string) string {
	t.Helper()
	resp := h.request(t, http.MethodPost, "/v1/sessions", map[string]string{"autonomy": autonomy})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody(t, resp)["session_id"].(string)
}

func finalAnswer(text string) *llm.Response {
	return &llm.Response{Content: text, FinishReason: "stop", InputTokens: 10, OutputTokens: 5}
}

func writePlan() *llm.Response {
	return &llm.Response{
		FinishReason: "tool_calls",
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "a.txt", "content": "x"}},
			{ID: "c2", Name: "write_file", Arguments: map[string]any{"path": "b.txt", "content": "y"}},
		},
	}
}

func TestHealthNoAuth(t *testing.T) {
	h := newServerHarness(t)
	resp, err := http.Get(h.api.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresKey(t *testing.T) {
	h := newServerHarness(t)
	resp, err := http.Post(h.api.URL+"/v1/sessions", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateSession(t *testing.T) {
	h := newServerHarness(t)
	resp := h.request(t, http.MethodPost, "/v1/sessions", map[string]string{"autonomy": "assisted"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["session_id"])
	// The authenticated actor wins over any actor_id in the body.
	assert.Equal(t, "user-1", body["actor_id"])
	assert.Equal(t, "assisted", body["autonomy"])
	assert.Equal(t, "PLANNING", body["status"])
}

func TestCreateSessionInvalidAutonomy(t *testing.T) {
	h := newServerHarness(t)
	resp := h.request(t, http.MethodPost, "/v1/sessions", map[string]string{"autonomy": "yolo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageFinalAnswer(t *testing.T) {
	h := newServerHarness(t)
	h.provider.Responses = []*llm.Response{finalAnswer("All done.")}
	id := h.createSession(t, "assisted")

	resp := h.request(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "All done.", body["answer"])
}

func TestMessageUnknownSession(t *testing.T) {
	h := newServerHarness(t)
	resp := h.request(t, http.MethodPost, "/v1/sessions/ses_nope/messages", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageRequired(t *testing.T) {
	h := newServerHarness(t)
	id := h.createSession(t, "assisted")
	resp := h.request(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlanApprovalFlow(t *testing.T) {
	h := newServerHarness(t)
	h.provider.Responses = []*llm.Response{writePlan(), finalAnswer("done")}
	id := h.createSession(t, "read_only")

	// A write-risk plan under read_only autonomy suspends for approval.
	resp := h.request(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"message": "write the files"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "WAITING_APPROVAL", body["status"])
	planID := body["pending_plan_id"].(string)
	require.NotEmpty(t, planID)

	// The plan shows up in the pending list.
	resp = h.request(t, http.MethodGet, "/v1/plans/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["count"])

	// Approve executes it.
	resp = h.request(t, http.MethodPost, "/v1/plans/"+planID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", decodeBody(t, resp)["status"])

	// Approving again conflicts: the plan already left WAITING_APPROVAL.
	resp = h.request(t, http.MethodPost, "/v1/plans/"+planID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The event log shows the full transition history.
	resp = h.request(t, http.MethodGet, "/v1/sessions/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decodeBody(t, resp)
	assert.Greater(t, events["count"].(float64), float64(5))
}

func TestPlanRejectFlow(t *testing.T) {
	h := newServerHarness(t)
	h.provider.Responses = []*llm.Response{writePlan()}
	id := h.createSession(t, "read_only")

	resp := h.request(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"message": "write the files"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	planID := decodeBody(t, resp)["pending_plan_id"].(string)

	resp = h.request(t, http.MethodPost, "/v1/plans/"+planID+"/reject",
		map[string]string{"reason": "too risky"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", decodeBody(t, resp)["status"])

	// The plan record carries the terminal status.
	resp = h.request(t, http.MethodGet, "/v1/plans/"+planID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REJECTED", decodeBody(t, resp)["status"])
}

func TestApproveUnknownPlan(t *testing.T) {
	h := newServerHarness(t)
	resp := h.request(t, http.MethodPost, "/v1/plans/plan_nope/approve", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionGetAndList(t *testing.T) {
	h := newServerHarness(t)
	id := h.createSession(t, "supervised")

	resp := h.request(t, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, decodeBody(t, resp)["id"])

	resp = h.request(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["count"])

	resp = h.request(t, http.MethodGet, "/v1/sessions/ses_nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionEventsUnknownSession(t *testing.T) {
	h := newServerHarness(t)
	resp := h.request(t, http.MethodGet, "/v1/sessions/ses_nope/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
