package trigger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookRouter(handler *WebhookHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/v1/triggers/{name}", handler.HandleWebhook)
	return r
}

func TestHandleWebhook_RendersTemplate(t *testing.T) {
	runner := &mockRunner{}
	cfg := &Config{
		Webhooks: []WebhookTrigger{
			{Name: "deploy", PromptTemplate: "Deploy event: {{.payload.action}}", Actor: "ci", Autonomy: "assisted"},
		},
	}
	handler := NewWebhookHandler(runner, cfg)
	router := webhookRouter(handler)

	body, _ := json.Marshal(map[string]string{"action": "completed"})
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/deploy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "ci:assisted:")
	assert.Contains(t, runner.calls[0], "Deploy event: completed")
	assert.Contains(t, runner.calls[0], "webhook:deploy")
}

func TestHandleWebhook_UnknownTrigger(t *testing.T) {
	runner := &mockRunner{}
	handler := NewWebhookHandler(runner, &Config{})
	router := webhookRouter(handler)

	body, _ := json.Marshal(map[string]string{"action": "test"})
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/unknown", bytes.NewReader(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	runner := &mockRunner{}
	cfg := &Config{
		Webhooks: []WebhookTrigger{
			{Name: "test", PromptTemplate: "{{.payload}}", Actor: "webhook", Autonomy: "assisted"},
		},
	}
	handler := NewWebhookHandler(runner, cfg)
	router := webhookRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/test", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_ReturnsSuccess(t *testing.T) {
	runner := &mockRunner{}
	cfg := &Config{
		Webhooks: []WebhookTrigger{
			{Name: "notify", PromptTemplate: "Alert: {{.payload.msg}}", Actor: "webhook", Autonomy: "assisted"},
		},
	}
	handler := NewWebhookHandler(runner, cfg)
	router := webhookRouter(handler)

	body, _ := json.Marshal(map[string]string{"msg": "server down"})
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/notify", bytes.NewReader(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
