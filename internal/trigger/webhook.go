package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// WebhookHandler handles incoming webhook triggers.
type WebhookHandler struct {
	runner   SessionRunner
	webhooks map[string]WebhookTrigger
}

// NewWebhookHandler creates a handler from the trigger configuration.
func NewWebhookHandler(runner SessionRunner, cfg *Config) *WebhookHandler {
	wh := &WebhookHandler{
		runner:   runner,
		webhooks: make(map[string]WebhookTrigger),
	}
	if cfg != nil {
		for _, w := range cfg.Webhooks {
			wh.webhooks[w.Name] = w
		}
	}
	return wh
}

// webhookResponse is the JSON response for a webhook execution.
type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleWebhook processes an incoming webhook trigger.
func (wh *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	trigger, ok := wh.webhooks[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(webhookResponse{Status: "error", Error: fmt.Sprintf("trigger %q not found", name)})
		return
	}

	var payload interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(webhookResponse{Status: "error", Error: "invalid JSON body"})
		return
	}

	prompt, err := renderTemplate(trigger.PromptTemplate, map[string]interface{}{"payload": payload})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(webhookResponse{Status: "error", Error: fmt.Sprintf("template error: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), triggerRunTimeout)
	defer cancel()

	invocationType := "webhook:" + name

	log.Info().
		Str("actor_id", trigger.Actor).
		Str("trigger", name).
		Msg("webhook_trigger_fired")

	if err := wh.runner.RunFromTrigger(ctx, trigger.Actor, trigger.Autonomy, prompt, invocationType); err != nil {
		log.Error().Err(err).
			Str("actor_id", trigger.Actor).
			Str("trigger", name).
			Msg("webhook_trigger_failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(webhookResponse{Status: "error", Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(webhookResponse{Status: "ok", Message: "trigger executed"})
}

// renderTemplate renders a Go text/template with the given data.
func renderTemplate(tmplStr string, data interface{}) (string, error) {
	tmpl, err := template.New("webhook").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}
