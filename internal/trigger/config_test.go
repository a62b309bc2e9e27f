package trigger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	yaml := `
schedule:
  - cron: "0 9 * * 1-5"
    prompt: "Summarize overnight failures"
    description: "weekday morning report"
    actor: "ops-bot"
    autonomy: "supervised"
  - cron: "0 17 * * *"
    prompt: "Evening summary"
webhooks:
  - name: deploy
    prompt_template: "Deploy event: {{.payload.action}}"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Schedules, 2)
	assert.Equal(t, "ops-bot", cfg.Schedules[0].Actor)
	assert.Equal(t, "supervised", cfg.Schedules[0].Autonomy)

	// Unset fields fall back to defaults.
	assert.Equal(t, defaultScheduleActor, cfg.Schedules[1].Actor)
	assert.Equal(t, defaultAutonomy, cfg.Schedules[1].Autonomy)

	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, defaultWebhookActor, cfg.Webhooks[0].Actor)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedule: [not: closed"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
