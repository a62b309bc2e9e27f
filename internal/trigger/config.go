// Package trigger implements cron scheduling and webhook handling for
// unattended runtime runs. Each trigger starts a fresh session under a
// configured actor identity and autonomy level; the autonomy policy then
// decides per plan whether execution proceeds or suspends for approval.
package trigger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultScheduleActor = "scheduler"
	defaultWebhookActor  = "webhook"
	defaultAutonomy      = "assisted"
)

// Config is the YAML trigger configuration (reins.triggers.yaml).
type Config struct {
	Schedules []ScheduleTrigger `yaml:"schedule"`
	Webhooks  []WebhookTrigger  `yaml:"webhooks"`
}

// ScheduleTrigger fires a fixed prompt on a cron expression.
type ScheduleTrigger struct {
	Cron        string `yaml:"cron"`
	Prompt      string `yaml:"prompt"`
	Description string `yaml:"description"`
	Actor       string `yaml:"actor"`
	Autonomy    string `yaml:"autonomy"`
}

// WebhookTrigger fires a templated prompt when POST /v1/triggers/{name}
// arrives. The request body is exposed to the template as .payload.
type WebhookTrigger struct {
	Name           string `yaml:"name"`
	PromptTemplate string `yaml:"prompt_template"`
	Actor          string `yaml:"actor"`
	Autonomy       string `yaml:"autonomy"`
}

// LoadConfig reads a trigger configuration from a YAML file and fills in
// per-trigger defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trigger config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing trigger config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Schedules {
		if c.Schedules[i].Actor == "" {
			c.Schedules[i].Actor = defaultScheduleActor
		}
		if c.Schedules[i].Autonomy == "" {
			c.Schedules[i].Autonomy = defaultAutonomy
		}
	}
	for i := range c.Webhooks {
		if c.Webhooks[i].Actor == "" {
			c.Webhooks[i].Actor = defaultWebhookActor
		}
		if c.Webhooks[i].Autonomy == "" {
			c.Webhooks[i].Autonomy = defaultAutonomy
		}
	}
}
