// Package config holds OPERATOR-LEVEL configuration for a reins installation.
//
// This is infrastructure config set by whoever deploys the runtime, not
// per-session or per-actor configuration. Autonomy levels and tool denylists
// travel with sessions and the authz config; this package covers the process:
// data directory, event signing key, runtime loop limits, retry defaults,
// model provider endpoints. Set via env vars (REINS_*) or reins.config.yaml.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the REINS_ prefix
// (e.g. "signing_key" → REINS_SIGNING_KEY) and to a YAML field
// in reins.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeySigningKey       = "signing_key"
	KeyMaxIterations    = "max_iterations"
	KeyPlanThreshold    = "plan_threshold"
	KeyMaxRetries       = "max_retries"
	KeyRetryBaseDelayMS = "retry_base_delay_ms"
	KeyRetryMaxDelayMS  = "retry_max_delay_ms"
	KeyOpenAIBaseURL    = "openai_base_url"
	KeyOllamaBaseURL    = "ollama_base_url"
	KeyDefaultModel     = "default_model"
	KeyCapabilityFile   = "capability_file"
	KeyAuthzFile        = "authz_file"
	KeyTriggerFile      = "trigger_file"
	KeyGlobalRateRPM    = "global_rate_rpm"
	KeyActorRateRPM     = "actor_rate_rpm"
)

// Defaults that do not involve crypto material. The signing key intentionally
// has no baked-in default — when unset we derive a per-machine fallback and
// warn loudly.
const (
	DefaultMaxIterations = 8
	DefaultPlanThreshold = 2
	DefaultMaxRetries    = 3
	DefaultRetryBaseMS   = 500
	DefaultRetryMaxMS    = 10_000
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultModel         = "gpt-4o-mini"
	DefaultGlobalRateRPM = 600
	DefaultActorRateRPM  = 120
)

// Config holds resolved operator-level configuration for a reins process.
type Config struct {
	DataDir        string        // Base directory for all state (~/.reins)
	SigningKey     string        // HMAC-SHA256 key for event log signing (≥32 bytes)
	MaxIterations  int           // Runtime loop cap before forcing ERROR
	PlanThreshold  int           // Tool-call count at which a response becomes a Plan
	MaxRetries     int           // Retry executor: retries after the first attempt
	RetryBaseDelay time.Duration // Retry executor: base backoff delay
	RetryMaxDelay  time.Duration // Retry executor: backoff cap
	OpenAIBaseURL  string        // Optional override for the OpenAI-compatible endpoint
	OllamaBaseURL  string        // Ollama API endpoint
	DefaultModel   string        // Model handed to the provider router
	CapabilityFile string        // YAML tool capability (risk) table, optional
	AuthzFile      string        // YAML actor denylist config, optional
	TriggerFile    string        // YAML cron/webhook trigger config, optional
	GlobalRateRPM  int           // API rate limit across all actors, requests/min; 0 disables
	ActorRateRPM   int           // API rate limit per actor, requests/min; 0 disables

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the event signing key was derived
// rather than set explicitly. Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// SessionsDBPath returns the full path to the sessions/plans SQLite database.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// EventsDBPath returns the full path to the event log SQLite database.
func (c *Config) EventsDBPath() string {
	return filepath.Join(c.DataDir, "events.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
// Suppressed when REINS_QUICKSTART=1 (first-time exploration, demos).
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default REINS_SIGNING_KEY — set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("REINS_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("REINS")
	viper.AutomaticEnv()
	viper.SetDefault(KeyMaxIterations, DefaultMaxIterations)
	viper.SetDefault(KeyPlanThreshold, DefaultPlanThreshold)
	viper.SetDefault(KeyMaxRetries, DefaultMaxRetries)
	viper.SetDefault(KeyRetryBaseDelayMS, DefaultRetryBaseMS)
	viper.SetDefault(KeyRetryMaxDelayMS, DefaultRetryMaxMS)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyDefaultModel, DefaultModel)
	viper.SetDefault(KeyGlobalRateRPM, DefaultGlobalRateRPM)
	viper.SetDefault(KeyActorRateRPM, DefaultActorRateRPM)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		SigningKey:     viper.GetString(KeySigningKey),
		MaxIterations:  viper.GetInt(KeyMaxIterations),
		PlanThreshold:  viper.GetInt(KeyPlanThreshold),
		MaxRetries:     viper.GetInt(KeyMaxRetries),
		RetryBaseDelay: time.Duration(viper.GetInt(KeyRetryBaseDelayMS)) * time.Millisecond,
		RetryMaxDelay:  time.Duration(viper.GetInt(KeyRetryMaxDelayMS)) * time.Millisecond,
		OpenAIBaseURL:  viper.GetString(KeyOpenAIBaseURL),
		OllamaBaseURL:  viper.GetString(KeyOllamaBaseURL),
		DefaultModel:   viper.GetString(KeyDefaultModel),
		CapabilityFile: viper.GetString(KeyCapabilityFile),
		AuthzFile:      viper.GetString(KeyAuthzFile),
		TriggerFile:    viper.GetString(KeyTriggerFile),
		GlobalRateRPM:  viper.GetInt(KeyGlobalRateRPM),
		ActorRateRPM:   viper.GetInt(KeyActorRateRPM),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "event-log-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reins"
	}
	return filepath.Join(home, ".reins")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong — it
// exists solely so `reins run` works out of the box while still signing the
// event log with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("reins:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.PlanThreshold < 1 {
		return fmt.Errorf("plan_threshold must be at least 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base <= max")
	}
	if c.GlobalRateRPM < 0 || c.ActorRateRPM < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 even-length hex
// characters (decoded length ≥32 for HMAC-SHA256).
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set REINS_SIGNING_KEY", n)
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
