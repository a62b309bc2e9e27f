package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/overwatch-ai/reins/internal/agent"
	"github.com/overwatch-ai/reins/internal/agent/tools"
	"github.com/overwatch-ai/reins/internal/authz"
	"github.com/overwatch-ai/reins/internal/config"
	"github.com/overwatch-ai/reins/internal/event"
	"github.com/overwatch-ai/reins/internal/eventlog"
	"github.com/overwatch-ai/reins/internal/llm"
	"github.com/overwatch-ai/reins/internal/retry"
)

// runtimeDeps is the assembled runtime shared by serve, run, and the
// plans/events commands: stores, bus, and the state machine runner.
type runtimeDeps struct {
	cfg      *config.Config
	db       *sql.DB
	sessions *agent.SessionStore
	plans    *agent.PlanStore
	events   *eventlog.Store
	bus      *event.Bus
	runner   *agent.Runner
}

// buildRuntime loads configuration and wires every runtime dependency.
// Callers must Close() the result.
func buildRuntime(ctx context.Context) (*runtimeDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	db, err := sql.Open("sqlite3", cfg.SessionsDBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sessions database: %w", err)
	}
	sessions, err := agent.NewSessionStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing session store: %w", err)
	}
	plans, err := agent.NewPlanStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing plan store: %w", err)
	}

	events, err := eventlog.NewStore(cfg.EventsDBPath(), cfg.SigningKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing event log: %w", err)
	}

	bus := event.NewBus(event.DefaultBufferSize)
	emitter := event.NewEmitter(events, bus)

	caps := tools.DefaultCapabilities()
	if cfg.CapabilityFile != "" {
		caps, err = tools.LoadCapabilities(cfg.CapabilityFile)
		if err != nil {
			_ = db.Close()
			_ = events.Close()
			return nil, fmt.Errorf("loading capability file: %w", err)
		}
	}

	var authzCfg *authz.Config
	if cfg.AuthzFile != "" {
		authzCfg, err = authz.LoadConfig(cfg.AuthzFile)
		if err != nil {
			_ = db.Close()
			_ = events.Close()
			return nil, fmt.Errorf("loading authz file: %w", err)
		}
	}
	checker, err := authz.NewChecker(ctx, authzCfg)
	if err != nil {
		_ = db.Close()
		_ = events.Close()
		return nil, fmt.Errorf("initializing authorization checker: %w", err)
	}

	workDir := filepath.Join(cfg.DataDir, "workspace")
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		_ = db.Close()
		_ = events.Close()
		return nil, fmt.Errorf("creating tool workspace: %w", err)
	}
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, workDir)

	runner := agent.NewRunner(agent.RunnerConfig{
		Sessions:     sessions,
		Plans:        plans,
		Registry:     registry,
		Capabilities: caps,
		Checker:      checker,
		Emitter:      emitter,
		Router:       buildRouter(cfg),
		Retry: retry.NewExecutor(retry.Config{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
		}),
		Model:         cfg.DefaultModel,
		MaxIterations: cfg.MaxIterations,
		PlanThreshold: cfg.PlanThreshold,
	})

	return &runtimeDeps{
		cfg:      cfg,
		db:       db,
		sessions: sessions,
		plans:    plans,
		events:   events,
		bus:      bus,
		runner:   runner,
	}, nil
}

// buildRouter assembles the provider router from config and environment.
// A missing OPENAI_API_KEY leaves the openai side nil; the router surfaces
// that as a provider-not-available error only when a model resolves to it.
func buildRouter(cfg *config.Config) *llm.Router {
	var openaiProvider llm.Provider
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.OpenAIBaseURL != "" {
			openaiProvider = llm.NewOpenAIProviderWithBaseURL(key, cfg.OpenAIBaseURL)
		} else {
			openaiProvider = llm.NewOpenAIProvider(key)
		}
	} else {
		log.Debug().Msg("OPENAI_API_KEY not set, openai provider disabled")
	}
	return llm.NewRouter(openaiProvider, llm.NewOllamaProvider(cfg.OllamaBaseURL))
}

// Close releases the databases.
func (r *runtimeDeps) Close() {
	if err := r.events.Close(); err != nil {
		log.Warn().Err(err).Msg("closing event log")
	}
	if err := r.db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing sessions database")
	}
}
