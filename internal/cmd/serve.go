package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/overwatch-ai/reins/internal/server"
	"github.com/overwatch-ai/reins/internal/stream"
	"github.com/overwatch-ai/reins/internal/trigger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reins server with cron triggers and webhook endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> actor id from REINS_API_KEYS
// (comma-separated; each entry key or key:actor_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		actorID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			actorID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = actorID
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	scheduler := trigger.NewScheduler(rt.runner)
	var webhookHandler *trigger.WebhookHandler
	if rt.cfg.TriggerFile != "" {
		triggerCfg, err := trigger.LoadConfig(rt.cfg.TriggerFile)
		if err != nil {
			return fmt.Errorf("loading trigger config: %w", err)
		}
		if err := scheduler.RegisterSchedules(triggerCfg); err != nil {
			return fmt.Errorf("registering schedules: %w", err)
		}
		webhookHandler = trigger.NewWebhookHandler(rt.runner, triggerCfg)
	}
	scheduler.Start()
	defer scheduler.Stop()

	apiKeys := parseAPIKeys(os.Getenv("REINS_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("REINS_API_KEYS not set — all API endpoints will return 401. Set for production.")
	}

	opts := []server.Option{
		server.WithCORSOrigins([]string{"*"}),
	}
	if rt.cfg.GlobalRateRPM > 0 && rt.cfg.ActorRateRPM > 0 {
		opts = append(opts, server.WithRateLimiter(
			server.NewRateLimiter(rt.cfg.GlobalRateRPM, rt.cfg.ActorRateRPM)))
	}
	if webhookHandler != nil {
		opts = append(opts, server.WithWebhookHandler(http.HandlerFunc(webhookHandler.HandleWebhook)))
	}

	gateway := stream.NewGateway(rt.sessions, rt.events, rt.bus)
	srv := server.NewServer(rt.runner, rt.sessions, rt.plans, rt.events, gateway, apiKeys, opts...)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("cron_entries", scheduler.Entries()).
		Str("model", rt.cfg.DefaultModel).
		Msg("reins_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
