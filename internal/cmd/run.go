package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overwatch-ai/reins/internal/agent"
)

var (
	runAutonomy string
	runActor    string
	runSession  string
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a prompt through the agent runtime from the terminal",
	Long: `Run starts a session (or continues one with --session), sends the prompt
through the planning loop, and prints the result.

When the model proposes a plan above the session's autonomy level, the run
suspends and prints the pending plan id; resolve it with
"reins plans approve <plan-id>" or "reins plans reject <plan-id>".`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAutonomy, "autonomy", "recommendations", "session autonomy level (read_only, recommendations, assisted, supervised)")
	runCmd.Flags().StringVar(&runActor, "actor", "cli", "actor identity for authorization")
	runCmd.Flags().StringVar(&runSession, "session", "", "continue an existing session instead of starting a new one")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall run timeout")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "run")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID := runSession
	if sessionID == "" {
		session, err := rt.runner.StartSession(ctx, runActor, agent.Autonomy(runAutonomy))
		if err != nil {
			return err
		}
		sessionID = session.ID
	}

	session, err := rt.runner.HandleMessage(ctx, sessionID, args[0])
	if err != nil {
		return err
	}

	switch session.Status {
	case agent.SessionWaitingApproval:
		fmt.Printf("Session %s is waiting for approval.\n", session.ID)
		fmt.Printf("Pending plan: %s\n", session.PendingPlanID)
		fmt.Printf("Resolve with: reins plans approve %s\n", session.PendingPlanID)
	case agent.SessionCompletedWithErrors:
		fmt.Printf("Session %s completed with errors (see reins events %s).\n", session.ID, session.ID)
		printAnswer(session)
	default:
		printAnswer(session)
		fmt.Printf("\nSession: %s (%s)\n", session.ID, session.Status)
	}
	return nil
}

func printAnswer(session *agent.Session) {
	for i := len(session.Turns) - 1; i >= 0; i-- {
		if session.Turns[i].Role == "assistant" && session.Turns[i].Content != "" {
			fmt.Println(session.Turns[i].Content)
			return
		}
	}
}
