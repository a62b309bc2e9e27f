package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/overwatch-ai/reins/internal/event"
)

var (
	eventsExport string
	eventsVerify bool
)

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show the event log for a session",
	Long: `Events prints a session's full event history in log order, or exports it
as JSON Lines with --export. With --verify each event's HMAC signature is
checked against the log's signing key.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsExport, "export", "", "write events as JSONL to this file instead of printing")
	eventsCmd.Flags().BoolVar(&eventsVerify, "verify", false, "verify event signatures")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "events")
	defer span.End()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID := args[0]

	if eventsExport != "" {
		f, err := os.Create(eventsExport)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		n, err := rt.events.ExportJSONL(ctx, sessionID, f)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d events to %s\n", n, eventsExport)
		return nil
	}

	events, err := rt.events.BySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No events for session %s.\n", sessionID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if eventsVerify {
		fmt.Fprintln(w, "TIME\tTYPE\tPLAN\tSIGNATURE\tDETAIL")
	} else {
		fmt.Fprintln(w, "TIME\tTYPE\tPLAN\tDETAIL")
	}
	for i := range events {
		ev := &events[i]
		if eventsVerify {
			sig := "ok"
			if valid, err := rt.events.Verify(ctx, ev.ID); err != nil || !valid {
				sig = "INVALID"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.Type, ev.PlanID, sig, eventDetail(ev))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.Type, ev.PlanID, eventDetail(ev))
		}
	}
	return w.Flush()
}

// eventDetail picks the one payload field worth a glance per event type.
func eventDetail(ev *event.Event) string {
	switch p := ev.Payload.(type) {
	case *event.PlanProposed:
		return fmt.Sprintf("%d steps, %s, auto=%t", p.StepCount, p.RiskLevel, p.AutoExecute)
	case *event.ToolCallStarted:
		return p.Tool
	case *event.ToolCallCompleted:
		return fmt.Sprintf("%s (%d attempts)", p.Tool, p.Attempts)
	case *event.ToolCallFailed:
		return fmt.Sprintf("%s: %s", p.Tool, clip(p.Error, 50))
	case *event.AuthorizationDenied:
		return fmt.Sprintf("%s: %s", p.Tool, clip(p.Reason, 50))
	case *event.AnswerReady:
		return clip(p.Text, 60)
	case *event.PlanRejected:
		return clip(p.Reason, 60)
	case *event.ErrorInfo:
		return clip(p.Message, 60)
	case *event.CompletedWithErrors:
		return fmt.Sprintf("%d failed steps", p.FailedSteps)
	default:
		return ""
	}
}
