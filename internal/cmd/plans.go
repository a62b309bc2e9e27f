package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	plansSessionID  string
	rejectReason    string
	decisionTimeout time.Duration
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect and resolve plans waiting for approval",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans waiting for approval",
	RunE:  runPlansList,
}

var plansApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a waiting plan and execute it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansApprove,
}

var plansRejectCmd = &cobra.Command{
	Use:   "reject <plan-id>",
	Short: "Reject a waiting plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansReject,
}

func init() {
	plansListCmd.Flags().StringVar(&plansSessionID, "session", "", "only plans for this session")
	plansApproveCmd.Flags().DurationVar(&decisionTimeout, "timeout", 10*time.Minute, "execution timeout after approval")
	plansRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason recorded in the event log")
	plansCmd.AddCommand(plansListCmd, plansApproveCmd, plansRejectCmd)
	rootCmd.AddCommand(plansCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "plans.list")
	defer span.End()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	plans, err := rt.plans.ListWaiting(ctx, plansSessionID)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("No plans waiting for approval.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tSESSION\tRISK\tSTEPS\tPROPOSED\tPURPOSE")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.SessionID, p.MaxRisk, len(p.Steps),
			p.ProposedAt.Format(time.RFC3339), clip(p.Purpose, 60))
	}
	return w.Flush()
}

func runPlansApprove(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "plans.approve")
	defer span.End()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	planID := args[0]
	plan, err := rt.plans.Get(ctx, planID)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(cmd.Context(), decisionTimeout)
	defer cancel()

	session, err := rt.runner.Approve(execCtx, plan.SessionID, planID, "cli")
	if err != nil {
		return err
	}
	fmt.Printf("Plan %s executed; session %s is %s.\n", planID, session.ID, session.Status)
	return nil
}

func runPlansReject(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "plans.reject")
	defer span.End()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	planID := args[0]
	plan, err := rt.plans.Get(ctx, planID)
	if err != nil {
		return err
	}

	session, err := rt.runner.Reject(ctx, plan.SessionID, planID, "cli", rejectReason)
	if err != nil {
		return err
	}
	fmt.Printf("Plan %s rejected; session %s is %s.\n", planID, session.ID, session.Status)
	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
