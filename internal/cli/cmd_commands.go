package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newPauseCmd creates the pause command
func newPauseCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause <run-id>",
		Short: "Ask a run's agent to pause",
		Long: `Record a pause command for the run's agent to pick up. The run's
status does not change until the agent reports run.paused.

Examples:
  pulse pause run_def456
  pulse pause run_def456 --reason "upstream maintenance"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.PauseRun(cmd.Context(), workspaceID, userID, args[0], reason)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(result)
			}
			printCommandResult("pause "+args[0], result.OK, result.Error)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the run is being paused")
	return cmd
}

// newResumeCmd creates the resume command
func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Ask a paused run's agent to resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.ResumeRun(cmd.Context(), workspaceID, userID, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(result)
			}
			printCommandResult("resume "+args[0], result.OK, result.Error)
			return nil
		},
	}
	return cmd
}

// newCancelCmd creates the cancel command
func newCancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run immediately",
		Long: `Cancel a run. Unlike pause and resume, cancellation takes effect
immediately: the run is marked failed and a stop command is left for
the agent. Freed capacity goes to the agent's oldest queued run.

Examples:
  pulse cancel run_def456
  pulse cancel run_def456 --reason "superseded by job_xyz"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.CancelRun(cmd.Context(), workspaceID, userID, args[0], reason)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(result)
			}
			printCommandResult("cancel "+args[0], result.OK, result.Error)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the run is being cancelled")
	return cmd
}

// newRetryCmd creates the retry command
func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Retry a failed run",
		Long: `Re-queue a failed run, clearing its failure details. Each run
carries a retry ceiling; once reached, further retries are rejected.

Examples:
  pulse retry run_def456`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.RetryRun(cmd.Context(), workspaceID, userID, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(result)
			}
			printCommandResult("retry "+args[0], result.OK, result.Error)
			return nil
		},
	}
	return cmd
}

// newAckCmd creates the ack command
func newAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack <run-id> <command-type>",
		Short: "Acknowledge a pending command on behalf of an agent",
		Long: `Acknowledge the run's pending command. Agents normally do this
through the API; the command exists for testing and manual recovery.

Examples:
  pulse ack run_def456 run.pause`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.AcknowledgeCommand(cmd.Context(), workspaceID, userID, args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(result)
			}
			printCommandResult("ack "+args[1], result.OK, result.Error)
			return nil
		},
	}
	return cmd
}

// newCommandsCmd creates the commands command
func newCommandsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands <agent-id>",
		Short: "List an agent's pending commands",
		Long: `List unacknowledged commands across the agent's runs, oldest
first. This mirrors what the agent sees when it polls.

Examples:
  pulse commands worker-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pending, err := svc.ListPendingCommands(workspaceID, userID, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(pending)
			}
			if len(pending) == 0 {
				fmt.Println("No pending commands.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tCOMMAND\tISSUED")
			for _, p := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.RunID, p.Command, formatTime(&p.IssuedAt))
			}
			return w.Flush()
		},
	}
	return cmd
}
