package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newRunsCmd creates the runs command
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <job-id>",
		Short: "List a job's runs",
		Long: `List every run of a job, newest-first.

Examples:
  pulse runs job_abc123
  pulse runs job_abc123 --json`,
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

			runs, err := svc.ListRunsForJob(workspaceID, userID, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAGENT\tCAPABILITY\tRETRIES\tLAST EVENT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, colorize(statusColor(r.Status), r.Status), r.AssignedTo,
					r.Capability, r.RetryCount, formatTime(r.LastEventAt))
			}
			return w.Flush()
		},
	}
	return cmd
}

// newShowRunCmd creates the run command
func newShowRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show a run in detail",
		Long: `Show a run's status, failure details, and command slot.

Examples:
  pulse run run_def456
  pulse run run_def456 --json`,
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

			run, err := svc.QueryRun(workspaceID, userID, args[0])
			if err != nil {
				return err
			}
			status, err := svc.GetCommandStatus(workspaceID, userID, args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(map[string]any{"run": run, "command": status})
			}

			fmt.Printf("%s       %s\n", colorize(ansiBold, "Run:"), run.ID)
			fmt.Printf("Job:       %s\n", run.JobID)
			fmt.Printf("Status:    %s\n", colorize(statusColor(run.Status), run.Status))
			fmt.Printf("Agent:     %s (%s)\n", run.AssignedTo, run.Capability)
			fmt.Printf("Retries:   %d\n", run.RetryCount)
			fmt.Printf("Started:   %s\n", formatTime(run.StartedAt))
			fmt.Printf("Ended:     %s\n", formatTime(run.EndedAt))
			fmt.Printf("Heartbeat: %s\n", formatTime(run.LastHeartbeatAt))
			if run.ErrorCode != "" {
				fmt.Printf("%s     %s: %s\n", colorize(ansiRed, "Error:"), run.ErrorCode, run.ErrorMessage)
			}
			if status.LastCommand != nil {
				acked := "pending"
				if status.LastCommand.AcknowledgedAt != nil {
					acked = "acked " + formatTime(status.LastCommand.AcknowledgedAt)
				}
				fmt.Printf("Command:   %s (%s)\n", status.LastCommand.Type, acked)
			}
			return nil
		},
	}
	return cmd
}
