package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/pulsehq/pulse/internal/orchestration"
)

// newAssignCmd creates the assign command
func newAssignCmd() *cobra.Command {
	var (
		inputs string
		scopes []string
		stepID string
	)

	cmd := &cobra.Command{
		Use:   "assign <job-id> <agent-id> <capability>",
		Short: "Assign a run of a job to an agent",
		Long: `Assign a run binding a job to an agent and one of its declared
capabilities. If the agent is at its concurrency bound the run starts
out queued and is promoted when a slot frees up.

Examples:
  pulse assign job_abc123 worker-1 analyze_data
  pulse assign job_abc123 worker-1 analyze_data --inputs '{"shard":3}'
  pulse assign job_abc123 worker-1 analyze_data --scope read:datasets`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}

			if inputs != "" && !gjson.Valid(inputs) {
				return fmt.Errorf("--inputs must be valid JSON")
			}

			req := orchestration.AssignRunRequest{
				JobID:      args[0],
				AgentID:    args[1],
				Capability: args[2],
				Scopes:     scopes,
				StepID:     stepID,
			}
			if inputs != "" {
				req.Inputs = json.RawMessage(inputs)
			}

			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.AssignRun(cmd.Context(), workspaceID, userID, req)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(result)
			}
			status := string(result.Status)
			fmt.Printf("%s %s (%s)\n", colorize(ansiBold, "Run:"), result.RunID,
				colorize(statusColor(status), status))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputs, "inputs", "", "run inputs as JSON (defaults to the job's inputs)")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "capability scope (repeatable)")
	cmd.Flags().StringVar(&stepID, "step", "", "plan step this run executes")
	return cmd
}
