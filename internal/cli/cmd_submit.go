package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/pulsehq/pulse/internal/orchestration"
)

// newSubmitCmd creates the submit command
func newSubmitCmd() *cobra.Command {
	var (
		inputs     string
		deadline   string
		maxRetries int
		timeoutMs  int64
		planID     string
	)

	cmd := &cobra.Command{
		Use:   "submit <intent>",
		Short: "Submit a job to the workspace",
		Long: `Submit a job describing what should be accomplished. Submission
records the job and its audit event; it does not assign a run.

Examples:
  pulse submit analyze_data
  pulse submit analyze_data --inputs '{"dataset":"q3-2026"}'
  pulse submit render_report --max-retries 5 --timeout 600000
  pulse submit analyze_data --deadline 2026-09-01T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}

			if inputs != "" && !gjson.Valid(inputs) {
				return fmt.Errorf("--inputs must be valid JSON")
			}

			req := orchestration.SubmitJobRequest{
				Intent: args[0],
				PlanID: planID,
			}
			if inputs != "" {
				req.Inputs = json.RawMessage(inputs)
			}
			if deadline != "" || cmd.Flags().Changed("max-retries") || cmd.Flags().Changed("timeout") {
				c := &orchestration.Constraints{Deadline: deadline}
				if cmd.Flags().Changed("max-retries") {
					c.MaxRetries = &maxRetries
				}
				if cmd.Flags().Changed("timeout") {
					c.TimeoutMs = &timeoutMs
				}
				req.Constraints = c
			}

			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := svc.SubmitJob(cmd.Context(), workspaceID, userID, req)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(result)
			}
			fmt.Printf("%s %s\n", colorize(ansiBold, "Job:"), result.JobID)
			fmt.Printf("%s %s\n", colorize(ansiDim, "Correlation:"), result.CorrID)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputs, "inputs", "", "job inputs as JSON")
	cmd.Flags().StringVar(&deadline, "deadline", "", "completion deadline (ISO-8601)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "per-run retry ceiling")
	cmd.Flags().Int64Var(&timeoutMs, "timeout", 0, "run timeout in milliseconds")
	cmd.Flags().StringVar(&planID, "plan", "", "plan this job belongs to")
	return cmd
}
