package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newJobsCmd creates the jobs command
func newJobsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs [job-id]",
		Short: "List jobs, or show one job in detail",
		Long: `List the workspace's jobs newest-first, or show a single job.

Examples:
  pulse jobs
  pulse jobs --limit 20
  pulse jobs job_0123456789abcdef0123456789abcdef`,
		Args: cobra.MaximumNArgs(1),
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

			if len(args) == 1 {
				job, err := svc.QueryJob(workspaceID, userID, args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(job)
				}
				fmt.Printf("%s     %s\n", colorize(ansiBold, "Job:"), job.ID)
				fmt.Printf("Intent:   %s\n", job.Intent)
				fmt.Printf("CorrID:   %s\n", job.CorrID)
				fmt.Printf("By:       %s\n", job.CreatedBy)
				fmt.Printf("Created:  %s\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				if job.Deadline != "" {
					fmt.Printf("Deadline: %s\n", job.Deadline)
				}
				if len(job.Inputs) > 0 {
					fmt.Printf("Inputs:   %s\n", string(job.Inputs))
				}
				return nil
			}

			jobs, err := svc.ListJobs(workspaceID, userID, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tINTENT\tCREATED BY\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					j.ID, j.Intent, j.CreatedBy, j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum jobs to list (0 = all)")
	return cmd
}
