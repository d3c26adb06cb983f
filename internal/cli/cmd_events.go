package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	var (
		limit   int
		extract string
	)

	cmd := &cobra.Command{
		Use:   "events <subject-id>",
		Short: "Show a job or run's event log",
		Long: `Show the append-only event log for a job or run, newest-first.

--extract pulls a field out of each event's payload using gjson path
syntax; events without the field print an empty column.

Examples:
  pulse events job_abc123
  pulse events run_def456 --limit 20
  pulse events run_def456 --extract percent
  pulse events run_def456 --extract error.code`,
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

			evs, err := svc.Events(workspaceID, userID, args[0], limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(evs)
			}
			if len(evs) == 0 {
				fmt.Println("No events.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if extract != "" {
				fmt.Fprintf(w, "TIME\tTYPE\t%s\n", extract)
			} else {
				fmt.Fprintln(w, "TIME\tTYPE\tDATA")
			}
			for _, e := range evs {
				detail := string(e.Data)
				if extract != "" {
					detail = gjson.GetBytes(e.Data, extract).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					e.CreatedAt.Local().Format("15:04:05.000"), e.EventType, detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show (0 = all)")
	cmd.Flags().StringVar(&extract, "extract", "", "gjson path to extract from each event payload")
	return cmd
}
