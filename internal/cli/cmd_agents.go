package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/pulsehq/pulse/internal/orchestration"
)

// newAgentsCmd creates the agents command and its subcommands
func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage workspace agents",
		Long: `List, register, inspect, and deactivate the agents runs are
assigned to.

Examples:
  pulse agents
  pulse agents register worker-1 --capabilities analyze_data,render_report
  pulse agents show worker-1
  pulse agents deactivate worker-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAgents()
		},
	}

	cmd.AddCommand(newAgentsRegisterCmd())
	cmd.AddCommand(newAgentsShowCmd())
	cmd.AddCommand(newAgentsDeactivateCmd())
	return cmd
}

func listAgents() error {
	workspaceID, userID, err := requireIdentity()
	if err != nil {
		return err
	}
	svc, store, err := getService()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	agents, err := svc.ListAgents(workspaceID, userID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(agents)
	}
	if len(agents) == 0 {
		fmt.Println("No agents.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTIVE\tCAPABILITIES\tMAX\tLAST SEEN")
	for _, a := range agents {
		active := "yes"
		if !a.IsActive {
			active = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			a.ID, active, strings.Join(a.Capabilities, ","), a.MaxConcurrency, formatTime(a.LastSeenAt))
	}
	return w.Flush()
}

func newAgentsRegisterCmd() *cobra.Command {
	var (
		name           string
		capabilities   []string
		version        string
		maxConcurrency int
		configJSON     string
	)

	cmd := &cobra.Command{
		Use:   "register <agent-id>",
		Short: "Register an agent or update its registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, userID, err := requireIdentity()
			if err != nil {
				return err
			}
			if len(capabilities) == 0 {
				return fmt.Errorf("--capabilities required")
			}
			if configJSON != "" && !gjson.Valid(configJSON) {
				return fmt.Errorf("--agent-config must be valid JSON")
			}

			req := orchestration.RegisterAgentRequest{
				AgentID:        args[0],
				Name:           name,
				Capabilities:   capabilities,
				Version:        version,
				MaxConcurrency: maxConcurrency,
			}
			if configJSON != "" {
				req.Config = json.RawMessage(configJSON)
			}

			svc, store, err := getService()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			agent, err := svc.RegisterAgent(workspaceID, userID, req)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(agent)
			}
			fmt.Printf("%s %s (%s)\n", colorize(ansiGreen, "registered"), agent.ID,
				strings.Join(agent.Capabilities, ","))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&capabilities, "capabilities", nil, "comma-separated capabilities")
	cmd.Flags().StringVar(&version, "agent-version", "", "agent version string")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "concurrent run bound (0 = default)")
	cmd.Flags().StringVar(&configJSON, "agent-config", "", "agent configuration as JSON")
	return cmd
}

func newAgentsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show an agent's registration",
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

			agent, err := svc.GetAgent(workspaceID, userID, args[0])
			if err != nil {
				return err
			}
			return printJSON(agent)
		},
	}
	return cmd
}

func newAgentsDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <agent-id>",
		Short: "Deactivate an agent",
		Long: `Deactivate an agent so no new runs are assigned to it. Existing
runs are unaffected.`,
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

			if err := svc.DeactivateAgent(workspaceID, userID, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", colorize(ansiYellow, "deactivated"), args[0])
			return nil
		},
	}
	return cmd
}
