// Package cli implements the pulse command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsehq/pulse/internal/config"
	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/db/driver"
	"github.com/pulsehq/pulse/internal/orchestration"
	"github.com/pulsehq/pulse/internal/ratelimit"
	"github.com/pulsehq/pulse/internal/workspace"
)

var (
	cfgFile       string
	workspaceFlag string
	userFlag      string
	verbose       bool
	jsonOut       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Job orchestration for asynchronous agents",
	Long: `pulse coordinates asynchronous agents executing units of work.

Jobs are submitted per workspace, runs bind a job to an agent and
capability, and commands (pause, resume, cancel, retry) steer runs
through a pull-based command channel the agents poll.

Quick start:
  pulse agents register worker-1 --capabilities analyze_data
  pulse submit analyze_data --inputs '{"dataset":"q3"}'
  pulse assign <job-id> worker-1 analyze_data
  pulse runs <job-id>`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pulse/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "workspace ID (or PULSE_WORKSPACE)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "acting user ID (or PULSE_USER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newAssignCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newShowRunCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newAckCmd())
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newAgentsCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.PulseDir)
		viper.AddConfigPath("$HOME/" + config.PulseDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("PULSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig resolves the effective configuration.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// requireIdentity resolves the workspace and user for workspace-scoped
// commands, falling back to PULSE_WORKSPACE and PULSE_USER.
func requireIdentity() (workspaceID, userID string, err error) {
	workspaceID = workspaceFlag
	if workspaceID == "" {
		workspaceID = viper.GetString("workspace")
	}
	userID = userFlag
	if userID == "" {
		userID = viper.GetString("user")
	}
	if workspaceID == "" {
		return "", "", fmt.Errorf("workspace required (use --workspace or PULSE_WORKSPACE)")
	}
	if userID == "" {
		return "", "", fmt.Errorf("user required (use --user or PULSE_USER)")
	}
	return workspaceID, userID, nil
}

// newLogger builds the structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openStore opens the configured database.
func openStore(cfg *config.Config) (*db.Store, error) {
	dialect, err := driver.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	return db.OpenStoreWithDialect(cfg.Database.DSN, dialect)
}

// getService builds the orchestration service from config. The caller must
// Close the returned store.
func getService() (*orchestration.Service, *db.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := orchestration.NewService(store, workspace.NewDirectory(store),
		orchestration.WithLogger(newLogger(cfg)),
		orchestration.WithRateLimiter(ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)),
		orchestration.WithDefaultMaxRetries(cfg.MaxRetries),
	)
	return svc, store, nil
}
