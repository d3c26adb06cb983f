package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulsehq/pulse/internal/api"
	"github.com/pulsehq/pulse/internal/events"
	"github.com/pulsehq/pulse/internal/orchestration"
	"github.com/pulsehq/pulse/internal/ratelimit"
	"github.com/pulsehq/pulse/internal/watchdog"
	"github.com/pulsehq/pulse/internal/workspace"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration API server",
		Long: `Run the HTTP API server, the WebSocket event stream, and the
stale-run watchdog until interrupted.

Examples:
  pulse serve
  pulse serve --addr :9000
  pulse serve --config /etc/pulse/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger := newLogger(cfg)

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pub := events.NewMemoryPublisher()
			defer pub.Close()

			svc := orchestration.NewService(store, workspace.NewDirectory(store),
				orchestration.WithLogger(logger),
				orchestration.WithPublisher(pub),
				orchestration.WithRateLimiter(ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)),
				orchestration.WithDefaultMaxRetries(cfg.MaxRetries),
			)

			srv := api.NewServer(svc,
				api.WithLogger(logger),
				api.WithPublisher(pub),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(ctx, cfg.Server.Addr)
			})
			if cfg.Watchdog.Enabled {
				wd := watchdog.New(svc,
					watchdog.WithInterval(cfg.Watchdog.Interval),
					watchdog.WithStaleAfter(cfg.Watchdog.StaleAfter),
					watchdog.WithLogger(logger),
				)
				g.Go(func() error {
					return wd.Run(ctx)
				})
			}

			err = g.Wait()
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
