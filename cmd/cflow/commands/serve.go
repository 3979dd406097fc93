package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/contractflow/contractflow/pkg/api"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow API over HTTP",
		Long: `Run the HTTP command surface for the workflow engine.

The server exposes one POST endpoint per workflow command under /v1, the
read side (contracts, audit trail, available actions), /healthz and the
Prometheus metrics endpoint. Role bindings are reloaded on change when
policy.watch is set.`,
		Example: `  # Serve with ./cflow.cue
  cflow serve

  # Override the listen address
  cflow serve --addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				if err := a.watchPolicy(ctx); err != nil {
					return fmt.Errorf("failed to watch role bindings: %w", err)
				}

				cfg := api.Config{
					Addr:            a.cfg.Server.Addr,
					ReadTimeout:     a.cfg.ReadTimeout(),
					WriteTimeout:    a.cfg.WriteTimeout(),
					ShutdownTimeout: a.cfg.ShutdownTimeout(),
					MetricsPath:     a.cfg.Telemetry.Metrics.Path,
				}
				if addr != "" {
					cfg.Addr = addr
				}

				opts := []api.Option{
					api.WithLogger(a.logger.With().Str("component", "api").Logger()),
					api.WithTracer(a.tel.Tracer),
					api.WithHealthCheck(a.store),
				}
				if a.cfg.Telemetry.Metrics.Enabled {
					opts = append(opts, api.WithMetrics(a.tel.Metrics), api.WithStatusCounter(a.store))
				}

				srv, err := api.NewServer(a.engine, cfg, opts...)
				if err != nil {
					return err
				}

				log.Info().
					Str("addr", cfg.Addr).
					Str("store", a.cfg.Store.Path).
					Int("actors", len(a.oracle.Bindings().Bindings)).
					Msg("Starting contractflow API")
				return srv.ListenAndServe(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}
