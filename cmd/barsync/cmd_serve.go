package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"barsync/internal/app"
)

var serveNoIngest bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest daemon with the operator HTTP and gRPC APIs",
	Long: `Serve resumes unfinished jobs, backfills symbols that have no bars yet and
then repairs gaps every ingest.gap_interval, while serving the operator HTTP
API and the gRPC health service. SIGINT or SIGTERM stops everything.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoIngest, "no-ingest", false, "serve the APIs without running the ingest loop")
}

func runServe(_ *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return a.Server().ListenAndServe(ctx)
		})
		if !serveNoIngest {
			g.Go(func() error {
				return a.Orchestrator.Run(ctx)
			})
		}
		logger.Info("barsync serving",
			"host", a.Config.Server.Host,
			"port", a.Config.Server.Port,
			"grpc_port", a.Config.Server.GRPCPort,
			"symbols", len(a.Config.Ingest.Symbols),
		)
		return g.Wait()
	})
}
