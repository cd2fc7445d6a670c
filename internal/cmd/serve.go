package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/plotherd/internal/observability"
	"github.com/3leaps/plotherd/internal/server"
	"github.com/3leaps/plotherd/internal/server/handlers"
	"github.com/3leaps/plotherd/internal/supervisor"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/process"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only status server",
	Long: `Serve job status, directory usage, health and Prometheus metrics over HTTP.

With --plot and/or --archive the corresponding loops run in the same
process and feed the metrics endpoint.

Examples:
  plotherd serve
  plotherd serve --port 9100 --plot --archive`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	servePlot    bool
	serveArchive bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&servePlot, "plot", false, "Also run the admission loop")
	serveCmd.Flags().BoolVar(&serveArchive, "archive", false, "Also run the archive loop")
}

func runServe(cmd *cobra.Command, _ []string) error {
	metrics := observability.NewMetrics()
	sup, err := newSupervisor(supervisor.WithMetrics(metrics))
	if err != nil {
		return err
	}
	cfg := sup.Config()

	host, port := cfg.Server.Host, cfg.Server.Port
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("process_table", processTableHealthChecker{probe: process.NewSystemProbe(job.MatchFunc(cfg.Plotting.Executable))})
	hm.RegisterChecker("log_dir", dirHealthChecker{dir: cfg.Directories.Log})

	srv := server.New(host, port,
		server.WithSupervisor(sup),
		server.WithMetrics(metrics.Registry),
		server.WithLogger(observability.CLILogger),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return srv.Start(ctx) })
	if servePlot {
		g.Go(func() error { return sup.RunAdmissionLoop(ctx, nil) })
	}
	if serveArchive {
		g.Go(func() error {
			err := sup.RunArchiveLoop(ctx, nil)
			if errors.Is(err, supervisor.ErrNoArchiveDirs) {
				observability.CLILogger.Warn("Archive loop not started", zap.Error(err))
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		if cmd.Context().Err() != nil {
			return exitError(foundry.ExitSignalInt, "Server interrupted", cmd.Context().Err())
		}
		return nil
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
}

type processTableHealthChecker struct {
	probe process.Probe
}

func (c processTableHealthChecker) CheckHealth(ctx context.Context) error {
	if _, err := c.probe.List(ctx); err != nil {
		return fmt.Errorf("read process table: %w", err)
	}
	return nil
}

type dirHealthChecker struct {
	dir string
}

func (c dirHealthChecker) CheckHealth(context.Context) error {
	if c.dir == "" {
		return errors.New("directory not configured")
	}
	st, err := os.Stat(c.dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", c.dir)
	}
	return nil
}
