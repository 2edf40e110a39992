package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/segmentarr/internal/config"
	internalhttp "github.com/jmylchreest/segmentarr/internal/http"
	"github.com/jmylchreest/segmentarr/internal/http/handlers"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/queue"
	"github.com/jmylchreest/segmentarr/internal/scheduler"
	"github.com/jmylchreest/segmentarr/internal/startup"
	"github.com/jmylchreest/segmentarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the segmentarr server",
	Long: `Start the segmentarr HTTP server, queue workers and periodic checks.

The server provides:
- REST API for managing videos and inspecting the queues
- HLS and DASH output under /hls/ and /dash/
- Health check at /health and Prometheus metrics at /metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().Bool("no-reconcile", false, "Skip repairing state left by a previous run")
}

// applyServeFlags overrides the server section with flags the user set.
func applyServeFlags(flags *pflag.FlagSet, srv *config.ServerConfig) {
	if flags.Changed("host") {
		srv.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		srv.Port, _ = flags.GetInt("port")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	applyServeFlags(cmd.Flags(), &cfg.Server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	return withApp(ctx, func(a *app) error {
		if skip, _ := cmd.Flags().GetBool("no-reconcile"); !skip {
			startup.Reconcile(ctx, observability.WithComponent(logger, "startup"), a.repo, startup.Dirs{
				Media:    a.media.Root(),
				HLS:      a.hls.Root(),
				DASH:     a.dash.Root(),
				Download: a.downloads.Root(),
			}, startup.SystemFFmpegRunning)
		}

		if a.cfg.Conversion.EnabledFormats() == 0 {
			logger.Warn("both allow_hls and allow_dash are off, nothing will be converted")
		}

		runner := scheduler.NewRunner(a.executor).WithLogger(observability.WithComponent(logger, "runner"))
		a.dispatchTo(runner)
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("starting runner: %w", err)
		}
		defer runner.Stop()

		sched := scheduler.NewScheduler(runner).
			WithLogger(observability.WithComponent(logger, "scheduler")).
			WithConfig(scheduler.SchedulerConfig{
				CheckQueueCron:        a.cfg.Scheduler.CheckQueueCron,
				CheckDownloadsCron:    a.cfg.Scheduler.CheckDownloadsCron,
				DisableAutoConversion: a.cfg.Conversion.DisableAutoConversion,
			})
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()

		// Pick up work left from before the restart without waiting for a tick.
		if !a.cfg.Conversion.DisableAutoConversion {
			runner.Dispatch(scheduler.Job{Kind: queue.KindConversion})
		}
		runner.Dispatch(scheduler.Job{Kind: queue.KindDownload})

		server := newServer(a, runner, sched)

		logger.Info("starting segmentarr server",
			slog.String("address", a.cfg.Server.Address()),
			slog.String("version", version.Version),
		)
		return server.ListenAndServe(ctx)
	})
}

// newServer builds the HTTP server and registers every handler.
func newServer(a *app, runner *scheduler.Runner, sched *scheduler.Scheduler) *internalhttp.Server {
	srvCfg := internalhttp.DefaultServerConfig()
	srvCfg.Host = a.cfg.Server.Host
	srvCfg.Port = a.cfg.Server.Port
	srvCfg.CORSOrigins = a.cfg.Server.CORSOrigins
	if a.cfg.Server.ReadTimeout > 0 {
		srvCfg.ReadTimeout = a.cfg.Server.ReadTimeout
	}
	if a.cfg.Server.WriteTimeout > 0 {
		srvCfg.WriteTimeout = a.cfg.Server.WriteTimeout
	}
	if a.cfg.Server.ShutdownTimeout > 0 {
		srvCfg.ShutdownTimeout = a.cfg.Server.ShutdownTimeout
	}

	server := internalhttp.NewServer(srvCfg, observability.WithComponent(logger, "http"), version.Version)
	urls := handlers.StreamURLs{HLSBase: a.cfg.Storage.HLSURL, DASHBase: a.cfg.Storage.DASHURL}

	health := handlers.NewHealthHandler(version.Version).
		WithDB(a.db.DB).
		WithBinaryDetector(a.detector)
	health.Register(server.API())

	handlers.NewVideoHandler(a.videos, urls).
		WithLogger(observability.WithComponent(logger, "api")).
		Register(server.API())

	handlers.NewQueueHandler(a.videos, urls).
		WithRunner(runner).
		WithSchedule(sched).
		Register(server.API())

	server.MountOutput("/hls/", a.hls.Root())
	server.MountOutput("/dash/", a.dash.Root())
	return server
}
