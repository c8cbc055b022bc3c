package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pupctl/internal/api"
	"pupctl/internal/config"
	"pupctl/internal/logger"
	"pupctl/internal/service"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath    string
		processesFile string
		address       string
	)

	root := &cobra.Command{
		Use:   "pupervisord",
		Short: "Supervise named background processes and serve the pupctl API",
		Long: `pupervisord keeps named background processes running, writes their
output to per-process log files and serves the HTTP API used by pupctl.

Process definitions are read from a YAML file with a top-level
"processes" list. New definitions added to the file are picked up
without a restart.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if processesFile != "" {
				cfg.Processes.File = processesFile
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, err := logger.NewDaemon(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Server.Address)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Server.Address, err)
			}
			return newDaemon(cfg, log).Run(ctx, ln)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "config file (default $PUPERVISOR_CONFIG_PATH or ~/.pupervisor/config.yaml)")
	root.Flags().StringVar(&processesFile, "processes", "", "process definition file (overrides processes.file)")
	root.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pupervisord %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	})
	return root
}

type daemon struct {
	cfg    *config.Config
	logger *zap.Logger
	pm     *service.ProcessManager
}

func newDaemon(cfg *config.Config, log *zap.Logger) *daemon {
	procCfg, err := config.LoadProcessConfig(cfg.Processes.File)
	if err != nil {
		log.Warn("could not load process definitions, starting with an empty list",
			zap.String("file", cfg.Processes.File), zap.Error(err))
		procCfg = &config.SupervisorConfig{Processes: []config.ProcessConfig{}}
	}

	pm := service.NewProcessManager(procCfg,
		service.WithLogDir(cfg.Processes.LogDir),
		service.WithLogger(log),
	)
	log.Info("loaded process definitions",
		zap.String("file", cfg.Processes.File), zap.Int("count", len(procCfg.Processes)))

	return &daemon{cfg: cfg, logger: log, pm: pm}
}

// Run serves the API on ln until ctx is cancelled, then stops every managed
// process and shuts the server down.
func (d *daemon) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      api.NewRouter(d.pm, Version, d.logger),
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
		IdleTimeout:  d.cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	if d.cfg.Processes.Watch {
		w, err := config.NewProcessFileWatcher(d.cfg.Processes.File, d.reload, d.logger)
		if err != nil {
			d.logger.Warn("process file watcher unavailable", zap.Error(err))
		} else if err := w.Start(ctx); err != nil {
			d.logger.Warn("process file watcher unavailable", zap.Error(err))
			w.Stop()
		} else {
			defer w.Stop()
		}
	}

	d.pm.StartAll()

	serveErr := make(chan error, 1)
	go func() {
		d.logger.Info("pupervisord listening", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
		serveErr <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	d.logger.Info("shutting down")
	if err := d.pm.StopAll(); err != nil {
		d.logger.Error("failed to stop all processes", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	d.logger.Info("server exited")
	return runErr
}

func (d *daemon) reload(cfg *config.SupervisorConfig) {
	added := d.pm.Sync(cfg)
	if len(added) > 0 {
		d.logger.Info("registered new process definitions", zap.Strings("names", added))
	}
}
