package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pupctl/internal/client"
	"pupctl/internal/config"
	"pupctl/internal/ctl"
	"pupctl/internal/logger"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	daemon     string
	verbose    bool

	// width overrides terminal detection in tests.
	width func() int

	logger *zap.Logger
	ctl    *ctl.Controller
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "pupctl",
		Short: "Manage named background processes through pupervisord",
		Long: `pupctl starts, stops, deletes, lists and tails the logs of named
background processes. Every command connects to the pupervisord daemon,
issues one request, prints the reply and disconnects.

Exit status is 0 on success, 1 when a required argument is missing and
2 when the daemon cannot be reached or the request fails.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $PUPERVISOR_CONFIG_PATH or ~/.pupervisor/config.yaml)")
	root.PersistentFlags().StringVar(&a.daemon, "daemon", "", "daemon address (overrides client.daemon_address)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging on stderr")

	root.AddCommand(
		a.listCmd(),
		a.createCmd(),
		a.actionCmd("start", nil, "Start a stopped connection", (*ctl.Controller).Start),
		a.actionCmd("stop", nil, "Stop a running connection", (*ctl.Controller).Stop),
		a.actionCmd("restart", nil, "Restart a connection", (*ctl.Controller).Restart),
		a.actionCmd("delete", []string{"rm"}, "Stop and remove a connection", (*ctl.Controller).Delete),
		a.logsCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	log, err := logger.NewCLI(a.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = log

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.daemon != "" {
		cfg.Client.DaemonAddress = a.daemon
		if !strings.Contains(a.daemon, "://") {
			cfg.Client.DaemonAddress = "http://" + a.daemon
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	width := a.width
	if width == nil {
		width = func() int { return terminalWidth(a.stdout) }
	}

	a.logger.Debug("using daemon", zap.String("addr", cfg.Client.DaemonAddress), zap.Duration("timeout", cfg.Client.Timeout))
	a.ctl = ctl.New(cfg.Client.DaemonAddress,
		ctl.WithOutput(a.stdout, a.stderr),
		ctl.WithWidth(width),
		ctl.WithLogger(a.logger),
		ctl.WithClientOptions(client.WithTimeout(cfg.Client.Timeout)),
	)
	return nil
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		return ctl.TerminalWidth(f)
	}
	return ctl.DefaultWidth
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func (a *app) listCmd() *cobra.Command {
	var opts ctl.ListOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List connections",
		Long: `List the connections known to the daemon.

By default the daemon's styled table is printed. --raw prints plain
fixed-width columns on terminals at least 100 columns wide and one
record per connection on narrower ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ctl.List(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "print plain text instead of the styled table")
	cmd.Flags().BoolVar(&opts.Color, "color", false, "force colors in the styled table")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only list connections whose name starts with this prefix")
	return cmd
}

func (a *app) createCmd() *cobra.Command {
	var (
		opts      ctl.CreateOptions
		extraArgs string
	)
	cmd := &cobra.Command{
		Use:   "create [flags] <script> [args...]",
		Short: "Start a new named connection and stream its output",
		Long: `Start <script> as a new named connection and print its output.

Flags must come before the script; everything after it is passed to the
script unchanged. Without --timeout the output is streamed until
interrupted.

Example:
  pupctl create --name "New conn" --timeout 5s holesail --live 5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(a.stderr, "Please specify a script to run")
				return &ctl.ExitError{Code: ctl.ExitMissingArg}
			}
			opts.Script = args[0]
			opts.Args = append(strings.Fields(extraArgs), args[1:]...)
			return a.ctl.Create(cmd.Context(), opts)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&opts.Name, "name", "", "connection name (default: current Unix time in milliseconds)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop streaming output after this long (0 streams until interrupted)")
	cmd.Flags().StringVar(&opts.Interpreter, "interpreter", "", "run the script through this interpreter")
	cmd.Flags().StringVar(&opts.Directory, "cwd", "", "working directory for the script")
	cmd.Flags().StringVar(&extraArgs, "args", "", "whitespace separated arguments placed before the trailing ones")
	return cmd
}

func (a *app) actionCmd(verb string, aliases []string, short string, run func(*ctl.Controller, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:     verb + " <name>",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(a.ctl, cmd.Context(), firstArg(args))
		},
	}
}

func (a *app) logsCmd() *cobra.Command {
	opts := ctl.LogsOptions{Follow: true}
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Print a connection's log files and follow new output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ctl.Logs(cmd.Context(), firstArg(args), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Lines, "lines", "n", 0, "only print the last N lines of each file (0 prints everything)")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", true, "keep streaming new output")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "pupctl %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
