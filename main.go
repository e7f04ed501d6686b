package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saworbit/fileloop/internal/metrics"
	"github.com/saworbit/fileloop/internal/version"
	"github.com/saworbit/fileloop/pkg/config"
	"github.com/saworbit/fileloop/pkg/generator"
	"github.com/saworbit/fileloop/pkg/recorder"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logrus.Fatal(err)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

// load resolves configuration: defaults, then --config, then FILELOOP_* env,
// then --log-level. Command-specific flags are applied by the caller.
func (o *globalOptions) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return nil, err
		}
	}

	config.ApplyEnv(cfg)

	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	var dir string
	var interval time.Duration
	var cycles int
	var metricsAddr string

	root := &cobra.Command{
		Use:          "fileloop",
		Short:        "fileloop - synthetic filesystem activity generator",
		Long:         "Creates, edits and deletes one timestamped file at a time in a working directory, forever.",
		Version:      version.Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("dir") {
				cfg.Dir = dir
			}
			if flags.Changed("interval") {
				cfg.Interval = interval
			}
			if flags.Changed("cycles") {
				cfg.Cycles = cycles
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			return runGenerate(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Diagnostic log level (debug, info, warn, error)")

	root.Flags().StringVar(&dir, "dir", "./loop_test", "Working directory for target files")
	root.Flags().DurationVar(&interval, "interval", 2*time.Second, "Pause after each create, edit and delete")
	root.Flags().IntVar(&cycles, "cycles", 0, "Stop after this many cycles (0 runs until interrupted)")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	root.AddCommand(newWatchCmd(opts), newReportCmd(opts))
	return root
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var stateDir string
	var watchDir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Record filesystem activity in the working directory into the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("state-dir") {
				cfg.Recorder.StateDir = stateDir
			}
			if cmd.Flags().Changed("dir") {
				cfg.Dir = watchDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runWatch(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", ".fileloop", "Directory where the Pebble journal is stored")
	cmd.Flags().StringVar(&watchDir, "dir", "./loop_test", "Directory to watch for changes")
	return cmd
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var stateDir string
	var sessionID string
	var audit bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Replay a recorded session and optionally audit it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("state-dir") {
				cfg.Recorder.StateDir = stateDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runReport(cfg, sessionID, audit, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", ".fileloop", "Directory where the Pebble journal is stored")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to replay (default: most recent)")
	cmd.Flags().BoolVar(&audit, "audit", false, "Check the session against the create/edit/delete lifecycle")
	return cmd
}

func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func startMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	metrics.SetAgentInfo(version.Version)

	logger := logrus.WithField("component", "metrics")
	go func() {
		if err := metrics.Serve(ctx, addr, logger); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
}

func runGenerate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	configureLogging(cfg.LogLevel)
	startMetrics(ctx, cfg.MetricsAddr)
	defer metrics.SetUp(false)

	gen := generator.New(cfg,
		generator.WithOutput(out),
		generator.WithObserver(metricsObserver{}),
	)
	return gen.Run(ctx)
}

func runWatch(ctx context.Context, cfg *config.Config) error {
	configureLogging(cfg.LogLevel)
	startMetrics(ctx, cfg.MetricsAddr)

	if err := os.MkdirAll(cfg.Recorder.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	journal, err := recorder.Open(cfg.Recorder.StateDir, cfg.Recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logrus.WithError(err).Error("close journal")
		}
	}()

	rec, err := recorder.NewRecorder(cfg.Dir, journal, logrus.WithField("component", "recorder"))
	if err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	defer rec.Close()

	return rec.Run(ctx)
}

func runReport(cfg *config.Config, sessionID string, audit bool, out io.Writer) error {
	configureLogging(cfg.LogLevel)

	journal, err := recorder.OpenReadOnly(cfg.Recorder.StateDir, cfg.Recorder)
	if err != nil {
		return err
	}
	defer journal.Close()

	if sessionID == "" {
		sessions, err := journal.Sessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return fmt.Errorf("no sessions recorded in %s", cfg.Recorder.StateDir)
		}
		sessionID = sessions[len(sessions)-1].ID
	}

	entries, err := journal.Entries(sessionID)
	if err != nil {
		return err
	}

	snaps, err := recorder.Replay(entries)
	if err != nil {
		return fmt.Errorf("replay session %s: %w", sessionID, err)
	}

	fmt.Fprintf(out, "session %s: %d entries\n", sessionID, len(snaps))
	for _, s := range snaps {
		status := "ok"
		if !s.Verified {
			status = "MISMATCH"
		}
		fmt.Fprintf(out, "%s %-6s %s %d %s\n",
			time.Unix(0, s.Timestamp).Format(time.RFC3339Nano), s.Op, s.Path, s.Size, status)
	}

	if !audit {
		return nil
	}

	a := recorder.AuditSnapshots(snaps)
	fmt.Fprintf(out, "lifecycles=%d max_present=%d mismatches=%d missing_edit=%d incomplete=%d\n",
		a.Lifecycles, a.MaxPresent, a.Mismatches, len(a.MissingEdit), len(a.Incomplete))
	for _, p := range a.MissingEdit {
		fmt.Fprintf(out, "missing-edit %s\n", p)
	}
	for _, p := range a.Incomplete {
		fmt.Fprintf(out, "incomplete %s\n", p)
	}
	if !a.Clean() {
		return fmt.Errorf("audit failed for session %s", sessionID)
	}
	fmt.Fprintln(out, "audit: clean")
	return nil
}

// metricsObserver forwards generator steps to Prometheus.
type metricsObserver struct{}

func (metricsObserver) ObserveStep(step generator.State, start time.Time, err error) {
	metrics.ObserveStep(start, step.String(), err)
}

func (metricsObserver) ObserveMissing() { metrics.ObserveMissing() }
func (metricsObserver) ObserveCycle()   { metrics.ObserveCycle() }
