package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"coopsched/internal/job"
	"coopsched/internal/kernel"
	"coopsched/internal/logging"
	"coopsched/internal/metrics"
	"coopsched/internal/sched"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "coopsched",
		Short:        "Cooperative uniprocessor task scheduler",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

type runOptions struct {
	configPath  string
	tasks       int
	yields      int
	sleepMS     int64
	idleLimit   int
	csvPath     string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func newRunCmd() *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the scheduler with demo programs and run until idle",
		Long: `run boots a kernel, spawns --tasks programs that each yield --yields
times (plus one sleeper when --sleep-ms is set) and prints every scheduler
event until the ready queue stays empty for --idle-limit polls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sched.Load(o.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("idle-limit") {
				cfg.IdleLimit = o.idleLimit
			}
			if cmd.Flags().Changed("csv") {
				cfg.CSVPath = o.csvPath
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = o.metricsAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = o.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = o.logFormat
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, o, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.configPath, "config", "config.yml", "YAML config file (missing file = defaults)")
	cmd.Flags().IntVar(&o.tasks, "tasks", 3, "Number of yielding programs to spawn")
	cmd.Flags().IntVar(&o.yields, "yields", 1, "Yields per program before exiting")
	cmd.Flags().Int64Var(&o.sleepMS, "sleep-ms", 0, "Also spawn a program sleeping this long via get_time")
	cmd.Flags().IntVar(&o.idleLimit, "idle-limit", 0, "Empty polls before the idle loop gives up (0 = never; overrides idle_limit)")
	cmd.Flags().StringVar(&o.csvPath, "csv", "", "Write scheduler events to this CSV file")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&o.logFormat, "log-format", "text", "Log format (text, json)")

	return cmd
}

func run(ctx context.Context, cfg sched.Config, o runOptions, out io.Writer) error {
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	k := kernel.Boot(cfg, kernel.Options{Logger: logger, Metrics: m})
	if cfg.CSVPath != "" {
		if err := k.Sched.EnableCSVLogging(cfg.CSVPath); err != nil {
			return err
		}
	}
	k.Sched.OnEvent(func(ev sched.StatusEvent) { printEvent(out, ev) })

	for i := 0; i < o.tasks; i++ {
		name := fmt.Sprintf("yield-%d", i)
		if _, err := k.Spawn(name, func(env job.Env) func() { return job.YieldN(env, o.yields) }); err != nil {
			return fmt.Errorf("spawn %s: %w", name, err)
		}
	}
	if o.sleepMS > 0 {
		if _, err := k.Spawn("sleeper", func(env job.Env) func() { return job.SleepWork(env, o.sleepMS) }); err != nil {
			return fmt.Errorf("spawn sleeper: %w", err)
		}
	}

	logger.Info("kernel booted", "tasks", o.tasks, "yields", o.yields, "sleep_ms", o.sleepMS)
	err := k.Run(ctx)
	if errors.Is(err, sched.ErrNoReadyTask) {
		logger.Info("all tasks completed")
		return nil
	}
	return err
}

// printEvent writes one aligned line per scheduler event.
func printEvent(out io.Writer, ev sched.StatusEvent) {
	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	fmt.Fprintf(out, "%s = t: %010dus [%s] => Task: %04d, Ready: %02d\n",
		ev.Time.Format("Jan 02 15:04:05.000"),
		ev.Micros,
		center(ev.Kind.String(), 12),
		ev.TaskID,
		ev.QueueDepth,
	)
}
