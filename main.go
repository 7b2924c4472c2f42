// ════════════════════════════════════════════════════════════════════════════════════════════════
// Partitioned Ray Transport - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Command Line Interface
//
// Description:
//   raytrace runs multi-rank traversal episodes in one process over the reference grid, and
//   replays recorded episodes to check that their crossings still decode and hash the same.
//
// Commands:
//   - run:     trace an episode, optionally recording every crossing
//   - replay:  verify a recorded episode and print its fingerprint
//   - version: print the build version
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raytrace/config"
	"raytrace/debug"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		debug.DropError("FATAL", err)
		os.Exit(1)
	}
}

// cliFlags holds the flags shared by run and replay. Set flags override
// the config file.
type cliFlags struct {
	configPath  string
	ranks       int
	workers     int
	rays        int
	reverse     bool
	timeout     time.Duration
	record      bool
	recordPath  string
	metricsAddr string
	logLevel    string
	logFormat   string

	episode string
	list    bool
}

func newRootCmd() *cobra.Command {
	var f cliFlags
	root := &cobra.Command{
		Use:           "raytrace",
		Short:         "Trace rays across a partitioned mesh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "YAML or JSON config file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "text or json")
	root.PersistentFlags().StringVar(&f.recordPath, "db", "", "crossing database")

	run := &cobra.Command{
		Use:   "run",
		Short: "Trace one episode in-process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd, &f)
			if err != nil {
				return err
			}
			return runCmd(cmd.Context(), cmd.OutOrStdout(), cfg, log)
		},
	}
	run.Flags().IntVar(&f.ranks, "ranks", 0, "number of ranks")
	run.Flags().IntVar(&f.workers, "workers", 0, "workers per rank")
	run.Flags().IntVar(&f.rays, "rays", 0, "seeds per rank")
	run.Flags().BoolVar(&f.reverse, "reverse", false, "also trace seeds backwards")
	run.Flags().DurationVar(&f.timeout, "timeout", 0, "episode deadline")
	run.Flags().BoolVar(&f.record, "record", false, "record crossings")
	run.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	replay := &cobra.Command{
		Use:   "replay",
		Short: "Verify a recorded episode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd, &f)
			if err != nil {
				return err
			}
			return replayCmd(cmd.Context(), cmd.OutOrStdout(), cfg, f.episode, f.list)
		},
	}
	replay.Flags().StringVar(&f.episode, "episode", "", "episode id, latest when empty")
	replay.Flags().BoolVar(&f.list, "list", false, "list recorded episodes")

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "raytrace", version)
		},
	}

	root.AddCommand(run, replay, ver)
	return root
}

// setup loads the config, applies set flags and installs the logger.
func setup(cmd *cobra.Command, f *cliFlags) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("ranks") {
		cfg.Episode.Ranks = f.ranks
	}
	if flags.Changed("workers") {
		cfg.Episode.Workers = f.workers
	}
	if flags.Changed("rays") {
		cfg.Episode.Rays = f.rays
	}
	if flags.Changed("reverse") {
		cfg.Episode.Reverse = f.reverse
	}
	if flags.Changed("timeout") {
		cfg.Episode.Timeout.Duration = f.timeout
	}
	if flags.Changed("record") {
		cfg.Record.Enabled = f.record
	}
	if flags.Changed("db") {
		cfg.Record.Path = f.recordPath
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	log, err := debug.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

func runCmd(ctx context.Context, w io.Writer, cfg config.Config, log *slog.Logger) error {
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr)
		defer stop()
	}

	out, err := runEpisode(ctx, cfg, log)
	printOutcome(w, out)
	return err
}

// serveMetrics exposes the default registry until the returned func is
// called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.DropError("METRICS", err)
		}
	}()
	debug.DropMessage("METRICS", "serving on "+addr+"/metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func printOutcome(w io.Writer, out outcome) {
	fmt.Fprintf(w, "%-5s %9s %9s %9s %9s %9s %9s\n", "rank", "started", "reversed", "received", "sent", "finished", "crossings")
	for _, s := range out.Summaries {
		fmt.Fprintf(w, "%-5d %9d %9d %9d %9d %9d %9d\n", s.Rank, s.Started, s.Reversed, s.Received, s.Sent, s.Finished, s.Crossings)
	}
	fmt.Fprintf(w, "finished %d rays (%d reverse, %d escaped), total distance %.6g, in %s\n",
		out.Finished, out.Reversed, out.Escaped, out.Distance, out.Duration.Round(time.Microsecond))
	if out.Recorded != uuid.Nil {
		fmt.Fprintf(w, "recorded episode %s (%d crossings)\n", out.Recorded, out.Stored)
	}
}
