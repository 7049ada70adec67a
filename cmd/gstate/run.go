package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jilio/globalstate"
	"github.com/jilio/globalstate/internal/config"
	"github.com/jilio/globalstate/internal/logging"
	"github.com/jilio/globalstate/internal/script"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runOptions struct {
	metrics     bool
	otelMetrics bool
	trace       bool
	json        bool
	verbose     bool
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <script.toml>",
		Short: "Run a script against a fresh store",
		Long: `Run the steps of a TOML script against a fresh store and print, for
each step, the keys it changed and the subscribers it notified, followed by
the final state.

Examples:
  gstate run counter.toml
  gstate run counter.toml --json
  gstate run counter.toml --metrics
  gstate run counter.toml --trace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.DefaultConfig()
			if opts.verbose {
				cfg.Level = zerolog.DebugLevel
			}
			logger := logging.InitLogger("gstate", cmd.ErrOrStderr(), cfg)
			return runScript(cmd.Context(), cmd.OutOrStdout(), logger, args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.metrics, "metrics", "m", false, "Print Prometheus metrics after the run")
	cmd.Flags().BoolVar(&opts.otelMetrics, "otel-metrics", false, "Export OpenTelemetry metrics to stdout")
	cmd.Flags().BoolVarP(&opts.trace, "trace", "t", false, "Export OpenTelemetry spans to stdout")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every state update")

	return cmd
}

func runScript(ctx context.Context, out io.Writer, logger zerolog.Logger, path string, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := config.Load(path)
	if err != nil {
		return err
	}
	logger.Info().
		Str("script", s.Name).
		Int("reducers", len(s.Reducers)).
		Int("subscribers", len(s.Subscribers)).
		Int("steps", len(s.Steps)).
		Msg("script loaded")

	tel, err := setupTelemetry(opts, out)
	if err != nil {
		return err
	}

	storeOpts := []globalstate.Option{
		globalstate.WithLogger(logging.Slog(logger)),
		globalstate.WithPanicHandler(func(_ globalstate.State, id globalstate.DispatcherID, v any) {
			logger.Error().Uint64("dispatcher", uint64(id)).Interface("panic", v).Msg("subscriber panicked")
		}),
	}
	if opt := tel.option(); opt != nil {
		storeOpts = append(storeOpts, opt)
	}

	runner, err := script.New(s, storeOpts...)
	if err != nil {
		return err
	}

	report, runErr := runner.Run(ctx)

	if err := tel.close(ctx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else if err := printReport(out, report); err != nil {
		return err
	}

	if opts.metrics {
		if err := tel.writeMetrics(out); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("run %s: %w", s.Name, runErr)
	}
	logger.Info().Str("script", s.Name).Int("steps", len(report.Steps)).Msg("script finished")
	return nil
}

func printReport(out io.Writer, report script.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "script %s\n", report.Name)

	for _, step := range report.Steps {
		fmt.Fprintf(&b, "step %d: %s", step.Index, step.Action)
		if step.Target != "" {
			fmt.Fprintf(&b, " %s", step.Target)
		}
		b.WriteString("\n")

		for _, c := range step.Changes {
			if c.Op == globalstate.OpInsert {
				fmt.Fprintf(&b, "  + %s = %v\n", c.Key, c.Value)
			} else {
				fmt.Fprintf(&b, "  ~ %s: %v -> %v\n", c.Key, c.OldValue, c.Value)
			}
		}
		if len(step.Notified) > 0 {
			fmt.Fprintf(&b, "  notified: %s\n", strings.Join(step.Notified, ", "))
		}
		if step.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", step.Error)
		}
	}

	state, err := json.MarshalIndent(report.State, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	fmt.Fprintf(&b, "state %s\n", state)

	_, err = io.WriteString(out, b.String())
	return err
}
