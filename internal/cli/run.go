package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Manifest string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audited workflow over one set of inputs",
		Long: `Ingest the four inputs named by a run manifest, build the canonical order
model, detect delivery anomalies and, when an incident opens, generate and
redact the narrative. Every step is recorded as a span.

Example:
  provtrail run --manifest ./runs/po123.yaml
  provtrail run --manifest ./runs/po123.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "path to run manifest YAML (required)")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runOne(opts *RunOptions, cmd *cobra.Command) error {
	inputs, err := pipeline.LoadInputs([]string{opts.Manifest})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := runner.Run(ctx, inputs[0])
	if err != nil {
		return wrapDomainError("run failed", err)
	}
	return a.out.Success(res, func(w io.Writer) { writeResultText(w, res) })
}

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Concurrency int
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Runs      []*pipeline.Result `json:"runs"`
	Incidents int                `json:"incidents"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <manifest>...",
		Short: "Run several manifests concurrently",
		Long: `Run each manifest in its own run context. At most --concurrency runs
execute at once (default from config). The first failing run stops the
batch.

Example:
  provtrail batch runs/*.yaml --concurrency 8`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "maximum parallel runs (0 uses config)")

	return cmd
}

func runBatch(opts *BatchOptions, paths []string, cmd *cobra.Command) error {
	inputs, err := pipeline.LoadInputs(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifests", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner()
	if err != nil {
		return err
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = a.cfg.Concurrency
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	slog.Info("batch starting", "runs", len(inputs), "concurrency", limit)
	results, err := runner.RunBatch(ctx, inputs, limit)
	if err != nil {
		return wrapDomainError("batch failed", err)
	}

	summary := BatchResult{Runs: results}
	for _, res := range results {
		if res.Incident != nil {
			summary.Incidents++
		}
	}
	return a.out.Success(summary, func(w io.Writer) {
		for _, res := range results {
			writeResultText(w, res)
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%d run(s), %d incident(s) opened\n", len(results), summary.Incidents)
	})
}

func writeResultText(w io.Writer, res *pipeline.Result) {
	order := res.OrderID
	if order == "" {
		order = "(unknown)"
	}
	fmt.Fprintf(w, "Run %s: order %s\n", res.Name, order)
	fmt.Fprintf(w, "  Fields: %d\n", len(res.Model))
	fmt.Fprintf(w, "  Spans: %d\n", len(res.Spans))
	delta := "n/a"
	if res.Decision.EtaDeltaHours != nil {
		delta = incident.FormatHours(*res.Decision.EtaDeltaHours) + "h"
	}
	fmt.Fprintf(w, "  Decision: %s (eta delta %s)\n", res.Decision.Status, delta)
	if res.Incident != nil {
		cat := incident.Lookup(res.Incident.Type)
		fmt.Fprintf(w, "  Incident: %s [%s] %s -> %s\n", res.Incident.IncidentID, res.Incident.Severity, cat.Label, cat.Route)
	}
}

// signalContext cancels on SIGINT/SIGTERM. The command's context is used
// when set (tests).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
