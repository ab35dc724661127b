package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrail/internal/bundle"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	IncidentID string
	Timeline   bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the recorded outputs of an incident's order",
		Long: `List every span recorded for the incident's order in trace order, with
the result digest and a base64 preview of the result. Previews of
PII-masked or purged artifacts are blank.

With --timeline, show both payload previews and span timing.

Exit codes:
  0 - Replay listed
  2 - Command error (unknown incident, database not found, etc.)

Examples:
  provtrail replay --incident 0190c2a4-...
  provtrail replay --incident 0190c2a4-... --timeline --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.IncidentID, "incident", "", "incident id (required)")
	_ = cmd.MarkFlagRequired("incident")
	cmd.Flags().BoolVar(&opts.Timeline, "timeline", false, "show args and result previews with timing")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Timeline {
		entries, err := a.exporter.Timeline(ctx, opts.IncidentID)
		if err != nil {
			return wrapDomainError("failed to load timeline", err)
		}
		return a.out.Success(entries, func(w io.Writer) { writeTimelineText(w, entries) })
	}

	replay, err := a.exporter.StrictReplay(ctx, opts.IncidentID)
	if err != nil {
		return wrapDomainError("failed to replay incident", err)
	}
	return a.out.Success(replay, func(w io.Writer) { writeReplayText(w, replay) })
}

func writeReplayText(w io.Writer, r bundle.Replay) {
	fmt.Fprintf(w, "Incident %s (order %s, %s, %s)\n", r.Incident.IncidentID, r.Incident.OrderID, r.Incident.Severity, r.Incident.Status)
	fmt.Fprintf(w, "Outputs: %d\n\n", len(r.Outputs))
	for i, o := range r.Outputs {
		preview := o.Preview
		if preview == "" {
			preview = "(withheld)"
		}
		fmt.Fprintf(w, "%3d  %-22s %s\n", i+1, o.Tool, o.ResultDigest)
		fmt.Fprintf(w, "     %s\n", preview)
	}
}

func writeTimelineText(w io.Writer, entries []bundle.TimelineEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "[%d,%d) %-22s span=%s\n", e.StartTs, e.EndTs, e.Tool, e.SpanID)
		fmt.Fprintf(w, "  args   %s\n", e.ArgsDigest)
		fmt.Fprintf(w, "  result %s\n", e.ResultDigest)
	}
}
