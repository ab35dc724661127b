package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/trace"
)

// IncidentOptions holds the --incident flag shared by approve and kpis.
type IncidentOptions struct {
	*RootOptions
	IncidentID string
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IncidentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Resolve an open incident",
		Long: `Resolve an open incident and record a human.approval span on its order.

Exit codes:
  0 - Incident resolved
  1 - Incident was already resolved (nothing recorded)
  2 - Command error (unknown incident, etc.)

Example:
  provtrail approve --incident 0190c2a4-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			inc, err := a.engine.Approve(context.Background(), opts.IncidentID)
			if err != nil {
				return wrapDomainError("failed to approve incident", err)
			}
			return a.out.Success(inc, func(w io.Writer) {
				fmt.Fprintf(w, "Incident %s resolved at %s\n", inc.IncidentID, inc.ResolvedAt.Format("2006-01-02T15:04:05Z07:00"))
			})
		},
	}

	cmd.Flags().StringVar(&opts.IncidentID, "incident", "", "incident id (required)")
	_ = cmd.MarkFlagRequired("incident")

	return cmd
}

// NewKPIsCommand creates the kpis command.
func NewKPIsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IncidentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "kpis",
		Short: "Show evidence time and time to RCA for an incident",
		Long: `Derive KPIs from the incident's order trace, in logical clock ticks:

  evidence_time  latest span end minus earliest span start
  time_to_rca    first rca span start minus first detect span start (0 if either is missing)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			kpis, err := a.engine.KPIs(context.Background(), opts.IncidentID)
			if err != nil {
				return wrapDomainError("failed to compute KPIs", err)
			}
			return a.out.Success(kpis, func(w io.Writer) {
				fmt.Fprintf(w, "Evidence time: %d\n", kpis.EvidenceTime)
				fmt.Fprintf(w, "Time to RCA: %d\n", kpis.TimeToRCA)
			})
		},
	}

	cmd.Flags().StringVar(&opts.IncidentID, "incident", "", "incident id (required)")
	_ = cmd.MarkFlagRequired("incident")

	return cmd
}

// IncidentsOptions holds flags for the incidents command.
type IncidentsOptions struct {
	*RootOptions
	Status   string
	Type     string
	Severity string
	OrderID  string
	Limit    int
	Offset   int
}

// NewIncidentsCommand creates the incidents command.
func NewIncidentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IncidentsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List incidents, newest first",
		Long: `List incidents with their taxonomy label, routing hint, severity and KPIs.
Filters combine.

Examples:
  provtrail incidents --status open
  provtrail incidents --severity high --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncidents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (open|resolved)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by incident type")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "filter by severity")
	cmd.Flags().StringVar(&opts.OrderID, "order", "", "filter by order id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum incidents (0 for all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "incidents to skip")

	return cmd
}

func runIncidents(opts *IncidentsOptions, cmd *cobra.Command) error {
	switch incident.Status(opts.Status) {
	case "", incident.StatusOpen, incident.StatusResolved:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q: must be open or resolved", opts.Status))
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return NewExitError(ExitCommandError, "limit and offset must not be negative")
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.engine.Feed(context.Background(), incident.Filter{
		Status:   incident.Status(opts.Status),
		Type:     incident.Type(opts.Type),
		Severity: opts.Severity,
		OrderID:  opts.OrderID,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
	if err != nil {
		return wrapDomainError("failed to list incidents", err)
	}
	return a.out.Success(items, func(w io.Writer) {
		if len(items) == 0 {
			fmt.Fprintln(w, "No incidents found.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INCIDENT\tORDER\tSTATUS\tSEVERITY\tTYPE\tROUTE\tDELTA\tEVIDENCE\tTTR")
		for _, it := range items {
			delta := "-"
			if it.EtaDeltaHours != nil {
				delta = incident.FormatHours(*it.EtaDeltaHours) + "h"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
				it.IncidentID, it.OrderID, it.Status, it.Severity, it.Label, it.Route, delta,
				it.KPIs.EvidenceTime, it.KPIs.TimeToRCA)
		}
		tw.Flush()
	})
}

// SummaryOptions holds flags for the summary command.
type SummaryOptions struct {
	*RootOptions
	OrderID string
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "summary",
		Short:         "Show an order's incidents and trace",
		Example:       `  provtrail summary --order PO123`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.engine.Summary(context.Background(), opts.OrderID)
			if err != nil {
				return wrapDomainError("failed to summarize order", err)
			}
			return a.out.Success(sum, func(w io.Writer) {
				fmt.Fprintf(w, "Order %s: %d incident(s), %d span(s)\n", sum.OrderID, len(sum.Incidents), len(sum.Spans))
				for _, inc := range sum.Incidents {
					fmt.Fprintf(w, "  incident %s %s %s\n", inc.IncidentID, inc.Status, inc.Severity)
				}
				writeSpansText(w, sum.Spans)
			})
		},
	}

	cmd.Flags().StringVar(&opts.OrderID, "order", "", "order id (required)")
	_ = cmd.MarkFlagRequired("order")

	return cmd
}

func writeSpansText(w io.Writer, spans []trace.Span) {
	for _, s := range spans {
		fmt.Fprintf(w, "  [%d,%d) %s\n", s.StartTs, s.EndTs, s.Tool)
	}
}
