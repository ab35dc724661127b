package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrail/internal/bundle"
	"github.com/roach88/provtrail/internal/canon"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	IncidentID string
	Out        string
}

// ExportResult describes a written bundle.
type ExportResult struct {
	IncidentID string `json:"incident_id"`
	Path       string `json:"path"`
	Bytes      int    `json:"bytes"`
	Digest     string `json:"digest"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an incident's signed audit bundle",
		Long: `Write a zip archive with the incident, its order's spans, a checksum list,
a signature over both, and every referenced artifact that is still stored.
Purged artifacts stay listed in checksums.json and are reported by verify.

Example:
  provtrail export --incident 0190c2a4-... --out incident.zip`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.IncidentID, "incident", "", "incident id (required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output zip path (required)")
	_ = cmd.MarkFlagRequired("incident")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.exporter.Export(ctx, opts.IncidentID)
	if err != nil {
		return wrapDomainError("failed to export bundle", err)
	}
	if err := os.WriteFile(opts.Out, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write bundle", err)
	}

	res := ExportResult{IncidentID: opts.IncidentID, Path: opts.Out, Bytes: len(data), Digest: canon.Digest(data)}
	return a.out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %s (%d bytes, sha256 %s)\n", res.Path, res.Bytes, res.Digest)
	})
}

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Bundle string
	Strict bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an exported bundle",
		Long: `Recompute the signature, the manifest digest and every artifact digest of
an exported bundle, and validate its JSON documents. Missing artifacts are
integrity gaps, not tampering, unless --strict is set.

Exit codes:
  0 - Bundle verified
  1 - Tampering detected (or gaps with --strict)
  2 - Command error (unreadable archive, etc.)

Example:
  provtrail verify --bundle incident.zip`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Bundle, "bundle", "", "path to bundle zip (required)")
	_ = cmd.MarkFlagRequired("bundle")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat missing artifacts as failure")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	// Verification needs only the signing secret, not the database.
	cfg, _, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	data, err := os.ReadFile(opts.Bundle)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read bundle", err)
	}
	report, err := bundle.Verify(data, []byte(cfg.Bundle.Secret))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify bundle", err)
	}

	text := func(w io.Writer) { writeReportText(w, report) }
	switch {
	case report.Tampered():
		return out.Failure("E_TAMPERED", "bundle verification failed", report, text)
	case opts.Strict && !report.OK():
		return out.Failure("E_INTEGRITY_GAP", "bundle has missing artifacts", report, text)
	}
	return out.Success(report, text)
}

func writeReportText(w io.Writer, r bundle.Report) {
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Fprintf(w, "%s signature\n", mark(r.SignatureValid))
	fmt.Fprintf(w, "%s manifest digest %s\n", mark(r.ManifestMatches), r.ManifestDigest)
	fmt.Fprintf(w, "%s artifact references\n", mark(r.ReferencesMatch))
	fmt.Fprintf(w, "  artifacts present: %d\n", r.Artifacts)
	for _, group := range []struct {
		label   string
		digests []string
	}{
		{"missing (integrity gap)", r.Missing},
		{"corrupt", r.Corrupt},
		{"unlisted", r.Unlisted},
		{"schema error", r.SchemaErrors},
	} {
		for _, d := range group.digests {
			fmt.Fprintf(w, "  %s: %s\n", group.label, d)
		}
	}
	switch {
	case r.Tampered():
		fmt.Fprintln(w, "✗ Bundle verification failed")
	case len(r.Missing) > 0:
		fmt.Fprintf(w, "✓ Bundle verified with %d integrity gap(s)\n", len(r.Missing))
	default:
		fmt.Fprintln(w, "✓ Bundle verified")
	}
}
