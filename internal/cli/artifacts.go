package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/trace"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Digest string
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete an artifact's bytes under a retention policy",
		Long: `Delete a stored blob while keeping its metadata and every span that
references it. Exported bundles list the digest and report it as an
integrity gap.

Example:
  provtrail purge --digest 65f2a75d...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !canon.ValidDigest(opts.Digest) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid digest %q", opts.Digest))
			}
			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.artifacts.Purge(context.Background(), opts.Digest); err != nil {
				return wrapDomainError("failed to purge artifact", err)
			}
			return a.out.Success(map[string]string{"purged": opts.Digest}, func(w io.Writer) {
				fmt.Fprintf(w, "Purged %s\n", opts.Digest)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Digest, "digest", "", "artifact digest (required)")
	_ = cmd.MarkFlagRequired("digest")

	return cmd
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	MimeType  string
	PIIMasked bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file as an artifact and print its digest",
		Long: `Store a file in the content-addressed artifact store. Storing the same
bytes again returns the same digest and writes nothing. Use the digest in
spans submitted with append.

Example:
  provtrail put payload.json --mime-type application/json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read file", err)
			}
			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			digest, err := a.artifacts.Put(context.Background(), data, artifact.PutOptions{
				MimeType:  opts.MimeType,
				PIIMasked: opts.PIIMasked,
			})
			if err != nil {
				return wrapDomainError("failed to store artifact", err)
			}
			return a.out.Success(map[string]any{"digest": digest, "length": len(data)}, func(w io.Writer) {
				fmt.Fprintln(w, digest)
			})
		},
	}

	cmd.Flags().StringVar(&opts.MimeType, "mime-type", artifact.MimeBinary, "artifact MIME type")
	cmd.Flags().BoolVar(&opts.PIIMasked, "pii", false, "mark the artifact as PII-bearing (hidden from previews)")

	return cmd
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <spans.json>",
		Short: "Append externally produced spans",
		Long: `Append spans from a JSON array (or "-" for stdin). Each span names its
order directly (order_id) or through an incident (incident_id), and both of
its digests must already be stored. Nothing is appended unless every span
is valid.

Example:
  provtrail append spans.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read spans", err)
			}

			var inputs []trace.SpanInput
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&inputs); err != nil {
				return WrapExitError(ExitCommandError, "failed to parse spans", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			spans, err := a.ingestor.Append(context.Background(), inputs...)
			if err != nil {
				return wrapDomainError("span rejected", err)
			}
			return a.out.Success(spans, func(w io.Writer) {
				fmt.Fprintf(w, "Appended %d span(s)\n", len(spans))
				writeSpansText(w, spans)
			})
		},
	}
	return cmd
}
