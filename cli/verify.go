package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sudhir-boottttt/MSpdf-sub001/config"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/validation"
)

type verifyOptions struct {
	in          string
	trustAnchor string
	json        bool
	workers     int
	timeout     time.Duration
}

// VerifyOutput is the JSON document printed by verify --json.
type VerifyOutput struct {
	File       string                                  `json:"file"`
	Summary    validation.Summary                      `json:"summary"`
	Signatures []*validation.SignatureValidationResult `json:"signatures"`
}

func newVerifyCommand(a *app) *cobra.Command {
	o := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the signatures of a PDF document",
		Long: `Verify checks every signature of the input document independently and
reports integrity, coverage and certificate details for each one.

The exit status is 1 when any signature is invalid.`,
		Example: `  pdfsig verify --in signed.pdf
  pdfsig verify --in signed.pdf --trust-anchor ca.pem --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, a, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.in, "in", "", "PDF to verify")
	f.StringVar(&o.trustAnchor, "trust-anchor", "", "trusted certificate (PEM or DER)")
	f.BoolVar(&o.json, "json", false, "print results as JSON")
	f.IntVar(&o.workers, "workers", 0, "signatures checked in parallel, 0 for one per CPU")
	f.DurationVar(&o.timeout, "timeout", 0, "abort verification after this long, 0 for no limit")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (o *verifyOptions) merge(cmd *cobra.Command, c *config.ValidationConfig) error {
	f := cmd.Flags()
	if f.Changed("trust-anchor") {
		c.TrustAnchor = o.trustAnchor
	}
	if f.Changed("workers") {
		c.Workers = o.workers
	}
	if f.Changed("timeout") {
		c.Timeout = o.timeout
	}
	return c.Validate()
}

func runVerify(cmd *cobra.Command, a *app, o *verifyOptions) error {
	vc := a.cfg.Validation
	if err := o.merge(cmd, vc); err != nil {
		return err
	}
	anchor, err := vc.LoadTrustAnchor()
	if err != nil {
		return err
	}
	doc, err := os.ReadFile(o.in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if vc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, vc.Timeout)
		defer cancel()
	}

	v := validation.NewValidator(validation.WithWorkers(vc.Workers), validation.WithLogger(a.logger))
	results, err := v.ValidateSignatures(ctx, doc, anchor)
	if err != nil {
		return err
	}

	out := VerifyOutput{File: o.in, Summary: validation.Summarize(results), Signatures: results}
	if o.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printText(cmd.OutOrStdout(), out)
	}

	if out.Summary.Invalid > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d signatures invalid", out.Summary.Invalid, out.Summary.Total)}
	}
	return nil
}

func printText(w io.Writer, out VerifyOutput) {
	if len(out.Signatures) == 0 {
		fmt.Fprintf(w, "%s: no signatures\n", out.File)
		return
	}
	fmt.Fprintf(w, "%s: %d signature(s)\n", out.File, len(out.Signatures))
	for _, r := range out.Signatures {
		status := "VALID"
		if !r.IsValid {
			status = "INVALID"
		}
		fmt.Fprintf(w, "\n[%d] %s: %s\n", r.Index, r.FieldName, status)
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "  Error:     %s\n", r.ErrorMessage)
		}
		fmt.Fprintf(w, "  Coverage:  %s (%.2f%%)\n", r.CoverageStatus, r.CoveragePercent)
		if r.Algorithms.Digest != "" {
			fmt.Fprintf(w, "  Digest:    %s, %s\n", r.Algorithms.Digest, r.Algorithms.Signature)
		}
		if r.SubjectName != "" {
			fmt.Fprintf(w, "  Signer:    %s\n", r.SubjectName)
			fmt.Fprintf(w, "  Issuer:    %s\n", r.IssuerName)
			fmt.Fprintf(w, "  Valid:     %s to %s\n", r.ValidFrom.Format(time.RFC3339), r.ValidTo.Format(time.RFC3339))
			fmt.Fprintf(w, "  Flags:     self-signed=%t expired=%t trusted=%t\n", r.IsSelfSigned, r.IsExpired, r.IsTrusted)
		}
		if r.SignatureDate != nil {
			fmt.Fprintf(w, "  Signed at: %s\n", r.SignatureDate.Format(time.RFC3339))
		}
		if r.Reason != "" {
			fmt.Fprintf(w, "  Reason:    %s\n", r.Reason)
		}
		if r.Location != "" {
			fmt.Fprintf(w, "  Location:  %s\n", r.Location)
		}
	}
}
