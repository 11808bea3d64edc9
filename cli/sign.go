package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sudhir-boottttt/MSpdf-sub001/config"
	"github.com/sudhir-boottttt/MSpdf-sub001/keys"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/writer"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/signers"
)

type signOptions struct {
	in, out     string
	container   string
	password    string
	passwordEnv string
	certFile    string
	keyFile     string
	blank       int

	reason, location, contact, name, field string
	digest                                 string
	placeholderSize                        int
	page                                   int
	rect                                   []float64
	text                                   string
}

func newSignCommand(a *app) *cobra.Command {
	o := &signOptions{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a PDF document",
		Long: `Sign appends a signature to the input document as an incremental update.

The key comes from a PKCS#12 file or PEM bundle (--p12), or from a PEM
certificate and key pair (--cert and --key). Flags override values from the
configuration file.`,
		Example: `  pdfsig sign --in contract.pdf --out signed.pdf --p12 signer.p12 --password-env PDFSIG_SECRET --reason approval
  pdfsig sign --blank 1 --out sample.pdf --cert signer.crt --key signer.key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSign(cmd, a, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.in, "in", "", "input PDF")
	f.StringVar(&o.out, "out", "", "output PDF")
	f.StringVar(&o.container, "p12", "", "PKCS#12 file or PEM bundle holding the key and certificate")
	f.StringVar(&o.password, "password", "", "key container password")
	f.StringVar(&o.passwordEnv, "password-env", "", "environment variable holding the key container password")
	f.StringVar(&o.certFile, "cert", "", "PEM or DER certificate chain, signer first")
	f.StringVar(&o.keyFile, "key", "", "PEM or DER private key")
	f.IntVar(&o.blank, "blank", 0, "sign a new blank document with this many pages instead of --in")
	f.StringVar(&o.reason, "reason", "", "reason for signing")
	f.StringVar(&o.location, "location", "", "signing location")
	f.StringVar(&o.contact, "contact", "", "signer contact information")
	f.StringVar(&o.name, "name", "", "signer name")
	f.StringVar(&o.field, "field", "", "signature field name")
	f.StringVar(&o.digest, "digest", "", "digest algorithm, one of "+strings.Join(digest.Names(), ", "))
	f.IntVar(&o.placeholderSize, "placeholder-size", 0, "bytes reserved for the signature envelope, 0 to compute")
	f.IntVar(&o.page, "page", 0, "0-based page of a visible signature")
	f.Float64SliceVar(&o.rect, "rect", nil, "visible signature rectangle llx,lly,urx,ury")
	f.StringVar(&o.text, "text", "", "text of a visible signature")
	_ = cmd.MarkFlagRequired("out")
	cmd.MarkFlagsMutuallyExclusive("in", "blank")
	cmd.MarkFlagsMutuallyExclusive("p12", "cert")
	cmd.MarkFlagsRequiredTogether("cert", "key")
	return cmd
}

// merge applies the flags that were set on top of the configuration.
func (o *signOptions) merge(cmd *cobra.Command, c *config.SigningConfig) error {
	f := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if f.Changed(name) {
			*dst = v
		}
	}
	set("reason", &c.Reason, o.reason)
	set("location", &c.Location, o.location)
	set("contact", &c.ContactInfo, o.contact)
	set("name", &c.Name, o.name)
	set("field", &c.FieldName, o.field)
	set("digest", &c.Digest, o.digest)
	set("p12", &c.KeyContainer, o.container)
	set("password-env", &c.PassphraseEnv, o.passwordEnv)
	if f.Changed("placeholder-size") {
		c.PlaceholderSize = o.placeholderSize
	}
	if f.Changed("rect") || f.Changed("text") || f.Changed("page") {
		if c.Appearance == nil {
			c.Appearance = &config.AppearanceConfig{}
		}
		if f.Changed("rect") {
			c.Appearance.Rect = o.rect
		}
		if f.Changed("text") {
			c.Appearance.Text = o.text
		}
		if f.Changed("page") {
			c.Appearance.Page = o.page
		}
	}
	return c.Validate()
}

func (o *signOptions) secret(c *config.SigningConfig) []byte {
	if o.password != "" {
		return []byte(o.password)
	}
	return c.Passphrase()
}

func (o *signOptions) document() ([]byte, error) {
	if o.blank > 0 {
		return writer.NewBlankDocument(writer.BlankOptions{Pages: o.blank})
	}
	if o.in == "" {
		return nil, errors.New("either --in or --blank is required")
	}
	return os.ReadFile(o.in)
}

func runSign(cmd *cobra.Command, a *app, o *signOptions) error {
	sc := a.cfg.Signing
	if err := o.merge(cmd, sc); err != nil {
		return err
	}
	doc, err := o.document()
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	producer := signers.NewProducer(signers.WithLogger(a.logger))
	opts := sc.SignOptions()
	secret := o.secret(sc)
	defer clear(secret)

	var signed []byte
	switch {
	case o.certFile != "":
		creds, err := keys.LoadPEMCredentials(o.certFile, o.keyFile, secret)
		if err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}
		defer creds.Wipe()
		signed, err = producer.SignWithCredentials(cmd.Context(), doc, creds, opts)
		if err != nil {
			return err
		}
	case sc.KeyContainer != "":
		container, err := os.ReadFile(sc.KeyContainer)
		if err != nil {
			return fmt.Errorf("reading key container: %w", err)
		}
		signed, err = producer.SignDocument(cmd.Context(), doc, container, secret, opts)
		if err != nil {
			return err
		}
	default:
		return errors.New("a key is required: use --p12, or --cert and --key")
	}

	if err := os.WriteFile(o.out, signed, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	a.logger.Info("wrote signed document", zap.String("path", o.out), zap.Int("size", len(signed)))
	fmt.Fprintf(cmd.OutOrStdout(), "Signed %s\n", o.out)
	return nil
}
