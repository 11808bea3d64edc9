// Package validation verifies the signatures embedded in a PDF document.
//
// Every signature is evaluated on its own: a failure is recorded in that
// signature's result and never stops the evaluation of the others.
package validation

import (
	"context"
	"crypto/x509"
	"fmt"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sudhir-boottttt/MSpdf-sub001/certvalidator"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/reader"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/byterange"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/cms"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// Messages reported for the two cryptographic failures.
const (
	MessageDigestMismatch     = "digest mismatch"
	MessageVerificationFailed = "signature verification failed"
)

// Algorithms names the algorithms a signature actually used.
type Algorithms struct {
	Digest    string `json:"digest,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// SignatureValidationResult is the outcome for one embedded signature.
// Certificate and coverage fields are filled whenever the data allows, even
// when IsValid is false.
type SignatureValidationResult struct {
	Index     int    `json:"index"`
	FieldName string `json:"field_name,omitempty"`
	IsValid   bool   `json:"is_valid"`

	certvalidator.CertificateInfo

	// SignatureDate is the signingTime attribute, or the /M entry when the
	// envelope has none.
	SignatureDate *time.Time `json:"signature_date,omitempty"`
	Algorithms    Algorithms `json:"algorithms"`

	CoverageStatus  byterange.Coverage `json:"coverage_status"`
	CoveragePercent float64            `json:"coverage_percent"`
	ByteRange       []int64            `json:"byte_range,omitempty"`

	Reason      string `json:"reason,omitempty"`
	Location    string `json:"location,omitempty"`
	ContactInfo string `json:"contact_info,omitempty"`
	Name        string `json:"name,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// Err is the underlying error behind ErrorMessage.
	Err error `json:"-"`
}

func (r *SignatureValidationResult) fail(err error) {
	r.IsValid = false
	r.Err = err
	kind := sigerr.KindOf(err)
	r.ErrorKind = kind.String()
	switch kind {
	case sigerr.KindDigestMismatch:
		r.ErrorMessage = MessageDigestMismatch
	case sigerr.KindSignatureVerificationFailed:
		r.ErrorMessage = MessageVerificationFailed
	default:
		r.ErrorMessage = err.Error()
	}
}

// Validator validates the signatures of documents. The zero value is not
// usable; create one with NewValidator.
type Validator struct {
	// Workers bounds the signatures evaluated in parallel. Zero or less uses
	// one worker per CPU.
	Workers int
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithWorkers sets the parallelism.
func WithWorkers(n int) Option {
	return func(v *Validator) { v.Workers = n }
}

// WithClock sets the clock used for expiry when a signature has no signing time.
func WithClock(c clockwork.Clock) Option {
	return func(v *Validator) { v.Clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.Logger = l }
}

// NewValidator returns a validator using the real clock and a no-op logger
// unless configured otherwise.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		Clock:  clockwork.NewRealClock(),
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateSignatures validates every signature in doc with a default validator.
func ValidateSignatures(ctx context.Context, doc []byte, anchor *x509.Certificate) ([]*SignatureValidationResult, error) {
	return NewValidator().ValidateSignatures(ctx, doc, anchor)
}

// ValidateSignatures returns one result per signature in doc, in file order.
// anchor may be nil, in which case no signature is trusted. An error is
// returned only when the document structure cannot be read or ctx ends.
func (v *Validator) ValidateSignatures(ctx context.Context, doc []byte, anchor *x509.Certificate) ([]*SignatureValidationResult, error) {
	sigs, err := reader.ListSignatureFields(doc)
	if err != nil {
		return nil, fmt.Errorf("listing signatures: %w", err)
	}
	results := make([]*SignatureValidationResult, len(sigs))
	if len(sigs) == 0 {
		v.Logger.Debug("document has no signatures", zap.Int("size", len(doc)))
		return results, nil
	}

	workers := v.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(sigs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sig := range sigs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.validateOne(doc, sig, anchor)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := Summarize(results)
	v.Logger.Info("validated signatures",
		zap.Int("total", s.Total),
		zap.Int("valid", s.Valid),
		zap.Int("invalid", s.Invalid),
		zap.Int("partial", s.Partial),
		zap.Int("workers", workers))
	return results, nil
}

// validateOne never panics; an unexpected failure becomes the result's error.
func (v *Validator) validateOne(doc []byte, sig *reader.EmbeddedSignature, anchor *x509.Certificate) (result *SignatureValidationResult) {
	result = &SignatureValidationResult{
		Index:       sig.Index,
		FieldName:   sig.FieldName,
		ByteRange:   sig.ByteRange,
		Reason:      sig.Reason,
		Location:    sig.Location,
		ContactInfo: sig.ContactInfo,
		Name:        sig.Name,
	}
	log := v.Logger.With(zap.Int("index", sig.Index), zap.String("field", sig.FieldName))
	defer func() {
		if p := recover(); p != nil {
			result.fail(fmt.Errorf("internal error: %v", p))
		}
		if result.Err != nil {
			log.Debug("signature invalid", zap.String("kind", result.ErrorKind), zap.Error(result.Err))
		} else {
			log.Debug("signature valid", zap.Stringer("coverage", result.CoverageStatus))
		}
	}()

	fileLen := int64(len(doc))
	br, rangeErr := byterange.FromSlice(sig.ByteRange)
	if rangeErr == nil {
		rangeErr = br.Validate(fileLen)
	}
	if rangeErr == nil {
		result.CoverageStatus = byterange.Classify(&br, fileLen)
		result.CoveragePercent = br.Percent(fileLen)
	} else {
		result.CoverageStatus = byterange.Classify(nil, fileLen)
	}

	env, err := cms.Parse(sig.Contents)
	if err != nil {
		result.fail(err)
		return result
	}
	result.Algorithms.Signature = env.SignatureAlgorithmName()

	result.SignatureDate = env.SigningTime
	if result.SignatureDate == nil {
		result.SignatureDate = sig.SigningTime
	}
	result.CertificateInfo = certvalidator.Evaluate(env.Certificate, certvalidator.EvaluateOptions{
		SigningTime: result.SignatureDate,
		TrustAnchor: anchor,
		Chain:       env.Chain,
		Clock:       v.Clock,
	})

	if rangeErr != nil {
		result.fail(rangeErr)
		return result
	}

	alg, err := env.DigestAlgorithm()
	if err != nil {
		result.fail(err)
		return result
	}
	result.Algorithms.Digest = alg.Name

	computed, err := digest.ComputeWith(doc, br, alg)
	if err != nil {
		result.fail(err)
		return result
	}
	if err := env.CheckDigest(computed); err != nil {
		result.fail(err)
		return result
	}
	if err := env.VerifySignature(computed); err != nil {
		result.fail(err)
		return result
	}

	result.IsValid = true
	return result
}

// Summary counts the outcomes of a validation run.
type Summary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Partial int `json:"partial"`
	Unknown int `json:"unknown"`
}

// AllValid reports whether there was at least one signature and all are valid.
func (s Summary) AllValid() bool {
	return s.Total > 0 && s.Valid == s.Total
}

// Summarize counts valid and invalid results and their coverage.
func Summarize(results []*SignatureValidationResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.IsValid {
			s.Valid++
		} else {
			s.Invalid++
		}
		switch r.CoverageStatus {
		case byterange.CoveragePartial:
			s.Partial++
		case byterange.CoverageUnknown:
			s.Unknown++
		}
	}
	return s
}
