package signers

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sudhir-boottttt/MSpdf-sub001/keys"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/writer"
	"github.com/sudhir-boottttt/MSpdf-sub001/stamp"
)

// SignOptions configures one signature.
type SignOptions struct {
	// FieldName defaults to the first free "SignatureN".
	FieldName   string
	Reason      string
	Location    string
	ContactInfo string
	// Name is the signer name written to the signature dictionary.
	Name string

	// DigestAlgorithm defaults to DefaultMD. Ed25519 keys always use SHA-512.
	DigestAlgorithm string
	// SigningTime defaults to the producer clock.
	SigningTime time.Time
	// PlaceholderSize is the number of envelope bytes to reserve. Zero
	// reserves the largest size the envelope can reach.
	PlaceholderSize int
	SubFilter       string

	// Appearance makes the signature visible. Nil signs invisibly on the
	// first page.
	Appearance *Appearance
}

func (o SignOptions) digestName() string {
	if o.DigestAlgorithm == "" {
		return DefaultMD
	}
	return o.DigestAlgorithm
}

// Appearance places a visible signature widget.
type Appearance struct {
	// Page is 0-based.
	Page int
	Rect generic.Rectangle
	// Text replaces the generated lines; '\n' separates lines.
	Text  string
	Style *stamp.Style
}

// Producer signs documents. Create one with NewProducer.
type Producer struct {
	Logger *zap.Logger
	Clock  clockwork.Clock
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Producer) { p.Logger = l }
}

// WithClock sets the clock used for the default signing time.
func WithClock(c clockwork.Clock) Option {
	return func(p *Producer) { p.Clock = c }
}

// NewProducer returns a producer using the real clock and a no-op logger
// unless configured otherwise.
func NewProducer(opts ...Option) *Producer {
	p := &Producer{
		Logger: zap.NewNop(),
		Clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignDocument signs doc with the key in container using a default producer.
func SignDocument(ctx context.Context, doc, container, secret []byte, opts SignOptions) ([]byte, error) {
	return NewProducer().SignDocument(ctx, doc, container, secret, opts)
}

// SignDocument unlocks container with secret and returns doc with a new
// signature appended as an incremental update. doc is a byte-identical
// prefix of the result. The unlocked key is wiped before returning, and no
// output is returned on failure.
func (p *Producer) SignDocument(ctx context.Context, doc, container, secret []byte, opts SignOptions) ([]byte, error) {
	log := p.Logger.With(zap.Int("size", len(doc)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug("signing", zap.Stringer("state", StateIdle))

	loaded, err := idle{container: container, secret: secret}.loadKey()
	if err != nil {
		log.Debug("signing failed", zap.Stringer("state", StateIdle), zap.Error(err))
		return nil, err
	}
	defer loaded.creds.Wipe()
	log.Debug("signing", zap.Stringer("state", StateKeyLoaded))

	return p.run(ctx, log, doc, loaded, opts)
}

// SignWithCredentials signs doc with already unlocked credentials. The
// caller keeps ownership of creds and is responsible for wiping them.
func (p *Producer) SignWithCredentials(ctx context.Context, doc []byte, creds *keys.Credentials, opts SignOptions) ([]byte, error) {
	log := p.Logger.With(zap.Int("size", len(doc)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug("signing", zap.Stringer("state", StateKeyLoaded))
	return p.run(ctx, log, doc, &keyLoaded{creds: creds}, opts)
}

func (p *Producer) run(ctx context.Context, log *zap.Logger, doc []byte, loaded *keyLoaded, opts SignOptions) ([]byte, error) {
	state := StateKeyLoaded
	fail := func(err error) ([]byte, error) {
		log.Debug("signing failed", zap.Stringer("state", state), zap.Error(err))
		return nil, err
	}
	advance := func(next State) error {
		state = next
		log.Debug("signing", zap.Stringer("state", state))
		return ctx.Err()
	}

	signingTime := opts.SigningTime
	if signingTime.IsZero() {
		signingTime = p.Clock.Now()
	}
	signingTime = signingTime.Truncate(time.Second)

	reserved, err := loaded.reservePlaceholder(opts, signingTime)
	if err != nil {
		return fail(err)
	}
	if err := advance(StatePlaceholderReserved); err != nil {
		return fail(err)
	}

	app, err := reserved.appendRevision(doc, p.fieldSpec(opts, loaded.creds, signingTime))
	if err != nil {
		return fail(err)
	}
	if err := advance(StateAppended); err != nil {
		return fail(err)
	}

	digested, err := app.computeDigest()
	if err != nil {
		return fail(err)
	}
	if err := advance(StateDigestComputed); err != nil {
		return fail(err)
	}

	built, err := digested.buildEnvelope()
	if err != nil {
		return fail(err)
	}
	if err := advance(StateEnvelopeBuilt); err != nil {
		return fail(err)
	}

	done, err := built.patch()
	if err != nil {
		return fail(err)
	}
	state = StatePatched

	log.Info("signed document",
		zap.Stringer("state", state),
		zap.String("field", done.fieldName),
		zap.Stringer("byte_range", done.byteRange),
		zap.String("digest", reserved.builder.Digest.Name),
		zap.Int("reserved", reserved.width),
		zap.Int("envelope", len(built.envelope)))
	return done.data, nil
}

func (p *Producer) fieldSpec(opts SignOptions, creds *keys.Credentials, signingTime time.Time) writer.FieldSpec {
	spec := writer.FieldSpec{
		FieldName:   opts.FieldName,
		Reason:      opts.Reason,
		Location:    opts.Location,
		ContactInfo: opts.ContactInfo,
		Name:        opts.Name,
		SigningTime: signingTime,
		Filter:      DefaultSigFilter,
		SubFilter:   opts.SubFilter,
	}
	if spec.SubFilter == "" {
		spec.SubFilter = DefaultSigSubFilter
	}

	if a := opts.Appearance; a != nil {
		spec.Page = a.Page
		spec.Rect = a.Rect
		if !a.Rect.IsZero() {
			signer := opts.Name
			if signer == "" && creds.Certificate != nil {
				signer = creds.Certificate.Subject.CommonName
			}
			sa := &stamp.SignatureAppearance{
				Style:       a.Style,
				SignerName:  signer,
				Reason:      opts.Reason,
				Location:    opts.Location,
				SigningTime: signingTime,
				Text:        a.Text,
			}
			spec.Appearance = sa.CreateAppearanceStream(a.Rect.Width(), a.Rect.Height())
		}
	}
	return spec
}
