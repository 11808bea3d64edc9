package validation_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/reader"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/writer"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/byterange"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/cms"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/signers"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/validation"
)

type identity struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
}

func newIdentity(t *testing.T, cn string, notBefore, notAfter time.Time, issuer *identity) *identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  issuer == nil,
	}
	parent, signer := tmpl, crypto.Signer(key)
	if issuer != nil {
		parent, signer = issuer.cert, issuer.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, key.Public(), signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &identity{key: key, cert: cert}
}

func currentIdentity(t *testing.T, cn string) *identity {
	return newIdentity(t, cn, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour), nil)
}

// container encodes the identity and any extra certificates as a PEM bundle.
func (id *identity) container(t *testing.T, chain ...*x509.Certificate) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(id.key)
	require.NoError(t, err)
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.cert.Raw})
	for _, c := range chain {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return append(out, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})...)
}

func blankDocument(t *testing.T) []byte {
	t.Helper()
	doc, err := writer.NewBlankDocument(writer.BlankOptions{})
	require.NoError(t, err)
	return doc
}

func sign(t *testing.T, doc []byte, id *identity, opts signers.SignOptions) []byte {
	t.Helper()
	out, err := signers.SignDocument(context.Background(), doc, id.container(t), nil, opts)
	require.NoError(t, err)
	return out
}

// appendRevision adds an unrelated object as a new incremental update.
func appendRevision(t *testing.T, doc []byte) []byte {
	t.Helper()
	r, err := reader.NewPdfFileReaderFromBytes(doc)
	require.NoError(t, err)
	w := writer.NewIncrementalPdfFileWriter(r)
	note := generic.NewDictionary()
	note.Set("Note", generic.NewTextString("edited after signing"))
	w.AddObject(note)
	out, _, err := w.Bytes()
	require.NoError(t, err)
	return out
}

// appendRawSignature reserves a signature slot and fills it with envelope,
// writing ranges verbatim.
func appendRawSignature(t *testing.T, doc []byte, envelope []byte, ranges func(start, end, total int64) [4]int64) []byte {
	t.Helper()
	ph, err := writer.AppendSignaturePlaceholder(doc, writer.FieldSpec{}, 4096)
	require.NoError(t, err)
	require.NoError(t, ph.SetByteRange(ranges(ph.Gap())))
	require.NoError(t, ph.Embed(envelope))
	return ph.Data
}

func validate(t *testing.T, doc []byte, anchor *x509.Certificate, opts ...validation.Option) []*validation.SignatureValidationResult {
	t.Helper()
	opts = append([]validation.Option{validation.WithLogger(zaptest.NewLogger(t))}, opts...)
	results, err := validation.NewValidator(opts...).ValidateSignatures(context.Background(), doc, anchor)
	require.NoError(t, err)
	return results
}

func TestRoundTrip(t *testing.T) {
	id := currentIdentity(t, "Round Trip")
	signed := sign(t, blankDocument(t), id, signers.SignOptions{Reason: "approval", ContactInfo: "ops@example.com"})

	results := validate(t, signed, nil)
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.IsValid)
	assert.Equal(t, byterange.CoverageFull, r.CoverageStatus)
	assert.Greater(t, r.CoveragePercent, 50.0)
	assert.Less(t, r.CoveragePercent, 100.0)
	assert.Equal(t, "SHA-256", r.Algorithms.Digest)
	assert.Equal(t, "ECDSA", r.Algorithms.Signature)
	assert.Equal(t, "approval", r.Reason)
	assert.Equal(t, "ops@example.com", r.ContactInfo)
	assert.Equal(t, "Round Trip", r.SubjectName)
	assert.Equal(t, "Test Org", r.SubjectOrg)
	assert.Len(t, r.ByteRange, 4)
	assert.Empty(t, r.ErrorKind)
	assert.NoError(t, r.Err)
}

func TestTamperedDocument(t *testing.T) {
	signed := sign(t, blankDocument(t), currentIdentity(t, "Tamper"), signers.SignOptions{})
	tampered := append([]byte(nil), signed...)
	// Byte 10 is inside the binary comment after the header.
	tampered[10] ^= 0x01

	results := validate(t, tampered, nil)
	require.Len(t, results, 1)
	r := results[0]
	assert.False(t, r.IsValid)
	assert.Equal(t, validation.MessageDigestMismatch, r.ErrorMessage)
	assert.Equal(t, "DigestMismatch", r.ErrorKind)
	assert.Equal(t, byterange.CoverageFull, r.CoverageStatus)
	assert.Equal(t, "Tamper", r.SubjectName)
}

func TestExpiredCertificate(t *testing.T) {
	now := time.Now()
	expired := newIdentity(t, "Expired", now.AddDate(-2, 0, 0), now.AddDate(-1, 0, 0), nil)

	t.Run("signed after expiry", func(t *testing.T) {
		signed := sign(t, blankDocument(t), expired, signers.SignOptions{})
		r := validate(t, signed, nil)[0]
		assert.True(t, r.IsExpired)
		assert.True(t, r.IsValid)
	})

	t.Run("signed within validity", func(t *testing.T) {
		signed := sign(t, blankDocument(t), expired, signers.SignOptions{SigningTime: now.AddDate(-1, -6, 0)})
		r := validate(t, signed, nil)[0]
		assert.False(t, r.IsExpired)
		require.NotNil(t, r.SignatureDate)
		assert.True(t, r.SignatureDate.Before(expired.cert.NotAfter))
	})
}

func TestSelfSignedWithoutAnchor(t *testing.T) {
	id := currentIdentity(t, "Self")
	signed := sign(t, blankDocument(t), id, signers.SignOptions{})

	r := validate(t, signed, nil)[0]
	assert.True(t, r.IsSelfSigned)
	assert.False(t, r.IsTrusted)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.ErrorMessage)

	r = validate(t, signed, id.cert)[0]
	assert.True(t, r.IsTrusted)
}

func TestIssuedCertificateTrust(t *testing.T) {
	ca := currentIdentity(t, "Test CA")
	leaf := newIdentity(t, "Leaf", time.Now().Add(-time.Hour), time.Now().Add(time.Hour), ca)
	signed, err := signers.SignDocument(context.Background(), blankDocument(t), leaf.container(t, ca.cert), nil, signers.SignOptions{})
	require.NoError(t, err)

	r := validate(t, signed, ca.cert)[0]
	assert.True(t, r.IsValid)
	assert.False(t, r.IsSelfSigned)
	assert.True(t, r.IsTrusted)
	assert.Equal(t, "Test CA", r.IssuerName)

	other := currentIdentity(t, "Other CA")
	r = validate(t, signed, other.cert)[0]
	assert.False(t, r.IsTrusted)
	assert.True(t, r.IsValid)
}

func TestIntermediateEditCoverage(t *testing.T) {
	id := currentIdentity(t, "Coverage")
	doc := sign(t, blankDocument(t), id, signers.SignOptions{FieldName: "first"})
	doc = appendRevision(t, doc)
	doc = sign(t, doc, id, signers.SignOptions{FieldName: "second"})

	results := validate(t, doc, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].FieldName)
	assert.Equal(t, byterange.CoveragePartial, results[0].CoverageStatus)
	assert.Less(t, results[0].CoveragePercent, 100.0)
	assert.True(t, results[0].IsValid)
	assert.Equal(t, "second", results[1].FieldName)
	assert.Equal(t, byterange.CoverageFull, results[1].CoverageStatus)
	assert.True(t, results[1].IsValid)

	s := validation.Summarize(results)
	assert.Equal(t, validation.Summary{Total: 2, Valid: 2, Partial: 1}, s)
	assert.True(t, s.AllValid())
}

func TestMalformedEnvelopeIsIsolated(t *testing.T) {
	id := currentIdentity(t, "Isolation")
	doc := sign(t, blankDocument(t), id, signers.SignOptions{})
	doc = appendRawSignature(t, doc, []byte("garbage"), func(start, end, total int64) [4]int64 {
		return [4]int64{0, start, end, total - end}
	})
	doc = sign(t, doc, id, signers.SignOptions{})

	results := validate(t, doc, nil)
	require.Len(t, results, 3)
	assert.True(t, results[0].IsValid)
	assert.Empty(t, results[0].ErrorMessage)

	assert.False(t, results[1].IsValid)
	assert.Equal(t, "MalformedEnvelope", results[1].ErrorKind)
	assert.NotEmpty(t, results[1].ErrorMessage)
	assert.Equal(t, byterange.CoveragePartial, results[1].CoverageStatus)
	assert.Empty(t, results[1].SubjectName)

	assert.True(t, results[2].IsValid)
	assert.Empty(t, results[2].ErrorMessage)
	assert.Equal(t, byterange.CoverageFull, results[2].CoverageStatus)

	assert.Equal(t, validation.Summary{Total: 3, Valid: 2, Invalid: 1, Partial: 2}, validation.Summarize(results))
}

func TestMalformedRangeKeepsCertificate(t *testing.T) {
	id := currentIdentity(t, "Bad Range")
	alg, err := digest.Lookup(digest.SHA256)
	require.NoError(t, err)
	md := sha256.Sum256([]byte("anything"))
	envelope, err := cms.NewBuilder(id.cert, nil, id.key, alg).Build(md[:])
	require.NoError(t, err)

	doc := appendRawSignature(t, blankDocument(t), envelope, func(start, end, total int64) [4]int64 {
		return [4]int64{0, start, end, total * 2}
	})

	results := validate(t, doc, nil)
	require.Len(t, results, 1)
	r := results[0]
	assert.False(t, r.IsValid)
	assert.Equal(t, "MalformedRange", r.ErrorKind)
	assert.Equal(t, byterange.CoverageUnknown, r.CoverageStatus)
	assert.Equal(t, "Bad Range", r.SubjectName)
	assert.Equal(t, "ECDSA", r.Algorithms.Signature)
}

// overwriteByteRange replaces the reserved /ByteRange array with text,
// padded with spaces to the reserved width.
func overwriteByteRange(t *testing.T, ph *writer.Placeholder, text string) {
	t.Helper()
	end := bytes.IndexByte(ph.Data[ph.ByteRangeOffset:], ']')
	require.GreaterOrEqual(t, end+1, len(text))
	padded := text[:len(text)-1] + strings.Repeat(" ", end+1-len(text)) + "]"
	copy(ph.Data[ph.ByteRangeOffset:], padded)
}

func TestOverflowingRangeIsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		ranges func(br byterange.ByteRange) string
	}{
		{"second length", func(br byterange.ByteRange) string {
			return fmt.Sprintf("[0 %d %d %d]", br.Len1, br.Start2, int64(math.MaxInt64))
		}},
		{"first length", func(br byterange.ByteRange) string {
			return fmt.Sprintf("[1 %d %d %d]", int64(math.MaxInt64), br.Start2, br.Len2)
		}},
	}

	id := currentIdentity(t, "Overflow")
	alg, err := digest.Lookup(digest.SHA256)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ph, err := writer.AppendSignaturePlaceholder(blankDocument(t), writer.FieldSpec{}, 4096)
			require.NoError(t, err)
			br := byterange.New(ph.Gap())
			require.NoError(t, ph.SetByteRange([4]int64{br.Start1, br.Len1, br.Start2, br.Len2}))
			md, err := digest.ComputeWith(ph.Data, br, alg)
			require.NoError(t, err)
			envelope, err := cms.NewBuilder(id.cert, nil, id.key, alg).Build(md)
			require.NoError(t, err)
			require.NoError(t, ph.Embed(envelope))
			overwriteByteRange(t, ph, tt.ranges(br))

			results := validate(t, ph.Data, nil)
			require.Len(t, results, 1)
			r := results[0]
			assert.False(t, r.IsValid)
			assert.Equal(t, "MalformedRange", r.ErrorKind)
			assert.Equal(t, byterange.CoverageUnknown, r.CoverageStatus)
			assert.NotContains(t, r.ErrorMessage, "internal error")
			assert.Equal(t, "Overflow", r.SubjectName)
		})
	}
}

func TestTamperAffectsOnlyLaterSignature(t *testing.T) {
	id := currentIdentity(t, "Tamper Two")
	doc := sign(t, blankDocument(t), id, signers.SignOptions{FieldName: "a"})
	firstLen := len(doc)
	doc = appendRevision(t, doc)

	// Flip a byte of the unrelated revision, which only "b" will cover.
	idx := bytes.Index(doc[firstLen:], []byte("edited after signing"))
	require.GreaterOrEqual(t, idx, 0)
	doc[firstLen+idx] ^= 0x20
	doc = sign(t, doc, id, signers.SignOptions{FieldName: "b"})

	results := validate(t, doc, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].FieldName)
	assert.True(t, results[0].IsValid)
	assert.Equal(t, byterange.CoveragePartial, results[0].CoverageStatus)
	assert.Empty(t, results[0].ErrorMessage)

	assert.Equal(t, "b", results[1].FieldName)
	assert.True(t, results[1].IsValid)
	assert.Equal(t, byterange.CoverageFull, results[1].CoverageStatus)

	// Tampering after "b" signed breaks "b" and leaves "a" alone.
	tampered := append([]byte(nil), doc...)
	tampered[firstLen+idx] ^= 0x20
	results = validate(t, tampered, nil)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsValid)
	assert.Equal(t, byterange.CoveragePartial, results[0].CoverageStatus)
	assert.False(t, results[1].IsValid)
	assert.Equal(t, validation.MessageDigestMismatch, results[1].ErrorMessage)
	assert.Equal(t, "DigestMismatch", results[1].ErrorKind)

	assert.Equal(t, validation.Summary{Total: 2, Valid: 1, Invalid: 1, Partial: 1}, validation.Summarize(results))
}

func TestSignatureVerificationFailed(t *testing.T) {
	id := currentIdentity(t, "Claimed Signer")
	impostor := currentIdentity(t, "Impostor")

	ph, err := writer.AppendSignaturePlaceholder(blankDocument(t), writer.FieldSpec{}, 4096)
	require.NoError(t, err)
	br := byterange.New(ph.Gap())
	require.NoError(t, ph.SetByteRange([4]int64{br.Start1, br.Len1, br.Start2, br.Len2}))
	alg, err := digest.Lookup(digest.SHA256)
	require.NoError(t, err)
	md, err := digest.ComputeWith(ph.Data, br, alg)
	require.NoError(t, err)

	// The digest is right but the signature comes from a key other than the
	// certificate's.
	envelope, err := cms.NewBuilder(id.cert, nil, impostor.key, alg).Build(md)
	require.NoError(t, err)
	require.NoError(t, ph.Embed(envelope))

	r := validate(t, ph.Data, nil)[0]
	assert.False(t, r.IsValid)
	assert.Equal(t, validation.MessageVerificationFailed, r.ErrorMessage)
	assert.Equal(t, "SignatureVerificationFailed", r.ErrorKind)
	assert.Equal(t, byterange.CoverageFull, r.CoverageStatus)
	assert.Equal(t, "Claimed Signer", r.SubjectName)
	assert.Equal(t, "SHA-256", r.Algorithms.Digest)
}

func TestWrongMessageDigest(t *testing.T) {
	id := currentIdentity(t, "Wrong Digest")
	alg, err := digest.Lookup(digest.SHA256)
	require.NoError(t, err)
	md := sha256.Sum256([]byte("other content"))
	envelope, err := cms.NewBuilder(id.cert, nil, id.key, alg).Build(md[:])
	require.NoError(t, err)

	doc := appendRawSignature(t, blankDocument(t), envelope, func(start, end, total int64) [4]int64 {
		return [4]int64{0, start, end, total - end}
	})
	r := validate(t, doc, nil)[0]
	assert.False(t, r.IsValid)
	assert.Equal(t, validation.MessageDigestMismatch, r.ErrorMessage)
}

func TestNoSignatures(t *testing.T) {
	results := validate(t, blankDocument(t), nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.False(t, validation.Summarize(results).AllValid())
}

func TestUnreadableDocument(t *testing.T) {
	_, err := validation.ValidateSignatures(context.Background(), []byte("this is not a document"), nil)
	assert.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	signed := sign(t, blankDocument(t), currentIdentity(t, "Cancel"), signers.SignOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := validation.ValidateSignatures(ctx, signed, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	id := currentIdentity(t, "Workers")
	doc := blankDocument(t)
	for range 4 {
		doc = sign(t, doc, id, signers.SignOptions{})
	}

	clock := clockwork.NewFakeClock()
	serial := validate(t, doc, nil, validation.WithWorkers(1), validation.WithClock(clock))
	parallel := validate(t, doc, nil, validation.WithWorkers(8), validation.WithClock(clock))
	require.Len(t, serial, 4)
	for i := range serial {
		assert.Equal(t, i, serial[i].Index)
		assert.Equal(t, serial[i].FieldName, parallel[i].FieldName)
		assert.Equal(t, serial[i].CoverageStatus, parallel[i].CoverageStatus)
		assert.True(t, parallel[i].IsValid)
	}
	assert.Equal(t, byterange.CoverageFull, serial[3].CoverageStatus)
}
