package signers_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/sudhir-boottttt/MSpdf-sub001/keys"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/writer"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/byterange"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/signers"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/validation"
)

const password = "s3cret"

func certificate(t *testing.T, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func p12Container(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	data, err := pkcs12.Modern.Encode(key, certificate(t, key, "Test Signer"), nil, password)
	require.NoError(t, err)
	return data
}

func pemContainer(t *testing.T, key crypto.Signer, cn string) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certificate(t, key, cn).Raw})
	return append(out, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})...)
}

func blankDocument(t *testing.T) []byte {
	t.Helper()
	doc, err := writer.NewBlankDocument(writer.BlankOptions{Pages: 2})
	require.NoError(t, err)
	return doc
}

func TestSignDocumentRoundTrip(t *testing.T) {
	doc := blankDocument(t)
	signed, err := signers.SignDocument(context.Background(), doc, p12Container(t), []byte(password), signers.SignOptions{
		Reason:   "approval",
		Location: "Berlin",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(signed, doc))

	results, err := validation.ValidateSignatures(context.Background(), signed, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.IsValid, r.ErrorMessage)
	assert.Equal(t, byterange.CoverageFull, r.CoverageStatus)
	assert.Equal(t, "SHA-256", r.Algorithms.Digest)
	assert.Equal(t, "Signature1", r.FieldName)
	assert.Equal(t, "approval", r.Reason)
	assert.Equal(t, "Berlin", r.Location)
	assert.Equal(t, "Test Signer", r.SubjectName)
	assert.True(t, r.IsSelfSigned)
	assert.False(t, r.IsTrusted)
	assert.Empty(t, r.ErrorMessage)
}

func TestSignDocumentKeyTypes(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name       string
		key        crypto.Signer
		digest     string
		wantDigest string
	}{
		{"rsa", rsaKey, "", "SHA-256"},
		{"rsa sha512", rsaKey, "sha512", "SHA-512"},
		{"ecdsa sha384", ecKey, "SHA-384", "SHA-384"},
		{"ed25519", edKey, "", "SHA-512"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container := pemContainer(t, tt.key, tt.name)
			signed, err := signers.SignDocument(context.Background(), blankDocument(t), container, nil,
				signers.SignOptions{DigestAlgorithm: tt.digest})
			require.NoError(t, err)

			results, err := validation.ValidateSignatures(context.Background(), signed, nil)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.True(t, results[0].IsValid, results[0].ErrorMessage)
			assert.Equal(t, tt.wantDigest, results[0].Algorithms.Digest)
		})
	}
}

func TestSignDocumentErrors(t *testing.T) {
	doc := blankDocument(t)
	container := p12Container(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		container []byte
		secret    string
		opts      signers.SignOptions
		want      error
	}{
		{"wrong password", container, "wrong", signers.SignOptions{}, sigerr.ErrInvalidCredentials},
		{"unknown container", []byte("not a key container"), password, signers.SignOptions{}, sigerr.ErrUnsupportedKeyFormat},
		{"placeholder too small", container, password, signers.SignOptions{PlaceholderSize: 64}, sigerr.ErrPlaceholderTooSmall},
		{"unsupported digest", container, password, signers.SignOptions{DigestAlgorithm: "MD5"}, sigerr.ErrUnsupportedAlgorithm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := signers.SignDocument(ctx, doc, tt.container, []byte(tt.secret), tt.opts)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, out)
		})
	}
}

func TestSignDocumentRejectsBadDocument(t *testing.T) {
	out, err := signers.SignDocument(context.Background(), []byte("not a pdf"), p12Container(t), []byte(password), signers.SignOptions{})
	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestSignDocumentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := signers.SignDocument(ctx, blankDocument(t), p12Container(t), []byte(password), signers.SignOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestSignDocumentSizeIsDeterministic(t *testing.T) {
	doc := blankDocument(t)
	container := p12Container(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts := signers.SignOptions{SigningTime: at, FieldName: "Approval"}

	first, err := signers.SignDocument(context.Background(), doc, container, []byte(password), opts)
	require.NoError(t, err)
	second, err := signers.SignDocument(context.Background(), doc, container, []byte(password), opts)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

func TestProducerLogsStates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	now := time.Now().Truncate(time.Second)
	p := signers.NewProducer(
		signers.WithLogger(zap.New(core)),
		signers.WithClock(clockwork.NewFakeClockAt(now)),
	)

	signed, err := p.SignDocument(context.Background(), blankDocument(t), p12Container(t), []byte(password), signers.SignOptions{})
	require.NoError(t, err)

	var states []string
	for _, e := range logs.All() {
		if s, ok := e.ContextMap()["state"].(string); ok {
			states = append(states, s)
		}
	}
	assert.Equal(t, []string{
		"Idle", "KeyLoaded", "PlaceholderReserved", "Appended",
		"DigestComputed", "EnvelopeBuilt", "Patched",
	}, states)

	results, err := validation.ValidateSignatures(context.Background(), signed, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].SignatureDate)
	assert.True(t, now.Equal(*results[0].SignatureDate))
}

func TestSignWithCredentialsVisible(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	creds := &keys.Credentials{Signer: key, Certificate: certificate(t, key, "Visible Signer")}
	defer creds.Wipe()

	signed, err := signers.NewProducer().SignWithCredentials(context.Background(), blankDocument(t), creds, signers.SignOptions{
		Reason: "review",
		Appearance: &signers.Appearance{
			Page: 1,
			Rect: generic.Rectangle{LLX: 50, LLY: 50, URX: 250, URY: 110},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, string(signed), "Digitally signed by Visible Signer")
	assert.Contains(t, string(signed), "/Subtype /Form")

	results, err := validation.ValidateSignatures(context.Background(), signed, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsValid, results[0].ErrorMessage)
	assert.Equal(t, "review", results[0].Reason)
}

func TestCountersignKeepsFirstSignature(t *testing.T) {
	container := p12Container(t)
	first, err := signers.SignDocument(context.Background(), blankDocument(t), container, []byte(password), signers.SignOptions{})
	require.NoError(t, err)
	second, err := signers.SignDocument(context.Background(), first, container, []byte(password), signers.SignOptions{})
	require.NoError(t, err)

	_, err = signers.SignDocument(context.Background(), second, container, []byte(password), signers.SignOptions{FieldName: "Signature1"})
	assert.ErrorIs(t, err, writer.ErrFieldExists)

	results, err := validation.ValidateSignatures(context.Background(), second, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Signature1", results[0].FieldName)
	assert.Equal(t, "Signature2", results[1].FieldName)
	assert.Equal(t, byterange.CoveragePartial, results[0].CoverageStatus)
	assert.Equal(t, byterange.CoverageFull, results[1].CoverageStatus)
	assert.True(t, results[0].IsValid)
	assert.True(t, results[1].IsValid)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", signers.StateIdle.String())
	assert.Equal(t, "Patched", signers.StatePatched.String())
	assert.Equal(t, "Unknown", signers.State(42).String())
}
