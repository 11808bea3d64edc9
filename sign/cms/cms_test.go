package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

func selfSigned(t *testing.T, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func rsaSigner(t *testing.T) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return selfSigned(t, key, "RSA Signer"), key
}

func mustAlg(t *testing.T, name string) digest.Algorithm {
	t.Helper()
	alg, err := digest.Lookup(name)
	require.NoError(t, err)
	return alg
}

func digestOf(alg digest.Algorithm, content []byte) []byte {
	h := alg.New()
	h.Write(content)
	return h.Sum(nil)
}

func TestBuildParseVerifyRoundTrip(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	rsaCert, rsaKey := rsaSigner(t)

	tests := []struct {
		name    string
		cert    *x509.Certificate
		key     crypto.Signer
		digest  string
		sigName string
	}{
		{"rsa sha256", rsaCert, rsaKey, digest.SHA256, "RSA"},
		{"rsa sha512", rsaCert, rsaKey, digest.SHA512, "RSA"},
		{"ecdsa p256", selfSigned(t, ecKey, "EC Signer"), ecKey, digest.SHA256, "ECDSA"},
		{"ecdsa sha3", selfSigned(t, ecKey, "EC Signer"), ecKey, digest.SHA3_256, "ECDSA"},
		{"ed25519", selfSigned(t, edKey, "Ed Signer"), edKey, digest.SHA512, "Ed25519"},
	}

	content := []byte("covered byte ranges")
	signingTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alg := mustAlg(t, tt.digest)
			md := digestOf(alg, content)

			b := NewBuilder(tt.cert, nil, tt.key, alg)
			b.SigningTime = signingTime
			der, err := b.Build(md)
			require.NoError(t, err)

			env, err := Parse(der)
			require.NoError(t, err)
			assert.True(t, env.Certificate.Equal(tt.cert))
			assert.Equal(t, md, env.MessageDigest)
			assert.True(t, env.Detached)
			require.NotNil(t, env.SigningTime)
			assert.True(t, signingTime.Equal(*env.SigningTime))
			assert.Equal(t, tt.sigName, env.SignatureAlgorithmName())

			declared, err := env.DigestAlgorithm()
			require.NoError(t, err)
			assert.Equal(t, tt.digest, declared.Name)

			require.NoError(t, env.CheckDigest(md))
			require.NoError(t, env.VerifySignature(md))
		})
	}
}

func TestDigestMismatchAndBadSignature(t *testing.T) {
	cert, key := rsaSigner(t)
	alg := mustAlg(t, digest.SHA256)
	md := digestOf(alg, []byte("original"))

	der, err := NewBuilder(cert, nil, key, alg).Build(md)
	require.NoError(t, err)
	env, err := Parse(der)
	require.NoError(t, err)

	other := digestOf(alg, []byte("tampered"))
	err = env.CheckDigest(other)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sigerr.ErrDigestMismatch))
	assert.Equal(t, "digest mismatch", err.Error())

	env.Signature = append([]byte(nil), env.Signature...)
	env.Signature[10] ^= 0xFF
	err = env.VerifySignature(md)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sigerr.ErrSignatureVerificationFailed))
}

func TestParseToleratesZeroPadding(t *testing.T) {
	cert, key := rsaSigner(t)
	alg := mustAlg(t, digest.SHA256)
	der, err := NewBuilder(cert, nil, key, alg).Build(digestOf(alg, []byte("x")))
	require.NoError(t, err)

	padded := append(append([]byte(nil), der...), make([]byte, 512)...)
	env, err := Parse(padded)
	require.NoError(t, err)
	assert.Equal(t, der, env.Raw)

	garbage := append(append([]byte(nil), der...), 0x00, 0x01)
	_, err = Parse(garbage)
	assert.True(t, errors.Is(err, sigerr.ErrMalformedEnvelope))
}

func TestParseMalformed(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      nil,
		"zeros":      make([]byte, 64),
		"not asn1":   []byte("definitely not a signature"),
		"truncated":  {0x30, 0x82, 0x01, 0x00, 0x06},
		"wrong type": {0x30, 0x0B, 0x06, 0x09, 0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x07, 0x01},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "got %v", err)
		})
	}
}

func TestParseBERIndefiniteLength(t *testing.T) {
	cert, key := rsaSigner(t)
	alg := mustAlg(t, digest.SHA256)
	md := digestOf(alg, []byte("ber"))
	der, err := NewBuilder(cert, nil, key, alg).Build(md)
	require.NoError(t, err)

	// Re-encode the outer ContentInfo with an indefinite length.
	_, _, hdr, _, err := berHeader(der, 0)
	require.NoError(t, err)
	ber := append([]byte{0x30, 0x80}, der[hdr:]...)
	ber = append(ber, 0x00, 0x00)

	env, err := Parse(ber)
	require.NoError(t, err)
	assert.Equal(t, der, env.Raw)
	assert.NoError(t, env.VerifySignature(md))
}

func TestNormalizeBERConstructedOctetString(t *testing.T) {
	// OCTET STRING in two constructed chunks, indefinite length.
	in := []byte{0x24, 0x80, 0x04, 0x02, 'a', 'b', 0x04, 0x01, 'c', 0x00, 0x00, 0xFF}
	der, rest, err := normalizeBER(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 'a', 'b', 'c'}, der)
	assert.Equal(t, []byte{0xFF}, rest)
}

func TestNormalizeBERInteger(t *testing.T) {
	der, _, err := normalizeBER([]byte{0x02, 0x03, 0x00, 0x00, 0x7F})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x7F}, der)
}

func TestEstimateSizeBoundsBuild(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rsaCert, rsaKey := rsaSigner(t)

	for _, tc := range []struct {
		cert *x509.Certificate
		key  crypto.Signer
	}{
		{rsaCert, rsaKey},
		{selfSigned(t, ecKey, "EC"), ecKey},
	} {
		alg := mustAlg(t, digest.SHA256)
		b := NewBuilder(tc.cert, nil, tc.key, alg)
		b.SigningTime = time.Now()

		est1, err := b.EstimateSize()
		require.NoError(t, err)
		est2, err := b.EstimateSize()
		require.NoError(t, err)
		assert.Equal(t, est1, est2)

		for i := 0; i < 5; i++ {
			der, err := b.Build(digestOf(alg, []byte{byte(i)}))
			require.NoError(t, err)
			assert.LessOrEqual(t, len(der), est1)
		}
	}
}

func TestBuildWithChain(t *testing.T) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ca := selfSigned(t, caKey, "Root CA")

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "Leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, tmpl, ca, leafKey.Public(), caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	alg := mustAlg(t, digest.SHA256)
	md := digestOf(alg, []byte("chain"))
	der, err := NewBuilder(leaf, []*x509.Certificate{ca}, leafKey, alg).Build(md)
	require.NoError(t, err)

	env, err := Parse(der)
	require.NoError(t, err)
	assert.True(t, env.Certificate.Equal(leaf))
	require.Len(t, env.Chain, 1)
	assert.True(t, env.Chain[0].Equal(ca))
	assert.NoError(t, env.VerifySignature(md))
}

func TestBuildRejectsMismatchedDigest(t *testing.T) {
	cert, key := rsaSigner(t)
	_, err := NewBuilder(cert, nil, key, mustAlg(t, digest.SHA256)).Build([]byte("short"))
	assert.Error(t, err)

	_, err = NewBuilder(nil, nil, nil, digest.Algorithm{}).Build(nil)
	assert.Error(t, err)
}

func TestEd25519RequiresSHA512(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	alg, err := DigestForKey(edKey, mustAlg(t, digest.SHA256))
	require.NoError(t, err)
	assert.Equal(t, digest.SHA512, alg.Name)

	cert := selfSigned(t, edKey, "Ed")
	_, err = NewBuilder(cert, nil, edKey, mustAlg(t, digest.SHA256)).EstimateSize()
	assert.True(t, errors.Is(err, sigerr.ErrUnsupportedAlgorithm))
}

func TestInteropWithMozillaPKCS7(t *testing.T) {
	cert, key := rsaSigner(t)
	alg := mustAlg(t, digest.SHA256)
	content := []byte("shared content between two implementations")
	sum := sha256.Sum256(content)

	b := NewBuilder(cert, nil, key, alg)
	b.SigningTime = time.Now()
	der, err := b.Build(sum[:])
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	p7.Content = content
	assert.NoError(t, p7.Verify())

	p7.Content = bytes.ToUpper(content)
	assert.Error(t, p7.Verify())
}
