package cli

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/byterange"
)

type fixture struct {
	dir      string
	p12      string
	certFile string
	keyFile  string
	anchor   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "CLI Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	f := &fixture{dir: t.TempDir()}
	p12, err := pkcs12.Modern.Encode(key, cert, nil, "pw")
	require.NoError(t, err)
	f.p12 = f.write(t, "signer.p12", p12)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	f.certFile = f.write(t, "signer.crt", certPEM)
	f.anchor = f.certFile
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	f.keyFile = f.write(t, "signer.key", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	return f
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func (f *fixture) path(name string) string { return filepath.Join(f.dir, name) }

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "pdfsig version dev")
}

func TestSignAndVerify(t *testing.T) {
	f := newFixture(t)
	signed := f.path("signed.pdf")

	out, err := run(t, "sign", "--blank", "2", "--out", signed, "--p12", f.p12, "--password", "pw",
		"--reason", "approval", "--field", "Approval", "--rect", "50,50,250,110", "--page", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed "+signed)

	out, err = run(t, "verify", "--in", signed, "--json", "--trust-anchor", f.anchor)
	require.NoError(t, err)

	var report struct {
		Summary struct {
			Total int `json:"total"`
			Valid int `json:"valid"`
		} `json:"summary"`
		Signatures []struct {
			FieldName      string `json:"field_name"`
			IsValid        bool   `json:"is_valid"`
			IsTrusted      bool   `json:"is_trusted"`
			SignerName     string `json:"signer_name"`
			CoverageStatus string `json:"coverage_status"`
			Reason         string `json:"reason"`
		} `json:"signatures"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Valid)
	require.Len(t, report.Signatures, 1)
	s := report.Signatures[0]
	assert.Equal(t, "Approval", s.FieldName)
	assert.True(t, s.IsValid)
	assert.True(t, s.IsTrusted)
	assert.Equal(t, "CLI Signer", s.SignerName)
	assert.Equal(t, byterange.CoverageFull.String(), s.CoverageStatus)
	assert.Equal(t, "approval", s.Reason)
}

func TestSignWithPEMPairAndCounterSign(t *testing.T) {
	f := newFixture(t)
	first := f.path("first.pdf")
	second := f.path("second.pdf")

	_, err := run(t, "sign", "--blank", "1", "--out", first, "--cert", f.certFile, "--key", f.keyFile)
	require.NoError(t, err)

	t.Setenv("PDFSIG_TEST_PW", "pw")
	_, err = run(t, "sign", "--in", first, "--out", second, "--p12", f.p12, "--password-env", "PDFSIG_TEST_PW", "--digest", "sha512")
	require.NoError(t, err)

	out, err := run(t, "verify", "--in", second, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2 signature(s)")
	assert.Contains(t, out, "[0] Signature1: VALID")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "SHA-512")
}

func TestVerifyTamperedExitsWithOne(t *testing.T) {
	f := newFixture(t)
	signed := f.path("signed.pdf")
	_, err := run(t, "sign", "--blank", "1", "--out", signed, "--p12", f.p12, "--password", "pw")
	require.NoError(t, err)

	data, err := os.ReadFile(signed)
	require.NoError(t, err)
	data[10] ^= 0x01
	tampered := f.write(t, "tampered.pdf", data)

	out, err := run(t, "verify", "--in", tampered)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.ExitCode())
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "digest mismatch")
}

func TestVerifyCustomFieldName(t *testing.T) {
	f := newFixture(t)
	signed := f.path("signed.pdf")
	_, err := run(t, "sign", "--blank", "1", "--out", signed, "--p12", f.p12, "--password", "pw", "--field", "x")
	require.NoError(t, err)

	out, err := run(t, "verify", "--in", signed)
	require.NoError(t, err)
	assert.Contains(t, out, "[0] x: VALID")
}

func TestSignErrors(t *testing.T) {
	f := newFixture(t)
	out := f.path("out.pdf")

	_, err := run(t, "sign", "--blank", "1", "--out", out)
	assert.ErrorContains(t, err, "a key is required")

	_, err = run(t, "sign", "--blank", "1", "--out", out, "--p12", f.p12, "--password", "wrong")
	assert.Error(t, err)

	_, err = run(t, "sign", "--out", out, "--p12", f.p12, "--password", "pw")
	assert.ErrorContains(t, err, "either --in or --blank")

	_, err = run(t, "sign", "--blank", "1", "--out", out, "--p12", f.p12, "--password", "pw", "--placeholder-size", "32")
	assert.Error(t, err)

	_, err = os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSignWithConfigFile(t *testing.T) {
	f := newFixture(t)
	t.Setenv("PDFSIG_CFG_PW", "pw")
	cfg := f.write(t, "pdfsig.yaml", []byte(`
signing:
  reason: from config
  location: Lisbon
  key-container: `+f.p12+`
  passphrase-env: PDFSIG_CFG_PW
validation:
  workers: 1
`))
	signed := f.path("signed.pdf")
	_, err := run(t, "sign", "--config", cfg, "--blank", "1", "--out", signed, "--location", "Porto")
	require.NoError(t, err)

	out, err := run(t, "verify", "--config", cfg, "--in", signed)
	require.NoError(t, err)
	assert.Contains(t, out, "Reason:    from config")
	assert.Contains(t, out, "Location:  Porto")
}

func TestBadConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.write(t, "bad.yaml", []byte("logging:\n  level: loud\n"))
	_, err := run(t, "verify", "--config", cfg, "--in", f.path("none.pdf"))
	assert.Error(t, err)
}
