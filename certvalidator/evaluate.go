// Package certvalidator evaluates signer certificates: identity fields,
// validity window, self-signed status and trust against a single anchor.
package certvalidator

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// EvaluateOptions controls a certificate evaluation.
type EvaluateOptions struct {
	// SigningTime is the instant expiry is judged at. When nil the clock's
	// current time is used.
	SigningTime *time.Time
	// TrustAnchor is the single trusted certificate, if any.
	TrustAnchor *x509.Certificate
	// Chain holds intermediates carried alongside the certificate.
	Chain []*x509.Certificate
	// Clock supplies the current time; the real clock when nil.
	Clock clockwork.Clock
}

// CertificateInfo is the flat result of evaluating one certificate.
type CertificateInfo struct {
	SubjectName  string    `json:"signer_name"`
	SubjectOrg   string    `json:"signer_org,omitempty"`
	SubjectEmail string    `json:"signer_email,omitempty"`
	IssuerName   string    `json:"issuer"`
	IssuerOrg    string    `json:"issuer_org,omitempty"`
	SerialNumber string    `json:"serial_number"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
	KeyAlgorithm string    `json:"key_algorithm"`

	IsSelfSigned bool `json:"is_self_signed"`
	IsExpired    bool `json:"is_expired"`
	NotYetValid  bool `json:"not_yet_valid"`
	IsTrusted    bool `json:"is_trusted"`
	// TrustReason names the rule that established trust.
	TrustReason string `json:"trust_reason,omitempty"`
}

// Evaluate derives identity, validity and trust facts for cert. It never
// fails for a parsed certificate.
func Evaluate(cert *x509.Certificate, opts EvaluateOptions) CertificateInfo {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	at := clock.Now()
	if opts.SigningTime != nil {
		at = *opts.SigningTime
	}

	info := CertificateInfo{
		SubjectName:  displayName(cert.Subject),
		SubjectOrg:   first(cert.Subject.Organization),
		SubjectEmail: subjectEmail(cert),
		IssuerName:   displayName(cert.Issuer),
		IssuerOrg:    first(cert.Issuer.Organization),
		SerialNumber: formatSerial(cert),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
		KeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		IsSelfSigned: IsSelfSigned(cert),
		IsExpired:    cert.NotAfter.Before(at),
		NotYetValid:  cert.NotBefore.After(at),
	}

	if opts.TrustAnchor != nil {
		info.TrustReason = trustReason(cert, opts.TrustAnchor, opts.Chain, at)
		info.IsTrusted = info.TrustReason != ""
	}
	return info
}

// IsSelfSigned reports whether the issuer and subject names are identical.
func IsSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawIssuer, cert.RawSubject)
}

// Trust reasons.
const (
	TrustIdentical    = "identical to trust anchor"
	TrustIssuerSerial = "issuer and serial match trust anchor"
	TrustIssuedBy     = "issued by trust anchor"
	TrustChain        = "chains to trust anchor"
)

func trustReason(cert, anchor *x509.Certificate, chain []*x509.Certificate, at time.Time) string {
	if bytes.Equal(cert.Raw, anchor.Raw) {
		return TrustIdentical
	}
	if bytes.Equal(cert.RawIssuer, anchor.RawIssuer) && cert.SerialNumber.Cmp(anchor.SerialNumber) == 0 {
		return TrustIssuerSerial
	}
	if bytes.Equal(cert.RawIssuer, anchor.RawSubject) && cert.CheckSignatureFrom(anchor) == nil {
		return TrustIssuedBy
	}
	if len(chain) == 0 {
		return ""
	}

	roots := x509.NewCertPool()
	roots.AddCert(anchor)
	intermediates := x509.NewCertPool()
	for _, c := range chain {
		intermediates.AddCert(c)
	}
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err == nil {
		return TrustChain
	}
	return ""
}

// displayName prefers the common name and falls back to the full DN.
func displayName(name pkix.Name) string {
	if name.CommonName != "" {
		return name.CommonName
	}
	return name.String()
}

func subjectEmail(cert *x509.Certificate) string {
	for _, atv := range cert.Subject.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				return s
			}
		}
	}
	return first(cert.EmailAddresses)
}

func formatSerial(cert *x509.Certificate) string {
	if cert.SerialNumber == nil {
		return ""
	}
	return strings.ToUpper(fmt.Sprintf("%x", cert.SerialNumber))
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
