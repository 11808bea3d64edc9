// Package cms decodes, verifies and builds the detached CMS SignedData
// envelopes stored in the /Contents of PDF signature dictionaries.
package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// Envelope is a decoded signature envelope.
type Envelope struct {
	// Raw is the DER encoding of the ContentInfo, without padding.
	Raw []byte

	// Certificate is the signer (leaf) certificate.
	Certificate *x509.Certificate
	// Chain holds the other certificates carried in the envelope.
	Chain []*x509.Certificate

	// ContentType is the encapsulated content type.
	ContentType asn1.ObjectIdentifier
	// Detached is true when the envelope carries no content of its own.
	Detached bool

	// DigestOID is the digest algorithm the signer declared.
	DigestOID asn1.ObjectIdentifier
	// SignatureAlgorithm identifies the signature scheme and its parameters.
	SignatureAlgorithm pkix.AlgorithmIdentifier

	// SignedAttrs is the DER SET of signed attributes, nil when absent.
	SignedAttrs []byte
	// MessageDigest is the messageDigest signed attribute, nil when there
	// are no signed attributes.
	MessageDigest []byte
	// SigningTime is the signingTime signed attribute, nil when absent.
	SigningTime *time.Time

	// Signature is the signature value.
	Signature []byte
}

func malformed(msg string, cause error) error {
	return sigerr.Wrap(sigerr.KindMalformedEnvelope, msg, cause)
}

// Parse decodes the envelope in contents. Trailing zero bytes, as left by
// placeholder padding, are ignored; any other trailing data is an error.
func Parse(contents []byte) (*Envelope, error) {
	der, rest, err := normalizeBER(contents)
	if err != nil {
		return nil, malformed("decoding envelope", err)
	}
	if len(bytes.Trim(rest, "\x00")) > 0 {
		return nil, malformed("trailing data after envelope", nil)
	}

	input := cryptobyte.String(der)
	var elem cryptobyte.String
	if !input.ReadASN1Element(&elem, casn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("envelope is not a single ContentInfo", nil)
	}

	var ci contentInfo
	if _, err := asn1.Unmarshal(elem, &ci); err != nil {
		return nil, malformed("parsing ContentInfo", err)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, malformed(fmt.Sprintf("expected SignedData content type, got %s", ci.ContentType), nil)
	}

	var sd signedData
	if rest, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, malformed("parsing SignedData", err)
	} else if len(rest) > 0 {
		return nil, malformed("trailing data after SignedData", nil)
	}
	if len(sd.SignerInfos) != 1 {
		return nil, malformed(fmt.Sprintf("expected exactly one SignerInfo, got %d", len(sd.SignerInfos)), nil)
	}
	si := sd.SignerInfos[0]

	certs := make([]*x509.Certificate, 0, len(sd.Certificates))
	for _, raw := range sd.Certificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			// attribute certificates and other choices are not used
			continue
		}
		certs = append(certs, cert)
	}

	signer, err := findSigner(si.SID, certs)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Raw:                []byte(elem),
		Certificate:        signer,
		ContentType:        sd.EncapContentInfo.EContentType,
		Detached:           len(sd.EncapContentInfo.EContent.FullBytes) == 0,
		DigestOID:          si.DigestAlgorithm.Algorithm,
		SignatureAlgorithm: si.SignatureAlgorithm,
		Signature:          si.Signature,
	}
	for _, c := range certs {
		if c != signer {
			env.Chain = append(env.Chain, c)
		}
	}

	if len(si.SignedAttrs.FullBytes) > 0 {
		env.SignedAttrs = retagAsSet(si.SignedAttrs.FullBytes)
		if err := env.readSignedAttrs(); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// DigestAlgorithm resolves the declared digest algorithm.
func (e *Envelope) DigestAlgorithm() (digest.Algorithm, error) {
	return digest.ForOID(e.DigestOID)
}

// SignatureAlgorithmName returns a short name for the signature scheme.
func (e *Envelope) SignatureAlgorithmName() string {
	return signatureAlgorithmName(e.SignatureAlgorithm.Algorithm)
}

// findSigner matches the SignerIdentifier CHOICE against the certificates.
func findSigner(sid asn1.RawValue, certs []*x509.Certificate) (*x509.Certificate, error) {
	switch {
	case sid.Class == asn1.ClassUniversal && sid.Tag == asn1.TagSequence:
		var isn issuerAndSerialNumber
		if _, err := asn1.Unmarshal(sid.FullBytes, &isn); err != nil {
			return nil, malformed("parsing IssuerAndSerialNumber", err)
		}
		for _, c := range certs {
			if c.SerialNumber.Cmp(isn.SerialNumber) == 0 && bytes.Equal(c.RawIssuer, isn.Issuer.FullBytes) {
				return c, nil
			}
		}
		return nil, malformed(fmt.Sprintf("signer certificate with serial %s not found", isn.SerialNumber), nil)

	case sid.Class == asn1.ClassContextSpecific && sid.Tag == 0:
		var ski cryptobyte.String
		s := cryptobyte.String(sid.FullBytes)
		if !s.ReadASN1(&ski, casn1.Tag(0).ContextSpecific()) {
			return nil, malformed("parsing SubjectKeyIdentifier", nil)
		}
		for _, c := range certs {
			if len(c.SubjectKeyId) > 0 && bytes.Equal(c.SubjectKeyId, ski) {
				return c, nil
			}
		}
		return nil, malformed("signer certificate with matching SubjectKeyIdentifier not found", nil)
	}
	return nil, malformed("unrecognised SignerIdentifier", nil)
}

// retagAsSet turns the IMPLICIT [0] wire form of the signed attributes into
// the SET form that is signed.
func retagAsSet(implicit []byte) []byte {
	out := make([]byte, len(implicit))
	copy(out, implicit)
	out[0] = 0x31
	return out
}

// readSignedAttrs extracts the attributes the verifier needs and checks the
// mandatory ones are present.
func (e *Envelope) readSignedAttrs() error {
	var attrs []rawAttribute
	if _, err := asn1.UnmarshalWithParams(e.SignedAttrs, &attrs, "set"); err != nil {
		return malformed("parsing signed attributes", err)
	}

	var haveContentType bool
	for _, attr := range attrs {
		switch {
		case attr.Type.Equal(OIDContentType):
			var ct asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &ct); err != nil {
				return malformed("parsing content-type attribute", err)
			}
			if !ct.Equal(e.ContentType) {
				return malformed(fmt.Sprintf("content-type attribute %s does not match %s", ct, e.ContentType), nil)
			}
			haveContentType = true

		case attr.Type.Equal(OIDMessageDigest):
			var md []byte
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &md); err != nil {
				return malformed("parsing message-digest attribute", err)
			}
			e.MessageDigest = md

		case attr.Type.Equal(OIDSigningTime):
			var t time.Time
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &t); err != nil {
				return malformed("parsing signing-time attribute", err)
			}
			e.SigningTime = &t
		}
	}

	if !haveContentType {
		return malformed("content-type signed attribute is missing", nil)
	}
	if e.MessageDigest == nil {
		return malformed("message-digest signed attribute is missing", nil)
	}
	return nil
}

// CheckDigest compares computed against the declared message digest. It is
// a no-op when the envelope has no signed attributes; the signature check
// covers that case.
func (e *Envelope) CheckDigest(computed []byte) error {
	if e.SignedAttrs == nil {
		return nil
	}
	if !bytes.Equal(e.MessageDigest, computed) {
		return sigerr.New(sigerr.KindDigestMismatch, "digest mismatch")
	}
	return nil
}

// IsMalformed reports whether err came from Parse rejecting the envelope.
func IsMalformed(err error) bool {
	return errors.Is(err, sigerr.ErrMalformedEnvelope)
}
