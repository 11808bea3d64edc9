package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// unknownSignerSize is the signature length assumed for crypto.Signer
// implementations whose key type is not recognised.
const unknownSignerSize = 1024

// Builder produces detached SignedData envelopes for one signer.
type Builder struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	Signer      crypto.Signer
	Digest      digest.Algorithm
	// SigningTime is written as the signingTime attribute unless zero.
	SigningTime time.Time
	// Rand is the entropy source for signing; crypto/rand when nil.
	Rand io.Reader
}

// NewBuilder returns a builder for the given signer.
func NewBuilder(cert *x509.Certificate, chain []*x509.Certificate, signer crypto.Signer, alg digest.Algorithm) *Builder {
	return &Builder{
		Certificate: cert,
		Chain:       chain,
		Signer:      signer,
		Digest:      alg,
	}
}

// DigestForKey returns the digest a key must be used with. Ed25519 always
// signs with SHA-512; every other key keeps the requested algorithm.
func DigestForKey(key crypto.Signer, requested digest.Algorithm) (digest.Algorithm, error) {
	if _, ok := key.Public().(ed25519.PublicKey); ok {
		return digest.Lookup(digest.SHA512)
	}
	return requested, nil
}

func (b *Builder) validate() error {
	var errs []error
	if b.Certificate == nil {
		errs = append(errs, errors.New("certificate is required"))
	}
	if b.Signer == nil {
		errs = append(errs, errors.New("signer is required"))
	}
	if b.Digest.Name == "" {
		errs = append(errs, errors.New("digest algorithm is required"))
	}
	return errors.Join(errs...)
}

// EstimateSize returns the largest encoded size Build can produce for this
// builder. The estimate depends only on the certificates, key and options.
func (b *Builder) EstimateSize() (int, error) {
	if err := b.validate(); err != nil {
		return 0, err
	}
	sigLen, err := maxSignatureSize(b.Signer.Public())
	if err != nil {
		return 0, err
	}
	placeholderDigest := make([]byte, b.Digest.Size())
	out, err := b.assemble(placeholderDigest, func([]byte) ([]byte, error) {
		return make([]byte, sigLen), nil
	})
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

// Build returns the DER envelope over messageDigest, the digest of the
// signed byte ranges.
func (b *Builder) Build(messageDigest []byte) ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if len(messageDigest) != b.Digest.Size() {
		return nil, fmt.Errorf("message digest is %d bytes, %s needs %d", len(messageDigest), b.Digest.Name, b.Digest.Size())
	}
	return b.assemble(messageDigest, b.sign)
}

func (b *Builder) sign(signedAttrs []byte) ([]byte, error) {
	r := b.Rand
	if r == nil {
		r = rand.Reader
	}
	if _, ok := b.Signer.Public().(ed25519.PublicKey); ok {
		return b.Signer.Sign(r, signedAttrs, crypto.Hash(0))
	}
	h := b.Digest.New()
	h.Write(signedAttrs)
	return b.Signer.Sign(r, h.Sum(nil), b.Digest.Hash)
}

func (b *Builder) assemble(messageDigest []byte, sign func([]byte) ([]byte, error)) ([]byte, error) {
	sigAlg, err := signatureAlgorithmFor(b.Signer.Public(), b.Digest)
	if err != nil {
		return nil, err
	}

	attrs, err := b.signedAttributes(messageDigest)
	if err != nil {
		return nil, fmt.Errorf("building signed attributes: %w", err)
	}
	attrsDER, err := asn1.MarshalWithParams(attrs, "set")
	if err != nil {
		return nil, fmt.Errorf("marshalling signed attributes: %w", err)
	}

	signature, err := sign(attrsDER)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	digestAlgID := pkix.AlgorithmIdentifier{Algorithm: b.Digest.OID}
	si := outSignerInfo{
		Version: 1,
		SID: issuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm:    digestAlgID,
		SignedAttrs:        attrs,
		SignatureAlgorithm: sigAlg,
		Signature:          signature,
	}

	sd := outSignedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlgID},
		EncapContentInfo: outEncapsulatedContentInfo{EContentType: OIDData},
		SignerInfos:      []outSignerInfo{si},
	}
	sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, c := range b.Chain {
		sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: c.Raw})
	}

	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("marshalling SignedData: %w", err)
	}
	return asn1.Marshal(contentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	})
}

// signedAttributes returns contentType, signingTime, messageDigest and
// signingCertificateV2. encoding/asn1 sorts them when marshalling the SET.
func (b *Builder) signedAttributes(messageDigest []byte) ([]outAttribute, error) {
	var attrs []outAttribute
	add := func(oid asn1.ObjectIdentifier, value any) error {
		der, err := asn1.Marshal(value)
		if err != nil {
			return err
		}
		attrs = append(attrs, outAttribute{Type: oid, Values: []asn1.RawValue{{FullBytes: der}}})
		return nil
	}

	if err := add(OIDContentType, OIDData); err != nil {
		return nil, err
	}
	if !b.SigningTime.IsZero() {
		if err := add(OIDSigningTime, b.SigningTime.UTC().Truncate(time.Second)); err != nil {
			return nil, err
		}
	}
	if err := add(OIDMessageDigest, messageDigest); err != nil {
		return nil, err
	}

	certHashAlg := b.Digest
	if certHashAlg.Name == digest.SHA1 {
		certHashAlg, _ = digest.Lookup(digest.SHA256)
	}
	h := certHashAlg.New()
	h.Write(b.Certificate.Raw)
	id := essCertIDv2{
		CertHash: h.Sum(nil),
		IssuerSerial: issuerSerial{
			Issuer: []asn1.RawValue{{
				Class:      asn1.ClassContextSpecific,
				Tag:        4, // directoryName
				IsCompound: true,
				Bytes:      b.Certificate.RawIssuer,
			}},
			SerialNumber: b.Certificate.SerialNumber,
		},
	}
	// SHA-256 is the DEFAULT and must be omitted in DER.
	if certHashAlg.Name != digest.SHA256 {
		id.HashAlgorithm = pkix.AlgorithmIdentifier{Algorithm: certHashAlg.OID}
	}
	if err := add(OIDSigningCertificateV2, signingCertificateV2{Certs: []essCertIDv2{id}}); err != nil {
		return nil, err
	}
	return attrs, nil
}

var (
	rsaSignatureOIDs = map[string]asn1.ObjectIdentifier{
		digest.SHA1:   OIDSHA1WithRSA,
		digest.SHA256: OIDSHA256WithRSA,
		digest.SHA384: OIDSHA384WithRSA,
		digest.SHA512: OIDSHA512WithRSA,
	}
	ecdsaSignatureOIDs = map[string]asn1.ObjectIdentifier{
		digest.SHA1:     OIDECDSAWithSHA1,
		digest.SHA256:   OIDECDSAWithSHA256,
		digest.SHA384:   OIDECDSAWithSHA384,
		digest.SHA512:   OIDECDSAWithSHA512,
		digest.SHA3_256: OIDECDSAWithSHA3_256,
		digest.SHA3_384: OIDECDSAWithSHA3_384,
		digest.SHA3_512: OIDECDSAWithSHA3_512,
	}
)

func signatureAlgorithmFor(pub crypto.PublicKey, alg digest.Algorithm) (pkix.AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		oid, ok := rsaSignatureOIDs[alg.Name]
		if !ok {
			// the digest algorithm field carries the hash
			oid = OIDRSAEncryption
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue}, nil
	case *ecdsa.PublicKey:
		oid, ok := ecdsaSignatureOIDs[alg.Name]
		if !ok {
			return pkix.AlgorithmIdentifier{}, sigerr.Newf(sigerr.KindUnsupportedAlgorithm, "ECDSA with %s is not supported", alg.Name)
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
	case ed25519.PublicKey:
		if alg.Name != digest.SHA512 {
			return pkix.AlgorithmIdentifier{}, sigerr.Newf(sigerr.KindUnsupportedAlgorithm, "Ed25519 requires SHA-512, got %s", alg.Name)
		}
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd25519}, nil
	}
	return pkix.AlgorithmIdentifier{}, sigerr.Newf(sigerr.KindUnsupportedAlgorithm, "unsupported key type %T", pub)
}

// maxSignatureSize returns the largest signature value the key can produce.
func maxSignatureSize(pub crypto.PublicKey) (int, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k.Size(), nil
	case *ecdsa.PublicKey:
		n := (k.Curve.Params().BitSize + 7) / 8
		// SEQUENCE { INTEGER r, INTEGER s }, each with a possible sign byte
		intLen := derLen(n+1) + n + 2
		return derLen(2*intLen) + 2*intLen + 1, nil
	case ed25519.PublicKey:
		return ed25519.SignatureSize, nil
	}
	return unknownSignerSize, nil
}

// derLen returns the number of length octets DER uses for n.
func derLen(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x100:
		return 2
	case n < 0x10000:
		return 3
	default:
		return 4
	}
}
