package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

type signatureFamily int

const (
	familyUnknown signatureFamily = iota
	familyRSA
	familyRSAPSS
	familyECDSA
	familyEd25519
)

var familyNames = map[signatureFamily]string{
	familyRSA:     "RSA",
	familyRSAPSS:  "RSASSA-PSS",
	familyECDSA:   "ECDSA",
	familyEd25519: "Ed25519",
}

func familyOf(oid asn1.ObjectIdentifier) signatureFamily {
	switch {
	case oid.Equal(OIDRSAEncryption), oid.Equal(OIDSHA1WithRSA), oid.Equal(OIDSHA256WithRSA),
		oid.Equal(OIDSHA384WithRSA), oid.Equal(OIDSHA512WithRSA):
		return familyRSA
	case oid.Equal(OIDRSAPSS):
		return familyRSAPSS
	case oid.Equal(OIDECPublicKey), oid.Equal(OIDECDSAWithSHA1), oid.Equal(OIDECDSAWithSHA256),
		oid.Equal(OIDECDSAWithSHA384), oid.Equal(OIDECDSAWithSHA512), oid.Equal(OIDECDSAWithSHA3_256),
		oid.Equal(OIDECDSAWithSHA3_384), oid.Equal(OIDECDSAWithSHA3_512):
		return familyECDSA
	case oid.Equal(OIDEd25519):
		return familyEd25519
	}
	return familyUnknown
}

func signatureAlgorithmName(oid asn1.ObjectIdentifier) string {
	if name, ok := familyNames[familyOf(oid)]; ok {
		return name
	}
	return oid.String()
}

type pssParameters struct {
	Hash         pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:0"`
	MGF          pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:1"`
	SaltLength   int                      `asn1:"optional,explicit,tag:2,default:20"`
	TrailerField int                      `asn1:"optional,explicit,tag:3,default:1"`
}

// VerifySignature checks the signature value against the signer's public
// key. With signed attributes the signature covers their DER SET; without
// them it covers contentDigest, the digest of the signed bytes.
func (e *Envelope) VerifySignature(contentDigest []byte) error {
	alg, err := e.DigestAlgorithm()
	if err != nil {
		return err
	}

	family := familyOf(e.SignatureAlgorithm.Algorithm)
	if family == familyUnknown {
		return sigerr.Newf(sigerr.KindUnsupportedAlgorithm,
			"unsupported signature algorithm %s", e.SignatureAlgorithm.Algorithm)
	}

	message := e.SignedAttrs
	hashed := contentDigest
	if message != nil {
		h := alg.New()
		h.Write(message)
		hashed = h.Sum(nil)
	} else if family == familyEd25519 {
		return sigerr.New(sigerr.KindUnsupportedAlgorithm, "Ed25519 envelopes without signed attributes are not supported")
	}

	if err := verifyWithKey(e.Certificate.PublicKey, family, e.SignatureAlgorithm, alg, hashed, message, e.Signature); err != nil {
		return sigerr.Wrap(sigerr.KindSignatureVerificationFailed, "signature verification failed", err)
	}
	return nil
}

func verifyWithKey(pub crypto.PublicKey, family signatureFamily, sigAlg pkix.AlgorithmIdentifier,
	alg digest.Algorithm, hashed, message, signature []byte) error {
	switch family {
	case familyRSA:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("certificate key is %T, not RSA", pub)
		}
		return rsa.VerifyPKCS1v15(key, alg.Hash, hashed, signature)

	case familyRSAPSS:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("certificate key is %T, not RSA", pub)
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: alg.Hash}
		if len(sigAlg.Parameters.FullBytes) > 0 {
			var params pssParameters
			if _, err := asn1.Unmarshal(sigAlg.Parameters.FullBytes, &params); err != nil {
				return fmt.Errorf("parsing RSASSA-PSS parameters: %w", err)
			}
			if params.Hash.Algorithm != nil {
				if pssHash, err := digest.ForOID(params.Hash.Algorithm); err == nil && pssHash.Hash != alg.Hash {
					return fmt.Errorf("RSASSA-PSS hash %s differs from digest %s", pssHash.Name, alg.Name)
				}
			}
		}
		return rsa.VerifyPSS(key, alg.Hash, hashed, signature, opts)

	case familyECDSA:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("certificate key is %T, not ECDSA", pub)
		}
		if !ecdsa.VerifyASN1(key, hashed, signature) {
			return errors.New("ecdsa: verification error")
		}
		return nil

	case familyEd25519:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("certificate key is %T, not Ed25519", pub)
		}
		if !ed25519.Verify(key, message, signature) {
			return errors.New("ed25519: verification error")
		}
		return nil
	}
	return errors.New("unsupported signature family")
}
