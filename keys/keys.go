// Package keys loads signing credentials from PKCS#12 containers and from
// PEM or DER encoded certificates and private keys.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// Common errors
var (
	ErrNoCertFound     = errors.New("no certificate found in data")
	ErrNoKeyFound      = errors.New("no private key found in data")
	ErrUnknownKeyType  = errors.New("unknown private key type")
	ErrInvalidPEMBlock = errors.New("invalid PEM block")
	ErrKeyMismatch     = errors.New("private key does not match certificate")
)

// PrivateKey represents a private key that can be used for signing.
type PrivateKey interface {
	crypto.Signer
}

// Credentials is an unlocked private key with its certificate chain. It is
// owned by a single signing operation and must be wiped when it ends.
type Credentials struct {
	Signer      PrivateKey
	Certificate *x509.Certificate
	// Chain holds the remaining certificates of the container.
	Chain []*x509.Certificate
}

// Wipe zeroes the private key material and drops the references.
//
// crypto/rsa and crypto/ecdsa keep their own precomputed copy of a key,
// which exported fields do not reach. Wipe resets the key value so that copy
// is no longer referenced, but it is left to the garbage collector rather
// than zeroed.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	switch k := c.Signer.(type) {
	case *rsa.PrivateKey:
		clearInt(k.D)
		for _, p := range k.Primes {
			clearInt(p)
		}
		clearInt(k.Precomputed.Dp)
		clearInt(k.Precomputed.Dq)
		clearInt(k.Precomputed.Qinv)
		for _, v := range k.Precomputed.CRTValues {
			clearInt(v.Exp)
			clearInt(v.Coeff)
			clearInt(v.R)
		}
		*k = rsa.PrivateKey{}
	case *ecdsa.PrivateKey:
		clearInt(k.D)
		*k = ecdsa.PrivateKey{}
	case ed25519.PrivateKey:
		clear(k)
	case *ed25519.PrivateKey:
		clear(*k)
	}
	c.Signer = nil
	c.Certificate = nil
	c.Chain = nil
}

func clearInt(n *big.Int) {
	if n == nil {
		return
	}
	clear(n.Bits())
	n.SetInt64(0)
}

// LoadKeyContainer unlocks a PKCS#12 container, or a PEM bundle holding a
// certificate and a private key, with secret. A wrong secret yields an
// InvalidCredentials error and unrecognised data an UnsupportedKeyFormat error.
func LoadKeyContainer(data, secret []byte) (*Credentials, error) {
	if isPEM(data) {
		return loadPEMBundle(data, secret)
	}

	password := string(secret)
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
			return nil, sigerr.Wrap(sigerr.KindInvalidCredentials, "unlocking key container", err)
		}
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "decoding key container", err)
	}
	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "decoding key container", err)
	}
	return newCredentials(signer, cert, caCerts)
}

// LoadPEMCredentials loads a certificate chain file and a private key file.
func LoadPEMCredentials(certFile, keyFile string, passphrase []byte) (*Credentials, error) {
	certs, err := LoadCertsFromPemDer(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	return newCredentials(key, certs[0], certs[1:])
}

func loadPEMBundle(data, secret []byte) (*Credentials, error) {
	certs, err := LoadCertsFromPemDerData(data)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "reading PEM bundle", err)
	}

	var keyBlock []byte
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			keyBlock = pem.EncodeToMemory(block)
			break
		}
	}
	if keyBlock == nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "reading PEM bundle", ErrNoKeyFound)
	}
	key, err := LoadPrivateKeyFromPemDerData(keyBlock, secret)
	if err != nil {
		return nil, err
	}
	return newCredentials(key, certs[0], certs[1:])
}

func newCredentials(key PrivateKey, cert *x509.Certificate, chain []*x509.Certificate) (*Credentials, error) {
	if cert == nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "loading credentials", ErrNoCertFound)
	}
	if !publicKeysEqual(key.Public(), cert.PublicKey) {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "loading credentials", ErrKeyMismatch)
	}
	return &Credentials{Signer: key, Certificate: cert, Chain: chain}, nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	k, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && k.Equal(b)
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data, passphrase)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (PrivateKey, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	key, err := loadPrivateKeyFromDER(data)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "reading private key", err)
	}
	return key, nil
}

func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "reading private key", ErrInvalidPEMBlock)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		decrypted, err := x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			if errors.Is(err, x509.IncorrectPasswordError) {
				return nil, sigerr.Wrap(sigerr.KindInvalidCredentials, "decrypting private key", err)
			}
			return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "decrypting private key", err)
		}
		defer clear(decrypted)
		keyBytes = decrypted
	}

	key, err := parsePrivateKeyByType(block.Type, keyBytes)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindUnsupportedKeyFormat, "reading private key", err)
	}
	return key, nil
}

func loadPrivateKeyFromDER(data []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func parsePrivateKeyByType(blockType string, keyBytes []byte) (PrivateKey, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

func toPrivateKey(key any) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case *ed25519.PrivateKey:
		return *k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("-----BEGIN"))
}

// KeyInfo contains information about a private key.
type KeyInfo struct {
	// Algorithm is the key algorithm (RSA, ECDSA, Ed25519)
	Algorithm string
	// BitSize is the key size in bits (for RSA)
	BitSize int
	// Curve is the elliptic curve name (for ECDSA)
	Curve string
}

// GetKeyInfo returns information about a private key.
func GetKeyInfo(key PrivateKey) KeyInfo {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return KeyInfo{Algorithm: "RSA", BitSize: k.N.BitLen()}
	case *ecdsa.PrivateKey:
		return KeyInfo{Algorithm: "ECDSA", Curve: k.Curve.Params().Name}
	case ed25519.PrivateKey:
		return KeyInfo{Algorithm: "Ed25519"}
	default:
		return KeyInfo{Algorithm: "Unknown"}
	}
}
