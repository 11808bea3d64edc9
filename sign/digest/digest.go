// Package digest computes detached digests over the byte ranges of a signed
// document.
package digest

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/byterange"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// Canonical algorithm names.
const (
	SHA1     = "SHA-1"
	SHA256   = "SHA-256"
	SHA384   = "SHA-384"
	SHA512   = "SHA-512"
	SHA3_256 = "SHA3-256"
	SHA3_384 = "SHA3-384"
	SHA3_512 = "SHA3-512"
)

// Default is the digest used for new signatures.
const Default = SHA256

// Algorithm describes one supported digest.
type Algorithm struct {
	// Name is the canonical name, e.g. "SHA-256".
	Name string
	// OID is the digest algorithm identifier used in CMS.
	OID asn1.ObjectIdentifier
	// Hash is the crypto.Hash used for signature padding and verification.
	Hash crypto.Hash

	newFn func() hash.Hash
}

// New returns a fresh hash state.
func (a Algorithm) New() hash.Hash {
	return a.newFn()
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	return a.newFn().Size()
}

var algorithms = []Algorithm{
	{Name: SHA1, OID: asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}, Hash: crypto.SHA1, newFn: sha1.New},
	{Name: SHA256, OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, Hash: crypto.SHA256, newFn: sha256.New},
	{Name: SHA384, OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}, Hash: crypto.SHA384, newFn: sha512.New384},
	{Name: SHA512, OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}, Hash: crypto.SHA512, newFn: sha512.New},
	{Name: SHA3_256, OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}, Hash: crypto.SHA3_256, newFn: sha3.New256},
	{Name: SHA3_384, OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}, Hash: crypto.SHA3_384, newFn: sha3.New384},
	{Name: SHA3_512, OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}, Hash: crypto.SHA3_512, newFn: sha3.New512},
}

// normalizeName maps "sha256", "SHA256", "sha-256" and "SHA-256" to the same key.
func normalizeName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	return strings.NewReplacer("-", "", "_", "").Replace(n)
}

// Lookup returns the algorithm registered under name. Names are matched
// case-insensitively, with or without separators.
func Lookup(name string) (Algorithm, error) {
	key := normalizeName(name)
	for _, a := range algorithms {
		if normalizeName(a.Name) == key {
			return a, nil
		}
	}
	return Algorithm{}, sigerr.Newf(sigerr.KindUnsupportedAlgorithm, "unsupported digest algorithm %q", name)
}

// ForOID returns the algorithm identified by oid.
func ForOID(oid asn1.ObjectIdentifier) (Algorithm, error) {
	for _, a := range algorithms {
		if a.OID.Equal(oid) {
			return a, nil
		}
	}
	return Algorithm{}, sigerr.Newf(sigerr.KindUnsupportedAlgorithm, "unsupported digest algorithm OID %s", oid)
}

// Names lists the canonical names of all supported algorithms.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for _, a := range algorithms {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// Compute hashes the two segments of r, in order, under the named algorithm.
// It does not copy data and holds no state, so it can run concurrently over
// one buffer.
func Compute(data []byte, r byterange.ByteRange, algorithm string) ([]byte, error) {
	alg, err := Lookup(algorithm)
	if err != nil {
		return nil, err
	}
	return ComputeWith(data, r, alg)
}

// ComputeWith is Compute for an already resolved algorithm.
func ComputeWith(data []byte, r byterange.ByteRange, alg Algorithm) ([]byte, error) {
	if err := r.Validate(int64(len(data))); err != nil {
		return nil, err
	}
	first, second := r.Segments(data)
	h := alg.New()
	h.Write(first)
	h.Write(second)
	return h.Sum(nil), nil
}
