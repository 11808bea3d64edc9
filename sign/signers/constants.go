// Package signers adds signatures to PDF documents.
package signers

import "github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"

// DefaultMD is the digest used when SignOptions names none.
const DefaultMD = digest.Default

// Filter and SubFilter written into new signature dictionaries.
const (
	DefaultSigFilter    = "Adobe.PPKLite"
	DefaultSigSubFilter = "adbe.pkcs7.detached"
)

// State names the stages of a signing operation.
type State int

const (
	StateIdle State = iota
	StateKeyLoaded
	StatePlaceholderReserved
	StateAppended
	StateDigestComputed
	StateEnvelopeBuilt
	StatePatched
)

var stateNames = [...]string{
	StateIdle:                "Idle",
	StateKeyLoaded:           "KeyLoaded",
	StatePlaceholderReserved: "PlaceholderReserved",
	StateAppended:            "Appended",
	StateDigestComputed:      "DigestComputed",
	StateEnvelopeBuilt:       "EnvelopeBuilt",
	StatePatched:             "Patched",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}
