// Package sigerr defines the error taxonomy shared by the signing and
// validation packages.
//
// Every error produced by the engine carries a Kind. Callers match on the
// kind with errors.Is against the package sentinels:
//
//	if errors.Is(err, sigerr.ErrInvalidCredentials) { ... }
package sigerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an engine error.
type Kind int

const (
	// KindUnknown is reported by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindMalformedRange indicates a byte range that is negative, overlapping
	// or runs past the end of the document.
	KindMalformedRange
	// KindUnsupportedAlgorithm indicates a digest or signature algorithm the
	// engine does not implement.
	KindUnsupportedAlgorithm
	// KindMalformedEnvelope indicates a signature envelope that cannot be decoded.
	KindMalformedEnvelope
	// KindDigestMismatch indicates the covered bytes no longer hash to the
	// digest the envelope declares.
	KindDigestMismatch
	// KindSignatureVerificationFailed indicates the signature value does not
	// verify under the signer's public key.
	KindSignatureVerificationFailed
	// KindInvalidCredentials indicates the key container secret is wrong.
	KindInvalidCredentials
	// KindUnsupportedKeyFormat indicates an unrecognised key container.
	KindUnsupportedKeyFormat
	// KindPlaceholderTooSmall indicates the envelope does not fit the
	// reserved placeholder.
	KindPlaceholderTooSmall
)

var kindNames = map[Kind]string{
	KindUnknown:                     "Unknown",
	KindMalformedRange:              "MalformedRange",
	KindUnsupportedAlgorithm:        "UnsupportedAlgorithm",
	KindMalformedEnvelope:           "MalformedEnvelope",
	KindDigestMismatch:              "DigestMismatch",
	KindSignatureVerificationFailed: "SignatureVerificationFailed",
	KindInvalidCredentials:          "InvalidCredentials",
	KindUnsupportedKeyFormat:        "UnsupportedKeyFormat",
	KindPlaceholderTooSmall:         "PlaceholderTooSmall",
}

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned across the engine.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind
	// Message is a human-readable description.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the message, followed by the cause when present.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. This lets
// errors.Is(err, sigerr.ErrDigestMismatch) match regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrMalformedRange              = &Error{Kind: KindMalformedRange}
	ErrUnsupportedAlgorithm        = &Error{Kind: KindUnsupportedAlgorithm}
	ErrMalformedEnvelope           = &Error{Kind: KindMalformedEnvelope}
	ErrDigestMismatch              = &Error{Kind: KindDigestMismatch}
	ErrSignatureVerificationFailed = &Error{Kind: KindSignatureVerificationFailed}
	ErrInvalidCredentials          = &Error{Kind: KindInvalidCredentials}
	ErrUnsupportedKeyFormat        = &Error{Kind: KindUnsupportedKeyFormat}
	ErrPlaceholderTooSmall         = &Error{Kind: KindPlaceholderTooSmall}
)

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
