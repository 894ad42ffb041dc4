package holder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/kokukuma/mdoc-wallet/engagement"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/readerauth"
)

var (
	ErrVerifierURLMissing          = engagement.ErrVerifierURLMissing
	ErrVerifierEphemeralKeyMissing = engagement.ErrVerifierEphemeralKeyMissing
	ErrNoReaderRegistration        = readerauth.ErrNoReaderRegistration
	ErrUnauthorized                = readerauth.ErrUnauthorized

	ErrNoDocumentRequests        = errors.New("device request contains no document requests")
	ErrReaderAuthMissing         = errors.New("reader authentication missing")
	ErrReaderAuthsInconsistent   = errors.New("document requests are signed by different readers")
	ErrCredentialSourceContract  = errors.New("credential source returned documents that were not requested")
	ErrSessionEndedByVerifier    = errors.New("verifier ended the session")
	ErrUnexpectedAcknowledgement = errors.New("verifier did not acknowledge the device response")

	ErrSessionTerminated   = errors.New("disclosure session terminated")
	ErrInvalidSessionState = errors.New("operation not allowed in current session state")
)

// DecodeError reports malformed input from the verifier.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CryptoError reports a key agreement, decryption or signature failure.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// CredentialSourceError wraps a failure of the CredentialSource.
type CredentialSourceError struct {
	Err error
}

func (e *CredentialSourceError) Error() string {
	return fmt.Sprintf("credential source: %v", e.Err)
}

func (e *CredentialSourceError) Unwrap() error { return e.Err }

// MultipleCandidatesError names every doc type for which more than one
// held mdoc satisfies the request.
type MultipleCandidatesError struct {
	DocTypes []mdoc.DocType
}

func (e *MultipleCandidatesError) Error() string {
	names := lo.Map(e.DocTypes, func(d mdoc.DocType, _ int) string { return string(d) })
	return fmt.Sprintf("multiple candidates for doc types: %s", strings.Join(names, ", "))
}

// AttributesNotAvailableError is the error form of a session that ended in
// StateMissingAttributes.
type AttributesNotAvailableError struct {
	ReaderRegistration *readerauth.ReaderRegistration
	MissingAttributes  []mdoc.AttributeIdentifier
}

func (e *AttributesNotAvailableError) Error() string {
	names := lo.Map(e.MissingAttributes, func(id mdoc.AttributeIdentifier, _ int) string { return id.String() })
	return fmt.Sprintf("requested attributes not available: %s", strings.Join(names, ", "))
}

// DisclosureError is returned by Disclose. DataShared is true when the
// device response may have reached the verifier.
type DisclosureError struct {
	DataShared bool
	Err        error
}

func (e *DisclosureError) Error() string {
	return fmt.Sprintf("disclosure failed (data shared: %t): %v", e.DataShared, e.Err)
}

func (e *DisclosureError) Unwrap() error { return e.Err }

// SigningDispatchError means a signing operation could not complete before
// the context ended. It is not a signature failure.
type SigningDispatchError struct {
	DocType mdoc.DocType
	Err     error
}

func (e *SigningDispatchError) Error() string {
	return fmt.Sprintf("signing for %s was not completed: %v", e.DocType, e.Err)
}

func (e *SigningDispatchError) Unwrap() error { return e.Err }
