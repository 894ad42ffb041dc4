package mdoc

import "errors"

var (
	ErrNamespaceNotFound        = errors.New("namespace not found")
	ErrNamespaceDigestsNotFound = errors.New("namespace digests not found")
	ErrElementNotFound          = errors.New("element not found")
	ErrDigestNotFound           = errors.New("digest not found")
	ErrDigestMismatch           = errors.New("digest mismatch")
	ErrDocTypeMismatch          = errors.New("docType mismatch")
	ErrValidity                 = errors.New("document is outside its validity period")
	ErrEmptyItemsRequest        = errors.New("items request names no attributes")

	ErrInvalidKeyType = errors.New("invalid key type")
	ErrX5Chain        = errors.New("invalid x5chain")

	ErrMissingProtectedHeader = errors.New("missing protected header")
	ErrMissingPayload         = errors.New("missing payload")

	ErrDeviceKeyNotAvailable         = errors.New("device key not available")
	ErrDeviceSignedNil               = errors.New("device signed is nil")
	ErrDeviceNameSpacesNil           = errors.New("device namespaces is nil")
	ErrMissingDeviceProtectedHeaders = errors.New("missing device protected headers")
	ErrDeviceAuthMissing             = errors.New("neither deviceSignature nor deviceMac present")
	ErrDeviceMacKeyMissing           = errors.New("deviceMac present but no MAC key configured")
	ErrEmptySessionTranscript        = errors.New("empty session transcript")

	ErrMacAlgorithm    = errors.New("unsupported MAC algorithm")
	ErrMacVerification = errors.New("MAC verification failed")
)
