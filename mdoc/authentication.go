package mdoc

import "fmt"

const (
	readerAuthenticationContext = "ReaderAuthentication"
	deviceAuthenticationContext = "DeviceAuthentication"
)

// EmptyDeviceNameSpaces is the encoding of an empty DeviceNameSpaces map.
var EmptyDeviceNameSpaces = TaggedCBOR{0xa0}

type readerAuthentication struct {
	_                 struct{} `cbor:",toarray"`
	Context           string
	SessionTranscript RawTranscript
	ItemsRequestBytes TaggedCBOR
}

type deviceAuthentication struct {
	_                     struct{} `cbor:",toarray"`
	Context               string
	SessionTranscript     RawTranscript
	DocType               DocType
	DeviceNameSpacesBytes TaggedCBOR
}

// RawTranscript embeds an already encoded SessionTranscript.
type RawTranscript []byte

func (r RawTranscript) MarshalCBOR() ([]byte, error) {
	if len(r) == 0 {
		return nil, ErrEmptySessionTranscript
	}
	return []byte(r), nil
}

// ReaderAuthenticationBytes returns #6.24(bstr .cbor ReaderAuthentication),
// the detached payload of a DocRequest readerAuth signature.
func ReaderAuthenticationBytes(sessionTranscript []byte, itemsRequest TaggedCBOR) ([]byte, error) {
	ra, err := NewTaggedCBOR(readerAuthentication{
		Context:           readerAuthenticationContext,
		SessionTranscript: sessionTranscript,
		ItemsRequestBytes: itemsRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ReaderAuthentication: %w", err)
	}
	return ra.TaggedBytes()
}

// DeviceAuthenticationBytes returns #6.24(bstr .cbor DeviceAuthentication),
// the detached payload of deviceSignature and deviceMac.
func DeviceAuthenticationBytes(sessionTranscript []byte, docType DocType, deviceNameSpaces TaggedCBOR) ([]byte, error) {
	if deviceNameSpaces == nil {
		return nil, ErrDeviceNameSpacesNil
	}
	da, err := NewTaggedCBOR(deviceAuthentication{
		Context:               deviceAuthenticationContext,
		SessionTranscript:     sessionTranscript,
		DocType:               docType,
		DeviceNameSpacesBytes: deviceNameSpaces,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode DeviceAuthentication: %w", err)
	}
	return da.TaggedBytes()
}
