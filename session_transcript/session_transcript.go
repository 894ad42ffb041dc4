package session_transcript

import (
	"fmt"
	"strings"

	"github.com/kokukuma/mdoc-wallet/engagement"
	"github.com/kokukuma/mdoc-wallet/mdoc"
)

// 9.1.5.1 Session transcript

type SessionType int

const (
	// CrossDevice: the reader engagement was scanned from a QR code.
	CrossDevice SessionType = iota
	// SameDevice: the reader engagement was delivered to the wallet on the same device,
	// e.g. through a universal link.
	SameDevice
)

func (s SessionType) String() string {
	switch s {
	case SameDevice:
		return "same_device"
	case CrossDevice:
		return "cross_device"
	}
	return fmt.Sprintf("SessionType(%d)", int(s))
}

func ParseSessionType(s string) (SessionType, error) {
	switch strings.ToLower(s) {
	case "same_device", "samedevice", "same-device":
		return SameDevice, nil
	case "cross_device", "crossdevice", "cross-device":
		return CrossDevice, nil
	}
	return 0, fmt.Errorf("unknown session type: %q", s)
}

// SessionTranscript = [DeviceEngagementBytes, EReaderKeyBytes, Handover]
type SessionTranscript struct {
	_                     struct{} `cbor:",toarray"`
	DeviceEngagementBytes mdoc.TaggedCBOR
	EReaderKeyBytes       mdoc.TaggedCBOR
	Handover              interface{}
}

// New binds both engagements and the session type into a transcript.
// For same device flows the handover is the tagged ReaderEngagement, for
// cross device flows it is null.
func New(sessionType SessionType, readerEngagementBytes, deviceEngagementBytes []byte) (*SessionTranscript, error) {
	if len(deviceEngagementBytes) == 0 {
		return nil, fmt.Errorf("device engagement cannot be empty")
	}

	readerEngagement, err := engagement.Parse(readerEngagementBytes)
	if err != nil {
		return nil, err
	}
	eReaderKeyBytes, err := readerEngagement.EKeyBytes()
	if err != nil {
		return nil, err
	}

	var handover interface{}
	switch sessionType {
	case SameDevice:
		handover = mdoc.TaggedCBOR(readerEngagementBytes)
	case CrossDevice:
		handover = nil
	default:
		return nil, fmt.Errorf("unsupported session type: %v", sessionType)
	}

	return &SessionTranscript{
		DeviceEngagementBytes: mdoc.TaggedCBOR(deviceEngagementBytes),
		EReaderKeyBytes:       eReaderKeyBytes,
		Handover:              handover,
	}, nil
}

func (s *SessionTranscript) Bytes() ([]byte, error) {
	transcript, err := mdoc.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return transcript, nil
}

// TaggedBytes returns #6.24(bstr .cbor SessionTranscript), the input of the
// key derivation salt.
func (s *SessionTranscript) TaggedBytes() ([]byte, error) {
	transcript, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	return mdoc.TaggedCBOR(transcript).TaggedBytes()
}
