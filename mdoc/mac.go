package mdoc

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/veraison/go-cose"
)

// AlgorithmHMAC256 is HMAC 256/256 (RFC 8152 Table 7).
const AlgorithmHMAC256 cose.Algorithm = 5

const mac0Context = "MAC0"

// UntaggedMac0Message is a COSE_Mac0 without the leading tag 17.
// The payload is always detached and encodes as null.
type UntaggedMac0Message struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]interface{}
	Payload     []byte
	Tag         []byte
}

type macStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

type mac0ProtectedHeader struct {
	Alg cose.Algorithm `cbor:"1,keyasint"`
}

// CreateMac0 authenticates payload with key using HMAC 256/256.
func CreateMac0(key, payload []byte) (*UntaggedMac0Message, error) {
	protected, err := Marshal(mac0ProtectedHeader{Alg: AlgorithmHMAC256})
	if err != nil {
		return nil, fmt.Errorf("failed to encode protected header: %w", err)
	}

	tag, err := mac0Tag(key, protected, payload)
	if err != nil {
		return nil, err
	}

	return &UntaggedMac0Message{
		Protected:   protected,
		Unprotected: map[int]interface{}{},
		Tag:         tag,
	}, nil
}

// Verify checks the tag over the detached payload.
func (m *UntaggedMac0Message) Verify(key, payload []byte) error {
	var header mac0ProtectedHeader
	if err := Unmarshal(m.Protected, &header); err != nil {
		return fmt.Errorf("failed to decode protected header: %w", err)
	}
	if header.Alg != AlgorithmHMAC256 {
		return fmt.Errorf("%w: %d", ErrMacAlgorithm, header.Alg)
	}

	expected, err := mac0Tag(key, m.Protected, payload)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, m.Tag) {
		return ErrMacVerification
	}
	return nil
}

func mac0Tag(key, protected, payload []byte) ([]byte, error) {
	toBeMaced, err := Marshal(macStructure{
		Context:     mac0Context,
		Protected:   protected,
		ExternalAAD: []byte{},
		Payload:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode MAC_structure: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(toBeMaced)
	return mac.Sum(nil), nil
}
