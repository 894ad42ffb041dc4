// Package engagement encodes and decodes ISO 18013-5 device and reader
// engagement structures (8.2.1.1).
package engagement

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

const (
	Version = "1.0"

	// CipherSuite1 is the only cipher suite defined by ISO 18013-5.
	CipherSuite1 = 1

	// ConnectionMethodRestAPI identifies a server retrieval style REST endpoint.
	ConnectionMethodRestAPI = 4
	connectionMethodVersion = 1
)

// OriginInfo direction.
const (
	OriginCatDelivered = 0
	OriginCatReceived  = 1
)

// OriginInfo type.
const (
	OriginTypeWebsite     = 1
	OriginTypeMessageData = 5
)

var (
	ErrVerifierURLMissing          = errors.New("verifier URL missing from reader engagement")
	ErrVerifierEphemeralKeyMissing = errors.New("verifier ephemeral key missing from reader engagement")
)

type Engagement struct {
	Version           string             `cbor:"0,keyasint"`
	Security          *Security          `cbor:"1,keyasint,omitempty"`
	ConnectionMethods []ConnectionMethod `cbor:"2,keyasint,omitempty"`
	OriginInfos       []OriginInfo       `cbor:"5,keyasint,omitempty"`
}

// ReaderEngagement is sent by the verifier out of band.
type ReaderEngagement = Engagement

// DeviceEngagement is generated by the holder for every session.
type DeviceEngagement = Engagement

type Security struct {
	_           struct{} `cbor:",toarray"`
	CipherSuite int
	EKeyBytes   mdoc.TaggedCBOR
}

type ConnectionMethod struct {
	_       struct{} `cbor:",toarray"`
	Type    int
	Version int
	Options RestAPIOptions
}

type RestAPIOptions struct {
	URI string `json:"uri"`
}

type OriginInfo struct {
	Cat     int      `json:"cat"`
	Type    int      `json:"type"`
	Details *Details `json:"details,omitempty"`
}

type Details struct {
	BaseURL string `json:"baseUrl"`
}

// Parse decodes engagement bytes.
func Parse(data []byte) (*Engagement, error) {
	var e Engagement
	if err := mdoc.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode engagement: %w", err)
	}
	if e.Version == "" {
		return nil, fmt.Errorf("failed to decode engagement: missing version")
	}
	return &e, nil
}

func (e *Engagement) Bytes() ([]byte, error) {
	return mdoc.Marshal(e)
}

// NewDeviceEngagement returns a fresh engagement and the ephemeral key that belongs to it.
// The origin infos record that the engagement was received from referrer and
// delivered as message data.
func NewDeviceEngagement(referrer *url.URL) (*DeviceEngagement, *ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	security, err := newSecurity(priv.PublicKey())
	if err != nil {
		return nil, nil, err
	}

	return &DeviceEngagement{
		Version:  Version,
		Security: security,
		OriginInfos: []OriginInfo{
			{
				Cat:     OriginCatReceived,
				Type:    OriginTypeWebsite,
				Details: &Details{BaseURL: referrer.String()},
			},
			{
				Cat:  OriginCatDelivered,
				Type: OriginTypeMessageData,
			},
		},
	}, priv, nil
}

// NewReaderEngagement returns a reader engagement that points the holder at verifierURL.
func NewReaderEngagement(verifierURL *url.URL) (*ReaderEngagement, *ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	security, err := newSecurity(priv.PublicKey())
	if err != nil {
		return nil, nil, err
	}

	return &ReaderEngagement{
		Version:  Version,
		Security: security,
		ConnectionMethods: []ConnectionMethod{{
			Type:    ConnectionMethodRestAPI,
			Version: connectionMethodVersion,
			Options: RestAPIOptions{URI: verifierURL.String()},
		}},
	}, priv, nil
}

func newSecurity(pub *ecdh.PublicKey) (*Security, error) {
	key, err := mdoc.NewCOSEKeyFromECDH(pub)
	if err != nil {
		return nil, err
	}
	keyBytes, err := mdoc.NewTaggedCBOR(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ephemeral key: %w", err)
	}
	return &Security{CipherSuite: CipherSuite1, EKeyBytes: keyBytes}, nil
}

// VerifierURL returns the URI of the first connection method.
func (e *Engagement) VerifierURL() (*url.URL, error) {
	if len(e.ConnectionMethods) == 0 || e.ConnectionMethods[0].Options.URI == "" {
		return nil, ErrVerifierURLMissing
	}
	u, err := url.Parse(e.ConnectionMethods[0].Options.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierURLMissing, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: not an absolute URL: %s", ErrVerifierURLMissing, u)
	}
	return u, nil
}

// EKeyBytes returns the tagged COSE_Key, as it appears in the SessionTranscript.
func (e *Engagement) EKeyBytes() (mdoc.TaggedCBOR, error) {
	if e.Security == nil || len(e.Security.EKeyBytes) == 0 {
		return nil, ErrVerifierEphemeralKeyMissing
	}
	return e.Security.EKeyBytes, nil
}

// PublicKey decodes the ephemeral key agreement key.
func (e *Engagement) PublicKey() (*ecdh.PublicKey, error) {
	keyBytes, err := e.EKeyBytes()
	if err != nil {
		return nil, err
	}

	var key mdoc.COSEKey
	if err := keyBytes.Decode(&key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierEphemeralKeyMissing, err)
	}

	pub, err := key.ECDHPublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierEphemeralKeyMissing, err)
	}
	return pub, nil
}
