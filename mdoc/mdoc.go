package mdoc

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-wallet/pkg/hash"
)

// ISO_IEC_18013-5_2021(en).pdf

type DocType string

type NameSpace string

type ElementIdentifier string

type ElementValue interface{}

const (
	DeviceResponseVersion = "1.0"
	DeviceRequestVersion  = "1.0"

	// StatusOK is the only DeviceResponse status this wallet produces.
	StatusOK uint = 0
)

type DeviceResponse struct {
	Version        string          `json:"version"`
	Documents      []Document      `json:"documents,omitempty"`
	DocumentErrors []DocumentError `json:"documentErrors,omitempty"`
	Status         uint            `json:"status"`
}

func (d DeviceResponse) GetDocument(docType DocType) (*Document, error) {
	for _, doc := range d.Documents {
		if doc.DocType == docType {
			return &doc, nil
		}
	}
	return nil, fmt.Errorf("failed to find doc: doctype=%s", docType)
}

type Document struct {
	DocType      DocType      `json:"docType"`
	IssuerSigned IssuerSigned `json:"issuerSigned"`
	DeviceSigned DeviceSigned `json:"deviceSigned"`
	Errors       Errors       `json:"errors,omitempty"`
}

func (d *Document) GetElementValue(namespace NameSpace, elementIdentifier ElementIdentifier) (ElementValue, error) {
	if d.DocType == "" {
		return nil, fmt.Errorf("invalid document type")
	}
	return d.IssuerSigned.GetElementValue(namespace, elementIdentifier)
}

type IssuerSigned struct {
	NameSpaces IssuerNameSpaces          `json:"nameSpaces,omitempty"`
	IssuerAuth cose.UntaggedSign1Message `json:"issuerAuth"`
}

// GetNameSpaces returns the namespaces in lexical order.
func (i *IssuerSigned) GetNameSpaces() []NameSpace {
	nss := make([]NameSpace, 0, len(i.NameSpaces))
	for ns := range i.NameSpaces {
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(a, b int) bool { return nss[a] < nss[b] })
	return nss
}

func (i *IssuerSigned) GetIssuerSignedItems(ns NameSpace) ([]IssuerSignedItem, error) {
	if len(i.NameSpaces[ns]) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}

	isis := make([]IssuerSignedItem, 0, len(i.NameSpaces[ns]))
	for _, b := range i.NameSpaces[ns] {
		isi, err := b.IssuerSignedItem()
		if err != nil {
			return nil, fmt.Errorf("failed to parse issuerSignedItem: %w", err)
		}
		isis = append(isis, *isi)
	}
	return isis, nil
}

func (i *IssuerSigned) GetElementValue(namespace NameSpace, elementIdentifier ElementIdentifier) (ElementValue, error) {
	if i.NameSpaces == nil {
		return nil, fmt.Errorf("no namespaces available")
	}

	items, err := i.GetIssuerSignedItems(namespace)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ElementIdentifier == elementIdentifier {
			if tag, ok := item.ElementValue.(cbor.Tag); ok {
				return tag.Content, nil
			}
			return item.ElementValue, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in namespace %s", ErrElementNotFound, elementIdentifier, namespace)
}

// AttributeIdentifiers lists every attribute the issuer signed for docType.
func (i *IssuerSigned) AttributeIdentifiers(docType DocType) ([]AttributeIdentifier, error) {
	var ids []AttributeIdentifier
	for _, ns := range i.GetNameSpaces() {
		items, err := i.GetIssuerSignedItems(ns)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			ids = append(ids, AttributeIdentifier{
				DocType:   docType,
				NameSpace: ns,
				Attribute: item.ElementIdentifier,
			})
		}
	}
	return ids, nil
}

// Filter returns a copy that keeps only the items accepted by keep.
// Item order inside a namespace is preserved and emptied namespaces are dropped.
func (i *IssuerSigned) Filter(keep func(ns NameSpace, id ElementIdentifier) bool) (IssuerSigned, error) {
	filtered := IssuerSigned{
		NameSpaces: IssuerNameSpaces{},
		IssuerAuth: i.IssuerAuth,
	}
	for ns, itemBytes := range i.NameSpaces {
		var kept []IssuerSignedItemBytes
		for _, ib := range itemBytes {
			item, err := ib.IssuerSignedItem()
			if err != nil {
				return IssuerSigned{}, fmt.Errorf("failed to parse issuerSignedItem: %w", err)
			}
			if keep(ns, item.ElementIdentifier) {
				kept = append(kept, ib)
			}
		}
		if len(kept) > 0 {
			filtered.NameSpaces[ns] = kept
		}
	}
	return filtered, nil
}

func (i *IssuerSigned) Alg() (cose.Algorithm, error) {
	if i.IssuerAuth.Headers.Protected == nil {
		return 0, ErrMissingProtectedHeader
	}
	return i.IssuerAuth.Headers.Protected.Algorithm()
}

func (i *IssuerSigned) DocumentSigningKey() (*ecdsa.PublicKey, error) {
	certificate, err := i.DocumentSigningCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to get document signing certificate: %w", err)
	}

	documentSigningKey, ok := certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T, expected *ecdsa.PublicKey", ErrInvalidKeyType, certificate.PublicKey)
	}
	return documentSigningKey, nil
}

func (i *IssuerSigned) DocumentSigningCertificate() (*x509.Certificate, error) {
	certificates, err := i.DocumentSigningCertificateChain()
	if err != nil {
		return nil, fmt.Errorf("failed to get DSCertificateChain: %w", err)
	}
	return certificates[0], nil
}

func (i *IssuerSigned) DocumentSigningCertificateChain() ([]*x509.Certificate, error) {
	return X5Chain(i.IssuerAuth.Headers)
}

func (i *IssuerSigned) MobileSecurityObject() (*MobileSecurityObject, error) {
	if i.IssuerAuth.Payload == nil {
		return nil, ErrMissingPayload
	}

	var payload TaggedCBOR
	if err := Unmarshal(i.IssuerAuth.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tagged data: %w", err)
	}

	var mso MobileSecurityObject
	if err := payload.Decode(&mso); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MSO: %w", err)
	}

	return &mso, nil
}

// X5Chain parses the certificate chain from the x5chain unprotected header.
func X5Chain(headers cose.Headers) ([]*x509.Certificate, error) {
	if headers.Unprotected == nil {
		return nil, fmt.Errorf("%w: missing unprotected headers", ErrX5Chain)
	}

	rawX5Chain, ok := headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		return nil, fmt.Errorf("%w: x5chain not found in unprotected headers", ErrX5Chain)
	}

	var rawX5ChainBytes [][]byte
	switch v := rawX5Chain.(type) {
	case [][]byte:
		rawX5ChainBytes = v
	case []byte:
		rawX5ChainBytes = [][]byte{v}
	case []interface{}:
		for _, c := range v {
			b, ok := c.([]byte)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected x5chain entry type: %T", ErrX5Chain, c)
			}
			rawX5ChainBytes = append(rawX5ChainBytes, b)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected x5chain type: %T", ErrX5Chain, rawX5Chain)
	}

	if len(rawX5ChainBytes) == 0 {
		return nil, fmt.Errorf("%w: empty x5chain", ErrX5Chain)
	}

	certs := make([]*x509.Certificate, 0, len(rawX5ChainBytes))
	for _, certData := range rawX5ChainBytes {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("error parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	return certs, nil
}

type IssuerNameSpaces map[NameSpace][]IssuerSignedItemBytes

// IssuerSignedItemBytes is #6.24(bstr .cbor IssuerSignedItem). The inner
// bytes are kept verbatim so digests survive re-encoding.
type IssuerSignedItemBytes TaggedCBOR

func NewIssuerSignedItemBytes(item IssuerSignedItem) (IssuerSignedItemBytes, error) {
	b, err := NewTaggedCBOR(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issuer signed item: %w", err)
	}
	return IssuerSignedItemBytes(b), nil
}

func (i IssuerSignedItemBytes) MarshalCBOR() ([]byte, error) {
	return TaggedCBOR(i).MarshalCBOR()
}

func (i *IssuerSignedItemBytes) UnmarshalCBOR(data []byte) error {
	return (*TaggedCBOR)(i).UnmarshalCBOR(data)
}

func (i IssuerSignedItemBytes) IssuerSignedItem() (*IssuerSignedItem, error) {
	if len(i) == 0 {
		return nil, fmt.Errorf("empty issuer signed item bytes")
	}
	var item IssuerSignedItem
	if err := Unmarshal(i, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal issuer signed item: %w", err)
	}
	return &item, nil
}

func (i IssuerSignedItemBytes) Digest(alg string) ([]byte, error) {
	v, err := i.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tagged CBOR: %w", err)
	}
	return hash.Digest(v, alg)
}

type IssuerSignedItem struct {
	DigestID          DigestID          `json:"digestID"`
	Random            []byte            `json:"random"`
	ElementIdentifier ElementIdentifier `json:"elementIdentifier"`
	ElementValue      ElementValue      `json:"elementValue"`
}

type MobileSecurityObject struct {
	Version         string        `json:"version"`
	DigestAlgorithm string        `json:"digestAlgorithm"`
	ValueDigests    ValueDigests  `json:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo `json:"deviceKeyInfo"`
	DocType         DocType       `json:"docType"`
	ValidityInfo    ValidityInfo  `json:"validityInfo"`
}

func (m *MobileSecurityObject) DeviceKey() (*ecdsa.PublicKey, error) {
	if m == nil || m.DeviceKeyInfo.DeviceKey == nil {
		return nil, ErrDeviceKeyNotAvailable
	}
	return m.DeviceKeyInfo.DeviceKey.ECDSAPublicKey()
}

func (m *MobileSecurityObject) GetDigest(ns NameSpace, digestID DigestID) (Digest, error) {
	digests, ok := m.ValueDigests[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceDigestsNotFound, ns)
	}
	digest, ok := digests[digestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s, %d", ErrDigestNotFound, ns, digestID)
	}
	return digest, nil
}

type DeviceKeyInfo struct {
	DeviceKey         *COSEKey           `json:"deviceKey"`
	KeyAuthorizations *KeyAuthorizations `json:"keyAuthorizations,omitempty"`
	KeyInfo           KeyInfo            `json:"keyInfo,omitempty"`
}

// COSE key type and curve identifiers, RFC 8152 Table 21/22.
const (
	KeyTypeEC2 = 2

	P256          = 1
	P384          = 2
	P521          = 3
	BrainpoolP256 = 8
	BrainpoolP384 = 9
	BrainpoolP512 = 10
)

type COSEKey struct {
	Kty       int             `cbor:"1,keyasint,omitempty"`
	Kid       []byte          `cbor:"2,keyasint,omitempty"`
	Alg       int             `cbor:"3,keyasint,omitempty"`
	KeyOpts   int             `cbor:"4,keyasint,omitempty"`
	IV        []byte          `cbor:"5,keyasint,omitempty"`
	CrvOrNOrK cbor.RawMessage `cbor:"-1,keyasint,omitempty"` // K for symmetric keys, Crv for elliptic curve keys, N for RSA modulus
	XOrE      cbor.RawMessage `cbor:"-2,keyasint,omitempty"` // X for curve x-coordinate, E for RSA public exponent
	Y         cbor.RawMessage `cbor:"-3,keyasint,omitempty"` // Y for curve y-cooridate
	D         []byte          `cbor:"-4,keyasint,omitempty"`
}

// NewCOSEKey encodes a P-256 public key as an EC2 COSE_Key.
func NewCOSEKey(pub *ecdsa.PublicKey) (*COSEKey, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: only P-256 keys are supported", ErrInvalidKeyType)
	}

	size := (pub.Curve.Params().BitSize + 7) / 8
	crv, err := Marshal(P256)
	if err != nil {
		return nil, err
	}
	x, err := Marshal(pub.X.FillBytes(make([]byte, size)))
	if err != nil {
		return nil, err
	}
	y, err := Marshal(pub.Y.FillBytes(make([]byte, size)))
	if err != nil {
		return nil, err
	}

	return &COSEKey{
		Kty:       KeyTypeEC2,
		CrvOrNOrK: crv,
		XOrE:      x,
		Y:         y,
	}, nil
}

// NewCOSEKeyFromECDH encodes an ephemeral P-256 key agreement public key.
func NewCOSEKeyFromECDH(pub *ecdh.PublicKey) (*COSEKey, error) {
	ecdsaPub, err := ECDHToECDSA(pub)
	if err != nil {
		return nil, err
	}
	return NewCOSEKey(ecdsaPub)
}

func (k *COSEKey) ECDSAPublicKey() (*ecdsa.PublicKey, error) {
	return parseECDSA(k)
}

func (k *COSEKey) ECDHPublicKey() (*ecdh.PublicKey, error) {
	pub, err := parseECDSA(k)
	if err != nil {
		return nil, err
	}
	return pub.ECDH()
}

// ECDHToECDSA converts an uncompressed P-256 key agreement key.
func ECDHToECDSA(pub *ecdh.PublicKey) (*ecdsa.PublicKey, error) {
	if pub == nil || pub.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("%w: only P-256 keys are supported", ErrInvalidKeyType)
	}
	b := pub.Bytes()
	size := (len(b) - 1) / 2
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(b[1 : 1+size]),
		Y:     new(big.Int).SetBytes(b[1+size:]),
	}, nil
}

type KeyAuthorizations struct {
	NameSpaces   []NameSpace                       `cbor:"nameSpaces,omitempty"`
	DataElements map[NameSpace][]ElementIdentifier `cbor:"dataElements,omitempty"`
}

type KeyInfo map[int]interface{}

type ValueDigests map[NameSpace]DigestIDs

type DigestIDs map[DigestID]Digest

type ValidityInfo struct {
	Signed         time.Time  `json:"signed"`
	ValidFrom      time.Time  `json:"validFrom"`
	ValidUntil     time.Time  `json:"validUntil"`
	ExpectedUpdate *time.Time `json:"expectedUpdate,omitempty"`
}

type DigestID uint32

type Digest []byte

type DeviceSigned struct {
	NameSpaces TaggedCBOR `json:"nameSpaces"`
	DeviceAuth DeviceAuth `json:"deviceAuth"`
}

type DeviceNameSpaces map[NameSpace]DeviceSignedItems

type DeviceSignedItems map[ElementIdentifier]ElementValue

func (d *DeviceSigned) Alg() (cose.Algorithm, error) {
	if d == nil || d.DeviceAuth.DeviceSignature == nil {
		return 0, ErrDeviceSignedNil
	}
	if d.DeviceAuth.DeviceSignature.Headers.Protected == nil {
		return 0, ErrMissingDeviceProtectedHeaders
	}
	return d.DeviceAuth.DeviceSignature.Headers.Protected.Algorithm()
}

func (d *DeviceSigned) DeviceAuthenticationBytes(docType DocType, sessionTranscript []byte) ([]byte, error) {
	if d == nil {
		return nil, ErrDeviceSignedNil
	}
	return DeviceAuthenticationBytes(sessionTranscript, docType, d.NameSpaces)
}

// DeviceAuth holds exactly one of the two device authentication proofs.
type DeviceAuth struct {
	DeviceSignature *cose.UntaggedSign1Message `json:"deviceSignature,omitempty"`
	DeviceMac       *UntaggedMac0Message       `json:"deviceMac,omitempty"`
}

type DocumentError map[DocType]ErrorCode

type Errors map[NameSpace]ErrorItems

type ErrorItems map[ElementIdentifier]ErrorCode

type ErrorCode int

func parseECDSA(coseKey *COSEKey) (*ecdsa.PublicKey, error) {
	if coseKey == nil {
		return nil, fmt.Errorf("cose key is nil")
	}

	var crv int
	if err := cbor.Unmarshal(coseKey.CrvOrNOrK, &crv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curve: %w", err)
	}

	var xBytes []byte
	if err := cbor.Unmarshal(coseKey.XOrE, &xBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal X coordinate: %w", err)
	}

	var yBytes []byte
	if err := cbor.Unmarshal(coseKey.Y, &yBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Y coordinate: %w", err)
	}

	if len(xBytes) == 0 || len(yBytes) == 0 {
		return nil, fmt.Errorf("invalid coordinates")
	}

	var curve elliptic.Curve
	switch crv {
	case P256: // RFC 8152 Table 21
		curve = elliptic.P256()
	case P384:
		curve = elliptic.P384()
	case P521:
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %d", crv)
	}

	pubKey := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}
	if !curve.IsOnCurve(pubKey.X, pubKey.Y) {
		return nil, fmt.Errorf("point is not on curve")
	}

	return pubKey, nil
}
