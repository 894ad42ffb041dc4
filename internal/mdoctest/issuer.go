// Package mdoctest provides a mock issuer and a mock verifier that speak the
// real wire formats, for tests and local demos.
package mdoctest

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-wallet/internal/cryptoroot"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/hash"
)

const msoVersion = "1.0"

// Attribute is one issuer signed data element.
type Attribute struct {
	Name  mdoc.ElementIdentifier
	Value interface{}
}

// NameSpaceAttributes keeps attributes in issuance order.
type NameSpaceAttributes struct {
	NameSpace  mdoc.NameSpace
	Attributes []Attribute
}

type Issuer struct {
	signer   *cryptoroot.KeyPair
	chain    [][]byte
	validity time.Duration
	now      func() time.Time
}

type IssuerOption func(*Issuer)

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithValidity(validity time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.validity = validity
	}
}

// NewIssuer creates a document signer certificate under ca.
func NewIssuer(ca *cryptoroot.KeyPair, opts ...IssuerOption) (*Issuer, error) {
	signer, err := ca.IssueDocumentSigner("issuer.mdoc.example.com")
	if err != nil {
		return nil, fmt.Errorf("failed to issue document signer: %w", err)
	}

	i := &Issuer{
		signer:   signer,
		chain:    [][]byte{signer.Certificate.Raw},
		validity: 365 * 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs attributes into an IssuerSigned structure bound to deviceKey.
func (i *Issuer) Issue(docType mdoc.DocType, nameSpaces []NameSpaceAttributes, deviceKey *ecdsa.PublicKey) (*mdoc.IssuerSigned, error) {
	coseKey, err := mdoc.NewCOSEKey(deviceKey)
	if err != nil {
		return nil, err
	}

	issuerNameSpaces := mdoc.IssuerNameSpaces{}
	valueDigests := mdoc.ValueDigests{}
	var digestID mdoc.DigestID

	for _, ns := range nameSpaces {
		digests := mdoc.DigestIDs{}
		for _, attr := range ns.Attributes {
			random := make([]byte, 16)
			if _, err := rand.Read(random); err != nil {
				return nil, err
			}

			itemBytes, err := mdoc.NewIssuerSignedItemBytes(mdoc.IssuerSignedItem{
				DigestID:          digestID,
				Random:            random,
				ElementIdentifier: attr.Name,
				ElementValue:      attr.Value,
			})
			if err != nil {
				return nil, err
			}

			digest, err := itemBytes.Digest(hash.SHA256)
			if err != nil {
				return nil, err
			}

			digests[digestID] = digest
			issuerNameSpaces[ns.NameSpace] = append(issuerNameSpaces[ns.NameSpace], itemBytes)
			digestID++
		}
		valueDigests[ns.NameSpace] = digests
	}

	now := i.now().UTC().Truncate(time.Second)
	mso := mdoc.MobileSecurityObject{
		Version:         msoVersion,
		DigestAlgorithm: hash.SHA256,
		ValueDigests:    valueDigests,
		DeviceKeyInfo:   mdoc.DeviceKeyInfo{DeviceKey: coseKey},
		DocType:         docType,
		ValidityInfo: mdoc.ValidityInfo{
			Signed:     now,
			ValidFrom:  now,
			ValidUntil: now.Add(i.validity),
		},
	}

	issuerAuth, err := i.signMSO(mso)
	if err != nil {
		return nil, err
	}

	return &mdoc.IssuerSigned{
		NameSpaces: issuerNameSpaces,
		IssuerAuth: *issuerAuth,
	}, nil
}

func (i *Issuer) signMSO(mso mdoc.MobileSecurityObject) (*cose.UntaggedSign1Message, error) {
	msoBytes, err := mdoc.NewTaggedCBOR(mso)
	if err != nil {
		return nil, fmt.Errorf("failed to encode MSO: %w", err)
	}
	payload, err := msoBytes.TaggedBytes()
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, i.signer.Key)
	if err != nil {
		return nil, err
	}

	msg := &cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelX5Chain: i.chain[0],
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("failed to sign MSO: %w", err)
	}
	return msg, nil
}

// Certificate returns the document signer certificate.
func (i *Issuer) Certificate() *cryptoroot.KeyPair {
	return i.signer
}
