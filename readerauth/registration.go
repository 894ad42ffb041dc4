// Package readerauth models the ReaderRegistration a verifier carries in its
// reader authentication certificate.
package readerauth

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

var (
	// OIDReaderRegistration holds a ReaderRegistration as a JSON UTF8String.
	OIDReaderRegistration = asn1.ObjectIdentifier{2, 1, 123, 1}
	// OIDIssuerRegistration marks issuer certificates. It never authorizes a reader.
	OIDIssuerRegistration = asn1.ObjectIdentifier{2, 1, 123, 2}
)

var (
	ErrNoReaderRegistration = errors.New("certificate carries no reader registration")
	ErrUnauthorized         = errors.New("reader is not authorized for requested attributes")
)

// LocalizedStrings maps a language tag to text.
type LocalizedStrings map[string]string

type Image struct {
	MimeType  string `json:"mimeType"`
	ImageData string `json:"imageData"`
}

type Organization struct {
	LegalName        LocalizedStrings `json:"legalName"`
	DisplayName      LocalizedStrings `json:"displayName"`
	Description      LocalizedStrings `json:"description"`
	Category         LocalizedStrings `json:"category"`
	Department       LocalizedStrings `json:"department,omitempty"`
	City             LocalizedStrings `json:"city,omitempty"`
	CountryCode      string           `json:"countryCode,omitempty"`
	Kvk              string           `json:"kvk,omitempty"`
	Logo             *Image           `json:"logo,omitempty"`
	WebURL           string           `json:"webUrl,omitempty"`
	PrivacyPolicyURL string           `json:"privacyPolicyUrl,omitempty"`
}

type RetentionPolicy struct {
	IntentToRetain       bool   `json:"intentToRetain"`
	MaxDurationInMinutes *int64 `json:"maxDurationInMinutes,omitempty"`
}

type SharingPolicy struct {
	IntentToShare bool `json:"intentToShare"`
}

type DeletionPolicy struct {
	Deleteable bool `json:"deleteable"`
}

type AuthorizedAttribute struct{}

type AuthorizedNamespace map[mdoc.ElementIdentifier]AuthorizedAttribute

type AuthorizedMdoc map[mdoc.NameSpace]AuthorizedNamespace

type ReaderRegistration struct {
	PurposeStatement LocalizedStrings                `json:"purposeStatement"`
	RetentionPolicy  RetentionPolicy                 `json:"retentionPolicy"`
	SharingPolicy    SharingPolicy                   `json:"sharingPolicy"`
	DeletionPolicy   DeletionPolicy                  `json:"deletionPolicy"`
	Organization     Organization                    `json:"organization"`
	Attributes       map[mdoc.DocType]AuthorizedMdoc `json:"attributes"`
}

// Authorize adds ids to the authorized attribute set.
func (r *ReaderRegistration) Authorize(ids ...mdoc.AttributeIdentifier) {
	if r.Attributes == nil {
		r.Attributes = map[mdoc.DocType]AuthorizedMdoc{}
	}
	for _, id := range ids {
		doc, ok := r.Attributes[id.DocType]
		if !ok {
			doc = AuthorizedMdoc{}
			r.Attributes[id.DocType] = doc
		}
		ns, ok := doc[id.NameSpace]
		if !ok {
			ns = AuthorizedNamespace{}
			doc[id.NameSpace] = ns
		}
		ns[id.Attribute] = AuthorizedAttribute{}
	}
}

func (r *ReaderRegistration) Contains(id mdoc.AttributeIdentifier) bool {
	_, ok := r.Attributes[id.DocType][id.NameSpace][id.Attribute]
	return ok
}

// UnregisteredAttributesError lists every requested attribute the reader
// is not registered for.
type UnregisteredAttributesError struct {
	Attributes []mdoc.AttributeIdentifier
}

func (e *UnregisteredAttributesError) Error() string {
	names := lo.Map(e.Attributes, func(id mdoc.AttributeIdentifier, _ int) string { return id.String() })
	return fmt.Sprintf("%s: %s", ErrUnauthorized, strings.Join(names, ", "))
}

func (e *UnregisteredAttributesError) Is(target error) bool {
	return target == ErrUnauthorized
}

// VerifyRequestedAttributes fails with *UnregisteredAttributesError when any
// of requested falls outside the registration.
func (r *ReaderRegistration) VerifyRequestedAttributes(requested []mdoc.AttributeIdentifier) error {
	unregistered := lo.Filter(requested, func(id mdoc.AttributeIdentifier, _ int) bool {
		return !r.Contains(id)
	})
	if len(unregistered) > 0 {
		return &UnregisteredAttributesError{Attributes: unregistered}
	}
	return nil
}

// Extension encodes the registration for inclusion in a certificate.
func (r *ReaderRegistration) Extension() (pkix.Extension, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode reader registration: %w", err)
	}
	value, err := asn1.MarshalWithParams(string(b), "utf8")
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode reader registration extension: %w", err)
	}
	return pkix.Extension{Id: OIDReaderRegistration, Value: value}, nil
}

// FromCertificate extracts the registration from cert.
func FromCertificate(cert *x509.Certificate) (*ReaderRegistration, error) {
	ext, ok := lo.Find(cert.Extensions, func(e pkix.Extension) bool {
		return e.Id.Equal(OIDReaderRegistration)
	})
	if !ok {
		return nil, ErrNoReaderRegistration
	}

	var s string
	rest, err := asn1.UnmarshalWithParams(ext.Value, &s, "utf8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoReaderRegistration, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after extension value", ErrNoReaderRegistration)
	}

	var reg ReaderRegistration
	if err := json.Unmarshal([]byte(s), &reg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoReaderRegistration, err)
	}
	return &reg, nil
}
