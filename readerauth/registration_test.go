package readerauth

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-wallet/internal/cryptoroot"
	"github.com/kokukuma/mdoc-wallet/mdoc"
)

func exampleRegistration() *ReaderRegistration {
	reg := &ReaderRegistration{
		PurposeStatement: LocalizedStrings{"en": "Age verification", "nl": "Leeftijdscontrole"},
		RetentionPolicy:  RetentionPolicy{IntentToRetain: true},
		SharingPolicy:    SharingPolicy{IntentToShare: false},
		DeletionPolicy:   DeletionPolicy{Deleteable: true},
		Organization: Organization{
			LegalName:        LocalizedStrings{"en": "Example Shop B.V."},
			DisplayName:      LocalizedStrings{"en": "Example Shop"},
			Category:         LocalizedStrings{"en": "Retail"},
			CountryCode:      "nl",
			WebURL:           "https://shop.example.com",
			PrivacyPolicyURL: "https://shop.example.com/privacy",
		},
	}
	reg.Authorize(
		mdoc.FamilyName.Identifier(mdoc.DocTypeMDL),
		mdoc.BirthDate.Identifier(mdoc.DocTypeMDL),
	)
	return reg
}

func TestExtensionRoundTrip(t *testing.T) {
	reg := exampleRegistration()

	ext, err := reg.Extension()
	require.NoError(t, err)
	assert.True(t, ext.Id.Equal(OIDReaderRegistration))

	ca, err := cryptoroot.NewCA("ca.rp.example.com")
	require.NoError(t, err)
	reader, err := ca.IssueReaderCertificate("cert.rp.example.com", cryptoroot.WithExtension(ext))
	require.NoError(t, err)

	parsed, err := FromCertificate(reader.Certificate)
	require.NoError(t, err)
	assert.Equal(t, reg, parsed)
}

func TestFromCertificateErrors(t *testing.T) {
	ca, err := cryptoroot.NewCA("ca.rp.example.com")
	require.NoError(t, err)

	t.Run("no extension", func(t *testing.T) {
		reader, err := ca.IssueReaderCertificate("cert.rp.example.com")
		require.NoError(t, err)

		_, err = FromCertificate(reader.Certificate)
		assert.ErrorIs(t, err, ErrNoReaderRegistration)
	})

	t.Run("issuer registration only", func(t *testing.T) {
		value, err := asn1.MarshalWithParams(`{}`, "utf8")
		require.NoError(t, err)
		issuer, err := ca.IssueDocumentSigner("issuer.example.com",
			cryptoroot.WithExtension(pkix.Extension{Id: OIDIssuerRegistration, Value: value}))
		require.NoError(t, err)

		_, err = FromCertificate(issuer.Certificate)
		assert.ErrorIs(t, err, ErrNoReaderRegistration)
	})

	t.Run("not json", func(t *testing.T) {
		value, err := asn1.MarshalWithParams(`not json`, "utf8")
		require.NoError(t, err)
		reader, err := ca.IssueReaderCertificate("cert.rp.example.com",
			cryptoroot.WithExtension(pkix.Extension{Id: OIDReaderRegistration, Value: value}))
		require.NoError(t, err)

		_, err = FromCertificate(reader.Certificate)
		assert.ErrorIs(t, err, ErrNoReaderRegistration)
	})
}

func TestVerifyRequestedAttributes(t *testing.T) {
	reg := exampleRegistration()

	tests := []struct {
		name         string
		requested    []mdoc.AttributeIdentifier
		unregistered []mdoc.AttributeIdentifier
	}{
		{
			name: "all registered",
			requested: []mdoc.AttributeIdentifier{
				mdoc.FamilyName.Identifier(mdoc.DocTypeMDL),
				mdoc.BirthDate.Identifier(mdoc.DocTypeMDL),
			},
		},
		{
			name:      "nothing requested",
			requested: nil,
		},
		{
			name: "unknown attribute and doc type",
			requested: []mdoc.AttributeIdentifier{
				mdoc.FamilyName.Identifier(mdoc.DocTypeMDL),
				mdoc.Portrait.Identifier(mdoc.DocTypeMDL),
				mdoc.EUFamilyName.Identifier(mdoc.DocTypePID),
			},
			unregistered: []mdoc.AttributeIdentifier{
				mdoc.Portrait.Identifier(mdoc.DocTypeMDL),
				mdoc.EUFamilyName.Identifier(mdoc.DocTypePID),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.VerifyRequestedAttributes(tt.requested)
			if tt.unregistered == nil {
				assert.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrUnauthorized)
			var unregisteredErr *UnregisteredAttributesError
			require.True(t, errors.As(err, &unregisteredErr))
			assert.Equal(t, tt.unregistered, unregisteredErr.Attributes)
		})
	}
}
