package mdoc

import "encoding/asn1"

var (
	// OIDReaderAuthEKU is the extended key usage of reader authentication certificates.
	OIDReaderAuthEKU = asn1.ObjectIdentifier{1, 0, 18013, 5, 1, 6}
	// OIDDocumentSignerEKU is the extended key usage of mDL document signer certificates.
	OIDDocumentSignerEKU = asn1.ObjectIdentifier{1, 0, 18013, 5, 1, 2}
)

// Mdoc is a credential held by the wallet. PrivateKeyID references the
// device key, which never leaves the key store.
type Mdoc struct {
	DocType      DocType      `json:"docType"`
	IssuerSigned IssuerSigned `json:"issuerSigned"`
	PrivateKeyID string       `json:"privateKeyId"`
}

func (m *Mdoc) AttributeIdentifiers() ([]AttributeIdentifier, error) {
	return m.IssuerSigned.AttributeIdentifiers(m.DocType)
}
