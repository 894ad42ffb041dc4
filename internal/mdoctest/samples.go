package mdoctest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

// SampleMDL returns the attributes of a demo driving licence.
func SampleMDL() []NameSpaceAttributes {
	return []NameSpaceAttributes{{
		NameSpace: mdoc.NameSpaceMDL,
		Attributes: []Attribute{
			{Name: mdoc.FamilyName.Name, Value: "Mustermann"},
			{Name: mdoc.GivenName.Name, Value: "Erika"},
			{Name: mdoc.BirthDate.Name, Value: "1971-09-01"},
			{Name: mdoc.IssuingCountry.Name, Value: "NL"},
			{Name: mdoc.DocumentNumber.Name, Value: "NL-1234567"},
			{Name: "age_over_18", Value: true},
		},
	}}
}

// SamplePID returns the attributes of a demo person identification document.
func SamplePID() []NameSpaceAttributes {
	return []NameSpaceAttributes{{
		NameSpace: mdoc.NameSpacePID,
		Attributes: []Attribute{
			{Name: mdoc.EUFamilyName.Name, Value: "Mustermann"},
			{Name: mdoc.EUGivenName.Name, Value: "Erika"},
			{Name: mdoc.EUBirthDate.Name, Value: "1971-09-01"},
		},
	}}
}

// ItemsRequest asks for elements of docType with intent to retain false.
func ItemsRequest(docType mdoc.DocType, elements ...mdoc.Element) mdoc.ItemsRequest {
	req := mdoc.ItemsRequest{
		DocType:    docType,
		NameSpaces: map[mdoc.NameSpace]mdoc.DataElements{},
	}
	for _, e := range elements {
		if req.NameSpaces[e.NameSpace] == nil {
			req.NameSpaces[e.NameSpace] = mdoc.DataElements{}
		}
		req.NameSpaces[e.NameSpace][e.Name] = false
	}
	return req
}

// IssueWithNewKey issues attributes bound to a freshly generated device key.
func (i *Issuer) IssueWithNewKey(docType mdoc.DocType, nameSpaces []NameSpaceAttributes) (*mdoc.IssuerSigned, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	issuerSigned, err := i.Issue(docType, nameSpaces, &key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return issuerSigned, key, nil
}
