package holder

import (
	"context"
	"fmt"
	"sort"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

// ProposedDocument is a held mdoc reduced to the requested attributes, ready
// to be signed once the user consents.
type ProposedDocument struct {
	DocType      mdoc.DocType
	PrivateKeyID string
	IssuerSigned mdoc.IssuerSigned

	// DeviceAuthenticationBytes is the challenge shared by every candidate of DocType.
	DeviceAuthenticationBytes []byte
}

func newProposedDocument(m mdoc.Mdoc, requested []mdoc.AttributeIdentifier, challenge []byte) (*ProposedDocument, error) {
	wanted := map[mdoc.NameSpace]map[mdoc.ElementIdentifier]bool{}
	for _, id := range requested {
		if wanted[id.NameSpace] == nil {
			wanted[id.NameSpace] = map[mdoc.ElementIdentifier]bool{}
		}
		wanted[id.NameSpace][id.Attribute] = true
	}

	filtered, err := m.IssuerSigned.Filter(func(ns mdoc.NameSpace, id mdoc.ElementIdentifier) bool {
		return wanted[ns][id]
	})
	if err != nil {
		return nil, err
	}

	return &ProposedDocument{
		DocType:                   m.DocType,
		PrivateKeyID:              m.PrivateKeyID,
		IssuerSigned:              filtered,
		DeviceAuthenticationBytes: challenge,
	}, nil
}

// sign resolves the device key and produces the disclosed Document.
func (p *ProposedDocument) sign(ctx context.Context, keys KeyResolver) (*mdoc.Document, error) {
	key, err := keys.Resolve(ctx, p.PrivateKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key for %s: %w", p.DocType, err)
	}

	deviceSigned, err := NewDeviceSignedSignature(ctx, key, p.DeviceAuthenticationBytes)
	if err != nil {
		return nil, err
	}

	return &mdoc.Document{
		DocType:      p.DocType,
		IssuerSigned: p.IssuerSigned,
		DeviceSigned: *deviceSigned,
	}, nil
}

// Entry is one disclosed attribute.
type Entry struct {
	Name  mdoc.ElementIdentifier
	Value mdoc.ElementValue
}

type NameSpaceAttributes struct {
	NameSpace  mdoc.NameSpace
	Attributes []Entry
}

// DocumentAttributes is the consent view of one ProposedDocument.
type DocumentAttributes struct {
	DocType    mdoc.DocType
	NameSpaces []NameSpaceAttributes
}

// Attributes lists namespaces in lexical order and attributes in issuer order.
func (p *ProposedDocument) Attributes() (*DocumentAttributes, error) {
	doc := &DocumentAttributes{DocType: p.DocType}
	for _, ns := range p.IssuerSigned.GetNameSpaces() {
		items, err := p.IssuerSigned.GetIssuerSignedItems(ns)
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, len(items))
		for _, item := range items {
			entries = append(entries, Entry{Name: item.ElementIdentifier, Value: item.ElementValue})
		}
		doc.NameSpaces = append(doc.NameSpaces, NameSpaceAttributes{NameSpace: ns, Attributes: entries})
	}
	return doc, nil
}

func sortProposedDocuments(docs []*ProposedDocument) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocType < docs[j].DocType })
}
