package mdoc

import (
	"fmt"
	"sort"
)

// AttributeIdentifier addresses one data element of one document type.
type AttributeIdentifier struct {
	DocType   DocType
	NameSpace NameSpace
	Attribute ElementIdentifier
}

func (a AttributeIdentifier) String() string {
	return fmt.Sprintf("%s/%s/%s", a.DocType, a.NameSpace, a.Attribute)
}

func (a AttributeIdentifier) less(b AttributeIdentifier) bool {
	if a.DocType != b.DocType {
		return a.DocType < b.DocType
	}
	if a.NameSpace != b.NameSpace {
		return a.NameSpace < b.NameSpace
	}
	return a.Attribute < b.Attribute
}

// SortAttributeIdentifiers sorts ids in place by doc type, namespace and attribute.
func SortAttributeIdentifiers(ids []AttributeIdentifier) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
}

// AttributeIdentifierTree groups identifiers as doc type -> namespace -> attributes.
type AttributeIdentifierTree map[DocType]map[NameSpace][]ElementIdentifier

// Tree groups ids. Attribute order within a namespace follows ids.
func Tree(ids []AttributeIdentifier) AttributeIdentifierTree {
	tree := AttributeIdentifierTree{}
	for _, id := range ids {
		nss, ok := tree[id.DocType]
		if !ok {
			nss = map[NameSpace][]ElementIdentifier{}
			tree[id.DocType] = nss
		}
		nss[id.NameSpace] = append(nss[id.NameSpace], id.Attribute)
	}
	return tree
}
