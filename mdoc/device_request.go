package mdoc

import (
	"fmt"
	"sort"

	"github.com/veraison/go-cose"
)

type DeviceRequest struct {
	Version     string       `json:"version"`
	DocRequests []DocRequest `json:"docRequests"`
}

type DocRequest struct {
	ItemsRequest TaggedCBOR                 `json:"itemsRequest"`
	ReaderAuth   *cose.UntaggedSign1Message `json:"readerAuth,omitempty"`
}

type ItemsRequest struct {
	DocType     DocType                   `json:"docType"`
	NameSpaces  map[NameSpace]DataElements `json:"nameSpaces"`
	RequestInfo map[string]interface{}     `json:"requestInfo,omitempty"`
}

// DataElements maps each requested element to its intent-to-retain flag.
type DataElements map[ElementIdentifier]bool

// DecodeItemsRequest decodes the tagged ItemsRequest. A request must name at
// least one namespace and every namespace at least one element.
func (d DocRequest) DecodeItemsRequest() (*ItemsRequest, error) {
	var req ItemsRequest
	if err := d.ItemsRequest.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode items request: %w", err)
	}
	if len(req.NameSpaces) == 0 {
		return nil, fmt.Errorf("%w: %s has no namespaces", ErrEmptyItemsRequest, req.DocType)
	}
	for ns, elements := range req.NameSpaces {
		if len(elements) == 0 {
			return nil, fmt.Errorf("%w: %s namespace %s has no elements", ErrEmptyItemsRequest, req.DocType, ns)
		}
	}
	return &req, nil
}

// AttributeIdentifiers enumerates the request sorted by namespace and element.
func (r ItemsRequest) AttributeIdentifiers() []AttributeIdentifier {
	var ids []AttributeIdentifier
	for ns, elements := range r.NameSpaces {
		for id := range elements {
			ids = append(ids, AttributeIdentifier{
				DocType:   r.DocType,
				NameSpace: ns,
				Attribute: id,
			})
		}
	}
	SortAttributeIdentifiers(ids)
	return ids
}

func (d *DeviceRequest) ItemsRequests() ([]ItemsRequest, error) {
	reqs := make([]ItemsRequest, 0, len(d.DocRequests))
	for i, docRequest := range d.DocRequests {
		req, err := docRequest.DecodeItemsRequest()
		if err != nil {
			return nil, fmt.Errorf("doc request %d: %w", i, err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, nil
}

// DocTypes returns the requested doc types in request order without duplicates.
func (d *DeviceRequest) DocTypes() ([]DocType, error) {
	reqs, err := d.ItemsRequests()
	if err != nil {
		return nil, err
	}
	seen := map[DocType]bool{}
	var docTypes []DocType
	for _, req := range reqs {
		if !seen[req.DocType] {
			seen[req.DocType] = true
			docTypes = append(docTypes, req.DocType)
		}
	}
	return docTypes, nil
}

// AttributeIdentifiers returns the union of all requested attributes, sorted.
func (d *DeviceRequest) AttributeIdentifiers() ([]AttributeIdentifier, error) {
	reqs, err := d.ItemsRequests()
	if err != nil {
		return nil, err
	}
	seen := map[AttributeIdentifier]bool{}
	var ids []AttributeIdentifier
	for _, req := range reqs {
		for _, id := range req.AttributeIdentifiers() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.SliceStable(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
	return ids, nil
}

// NewDocRequest encodes req into an unsigned DocRequest.
func NewDocRequest(req ItemsRequest) (DocRequest, error) {
	b, err := NewTaggedCBOR(req)
	if err != nil {
		return DocRequest{}, fmt.Errorf("failed to encode items request: %w", err)
	}
	return DocRequest{ItemsRequest: b}, nil
}
