package holder

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/mdoc"
)

// DeviceRequestMatch holds either Candidates for every requested doc type or
// the attributes that could not be satisfied.
type DeviceRequestMatch struct {
	Candidates        map[mdoc.DocType][]*ProposedDocument
	MissingAttributes []mdoc.AttributeIdentifier
}

// MatchStoredDocuments looks up held mdocs for every doc type in req.
// A doc type yields a candidate for each held mdoc that contains all of the
// attributes requested for that doc type. Doc types without a candidate
// contribute their unmet attributes to MissingAttributes; for a doc type
// with several non-matching mdocs only the first one is reported.
func MatchStoredDocuments(ctx context.Context, req *mdoc.DeviceRequest, source CredentialSource, sessionTranscript []byte) (*DeviceRequestMatch, error) {
	docTypes, err := req.DocTypes()
	if err != nil {
		return nil, &DecodeError{What: "items request", Err: err}
	}

	held, err := source.MdocsByDocTypes(ctx, docTypes)
	if err != nil {
		return nil, &CredentialSourceError{Err: err}
	}

	// A doc type may occur in several ItemsRequests, so requested attributes
	// are merged per doc type.
	requestedIDs, err := req.AttributeIdentifiers()
	if err != nil {
		return nil, &DecodeError{What: "items request", Err: err}
	}
	requested := lo.GroupBy(requestedIDs, func(id mdoc.AttributeIdentifier) mdoc.DocType { return id.DocType })

	candidates := map[mdoc.DocType][]*ProposedDocument{}
	missingByDocType := map[mdoc.DocType][]mdoc.AttributeIdentifier{}

	heldDocTypes := lo.Keys(held)
	sort.Slice(heldDocTypes, func(i, j int) bool { return heldDocTypes[i] < heldDocTypes[j] })

	for _, docType := range heldDocTypes {
		mdocs := held[docType]
		if len(mdocs) == 0 {
			continue
		}

		required, ok := requested[docType]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCredentialSourceContract, docType)
		}
		delete(requested, docType)

		challenge, err := mdoc.DeviceAuthenticationBytes(sessionTranscript, docType, mdoc.EmptyDeviceNameSpaces)
		if err != nil {
			return nil, err
		}

		for _, m := range mdocs {
			if m.DocType != docType {
				return nil, fmt.Errorf("%w: %s returned in group %s", ErrCredentialSourceContract, m.DocType, docType)
			}

			available, err := m.AttributeIdentifiers()
			if err != nil {
				return nil, &CredentialSourceError{Err: err}
			}

			missing := lo.Without(required, available...)
			if len(missing) > 0 {
				if _, seen := missingByDocType[docType]; !seen {
					missingByDocType[docType] = missing
				}
				continue
			}

			proposed, err := newProposedDocument(m, required, challenge)
			if err != nil {
				return nil, &CredentialSourceError{Err: err}
			}
			candidates[docType] = append(candidates[docType], proposed)
		}
	}

	// Whatever is left in requested was never returned by the source.
	var missing []mdoc.AttributeIdentifier
	for _, ids := range requested {
		missing = append(missing, ids...)
	}
	for docType, ids := range missingByDocType {
		if len(candidates[docType]) == 0 {
			missing = append(missing, ids...)
		}
	}

	if len(missing) > 0 {
		mdoc.SortAttributeIdentifiers(missing)
		logger.Debugc(ctx, "requested attributes not available", logfields.WithAttributeCount(len(missing)))
		return &DeviceRequestMatch{MissingAttributes: missing}, nil
	}

	return &DeviceRequestMatch{Candidates: candidates}, nil
}
