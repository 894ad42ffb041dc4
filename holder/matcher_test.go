package holder_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-wallet/engagement"
	"github.com/kokukuma/mdoc-wallet/holder"
	"github.com/kokukuma/mdoc-wallet/internal/mdoctest"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

var emptyTranscript = []byte{0x83, 0xf6, 0xf6, 0xf6}

// staticSource returns the same groups for every lookup.
type staticSource map[mdoc.DocType][]mdoc.Mdoc

func (s staticSource) MdocsByDocTypes(context.Context, []mdoc.DocType) (map[mdoc.DocType][]mdoc.Mdoc, error) {
	return s, nil
}

func mdlWith(names ...mdoc.ElementIdentifier) []mdoctest.NameSpaceAttributes {
	attrs := make([]mdoctest.Attribute, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, mdoctest.Attribute{Name: name, Value: "value of " + string(name)})
	}
	return []mdoctest.NameSpaceAttributes{{NameSpace: mdoc.NameSpaceMDL, Attributes: attrs}}
}

func (f *fixture) heldMdoc(t *testing.T, docType mdoc.DocType, nameSpaces []mdoctest.NameSpaceAttributes) mdoc.Mdoc {
	t.Helper()

	issuerSigned, _, err := f.issuer.IssueWithNewKey(docType, nameSpaces)
	require.NoError(t, err)
	return mdoc.Mdoc{DocType: docType, IssuerSigned: *issuerSigned, PrivateKeyID: "key-" + string(docType)}
}

func deviceRequest(t *testing.T, requests ...mdoc.ItemsRequest) *mdoc.DeviceRequest {
	t.Helper()

	req := &mdoc.DeviceRequest{Version: "1.0"}
	for _, itemsRequest := range requests {
		docRequest, err := mdoc.NewDocRequest(itemsRequest)
		require.NoError(t, err)
		req.DocRequests = append(req.DocRequests, docRequest)
	}
	return req
}

func TestMatchStoredDocuments(t *testing.T) {
	f := newFixture(t)
	req := deviceRequest(t, mdoctest.ItemsRequest(mdoc.DocTypeMDL, mdoc.FamilyName, mdoc.GivenName, mdoc.BirthDate))
	requested, err := req.AttributeIdentifiers()
	require.NoError(t, err)

	tests := []struct {
		name       string
		held       []mdoc.Mdoc
		candidates int
		missing    []mdoc.AttributeIdentifier
	}{
		{
			name: "one of several held mdocs satisfies the request",
			held: []mdoc.Mdoc{
				f.heldMdoc(t, mdoc.DocTypeMDL, mdlWith("family_name")),
				f.heldMdoc(t, mdoc.DocTypeMDL, mdlWith("family_name", "given_name", "birth_date")),
			},
			candidates: 1,
		},
		{
			name: "only the first insufficient mdoc is reported",
			held: []mdoc.Mdoc{
				f.heldMdoc(t, mdoc.DocTypeMDL, mdlWith("family_name", "birth_date")),
				f.heldMdoc(t, mdoc.DocTypeMDL, mdlWith("family_name", "given_name")),
			},
			missing: []mdoc.AttributeIdentifier{mdoc.GivenName.Identifier(mdoc.DocTypeMDL)},
		},
		{
			name:    "nothing held",
			held:    nil,
			missing: requested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := staticSource{}
			if tt.held != nil {
				source[mdoc.DocTypeMDL] = tt.held
			}

			match, err := holder.MatchStoredDocuments(context.Background(), req, source, emptyTranscript)
			require.NoError(t, err)

			assert.Len(t, match.Candidates[mdoc.DocTypeMDL], tt.candidates)
			assert.Equal(t, tt.missing, match.MissingAttributes)
		})
	}
}

func TestMatchStoredDocumentsSourceContract(t *testing.T) {
	f := newFixture(t)
	req := deviceRequest(t, mdoctest.ItemsRequest(mdoc.DocTypeMDL, mdoc.FamilyName))

	mdl := f.heldMdoc(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())
	pid := f.heldMdoc(t, mdoc.DocTypePID, mdoctest.SamplePID())

	tests := []struct {
		name   string
		source staticSource
	}{
		{name: "unrequested doc type", source: staticSource{mdoc.DocTypePID: {pid}}},
		{name: "mixed doc types in one group", source: staticSource{mdoc.DocTypeMDL: {mdl, pid}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := holder.MatchStoredDocuments(context.Background(), req, tt.source, emptyTranscript)
			require.ErrorIs(t, err, holder.ErrCredentialSourceContract)
		})
	}
}

func TestStartPicksSatisfyingCandidate(t *testing.T) {
	f := newFixture(t)
	f.hold(t, mdoc.DocTypeMDL, mdlWith("family_name"))
	f.hold(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())

	v, _, readerEngagement := f.verifier(t, mdoctest.VerifierConfig{
		ItemsRequests: []mdoc.ItemsRequest{mdoctest.ItemsRequest(mdoc.DocTypeMDL, mdoc.GivenName, mdoc.FamilyName)},
	})

	session, err := f.start(t, v, readerEngagement)
	require.NoError(t, err)
	require.Equal(t, holder.StateProposal, session.State())

	proposed, err := session.ProposedAttributes()
	require.NoError(t, err)
	require.Len(t, proposed, 1)
	require.Len(t, proposed[0].NameSpaces, 1)

	names := make([]mdoc.ElementIdentifier, 0, 2)
	for _, entry := range proposed[0].NameSpaces[0].Attributes {
		names = append(names, entry.Name)
	}
	assert.Equal(t, []mdoc.ElementIdentifier{"family_name", "given_name"}, names)
}

func TestStartEmptyItemsRequest(t *testing.T) {
	tests := []struct {
		name       string
		nameSpaces map[mdoc.NameSpace]mdoc.DataElements
	}{
		{name: "no namespaces", nameSpaces: map[mdoc.NameSpace]mdoc.DataElements{}},
		{name: "namespace without elements", nameSpaces: map[mdoc.NameSpace]mdoc.DataElements{mdoc.NameSpaceMDL: {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.hold(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())

			v, _, readerEngagement := f.verifier(t, mdoctest.VerifierConfig{
				ItemsRequests: []mdoc.ItemsRequest{{DocType: mdoc.DocTypeMDL, NameSpaces: tt.nameSpaces}},
			})

			session, err := f.start(t, v, readerEngagement)
			require.Nil(t, session)

			var decodeErr *holder.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			require.ErrorIs(t, err, mdoc.ErrEmptyItemsRequest)
			assert.NotErrorIs(t, err, holder.ErrCredentialSourceContract)
		})
	}
}

// engagementRecorder keeps the device engagement the holder sends.
type engagementRecorder struct {
	next     holder.Transport
	referrer string
}

func (r *engagementRecorder) Post(ctx context.Context, url string, req, resp interface{}) error {
	if de, ok := req.(*engagement.DeviceEngagement); ok && len(de.OriginInfos) > 0 && de.OriginInfos[0].Details != nil {
		r.referrer = de.OriginInfos[0].Details.BaseURL
	}
	return r.next.Post(ctx, url, req, resp)
}

func TestStartReferrerURL(t *testing.T) {
	f := newFixture(t)
	f.hold(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())
	cfg := mdoctest.VerifierConfig{
		ItemsRequests: []mdoc.ItemsRequest{mdoctest.ItemsRequest(mdoc.DocTypeMDL, mdoc.FamilyName)},
	}

	t.Run("default", func(t *testing.T) {
		v, _, readerEngagement := f.verifier(t, cfg)
		recorder := &engagementRecorder{next: v.Transport()}

		_, err := holder.Start(context.Background(), recorder, readerEngagement, returnURL,
			session_transcript.CrossDevice, f.store, v.TrustAnchors())
		require.NoError(t, err)
		assert.Equal(t, holder.DefaultReferrerURL, recorder.referrer)
	})

	t.Run("configured", func(t *testing.T) {
		v, _, readerEngagement := f.verifier(t, cfg)
		recorder := &engagementRecorder{next: v.Transport()}

		session, err := holder.Start(context.Background(), recorder, readerEngagement, returnURL,
			session_transcript.CrossDevice, f.store, v.TrustAnchors(), holder.WithReferrerURL("https://wallet.example.com/"))
		require.NoError(t, err)
		assert.Equal(t, holder.StateProposal, session.State())
		assert.Equal(t, "https://wallet.example.com/", recorder.referrer)
	})

	t.Run("invalid", func(t *testing.T) {
		v, _, readerEngagement := f.verifier(t, cfg)
		recorder := &engagementRecorder{next: v.Transport()}

		session, err := holder.Start(context.Background(), recorder, readerEngagement, returnURL,
			session_transcript.CrossDevice, f.store, v.TrustAnchors(), holder.WithReferrerURL("://wallet"))
		require.Nil(t, session)
		require.ErrorContains(t, err, "failed to parse referrer URL")

		var urlErr *url.Error
		require.ErrorAs(t, err, &urlErr)
		assert.Empty(t, recorder.referrer)
	})
}
