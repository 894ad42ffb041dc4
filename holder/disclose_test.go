package holder_test

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-wallet/engagement"
	"github.com/kokukuma/mdoc-wallet/holder"
	"github.com/kokukuma/mdoc-wallet/internal/mdocstore"
	"github.com/kokukuma/mdoc-wallet/internal/mdoctest"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/sessionkey"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

func startProposal(t *testing.T, f *fixture, transport func(*mdoctest.Verifier) holder.Transport) (*holder.DisclosureSession, *mdoctest.Verifier, string) {
	t.Helper()

	f.hold(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())
	v, id, readerEngagement := f.verifier(t, mdoctest.VerifierConfig{
		ItemsRequests: []mdoc.ItemsRequest{mdoctest.ItemsRequest(mdoc.DocTypeMDL, mdoc.FamilyName)},
	})

	session, err := holder.Start(context.Background(), transport(v), readerEngagement, returnURL,
		session_transcript.CrossDevice, f.store, v.TrustAnchors())
	require.NoError(t, err)
	require.Equal(t, holder.StateProposal, session.State())

	return session, v, id
}

type notDeliveredError struct{}

func (notDeliveredError) Error() string   { return "dial tcp: connection refused" }
func (notDeliveredError) Delivered() bool { return false }

func TestDiscloseTransportFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		dataShared bool
	}{
		{name: "unknown error counts as delivered", err: errors.New("connection reset"), dataShared: true},
		{name: "error reporting no delivery", err: notDeliveredError{}, dataShared: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			session, _, _ := startProposal(t, f, func(v *mdoctest.Verifier) holder.Transport {
				return &flakyTransport{next: v.Transport(), failAfter: 1, err: tt.err}
			})

			err := session.Disclose(context.Background(), f.store)

			var disclosureErr *holder.DisclosureError
			require.ErrorAs(t, err, &disclosureErr)
			assert.Equal(t, tt.dataShared, disclosureErr.DataShared)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, holder.StateTerminated, session.State())
		})
	}
}

// blankAckTransport answers the device response with an empty SessionData.
type blankAckTransport struct {
	next  holder.Transport
	calls int
}

func (t *blankAckTransport) Post(ctx context.Context, url string, req, resp interface{}) error {
	t.calls++
	if err := t.next.Post(ctx, url, req, resp); err != nil {
		return err
	}
	if t.calls > 1 {
		if sd, ok := resp.(*mdoc.SessionData); ok {
			*sd = mdoc.SessionData{}
		}
	}
	return nil
}

func TestDiscloseUnexpectedAcknowledgement(t *testing.T) {
	f := newFixture(t)
	session, v, id := startProposal(t, f, func(v *mdoctest.Verifier) holder.Transport {
		return &blankAckTransport{next: v.Transport()}
	})

	err := session.Disclose(context.Background(), f.store)
	require.ErrorIs(t, err, holder.ErrUnexpectedAcknowledgement)

	var disclosureErr *holder.DisclosureError
	require.ErrorAs(t, err, &disclosureErr)
	assert.True(t, disclosureErr.DataShared)

	result, ok := v.Result(id)
	require.True(t, ok)
	assert.Len(t, result.Documents, 1)
}

func TestDiscloseKeyNotFound(t *testing.T) {
	f := newFixture(t)
	session, v, id := startProposal(t, f, func(v *mdoctest.Verifier) holder.Transport {
		return v.Transport()
	})

	err := session.Disclose(context.Background(), mdocstore.NewMemoryStore())
	require.ErrorIs(t, err, mdocstore.ErrKeyNotFound)

	var disclosureErr *holder.DisclosureError
	require.ErrorAs(t, err, &disclosureErr)
	assert.False(t, disclosureErr.DataShared)

	_, ok := v.Result(id)
	assert.False(t, ok)

	require.ErrorIs(t, session.Disclose(context.Background(), f.store), holder.ErrSessionTerminated)
}

// blockingResolver hands out keys that never finish signing.
type blockingResolver struct {
	release chan struct{}
}

func (r *blockingResolver) Resolve(context.Context, string) (holder.SigningKey, error) {
	return r, nil
}

func (r *blockingResolver) Public() *ecdsa.PublicKey { return nil }

func (r *blockingResolver) Sign(context.Context, []byte) ([]byte, error) {
	<-r.release
	return nil, errors.New("released")
}

func TestDiscloseSigningDispatch(t *testing.T) {
	f := newFixture(t)
	session, _, _ := startProposal(t, f, func(v *mdoctest.Verifier) holder.Transport {
		return v.Transport()
	})

	resolver := &blockingResolver{release: make(chan struct{})}
	t.Cleanup(func() { close(resolver.release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := session.Disclose(ctx, resolver)

	var dispatchErr *holder.SigningDispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, mdoc.DocTypeMDL, dispatchErr.DocType)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var disclosureErr *holder.DisclosureError
	require.ErrorAs(t, err, &disclosureErr)
	assert.False(t, disclosureErr.DataShared)
}

func TestNewDeviceSignedMAC(t *testing.T) {
	f := newFixture(t)

	issuerSigned, deviceKey, err := f.issuer.IssueWithNewKey(mdoc.DocTypeMDL, mdoctest.SampleMDL())
	require.NoError(t, err)

	verifierURL, err := url.Parse("https://verifier.example.com/sessions/1")
	require.NoError(t, err)
	readerEngagement, readerKey, err := engagement.NewReaderEngagement(verifierURL)
	require.NoError(t, err)
	readerEngagementBytes, err := readerEngagement.Bytes()
	require.NoError(t, err)

	referrer, err := url.Parse(holder.DefaultReferrerURL)
	require.NoError(t, err)
	deviceEngagement, _, err := engagement.NewDeviceEngagement(referrer)
	require.NoError(t, err)
	deviceEngagementBytes, err := deviceEngagement.Bytes()
	require.NoError(t, err)

	transcript, err := session_transcript.New(session_transcript.CrossDevice, readerEngagementBytes, deviceEngagementBytes)
	require.NoError(t, err)
	transcriptBytes, err := transcript.Bytes()
	require.NoError(t, err)

	challenge, err := mdoc.DeviceAuthenticationBytes(transcriptBytes, mdoc.DocTypeMDL, mdoc.EmptyDeviceNameSpaces)
	require.NoError(t, err)

	deviceECDH, err := deviceKey.ECDH()
	require.NoError(t, err)

	deviceSigned, err := holder.NewDeviceSignedMAC(deviceECDH, readerKey.PublicKey(), transcript, challenge)
	require.NoError(t, err)
	require.NotNil(t, deviceSigned.DeviceAuth.DeviceMac)
	assert.Nil(t, deviceSigned.DeviceAuth.DeviceSignature)

	doc := mdoc.Document{
		DocType:      mdoc.DocTypeMDL,
		IssuerSigned: *issuerSigned,
		DeviceSigned: *deviceSigned,
	}

	macKey := func(readerKey *ecdh.PrivateKey) mdoc.MacKeyFunc {
		return func(pub *ecdsa.PublicKey) ([]byte, error) {
			devicePub, err := pub.ECDH()
			if err != nil {
				return nil, err
			}
			return sessionkey.MacKey(readerKey, devicePub, transcript)
		}
	}

	verifier := mdoc.NewVerifier(f.ca.Pool(), mdoc.WithDeviceMacKey(macKey(readerKey)))
	require.NoError(t, verifier.Verify(doc, transcriptBytes))

	otherReader, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	verifier = mdoc.NewVerifier(f.ca.Pool(), mdoc.WithDeviceMacKey(macKey(otherReader)))
	require.ErrorIs(t, verifier.Verify(doc, transcriptBytes), mdoc.ErrMacVerification)
}

func TestNewDeviceSignedSignature(t *testing.T) {
	f := newFixture(t)

	issuerSigned, deviceKey, err := f.issuer.IssueWithNewKey(mdoc.DocTypePID, mdoctest.SamplePID())
	require.NoError(t, err)

	transcriptBytes := []byte{0x83, 0xf6, 0xf6, 0xf6}
	challenge, err := mdoc.DeviceAuthenticationBytes(transcriptBytes, mdoc.DocTypePID, mdoc.EmptyDeviceNameSpaces)
	require.NoError(t, err)

	deviceSigned, err := holder.NewDeviceSignedSignature(context.Background(), mdocstore.NewSoftwareKey(deviceKey), challenge)
	require.NoError(t, err)
	require.NotNil(t, deviceSigned.DeviceAuth.DeviceSignature)
	assert.Nil(t, deviceSigned.DeviceAuth.DeviceSignature.Payload)

	doc := mdoc.Document{
		DocType:      mdoc.DocTypePID,
		IssuerSigned: *issuerSigned,
		DeviceSigned: *deviceSigned,
	}
	require.NoError(t, mdoc.NewVerifier(f.ca.Pool()).Verify(doc, transcriptBytes))
	require.Error(t, mdoc.NewVerifier(f.ca.Pool()).Verify(doc, []byte{0x83, 0xf6, 0xf6, 0x00}))
}
