package holder

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"io"

	"github.com/trustbloc/logutil-go/pkg/log"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/sessionkey"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

// Disclose signs every proposed document, sends the encrypted DeviceResponse
// to the verifier and waits for its acknowledgement. The session is consumed
// by the first call regardless of the outcome. Failures are returned as
// *DisclosureError.
func (s *DisclosureSession) Disclose(ctx context.Context, keys KeyResolver) error {
	switch s.state {
	case StateTerminated:
		return ErrSessionTerminated
	case StateProposal:
	default:
		return ErrInvalidSessionState
	}

	proposed := s.proposedDocuments
	deviceKey := s.deviceKey
	s.clear()

	documents, err := signDocuments(ctx, keys, proposed)
	if err != nil {
		return s.disclosureFailed(ctx, false, err)
	}

	response := mdoc.DeviceResponse{
		Version:   mdoc.DeviceResponseVersion,
		Documents: documents,
		Status:    mdoc.StatusOK,
	}
	sessionData, err := deviceKey.SerializeAndEncrypt(response)
	if err != nil {
		return s.disclosureFailed(ctx, false, &CryptoError{Op: "encrypt device response", Err: err})
	}

	var ack mdoc.SessionData
	if err := s.transport.Post(ctx, s.verifierURL.String(), sessionData, &ack); err != nil {
		return s.disclosureFailed(ctx, mayHaveDelivered(err), err)
	}
	if !ack.IsTermination() {
		return s.disclosureFailed(ctx, true, ErrUnexpectedAcknowledgement)
	}

	logger.Infoc(ctx, "documents disclosed",
		logfields.WithSessionID(s.id), logfields.WithDocCount(len(documents)))
	return nil
}

func (s *DisclosureSession) disclosureFailed(ctx context.Context, dataShared bool, err error) error {
	logger.Errorc(ctx, "disclosure failed",
		logfields.WithSessionID(s.id), logfields.WithDataShared(dataShared), log.WithError(err))
	return &DisclosureError{DataShared: dataShared, Err: err}
}

type signResult struct {
	doc *mdoc.Document
	err error
}

// signDocuments signs each document on its own goroutine, since keys may be
// hardware backed. Documents keep the order of proposed.
func signDocuments(ctx context.Context, keys KeyResolver, proposed []*ProposedDocument) ([]mdoc.Document, error) {
	results := make([]chan signResult, len(proposed))
	for i, p := range proposed {
		ch := make(chan signResult, 1)
		results[i] = ch

		go func(p *ProposedDocument) {
			doc, err := p.sign(ctx, keys)
			ch <- signResult{doc: doc, err: err}
		}(p)
	}

	documents := make([]mdoc.Document, 0, len(proposed))
	for i, ch := range results {
		select {
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			documents = append(documents, *r.doc)
		case <-ctx.Done():
			return nil, &SigningDispatchError{DocType: proposed[i].DocType, Err: ctx.Err()}
		}
	}
	return documents, nil
}

// coseSigner lets go-cose drive a SigningKey.
type coseSigner struct {
	ctx context.Context
	key SigningKey
}

func (s *coseSigner) Algorithm() cose.Algorithm {
	return cose.AlgorithmES256
}

func (s *coseSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	return s.key.Sign(s.ctx, content)
}

// NewDeviceSignedSignature authenticates challenge with a deviceSignature.
func NewDeviceSignedSignature(ctx context.Context, key SigningKey, challenge []byte) (*mdoc.DeviceSigned, error) {
	msg := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload: challenge,
	}
	if err := msg.Sign(rand.Reader, nil, &coseSigner{ctx: ctx, key: key}); err != nil {
		return nil, &CryptoError{Op: "sign device authentication", Err: err}
	}
	msg.Payload = nil

	return &mdoc.DeviceSigned{
		NameSpaces: mdoc.EmptyDeviceNameSpaces,
		DeviceAuth: mdoc.DeviceAuth{DeviceSignature: &msg},
	}, nil
}

// NewDeviceSignedMAC authenticates challenge with a deviceMac keyed by
// EMacKey, derived from the device key and the reader's ephemeral key.
func NewDeviceSignedMAC(deviceKey *ecdh.PrivateKey, readerPub *ecdh.PublicKey, transcript *session_transcript.SessionTranscript, challenge []byte) (*mdoc.DeviceSigned, error) {
	macKey, err := sessionkey.MacKey(deviceKey, readerPub, transcript)
	if err != nil {
		return nil, &CryptoError{Op: "derive mac key", Err: err}
	}

	mac, err := mdoc.CreateMac0(macKey, challenge)
	if err != nil {
		return nil, &CryptoError{Op: "mac device authentication", Err: err}
	}

	return &mdoc.DeviceSigned{
		NameSpaces: mdoc.EmptyDeviceNameSpaces,
		DeviceAuth: mdoc.DeviceAuth{DeviceMac: mac},
	}, nil
}
