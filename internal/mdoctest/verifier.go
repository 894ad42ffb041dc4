package mdoctest

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-wallet/engagement"
	"github.com/kokukuma/mdoc-wallet/internal/cryptoroot"
	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/sessionkey"
	"github.com/kokukuma/mdoc-wallet/readerauth"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

var logger = log.New("mdoc-mock-verifier")

const DefaultBaseURL = "https://verifier.example.com"

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrSessionFinished = errors.New("session already finished")
)

type VerifierConfig struct {
	// CA issues the reader certificate. Unless IssuerRoots is set it is
	// also the only trusted issuer root.
	CA          *cryptoroot.KeyPair
	IssuerRoots *x509.CertPool

	ItemsRequests []mdoc.ItemsRequest
	SessionType   session_transcript.SessionType
	BaseURL       string

	// Registration defaults to one authorizing every requested attribute.
	Registration *readerauth.ReaderRegistration

	// Signers selects the readerAuth key per DocRequest; a nil entry leaves
	// that DocRequest unsigned. When Signers is nil every DocRequest is
	// signed with the reader certificate.
	Signers []*cryptoroot.KeyPair

	Clock func() time.Time
}

// Result is what the verifier learned from one session.
type Result struct {
	Documents  []mdoc.Document
	Err        error
	Terminated bool
}

type verifierSession struct {
	readerEngagementBytes []byte
	ephemeralKey          *ecdh.PrivateKey

	transcript      *session_transcript.SessionTranscript
	transcriptBytes []byte
	readerKey       *sessionkey.SessionKey
	deviceKey       *sessionkey.SessionKey

	messages int
	result   *Result
}

// Verifier is an in-process mdoc reader. It answers the device engagement
// with a DeviceRequest, verifies the DeviceResponse and acknowledges it.
type Verifier struct {
	cfg    VerifierConfig
	reader *cryptoroot.KeyPair

	mu       sync.Mutex
	sessions map[string]*verifierSession
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.CA == nil {
		return nil, fmt.Errorf("verifier requires a CA")
	}
	if cfg.IssuerRoots == nil {
		cfg.IssuerRoots = cfg.CA.Pool()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Registration == nil {
		cfg.Registration = RegistrationFor(cfg.ItemsRequests...)
	}

	reader, err := NewReaderKeyPair(cfg.CA, cfg.Registration)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		cfg:      cfg,
		reader:   reader,
		sessions: map[string]*verifierSession{},
	}, nil
}

// NewReaderKeyPair issues a reader authentication certificate carrying registration.
func NewReaderKeyPair(ca *cryptoroot.KeyPair, registration *readerauth.ReaderRegistration) (*cryptoroot.KeyPair, error) {
	ext, err := registration.Extension()
	if err != nil {
		return nil, err
	}
	return ca.IssueReaderCertificate("reader.mdoc.example.com", cryptoroot.WithExtension(ext))
}

// RegistrationFor authorizes exactly the attributes in requests.
func RegistrationFor(requests ...mdoc.ItemsRequest) *readerauth.ReaderRegistration {
	registration := &readerauth.ReaderRegistration{
		PurposeStatement: readerauth.LocalizedStrings{"en": "Age verification"},
		Organization: readerauth.Organization{
			LegalName:   readerauth.LocalizedStrings{"en": "Example Verifier B.V."},
			DisplayName: readerauth.LocalizedStrings{"en": "Example Verifier"},
			Description: readerauth.LocalizedStrings{"en": "Verifies mdocs for testing"},
			Category:    readerauth.LocalizedStrings{"en": "Test"},
			CountryCode: "nl",
			WebURL:      DefaultBaseURL,
		},
		Attributes: map[mdoc.DocType]readerauth.AuthorizedMdoc{},
	}
	for _, req := range requests {
		registration.Authorize(req.AttributeIdentifiers()...)
	}
	return registration
}

// ReaderCertificate returns the certificate used for reader authentication.
func (v *Verifier) ReaderCertificate() *x509.Certificate {
	return v.reader.Certificate
}

// TrustAnchors returns the pool a holder needs to accept this verifier.
func (v *Verifier) TrustAnchors() *x509.CertPool {
	return v.cfg.CA.Pool()
}

func (v *Verifier) sessionURL(id string) (*url.URL, error) {
	base, err := url.Parse(v.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return base.JoinPath("sessions", id), nil
}

// NewSession starts a session and returns the reader engagement to hand to
// the holder.
func (v *Verifier) NewSession(ctx context.Context) (string, []byte, error) {
	id := uuid.NewString()
	sessionURL, err := v.sessionURL(id)
	if err != nil {
		return "", nil, err
	}

	readerEngagement, ephemeralKey, err := engagement.NewReaderEngagement(sessionURL)
	if err != nil {
		return "", nil, err
	}
	readerEngagementBytes, err := readerEngagement.Bytes()
	if err != nil {
		return "", nil, err
	}

	v.mu.Lock()
	v.sessions[id] = &verifierSession{
		readerEngagementBytes: readerEngagementBytes,
		ephemeralKey:          ephemeralKey,
	}
	v.mu.Unlock()

	logger.Debugc(ctx, "verifier session created", logfields.WithSessionID(id))
	return id, readerEngagementBytes, nil
}

// Result returns the outcome of a session once the holder disclosed or terminated.
func (v *Verifier) Result(id string) (*Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[id]
	if !ok || s.result == nil {
		return nil, false
	}
	return s.result, true
}

// Messages returns how many messages the holder sent in session id.
func (v *Verifier) Messages(id string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.sessions[id]; ok {
		return s.messages
	}
	return 0
}

// HandleMessage processes one CBOR message posted by the holder and returns
// the CBOR reply.
func (v *Verifier) HandleMessage(ctx context.Context, id string, body []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.result != nil {
		return nil, ErrSessionFinished
	}
	s.messages++

	if s.transcript == nil {
		sessionData, err := v.handleDeviceEngagement(ctx, s, body)
		if err != nil {
			return nil, err
		}
		return mdoc.Marshal(sessionData)
	}

	var sessionData mdoc.SessionData
	if err := mdoc.Unmarshal(body, &sessionData); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}

	if len(sessionData.Data) == 0 {
		if sessionData.IsTermination() {
			s.result = &Result{Terminated: true}
			logger.Infoc(ctx, "holder terminated session", logfields.WithSessionID(id))
		}
		return mdoc.Marshal(mdoc.NewSessionTermination())
	}

	var response mdoc.DeviceResponse
	if err := s.deviceKey.DecryptAndDeserialize(&sessionData, &response); err != nil {
		status := uint(mdoc.SessionStatusDecryptionError)
		if !errors.Is(err, sessionkey.ErrDecrypt) {
			status = mdoc.SessionStatusDecodingError
		}
		logger.Warnc(ctx, "failed to open device response",
			logfields.WithSessionID(id), logfields.WithStatus(int(status)), log.WithError(err))
		return mdoc.Marshal(mdoc.SessionData{Status: &status})
	}

	s.result = &Result{
		Documents: response.Documents,
		Err:       v.verifyResponse(s, response),
	}
	logger.Infoc(ctx, "device response received",
		logfields.WithSessionID(id), logfields.WithDocCount(len(response.Documents)))

	return mdoc.Marshal(mdoc.NewSessionTermination())
}

func (v *Verifier) handleDeviceEngagement(ctx context.Context, s *verifierSession, body []byte) (*mdoc.SessionData, error) {
	deviceEngagement, err := engagement.Parse(body)
	if err != nil {
		return nil, err
	}
	devicePub, err := deviceEngagement.PublicKey()
	if err != nil {
		return nil, err
	}

	transcript, err := session_transcript.New(v.cfg.SessionType, s.readerEngagementBytes, body)
	if err != nil {
		return nil, err
	}
	transcriptBytes, err := transcript.Bytes()
	if err != nil {
		return nil, err
	}

	readerKey, err := sessionkey.New(s.ephemeralKey, devicePub, transcript, sessionkey.Reader)
	if err != nil {
		return nil, err
	}
	deviceKey, err := sessionkey.New(s.ephemeralKey, devicePub, transcript, sessionkey.Device)
	if err != nil {
		return nil, err
	}

	s.transcript = transcript
	s.transcriptBytes = transcriptBytes
	s.readerKey = readerKey
	s.deviceKey = deviceKey

	request, err := v.deviceRequest(transcriptBytes)
	if err != nil {
		return nil, err
	}

	logger.Debugc(ctx, "sending device request", logfields.WithDocCount(len(request.DocRequests)))
	return readerKey.SerializeAndEncrypt(request)
}

func (v *Verifier) deviceRequest(transcriptBytes []byte) (*mdoc.DeviceRequest, error) {
	request := &mdoc.DeviceRequest{
		Version:     mdoc.DeviceRequestVersion,
		DocRequests: make([]mdoc.DocRequest, 0, len(v.cfg.ItemsRequests)),
	}

	for i, itemsRequest := range v.cfg.ItemsRequests {
		docRequest, err := mdoc.NewDocRequest(itemsRequest)
		if err != nil {
			return nil, err
		}

		signer := v.reader
		if v.cfg.Signers != nil {
			signer = nil
			if i < len(v.cfg.Signers) {
				signer = v.cfg.Signers[i]
			}
		}
		if signer != nil {
			readerAuth, err := SignReaderAuth(signer, transcriptBytes, docRequest.ItemsRequest)
			if err != nil {
				return nil, err
			}
			docRequest.ReaderAuth = readerAuth
		}

		request.DocRequests = append(request.DocRequests, docRequest)
	}
	return request, nil
}

// SignReaderAuth produces a detached readerAuth COSE_Sign1 over
// ReaderAuthenticationBytes.
func SignReaderAuth(signer *cryptoroot.KeyPair, sessionTranscript []byte, itemsRequest mdoc.TaggedCBOR) (*cose.UntaggedSign1Message, error) {
	payload, err := mdoc.ReaderAuthenticationBytes(sessionTranscript, itemsRequest)
	if err != nil {
		return nil, err
	}

	coseSigner, err := cose.NewSigner(cose.AlgorithmES256, signer.Key)
	if err != nil {
		return nil, err
	}

	msg := &cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelX5Chain: signer.Certificate.Raw,
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, coseSigner); err != nil {
		return nil, fmt.Errorf("failed to sign reader authentication: %w", err)
	}
	msg.Payload = nil
	return msg, nil
}

func (v *Verifier) verifyResponse(s *verifierSession, response mdoc.DeviceResponse) error {
	now := v.cfg.Clock()
	verifier := mdoc.NewVerifier(v.cfg.IssuerRoots,
		mdoc.WithSignCurrentTime(now),
		mdoc.WithCertCurrentTime(now),
		mdoc.WithDeviceMacKey(func(deviceKey *ecdsa.PublicKey) ([]byte, error) {
			pub, err := deviceKey.ECDH()
			if err != nil {
				return nil, err
			}
			return sessionkey.MacKey(s.ephemeralKey, pub, s.transcript)
		}),
	)

	for _, doc := range response.Documents {
		if err := verifier.Verify(doc, s.transcriptBytes); err != nil {
			return fmt.Errorf("document %s: %w", doc.DocType, err)
		}
	}
	return nil
}

// Transport delivers holder messages to v without a network.
func (v *Verifier) Transport() *Transport {
	return &Transport{verifier: v}
}

// Transport implements the holder transport in memory. The session id is the
// last path segment of the posted URL.
type Transport struct {
	verifier *Verifier
}

func (t *Transport) Post(ctx context.Context, rawURL string, req, resp interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	body, err := mdoc.Marshal(req)
	if err != nil {
		return err
	}

	reply, err := t.verifier.HandleMessage(ctx, path.Base(u.Path), body)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return mdoc.Unmarshal(reply, resp)
}
