package holder

import (
	"context"
	"crypto/ecdh"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/mdoc-wallet/engagement"
	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/sessionkey"
	"github.com/kokukuma/mdoc-wallet/readerauth"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

var logger = log.New("mdoc-holder")

// DefaultReferrerURL is recorded in the device engagement as the website
// the reader engagement was received from.
const DefaultReferrerURL = "https://referrer.url/"

// State is the phase of a DisclosureSession.
type State int

const (
	// StateMissingAttributes: the request cannot be satisfied. Only Terminate is allowed.
	StateMissingAttributes State = iota + 1
	// StateProposal: waiting for the user to approve disclosure.
	StateProposal
	// StateTerminated: disclosed or terminated. Every operation fails.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateMissingAttributes:
		return "missing_attributes"
	case StateProposal:
		return "proposal"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

type options struct {
	clock       func() time.Time
	referrerURL string
}

// Option configures Start.
type Option func(*options)

// WithClock sets the time used to validate reader certificates.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithReferrerURL sets the website recorded as the origin of the reader
// engagement. It defaults to DefaultReferrerURL.
func WithReferrerURL(referrerURL string) Option {
	return func(o *options) {
		o.referrerURL = referrerURL
	}
}

// DisclosureSession is the holder side of one ISO 18013-5 disclosure.
// It is owned by a single caller and is not safe for concurrent use.
type DisclosureSession struct {
	id          string
	state       State
	transport   Transport
	returnURL   string
	verifierURL *url.URL

	readerRegistration *readerauth.ReaderRegistration

	// StateMissingAttributes
	missingAttributes []mdoc.AttributeIdentifier

	// StateProposal
	proposedDocuments []*ProposedDocument
	deviceKey         *sessionkey.SessionKey
}

// Start runs the engagement with the verifier that published
// readerEngagementBytes, verifies its request and matches it against the
// held credentials. The returned session is either in StateProposal or in
// StateMissingAttributes. On error no session is returned.
func Start(
	ctx context.Context,
	transport Transport,
	readerEngagementBytes []byte,
	returnURL string,
	sessionType session_transcript.SessionType,
	source CredentialSource,
	trustAnchors *x509.CertPool,
	opts ...Option,
) (*DisclosureSession, error) {
	o := &options{
		clock:       time.Now,
		referrerURL: DefaultReferrerURL,
	}
	for _, opt := range opts {
		opt(o)
	}

	sessionID := uuid.NewString()
	logger.Debugc(ctx, "starting disclosure session",
		logfields.WithSessionID(sessionID), logfields.WithSessionType(sessionType.String()))

	readerEngagement, err := engagement.Parse(readerEngagementBytes)
	if err != nil {
		return nil, &DecodeError{What: "reader engagement", Err: err}
	}
	verifierURL, err := readerEngagement.VerifierURL()
	if err != nil {
		return nil, err
	}
	readerPub, err := readerEngagement.PublicKey()
	if err != nil {
		return nil, err
	}

	referrer, err := url.Parse(o.referrerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse referrer URL: %w", err)
	}
	deviceEngagement, ephemeralKey, err := engagement.NewDeviceEngagement(referrer)
	if err != nil {
		return nil, &CryptoError{Op: "generate device engagement", Err: err}
	}
	deviceEngagementBytes, err := deviceEngagement.Bytes()
	if err != nil {
		return nil, err
	}

	transcript, err := session_transcript.New(sessionType, readerEngagementBytes, deviceEngagementBytes)
	if err != nil {
		return nil, err
	}
	transcriptBytes, err := transcript.Bytes()
	if err != nil {
		return nil, err
	}

	readerKey, deviceKey, err := sessionKeys(ephemeralKey, readerPub, transcript)
	if err != nil {
		return nil, err
	}

	deviceRequest, err := exchangeEngagement(ctx, transport, verifierURL, deviceEngagement, readerKey)
	if err != nil {
		return nil, err
	}
	if len(deviceRequest.DocRequests) == 0 {
		return nil, ErrNoDocumentRequests
	}

	registration, _, err := VerifyDeviceRequest(deviceRequest, transcriptBytes, o.clock(), trustAnchors)
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, ErrReaderAuthMissing
	}

	match, err := MatchStoredDocuments(ctx, deviceRequest, source, transcriptBytes)
	if err != nil {
		return nil, err
	}

	session := &DisclosureSession{
		id:                 sessionID,
		transport:          transport,
		returnURL:          returnURL,
		verifierURL:        verifierURL,
		readerRegistration: registration,
	}

	if len(match.MissingAttributes) > 0 {
		session.state = StateMissingAttributes
		session.missingAttributes = match.MissingAttributes
		logger.Infoc(ctx, "disclosure session started",
			logfields.WithSessionID(sessionID), logfields.WithState(session.state.String()))
		return session, nil
	}

	ambiguous := lo.Filter(lo.Keys(match.Candidates), func(docType mdoc.DocType, _ int) bool {
		return len(match.Candidates[docType]) > 1
	})
	if len(ambiguous) > 0 {
		sort.Slice(ambiguous, func(i, j int) bool { return ambiguous[i] < ambiguous[j] })
		logger.Warnc(ctx, "more than one held mdoc matches the request",
			logfields.WithSessionID(sessionID),
			logfields.WithDocTypes(lo.Map(ambiguous, func(d mdoc.DocType, _ int) string { return string(d) })))
		return nil, &MultipleCandidatesError{DocTypes: ambiguous}
	}

	for _, docs := range match.Candidates {
		session.proposedDocuments = append(session.proposedDocuments, docs[0])
	}
	sortProposedDocuments(session.proposedDocuments)
	session.deviceKey = deviceKey
	session.state = StateProposal

	logger.Infoc(ctx, "disclosure session started",
		logfields.WithSessionID(sessionID),
		logfields.WithState(session.state.String()),
		logfields.WithOrganization(registration.Organization.LegalName["en"]),
		logfields.WithDocCount(len(session.proposedDocuments)))

	return session, nil
}

func sessionKeys(priv *ecdh.PrivateKey, readerPub *ecdh.PublicKey, transcript *session_transcript.SessionTranscript) (*sessionkey.SessionKey, *sessionkey.SessionKey, error) {
	readerKey, err := sessionkey.New(priv, readerPub, transcript, sessionkey.Reader)
	if err != nil {
		return nil, nil, &CryptoError{Op: "derive reader session key", Err: err}
	}
	deviceKey, err := sessionkey.New(priv, readerPub, transcript, sessionkey.Device)
	if err != nil {
		return nil, nil, &CryptoError{Op: "derive device session key", Err: err}
	}
	return readerKey, deviceKey, nil
}

// exchangeEngagement sends the device engagement and decrypts the DeviceRequest
// the verifier answers with.
func exchangeEngagement(
	ctx context.Context,
	transport Transport,
	verifierURL *url.URL,
	deviceEngagement *engagement.DeviceEngagement,
	readerKey *sessionkey.SessionKey,
) (*mdoc.DeviceRequest, error) {
	var sessionData mdoc.SessionData
	if err := transport.Post(ctx, verifierURL.String(), deviceEngagement, &sessionData); err != nil {
		logger.Warnc(ctx, "failed to send device engagement", log.WithURL(verifierURL.String()), log.WithError(err))
		return nil, err
	}

	if len(sessionData.Data) == 0 && sessionData.Status != nil {
		return nil, ErrSessionEndedByVerifier
	}

	var deviceRequest mdoc.DeviceRequest
	if err := readerKey.DecryptAndDeserialize(&sessionData, &deviceRequest); err != nil {
		if errors.Is(err, sessionkey.ErrDecrypt) {
			return nil, &CryptoError{Op: "decrypt device request", Err: err}
		}
		return nil, &DecodeError{What: "device request", Err: err}
	}

	if _, err := deviceRequest.ItemsRequests(); err != nil {
		return nil, &DecodeError{What: "items request", Err: err}
	}

	return &deviceRequest, nil
}

// ID identifies the session in logs.
func (s *DisclosureSession) ID() string {
	return s.id
}

func (s *DisclosureSession) State() State {
	return s.state
}

// ReturnURL stays available after the session ends so the caller can
// redirect the user.
func (s *DisclosureSession) ReturnURL() string {
	return s.returnURL
}

// VerifierURL is the endpoint taken from the reader engagement.
func (s *DisclosureSession) VerifierURL() string {
	return s.verifierURL.String()
}

// ReaderRegistration returns the registration from the reader certificate.
func (s *DisclosureSession) ReaderRegistration() (*readerauth.ReaderRegistration, error) {
	if s.state == StateTerminated {
		return nil, ErrSessionTerminated
	}
	return s.readerRegistration, nil
}

func (s *DisclosureSession) MissingAttributes() ([]mdoc.AttributeIdentifier, error) {
	switch s.state {
	case StateTerminated:
		return nil, ErrSessionTerminated
	case StateMissingAttributes:
		return s.missingAttributes, nil
	}
	return nil, ErrInvalidSessionState
}

// AttributesNotAvailable returns the missing attributes as an error value,
// or nil when the session is not in StateMissingAttributes.
func (s *DisclosureSession) AttributesNotAvailable() *AttributesNotAvailableError {
	if s.state != StateMissingAttributes {
		return nil
	}
	return &AttributesNotAvailableError{
		ReaderRegistration: s.readerRegistration,
		MissingAttributes:  s.missingAttributes,
	}
}

// ProposedAttributes returns the attributes that Disclose would share, one
// entry per doc type in lexical order.
func (s *DisclosureSession) ProposedAttributes() ([]DocumentAttributes, error) {
	switch s.state {
	case StateTerminated:
		return nil, ErrSessionTerminated
	case StateProposal:
	default:
		return nil, ErrInvalidSessionState
	}

	docs := make([]DocumentAttributes, 0, len(s.proposedDocuments))
	for _, proposed := range s.proposedDocuments {
		attrs, err := proposed.Attributes()
		if err != nil {
			return nil, err
		}
		docs = append(docs, *attrs)
	}
	return docs, nil
}

// Terminate notifies the verifier that the session ends and releases the
// session. Notification is best effort, so Terminate only fails when the
// session has already ended.
func (s *DisclosureSession) Terminate(ctx context.Context) error {
	if s.state == StateTerminated {
		return ErrSessionTerminated
	}

	if err := s.transport.Post(ctx, s.verifierURL.String(), mdoc.NewSessionTermination(), nil); err != nil {
		logger.Warnc(ctx, "failed to notify verifier of session termination",
			logfields.WithSessionID(s.id), log.WithURL(s.verifierURL.String()), log.WithError(err))
	}

	s.clear()
	logger.Infoc(ctx, "disclosure session terminated", logfields.WithSessionID(s.id))
	return nil
}

func (s *DisclosureSession) clear() {
	s.state = StateTerminated
	s.readerRegistration = nil
	s.missingAttributes = nil
	s.proposedDocuments = nil
	s.deviceKey = nil
}
