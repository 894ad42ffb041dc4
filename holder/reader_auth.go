package holder

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/readerauth"
)

// VerifyDeviceRequest checks reader authentication on every DocRequest.
// It returns nil values when no DocRequest is signed. Otherwise all of them
// must be signed with the same certificate, which has to chain to roots at
// now and carry a ReaderRegistration covering every requested attribute.
func VerifyDeviceRequest(req *mdoc.DeviceRequest, sessionTranscript []byte, now time.Time, roots *x509.CertPool) (*readerauth.ReaderRegistration, *x509.Certificate, error) {
	signed := func(d mdoc.DocRequest) bool { return d.ReaderAuth != nil }

	if lo.NoneBy(req.DocRequests, signed) {
		return nil, nil, nil
	}
	if !lo.EveryBy(req.DocRequests, signed) {
		return nil, nil, ErrReaderAuthMissing
	}

	var certificate *x509.Certificate
	for i, docRequest := range req.DocRequests {
		cert, err := verifyDocRequest(docRequest, sessionTranscript, now, roots)
		if err != nil {
			return nil, nil, fmt.Errorf("doc request %d: %w", i, err)
		}
		if certificate != nil && !certificate.Equal(cert) {
			return nil, nil, ErrReaderAuthsInconsistent
		}
		certificate = cert
	}

	registration, err := readerauth.FromCertificate(certificate)
	if err != nil {
		return nil, nil, err
	}

	requested, err := req.AttributeIdentifiers()
	if err != nil {
		return nil, nil, &DecodeError{What: "items request", Err: err}
	}
	if err := registration.VerifyRequestedAttributes(requested); err != nil {
		return nil, nil, err
	}

	return registration, certificate, nil
}

// verifyDocRequest checks one readerAuth and returns its leaf certificate.
func verifyDocRequest(docRequest mdoc.DocRequest, sessionTranscript []byte, now time.Time, roots *x509.CertPool) (*x509.Certificate, error) {
	readerAuth := docRequest.ReaderAuth

	chain, err := mdoc.X5Chain(readerAuth.Headers)
	if err != nil {
		return nil, &CryptoError{Op: "reader auth certificate", Err: err}
	}
	leaf := chain[0]

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, &CryptoError{Op: "reader auth certificate", Err: err}
	}
	if !lo.ContainsBy(leaf.UnknownExtKeyUsage, func(oid asn1.ObjectIdentifier) bool { return oid.Equal(mdoc.OIDReaderAuthEKU) }) {
		return nil, &CryptoError{Op: "reader auth certificate", Err: fmt.Errorf("missing reader authentication extended key usage")}
	}

	if readerAuth.Headers.Protected == nil {
		return nil, &CryptoError{Op: "reader auth signature", Err: mdoc.ErrMissingProtectedHeader}
	}
	alg, err := readerAuth.Headers.Protected.Algorithm()
	if err != nil {
		return nil, &CryptoError{Op: "reader auth signature", Err: err}
	}
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, &CryptoError{Op: "reader auth signature", Err: fmt.Errorf("%w: %T", mdoc.ErrInvalidKeyType, leaf.PublicKey)}
	}
	verifier, err := cose.NewVerifier(alg, pub)
	if err != nil {
		return nil, &CryptoError{Op: "reader auth signature", Err: err}
	}

	payload, err := mdoc.ReaderAuthenticationBytes(sessionTranscript, docRequest.ItemsRequest)
	if err != nil {
		return nil, err
	}

	msg := *readerAuth
	msg.Payload = payload
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, &CryptoError{Op: "reader auth signature", Err: err}
	}

	return leaf, nil
}
