package mdoc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/veraison/go-cose"
)

type VerifierOption func(*Verifier)

// MacKeyFunc derives the EMacKey for a document from its device key.
type MacKeyFunc func(deviceKey *ecdsa.PublicKey) ([]byte, error)

func WithSignCurrentTime(date time.Time) VerifierOption {
	return func(s *Verifier) {
		s.signCurrentTime = date
	}
}

func WithCertCurrentTime(date time.Time) VerifierOption {
	return func(s *Verifier) {
		s.certCurrentTime = date
	}
}

// WithDeviceMacKey enables verification of deviceMac proofs.
func WithDeviceMacKey(f MacKeyFunc) VerifierOption {
	return func(s *Verifier) {
		s.macKey = f
	}
}

func SkipVerifyDeviceSigned() VerifierOption {
	return func(s *Verifier) {
		s.skipVerifyDeviceSigned = true
	}
}

func SkipSignedDateValidation() VerifierOption {
	return func(s *Verifier) {
		s.skipSignedDateValidation = true
	}
}

// Verifier checks documents returned in a DeviceResponse.
type Verifier struct {
	roots                    *x509.CertPool
	macKey                   MacKeyFunc
	skipVerifyDeviceSigned   bool
	skipSignedDateValidation bool
	signCurrentTime          time.Time
	certCurrentTime          time.Time
}

func NewVerifier(roots *x509.CertPool, opts ...VerifierOption) *Verifier {
	server := &Verifier{
		roots:           roots,
		signCurrentTime: time.Now(),
		certCurrentTime: time.Now(),
	}

	for _, opt := range opts {
		opt(server)
	}
	return server
}

func (v *Verifier) Verify(doc Document, sessTrans []byte) error {
	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return fmt.Errorf("failed to get MobileSecurityObject: %w", err)
	}

	// 9.1.3 mdoc authentication
	if err := v.verifyDeviceSigned(mso, doc, sessTrans); err != nil {
		return fmt.Errorf("failed to verifyDeviceSigned: %w", err)
	}

	// 9.3.1 Inspection procedure for issuer data authentication
	// 1. Validate the certificate included in the MSO header according to 9.3.3.
	if err := v.verifyCertificate(doc.IssuerSigned); err != nil {
		return fmt.Errorf("failed to verifyCertificate: %w", err)
	}

	// 2. Verify the digital signature of the IssuerAuth structure (see 9.1.2.4).
	if err := verifyIssuerAuth(doc.IssuerSigned); err != nil {
		return fmt.Errorf("failed to verifyIssuerAuth: %w", err)
	}

	// 3. Calculate the digest value for every IssuerSignedItem returned in the DeviceResponse structure
	//    according to 9.1.2.5 and verify that these calculated digests equal the corresponding digest values
	//    in the MSO.
	if err := verifyDigests(doc.IssuerSigned, mso); err != nil {
		return fmt.Errorf("failed to verifyDigests: %w", err)
	}

	// 4. Verify that the DocType in the MSO matches the relevant DocType in the Documents structure.
	if doc.DocType != mso.DocType {
		return fmt.Errorf("%w: document=%s mso=%s", ErrDocTypeMismatch, doc.DocType, mso.DocType)
	}

	// 5. Validate the elements in the ValidityInfo structure.
	if err := v.validateValidityInfo(mso, doc); err != nil {
		return fmt.Errorf("failed to validate validity info: %w", err)
	}
	return nil
}

func (v *Verifier) verifyDeviceSigned(mso *MobileSecurityObject, doc Document, sessionTranscript []byte) error {
	if v.skipVerifyDeviceSigned {
		return nil
	}
	if len(sessionTranscript) == 0 {
		return ErrEmptySessionTranscript
	}

	deviceAuthenticationBytes, err := doc.DeviceSigned.DeviceAuthenticationBytes(doc.DocType, sessionTranscript)
	if err != nil {
		return fmt.Errorf("failed to build DeviceAuthentication: %w", err)
	}

	pubKey, err := mso.DeviceKey()
	if err != nil {
		return fmt.Errorf("failed to get deviceKey: %w", err)
	}

	auth := doc.DeviceSigned.DeviceAuth
	switch {
	case auth.DeviceSignature != nil:
		alg, err := doc.DeviceSigned.Alg()
		if err != nil {
			return fmt.Errorf("failed to get alg: %w", err)
		}

		verifier, err := cose.NewVerifier(alg, pubKey)
		if err != nil {
			return fmt.Errorf("failed to create verifier: %w", err)
		}

		msg := *auth.DeviceSignature
		msg.Payload = deviceAuthenticationBytes
		return msg.Verify(nil, verifier)

	case auth.DeviceMac != nil:
		if v.macKey == nil {
			return ErrDeviceMacKeyMissing
		}
		key, err := v.macKey(pubKey)
		if err != nil {
			return fmt.Errorf("failed to derive mac key: %w", err)
		}
		return auth.DeviceMac.Verify(key, deviceAuthenticationBytes)
	}

	return ErrDeviceAuthMissing
}

func verifyDigests(issuerSigned IssuerSigned, mso *MobileSecurityObject) error {
	for ns, itembytes := range issuerSigned.NameSpaces {
		for _, itemByte := range itembytes {
			item, err := itemByte.IssuerSignedItem()
			if err != nil {
				return fmt.Errorf("failed to get IssuerSignedItem: %w", err)
			}

			digest, err := mso.GetDigest(ns, item.DigestID)
			if err != nil {
				return err
			}

			calc, err := itemByte.Digest(mso.DigestAlgorithm)
			if err != nil {
				return err
			}

			if !bytes.Equal(digest, calc) {
				return fmt.Errorf("%w: digestID=%v", ErrDigestMismatch, item.DigestID)
			}
		}
	}
	return nil
}

func verifyIssuerAuth(issuerSigned IssuerSigned) error {
	alg, err := issuerSigned.Alg()
	if err != nil {
		return fmt.Errorf("failed to get alg: %w", err)
	}

	documentSigningKey, err := issuerSigned.DocumentSigningKey()
	if err != nil {
		return fmt.Errorf("failed to get document signing key: %w", err)
	}

	verifier, err := cose.NewVerifier(alg, documentSigningKey)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	return issuerSigned.IssuerAuth.Verify(nil, verifier)
}

func (v *Verifier) verifyCertificate(issuerSigned IssuerSigned) error {
	certs, err := issuerSigned.DocumentSigningCertificateChain()
	if err != nil {
		return fmt.Errorf("failed to get x5chain: %w", err)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		CurrentTime:   v.certCurrentTime,
	}

	if _, err := certs[0].Verify(opts); err != nil {
		return fmt.Errorf("failed to verify certificate chain: %w", err)
	}
	return nil
}

func (v *Verifier) validateValidityInfo(mso *MobileSecurityObject, doc Document) error {
	certificate, err := doc.IssuerSigned.DocumentSigningCertificate()
	if err != nil {
		return fmt.Errorf("failed to get certificate: %w", err)
	}

	// the 'signed' date is within the validity period of the certificate in the MSO header
	if !v.skipSignedDateValidation {
		if mso.ValidityInfo.Signed.Before(certificate.NotBefore) || mso.ValidityInfo.Signed.After(certificate.NotAfter) {
			return fmt.Errorf("%w: signed=%v NotBefore=%v NotAfter=%v", ErrValidity, mso.ValidityInfo.Signed, certificate.NotBefore, certificate.NotAfter)
		}
	}
	if v.signCurrentTime.Before(mso.ValidityInfo.ValidFrom) || v.signCurrentTime.After(mso.ValidityInfo.ValidUntil) {
		return fmt.Errorf("%w: validFrom=%v validUntil=%v", ErrValidity, mso.ValidityInfo.ValidFrom, mso.ValidityInfo.ValidUntil)
	}
	return nil
}
