package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

// KeyPair is a certificate with its private key.
type KeyPair struct {
	Key         *ecdsa.PrivateKey
	Certificate *x509.Certificate
}

type certOptions struct {
	notBefore  time.Time
	notAfter   time.Time
	extensions []pkix.Extension
}

type CertOption func(*certOptions)

func WithValidity(notBefore, notAfter time.Time) CertOption {
	return func(o *certOptions) {
		o.notBefore = notBefore
		o.notAfter = notAfter
	}
}

// WithExtension adds a non-critical extension to the issued certificate.
func WithExtension(ext pkix.Extension) CertOption {
	return func(o *certOptions) {
		o.extensions = append(o.extensions, ext)
	}
}

func newCertOptions(years int, opts []CertOption) *certOptions {
	now := time.Now()
	o := &certOptions{
		notBefore: now.Add(-time.Minute),
		notAfter:  now.AddDate(years, 0, 0),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewCA creates a self-signed root with a fresh P-256 key.
func NewCA(commonName string, opts ...CertOption) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	o := newCertOptions(10, opts)
	template := x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             o.notBefore,
		NotAfter:              o.notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
		SubjectKeyId:          CalcKID(&key.PublicKey, "sha1"),
		ExtraExtensions:       o.extensions,
	}

	cert, err := createCertificate(&template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Key: key, Certificate: cert}, nil
}

// IssueReaderCertificate issues a reader authentication certificate.
// The ReaderRegistration extension is passed in with WithExtension.
func (ca *KeyPair) IssueReaderCertificate(commonName string, opts ...CertOption) (*KeyPair, error) {
	return ca.issue(commonName, mdoc.OIDReaderAuthEKU, opts)
}

// IssueDocumentSigner issues the certificate that signs MSOs.
func (ca *KeyPair) IssueDocumentSigner(commonName string, opts ...CertOption) (*KeyPair, error) {
	return ca.issue(commonName, mdoc.OIDDocumentSignerEKU, opts)
}

func (ca *KeyPair) issue(commonName string, eku asn1.ObjectIdentifier, opts []CertOption) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	o := newCertOptions(1, opts)
	template := x509.Certificate{
		SerialNumber:       newSerial(),
		Subject:            pkix.Name{CommonName: commonName},
		NotBefore:          o.notBefore,
		NotAfter:           o.notAfter,
		KeyUsage:           x509.KeyUsageDigitalSignature,
		IsCA:               false,
		SubjectKeyId:       CalcKID(&key.PublicKey, "sha1"),
		AuthorityKeyId:     ca.Certificate.SubjectKeyId,
		UnknownExtKeyUsage: []asn1.ObjectIdentifier{eku},
		ExtraExtensions:    o.extensions,
	}

	cert, err := createCertificate(&template, ca.Certificate, &key.PublicKey, ca.Key)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Key: key, Certificate: cert}, nil
}

func createCertificate(template, parent *x509.Certificate, pub *ecdsa.PublicKey, parentKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	derBytes, err := x509.CreateCertificate(rand.Reader, template, parent, pub, parentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return x509.ParseCertificate(derBytes)
}

func newSerial() *big.Int {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return big.NewInt(time.Now().UnixNano())
	}
	return serial
}

// Pool returns a pool holding only the CA certificate.
func (ca *KeyPair) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Certificate)
	return pool
}
