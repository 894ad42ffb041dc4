package pki

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	pemTypeECPrivateKey = "EC PRIVATE KEY"
	pemTypeCertificate  = "CERTIFICATE"
)

var ErrNoPEMBlock = errors.New("pem block was not found")

func LoadPrivateKey(dataPath string) (*ecdsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(pemBytes)
}

func ParsePrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypeECPrivateKey {
		return nil, fmt.Errorf("%w: expected %s", ErrNoPEMBlock, pemTypeECPrivateKey)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func WritePrivateKey(privateKey *ecdsa.PrivateKey, filename string) error {
	derBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return err
	}
	return writePEM(filename, &pem.Block{Type: pemTypeECPrivateKey, Bytes: derBytes}, 0o600)
}

func LoadCertificate(filename string) (*x509.Certificate, error) {
	pemBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, fmt.Errorf("%w: expected %s", ErrNoPEMBlock, pemTypeCertificate)
	}
	return x509.ParseCertificate(block.Bytes)
}

func WriteCertificate(cert *x509.Certificate, filename string) error {
	return writePEM(filename, &pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw}, 0o644)
}

// EncodeCertificate returns cert as a PEM block.
func EncodeCertificate(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw})
}

func writePEM(filename string, block *pem.Block, perm os.FileMode) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer file.Close()

	return pem.Encode(file, block)
}

func GetRootCertificate(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s: %w", path, err)
	}

	roots := x509.NewCertPool()
	if ok := roots.AppendCertsFromPEM(pemBytes); !ok {
		return nil, fmt.Errorf("failed to load pem: %s", path)
	}
	return roots, nil
}

// GetRootCertificates loads every *.pem file in dirPath into one pool.
func GetRootCertificates(dirPath string) (*x509.CertPool, error) {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	loaded := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".pem") {
			continue
		}

		filePath := filepath.Join(dirPath, file.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %s: %w", filePath, err)
		}
		if roots.AppendCertsFromPEM(data) {
			loaded++
		}
	}

	if loaded == 0 {
		return nil, fmt.Errorf("no certificates found in %s", dirPath)
	}
	return roots, nil
}
