package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"os"
	"path/filepath"

	"github.com/kokukuma/mdoc-wallet/pkg/pki"
)

const (
	rootKeyFile  = "rootKey.pem"
	rootCertFile = "rootCert.pem"
)

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil
}

// LoadOrCreateCA reads the CA from dir, creating and persisting one if absent.
func LoadOrCreateCA(dir, commonName string) (*KeyPair, error) {
	keyPath := filepath.Join(dir, rootKeyFile)
	certPath := filepath.Join(dir, rootCertFile)

	if fileExists(keyPath) && fileExists(certPath) {
		key, err := pki.LoadPrivateKey(keyPath)
		if err != nil {
			return nil, err
		}
		cert, err := pki.LoadCertificate(certPath)
		if err != nil {
			return nil, err
		}
		return &KeyPair{Key: key, Certificate: cert}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	ca, err := NewCA(commonName)
	if err != nil {
		return nil, err
	}
	if err := pki.WritePrivateKey(ca.Key, keyPath); err != nil {
		return nil, err
	}
	if err := pki.WriteCertificate(ca.Certificate, certPath); err != nil {
		return nil, err
	}
	return ca, nil
}

func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	default:
		h = sha256.New()
	}

	h.Write(b)
	return h.Sum(nil)
}
