// Package mdocstore keeps held mdocs and their software device keys,
// optionally persisted to a directory.
package mdocstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/mdoc-wallet/holder"
	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/pki"
)

var logger = log.New("mdoc-store")

const (
	mdocsFile = "mdocs.cbor"
	keysDir   = "keys"
)

var ErrKeyNotFound = errors.New("private key not found")

// Store is both a holder.CredentialSource and a holder.KeyResolver.
type Store struct {
	dir string

	mu    sync.RWMutex
	mdocs []mdoc.Mdoc
	keys  map[string]*ecdsa.PrivateKey
}

// NewMemoryStore returns a store that is never persisted.
func NewMemoryStore() *Store {
	return &Store{keys: map[string]*ecdsa.PrivateKey{}}
}

// Open loads the store kept in dir, creating dir when needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, keysDir), 0o700); err != nil {
		return nil, err
	}

	s := &Store{dir: dir, keys: map[string]*ecdsa.PrivateKey{}}

	data, err := os.ReadFile(filepath.Join(dir, mdocsFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}

	if err := mdoc.Unmarshal(data, &s.mdocs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mdocsFile, err)
	}

	for _, m := range s.mdocs {
		key, err := pki.LoadPrivateKey(s.keyPath(m.PrivateKeyID))
		if err != nil {
			return nil, fmt.Errorf("failed to load key %s: %w", m.PrivateKeyID, err)
		}
		s.keys[m.PrivateKeyID] = key
	}
	return s, nil
}

func (s *Store) keyPath(id string) string {
	return filepath.Join(s.dir, keysDir, id+".pem")
}

// Add stores an issued mdoc with its device key and returns the mdoc as held.
func (s *Store) Add(ctx context.Context, docType mdoc.DocType, issuerSigned mdoc.IssuerSigned, key *ecdsa.PrivateKey) (*mdoc.Mdoc, error) {
	m := mdoc.Mdoc{
		DocType:      docType,
		IssuerSigned: issuerSigned,
		PrivateKeyID: uuid.NewString(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != "" {
		if err := pki.WritePrivateKey(key, s.keyPath(m.PrivateKeyID)); err != nil {
			return nil, err
		}
		if err := s.persist(append(s.mdocs, m)); err != nil {
			return nil, err
		}
	}

	s.mdocs = append(s.mdocs, m)
	s.keys[m.PrivateKeyID] = key

	logger.Debugc(ctx, "mdoc stored", logfields.WithDocType(string(docType)), logfields.WithKeyID(m.PrivateKeyID))
	return &m, nil
}

func (s *Store) persist(mdocs []mdoc.Mdoc) error {
	data, err := mdoc.Marshal(mdocs)
	if err != nil {
		return fmt.Errorf("failed to encode mdocs: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, mdocsFile), data, 0o600)
}

// List returns every held mdoc.
func (s *Store) List() []mdoc.Mdoc {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]mdoc.Mdoc(nil), s.mdocs...)
}

func (s *Store) MdocsByDocTypes(ctx context.Context, docTypes []mdoc.DocType) (map[mdoc.DocType][]mdoc.Mdoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	held := lo.Filter(s.mdocs, func(m mdoc.Mdoc, _ int) bool {
		return lo.Contains(docTypes, m.DocType)
	})
	return lo.GroupBy(held, func(m mdoc.Mdoc) mdoc.DocType { return m.DocType }), nil
}

func (s *Store) Resolve(ctx context.Context, privateKeyID string) (holder.SigningKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[privateKeyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, privateKeyID)
	}
	return &SoftwareKey{key: key}, nil
}

// SoftwareKey signs with an in-memory P-256 key.
type SoftwareKey struct {
	key *ecdsa.PrivateKey
}

func NewSoftwareKey(key *ecdsa.PrivateKey) *SoftwareKey {
	return &SoftwareKey{key: key}
}

func (k *SoftwareKey) Public() *ecdsa.PublicKey {
	return &k.key.PublicKey
}

func (k *SoftwareKey) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, k.key, digest[:])
	if err != nil {
		return nil, err
	}

	size := (k.key.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	s.FillBytes(sig[size:])
	return sig, nil
}
