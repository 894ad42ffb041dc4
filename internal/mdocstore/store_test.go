package mdocstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-wallet/internal/cryptoroot"
	"github.com/kokukuma/mdoc-wallet/internal/mdoctest"
	"github.com/kokukuma/mdoc-wallet/mdoc"
)

func issue(t *testing.T, docType mdoc.DocType, nameSpaces []mdoctest.NameSpaceAttributes) (*mdoc.IssuerSigned, *ecdsa.PrivateKey) {
	t.Helper()

	ca, err := cryptoroot.NewCA("store test root")
	require.NoError(t, err)
	issuer, err := mdoctest.NewIssuer(ca)
	require.NoError(t, err)

	issuerSigned, key, err := issuer.IssueWithNewKey(docType, nameSpaces)
	require.NoError(t, err)
	return issuerSigned, key
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	assert.Empty(t, store.List())

	issuerSigned, key := issue(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())
	held, err := store.Add(ctx, mdoc.DocTypeMDL, *issuerSigned, key)
	require.NoError(t, err)
	assert.NotEmpty(t, held.PrivateKeyID)

	reopened, err := Open(dir)
	require.NoError(t, err)
	require.Len(t, reopened.List(), 1)

	m := reopened.List()[0]
	assert.Equal(t, held.PrivateKeyID, m.PrivateKeyID)
	ids, err := m.AttributeIdentifiers()
	require.NoError(t, err)
	assert.Contains(t, ids, mdoc.FamilyName.Identifier(mdoc.DocTypeMDL))

	signingKey, err := reopened.Resolve(ctx, m.PrivateKeyID)
	require.NoError(t, err)
	assert.True(t, signingKey.Public().Equal(&key.PublicKey))
}

func TestMdocsByDocTypes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	mdl, mdlKey := issue(t, mdoc.DocTypeMDL, mdoctest.SampleMDL())
	pid, pidKey := issue(t, mdoc.DocTypePID, mdoctest.SamplePID())

	_, err := store.Add(ctx, mdoc.DocTypeMDL, *mdl, mdlKey)
	require.NoError(t, err)
	_, err = store.Add(ctx, mdoc.DocTypeMDL, *mdl, mdlKey)
	require.NoError(t, err)
	_, err = store.Add(ctx, mdoc.DocTypePID, *pid, pidKey)
	require.NoError(t, err)

	held, err := store.MdocsByDocTypes(ctx, []mdoc.DocType{mdoc.DocTypeMDL})
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Len(t, held[mdoc.DocTypeMDL], 2)

	held, err = store.MdocsByDocTypes(ctx, []mdoc.DocType{"org.example.unknown"})
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestResolve(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Resolve(ctx, "missing")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSoftwareKeySign(t *testing.T) {
	_, key := issue(t, mdoc.DocTypePID, mdoctest.SamplePID())
	signingKey := NewSoftwareKey(key)

	message := []byte("device authentication")
	sig, err := signingKey.Sign(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	digest := sha256.Sum256(message)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	assert.True(t, ecdsa.Verify(signingKey.Public(), digest[:], r, s))
}
