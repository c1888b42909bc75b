package blobstore

import (
	"bytes"
	"crypto/rand"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-db/veildb/internal/testutil"
	"github.com/veil-db/veildb/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.OpenStore(t), slog.Default())
}

func TestBlobRoundTrip(t *testing.T) {
	store := newTestStore(t)

	blob := []byte("a small ciphertext blob")
	digest, err := store.Put(blob)
	require.NoError(t, err)
	assert.Equal(t, types.BlobDigest(blob), digest)

	got, err := store.Get(digest)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestBlobRoundTripLarge(t *testing.T) {
	store := newTestStore(t)

	// Large enough to exercise multiple buzhash chunks.
	blob := make([]byte, 1<<20)
	_, err := rand.Read(blob)
	require.NoError(t, err)

	digest, err := store.Put(blob)
	require.NoError(t, err)

	got, err := store.Get(digest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(blob, got))
}

func TestBlobPutIdempotent(t *testing.T) {
	store := newTestStore(t)

	blob := []byte("same bytes twice")
	first, err := store.Put(blob)
	require.NoError(t, err)
	second, err := store.Put(blob)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBlobHas(t *testing.T) {
	store := newTestStore(t)

	digest := types.BlobDigest([]byte("never stored"))
	ok, err := store.Has(digest)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := store.Put([]byte("stored"))
	require.NoError(t, err)
	ok, err = store.Has(stored)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlobGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(types.BlobDigest([]byte("missing")))
	assert.ErrorIs(t, err, types.ErrNotMaterialized)
}
