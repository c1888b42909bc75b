// Package blobstore persists ciphertext blobs content-addressed by their
// SHA-512 digest. Blobs are split with a buzhash chunker so structurally
// similar ciphertexts share chunks, and chunks are lzma-compressed at rest.
// Plaintext never passes through this store.
package blobstore

import (
	"bytes"
	"crypto/sha512"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ulikunitz/xz/lzma"

	"github.com/veil-db/veildb/internal/keyvalstore"
	"github.com/veil-db/veildb/pkg/types"
)

const (
	prefixMeta  = "blob:meta:"
	prefixChunk = "blob:chunk:"
)

type blobMeta struct {
	Digest types.Digest
	Size   int
	Chunks [][64]byte
}

type Store struct {
	kv  *keyvalstore.Store
	log *slog.Logger
}

func NewStore(kv *keyvalstore.Store, log *slog.Logger) *Store {
	return &Store{kv: kv, log: log}
}

// Put stores a ciphertext blob and returns its digest. Put is idempotent:
// a blob already present is not rewritten, and chunks shared with other
// blobs are stored once.
func (s *Store) Put(ciphertext []byte) (types.Digest, error) {
	digest := types.BlobDigest(ciphertext)

	exists, err := s.Has(digest)
	if err != nil {
		return types.Digest{}, err
	}
	if exists {
		return digest, nil
	}

	chunks, err := chunkBytes(ciphertext)
	if err != nil {
		return types.Digest{}, fmt.Errorf("chunk blob: %w", err)
	}

	meta := blobMeta{Digest: digest, Size: len(ciphertext)}
	type packed struct {
		key  []byte
		data []byte
	}
	packedChunks := make([]packed, 0, len(chunks))
	chunkKeys := make([][]byte, 0, len(chunks))
	for _, chunk := range chunks {
		chunkHash := sha512.Sum512(chunk)
		compressed, err := compress(chunk)
		if err != nil {
			return types.Digest{}, fmt.Errorf("compress chunk: %w", err)
		}
		meta.Chunks = append(meta.Chunks, chunkHash)
		key := chunkKey(chunkHash)
		packedChunks = append(packedChunks, packed{key: key, data: compressed})
		chunkKeys = append(chunkKeys, key)
	}

	// Chunks shared with already stored blobs are skipped. Chunks are
	// content-addressed, so a concurrent writer of the same key writes
	// identical bytes and the race is harmless.
	existsMap, err := s.kv.BatchCheckKeyExistence(chunkKeys)
	if err != nil {
		return types.Digest{}, fmt.Errorf("check chunk existence: %w", err)
	}

	metaBytes, err := serialize(meta)
	if err != nil {
		return types.Digest{}, fmt.Errorf("serialize blob meta: %w", err)
	}

	err = s.kv.DB().Update(func(txn *badger.Txn) error {
		for _, pc := range packedChunks {
			if existsMap[string(pc.key)] {
				continue
			}
			if err := txn.Set(pc.key, pc.data); err != nil {
				return err
			}
		}
		return txn.Set(metaKey(digest), metaBytes)
	})
	if err != nil {
		return types.Digest{}, fmt.Errorf("write blob: %w", err)
	}

	return digest, nil
}

// Get reassembles a blob from its chunks and verifies the digest.
func (s *Store) Get(digest types.Digest) ([]byte, error) {
	metaBytes, err := s.kv.Read(metaKey(digest))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrNotMaterialized
	}
	if err != nil {
		return nil, fmt.Errorf("read blob meta: %w", err)
	}

	var meta blobMeta
	if err := deserialize(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("deserialize blob meta: %w", err)
	}

	buf := make([]byte, 0, meta.Size)
	for _, chunkHash := range meta.Chunks {
		compressed, err := s.kv.Read(chunkKey(chunkHash))
		if err != nil {
			return nil, fmt.Errorf("missing chunk %x: %w", chunkHash[:8], err)
		}
		chunk, err := decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %x: %w", chunkHash[:8], err)
		}
		buf = append(buf, chunk...)
	}

	if types.BlobDigest(buf) != digest {
		return nil, fmt.Errorf("blob %s failed digest verification after reassembly", digest)
	}

	return buf, nil
}

// Has reports whether a blob with the given digest is stored.
func (s *Store) Has(digest types.Digest) (bool, error) {
	return s.kv.Has(metaKey(digest))
}

func metaKey(digest types.Digest) []byte {
	return append([]byte(prefixMeta), digest[:]...)
}

func chunkKey(hash [64]byte) []byte {
	return append([]byte(prefixChunk), hash[:]...)
}

func chunkBytes(data []byte) ([][]byte, error) {
	bz := chunker.NewBuzhash(bytes.NewReader(data))

	var chunks [][]byte
	for {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserialize(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
