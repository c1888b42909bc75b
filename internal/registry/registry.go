// Package registry is the content-addressed graph of opaque value nodes.
// A handle's id is derived deterministically from its origin, so repeated
// sub-expressions collapse to one node (structural sharing). Handles are
// never mutated or garbage-collected mid-session; the registry lifetime
// matches the enclosing store epoch.
package registry

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/veil-db/veildb/internal/keyvalstore"
	"github.com/veil-db/veildb/pkg/types"
)

const (
	prefixHandle = "reg:handle:"
	prefixBlobOf = "reg:blobof:"
)

const cacheSize = 4096

type Registry struct {
	kv    *keyvalstore.Store
	log   *slog.Logger
	clock types.Clock

	// mu serializes handle creation so concurrent derivations of the same
	// expression race harmlessly to one deduplicated id, linearizable per
	// handle id.
	mu    sync.Mutex
	cache *lru.Cache[types.HandleID, types.Handle]
}

func New(kv *keyvalstore.Store, clock types.Clock, log *slog.Logger) (*Registry, error) {
	cache, err := lru.New[types.HandleID, types.Handle](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}
	return &Registry{
		kv:    kv,
		log:   log,
		clock: clock,
		cache: cache,
	}, nil
}

// AdmitExternal records a handle for a proof-checked external ciphertext.
// Re-admitting the same ciphertext under the same binding context
// deduplicates to the existing handle.
func (r *Registry) AdmitExternal(blob types.Digest, proof types.Digest, bound types.BindingContext, width types.Width) (types.Handle, error) {
	handle := types.Handle{
		ID:        types.ExternalID(blob, bound),
		Subject:   bound.Subject,
		Actor:     bound.Actor,
		Width:     width,
		Origin:    types.OriginExternal,
		Blob:      blob,
		Proof:     proof,
		CreatedAt: r.clock.Now(),
	}

	stored, _, err := r.getOrCreate(handle)
	if err != nil {
		return types.Handle{}, err
	}

	// External handles are materialized at admission time.
	if err := r.SetBlobOf(stored.ID, blob); err != nil {
		return types.Handle{}, err
	}

	return stored, nil
}

// Derive records the result handle of a symbolic operation. The content
// address is computed before any storage is touched; a structurally
// identical handle short-circuits to the existing node. The second return
// value reports whether a new node was created.
func (r *Registry) Derive(subject types.Principal, op types.Opcode, operands []types.HandleID, width types.Width) (types.Handle, bool, error) {
	ordered := normalizeOperands(op, operands)

	handle := types.Handle{
		ID:        types.DerivedID(subject, op, ordered),
		Subject:   subject,
		Actor:     subject,
		Width:     width,
		Origin:    types.OriginDerived,
		Opcode:    op,
		Operands:  ordered,
		CreatedAt: r.clock.Now(),
	}

	return r.getOrCreate(handle)
}

// Constant records a handle for a trivially encrypted plaintext constant.
// Identical constants within one subject collapse to one node.
func (r *Registry) Constant(subject types.Principal, width types.Width, value uint64) (types.Handle, bool, error) {
	handle := types.Handle{
		ID:        types.ConstantID(subject, width, value),
		Subject:   subject,
		Actor:     subject,
		Width:     width,
		Origin:    types.OriginConstant,
		Value:     value,
		CreatedAt: r.clock.Now(),
	}

	return r.getOrCreate(handle)
}

// Resolve returns the handle metadata for an id.
func (r *Registry) Resolve(id types.HandleID) (types.Handle, error) {
	if handle, ok := r.cache.Get(id); ok {
		return handle, nil
	}

	raw, err := r.kv.Read(handleKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.Handle{}, types.ErrUnknownHandle
	}
	if err != nil {
		return types.Handle{}, fmt.Errorf("read handle %s: %w", id, err)
	}

	handle, err := decodeHandle(raw)
	if err != nil {
		return types.Handle{}, fmt.Errorf("decode handle %s: %w", id, err)
	}

	r.cache.Add(id, handle)
	return handle, nil
}

// Exists reports whether the registry holds a handle for the id.
func (r *Registry) Exists(id types.HandleID) (bool, error) {
	_, err := r.Resolve(id)
	if err == types.ErrUnknownHandle {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of handles in the registry.
func (r *Registry) Count() (int, error) {
	return r.kv.CountWithPrefix([]byte(prefixHandle))
}

// List returns the ids of every handle in the registry.
func (r *Registry) List() ([]types.HandleID, error) {
	prefix := []byte(prefixHandle)
	items, err := r.kv.GetItemsWithPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var ids []types.HandleID
	for _, item := range items {
		key := item[0]
		if len(key) != len(prefix)+64 {
			continue
		}
		var id types.HandleID
		copy(id[:], key[len(prefix):])
		ids = append(ids, id)
	}
	return ids, nil
}

// SetBlobOf links a handle to its materialized ciphertext digest. The
// handle record itself stays immutable; materialization is bookkeeping on
// the side.
func (r *Registry) SetBlobOf(id types.HandleID, blob types.Digest) error {
	return r.kv.Write(blobOfKey(id), blob[:])
}

// BlobOf returns the ciphertext digest of a materialized handle, or
// ErrNotMaterialized if the coprocessor has not produced one yet.
func (r *Registry) BlobOf(id types.HandleID) (types.Digest, error) {
	value, err := r.kv.Read(blobOfKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.Digest{}, types.ErrNotMaterialized
	}
	if err != nil {
		return types.Digest{}, err
	}

	var digest types.Digest
	copy(digest[:], value)
	return digest, nil
}

// getOrCreate inserts the handle unless a node with the same id already
// exists, in which case the existing node wins. The badger update
// transaction plus the registry mutex make the race between two writers of
// the same id linearizable: the second writer observes the first's result.
func (r *Registry) getOrCreate(handle types.Handle) (types.Handle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *types.Handle
	err := r.kv.DB().Update(func(txn *badger.Txn) error {
		item, err := txn.Get(handleKey(handle.ID))
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stored, err := decodeHandle(raw)
			if err != nil {
				return err
			}
			existing = &stored
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		raw, err := encodeHandle(handle)
		if err != nil {
			return err
		}
		return txn.Set(handleKey(handle.ID), raw)
	})
	if err != nil {
		return types.Handle{}, false, fmt.Errorf("store handle %s: %w", handle.ID, err)
	}

	if existing != nil {
		r.cache.Add(existing.ID, *existing)
		return *existing, false, nil
	}

	r.cache.Add(handle.ID, handle)
	r.log.Debug("handle created",
		"id", handle.ID.String()[:16],
		"origin", handle.Origin.String(),
		"width", handle.Width.String(),
	)
	return handle, true, nil
}

// normalizeOperands sorts operand ids for commutative opcodes so that
// derive(op, [a,b]) and derive(op, [b,a]) address the same node.
func normalizeOperands(op types.Opcode, operands []types.HandleID) []types.HandleID {
	ordered := make([]types.HandleID, len(operands))
	copy(ordered, operands)
	if op.Commutative() {
		sort.Slice(ordered, func(i, j int) bool {
			return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
		})
	}
	return ordered
}

func handleKey(id types.HandleID) []byte {
	return append([]byte(prefixHandle), id[:]...)
}

func blobOfKey(id types.HandleID) []byte {
	return append([]byte(prefixBlobOf), id[:]...)
}

func encodeHandle(handle types.Handle) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(handle); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHandle(raw []byte) (types.Handle, error) {
	var handle types.Handle
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&handle); err != nil {
		return types.Handle{}, err
	}
	return handle, nil
}
