// Package reveal manages disclosure of plaintexts bound to handles. Each
// record is a small state machine: Pending moves to Fulfilled (private
// path, relayer-delivered) or a record is born Revealed (public path).
// Terminal states are final; fulfillment is at-most-once, implemented as a
// compare-and-set on the record state inside one badger transaction.
package reveal

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/veil-db/veildb/internal/capability"
	"github.com/veil-db/veildb/internal/keyvalstore"
	"github.com/veil-db/veildb/internal/registry"
	"github.com/veil-db/veildb/pkg/types"
)

const (
	prefixRequest = "rev:req:"
	prefixPublic  = "rev:pub:"
)

type Workflow struct {
	kv       *keyvalstore.Store
	db       *badger.DB
	caps     *capability.Table
	registry *registry.Registry
	clock    types.Clock
	log      *slog.Logger

	// mu makes fulfill/reveal transitions on the same record mutually
	// exclusive together with the enclosing badger update transaction.
	mu sync.Mutex
}

func NewWorkflow(kv *keyvalstore.Store, caps *capability.Table, reg *registry.Registry, clock types.Clock, log *slog.Logger) *Workflow {
	return &Workflow{
		kv:       kv,
		db:       kv.DB(),
		caps:     caps,
		registry: reg,
		clock:    clock,
		log:      log,
	}
}

// RequestDecrypt opens a private disclosure request. The requester must
// hold a Decrypt grant on the handle; a Compute grant is neither needed
// nor sufficient here. An external relayer later delivers the plaintext
// through Fulfill.
func (w *Workflow) RequestDecrypt(handleID types.HandleID, requester types.Principal) (uuid.UUID, error) {
	exists, err := w.registry.Exists(handleID)
	if err != nil {
		return uuid.Nil, err
	}
	if !exists {
		return uuid.Nil, types.ErrUnknownHandle
	}

	if err := w.caps.Require(handleID, requester, types.CapDecrypt); err != nil {
		return uuid.Nil, err
	}

	record := types.RevealRecord{
		ID:          uuid.New(),
		Handle:      handleID,
		Requester:   requester,
		State:       types.RevealPending,
		RequestedAt: w.clock.Now(),
	}

	raw, err := encodeRecord(record)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode reveal record: %w", err)
	}
	if err := w.kv.Write(requestKey(record.ID), raw); err != nil {
		return uuid.Nil, fmt.Errorf("store reveal record: %w", err)
	}

	w.log.Debug("decrypt requested",
		"request", record.ID.String(),
		"handle", handleID.String()[:16],
		"requester", string(requester),
	)
	return record.ID, nil
}

// Fulfill delivers a plaintext for a pending request. The recipient must
// be the original requester; a request that already left Pending fails
// with ErrAlreadyFulfilled for any plaintext, including an identical
// resubmission.
func (w *Workflow) Fulfill(requestID uuid.UUID, recipient types.Principal, plaintext []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.db.Update(func(txn *badger.Txn) error {
		record, err := readRecord(txn, requestID)
		if err != nil {
			return err
		}
		if record.State != types.RevealPending {
			return types.ErrAlreadyFulfilled
		}
		if record.Requester != recipient {
			return types.ErrRequesterMismatch
		}

		record.State = types.RevealFulfilled
		record.Plaintext = plaintext
		record.FinalizedAt = w.clock.Now()

		raw, err := encodeRecord(record)
		if err != nil {
			return err
		}
		return txn.Set(requestKey(requestID), raw)
	})
}

// FulfillBatch delivers plaintexts for an ordered list of requests
// atomically: either every record moves to Fulfilled, or none do.
func (w *Workflow) FulfillBatch(requestIDs []uuid.UUID, recipients []types.Principal, plaintexts [][]byte) error {
	if len(requestIDs) != len(plaintexts) || len(requestIDs) != len(recipients) {
		return types.ErrBatchLengthMismatch
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.db.Update(func(txn *badger.Txn) error {
		now := w.clock.Now()
		for i, requestID := range requestIDs {
			record, err := readRecord(txn, requestID)
			if err != nil {
				return err
			}
			if record.State != types.RevealPending {
				return types.ErrAlreadyFulfilled
			}
			if record.Requester != recipients[i] {
				return types.ErrRequesterMismatch
			}

			record.State = types.RevealFulfilled
			record.Plaintext = plaintexts[i]
			record.FinalizedAt = now

			raw, err := encodeRecord(record)
			if err != nil {
				return err
			}
			if err := txn.Set(requestKey(requestID), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// RevealPublic discloses a handle's plaintext to every principal. This is
// a distinct operation from the private path on purpose: no per-requester
// Decrypt grant is checked, and callers cannot reach it by accident
// through RequestDecrypt. Intended for values designed to become common
// knowledge (auction settlements, lottery outcomes).
func (w *Workflow) RevealPublic(handleID types.HandleID, plaintext []byte) (uuid.UUID, error) {
	exists, err := w.registry.Exists(handleID)
	if err != nil {
		return uuid.Nil, err
	}
	if !exists {
		return uuid.Nil, types.ErrUnknownHandle
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	record := types.RevealRecord{
		ID:          uuid.New(),
		Handle:      handleID,
		State:       types.RevealRevealed,
		Plaintext:   plaintext,
		RequestedAt: w.clock.Now(),
		FinalizedAt: w.clock.Now(),
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		return writePublic(txn, record)
	})
	if err != nil {
		return uuid.Nil, err
	}

	w.log.Debug("handle revealed publicly", "handle", handleID.String()[:16])
	return record.ID, nil
}

// RevealPublicBatch discloses an ordered list of (handle, plaintext) pairs
// atomically. A length mismatch or an unknown or already revealed handle
// fails the whole batch; no record transitions.
func (w *Workflow) RevealPublicBatch(handleIDs []types.HandleID, plaintexts [][]byte) ([]uuid.UUID, error) {
	if len(handleIDs) != len(plaintexts) {
		return nil, types.ErrBatchLengthMismatch
	}

	for _, handleID := range handleIDs {
		exists, err := w.registry.Exists(handleID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, types.ErrUnknownHandle
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	ids := make([]uuid.UUID, len(handleIDs))
	err := w.db.Update(func(txn *badger.Txn) error {
		for i, handleID := range handleIDs {
			record := types.RevealRecord{
				ID:          uuid.New(),
				Handle:      handleID,
				State:       types.RevealRevealed,
				Plaintext:   plaintexts[i],
				RequestedAt: now,
				FinalizedAt: now,
			}
			if err := writePublic(txn, record); err != nil {
				return err
			}
			ids[i] = record.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Status returns the current record for a request id.
func (w *Workflow) Status(requestID uuid.UUID) (types.RevealRecord, error) {
	raw, err := w.kv.Read(requestKey(requestID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.RevealRecord{}, types.ErrUnknownRequest
	}
	if err != nil {
		return types.RevealRecord{}, err
	}
	return decodeRecord(raw)
}

// Pending lists every request still waiting for a relayer. Read-only: the
// workflow exposes no push mechanism beyond the Fulfill entry point.
func (w *Workflow) Pending() ([]types.RevealRecord, error) {
	items, err := w.kv.GetItemsWithPrefix([]byte(prefixRequest))
	if err != nil {
		return nil, err
	}

	var pending []types.RevealRecord
	for _, item := range items {
		record, err := decodeRecord(item[1])
		if err != nil {
			return nil, err
		}
		if record.State == types.RevealPending {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

// PublicPlaintext returns the publicly revealed plaintext of a handle.
func (w *Workflow) PublicPlaintext(handleID types.HandleID) ([]byte, error) {
	raw, err := w.kv.Read(publicKey(handleID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrUnknownRequest
	}
	if err != nil {
		return nil, err
	}

	record, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return record.Plaintext, nil
}

// writePublic stores a public record under both the request id and the
// handle index, enforcing at-most-once public disclosure per handle.
func writePublic(txn *badger.Txn, record types.RevealRecord) error {
	if _, err := txn.Get(publicKey(record.Handle)); err == nil {
		return types.ErrAlreadyFulfilled
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	raw, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := txn.Set(requestKey(record.ID), raw); err != nil {
		return err
	}
	return txn.Set(publicKey(record.Handle), raw)
}

func readRecord(txn *badger.Txn, requestID uuid.UUID) (types.RevealRecord, error) {
	item, err := txn.Get(requestKey(requestID))
	if err == badger.ErrKeyNotFound {
		return types.RevealRecord{}, types.ErrUnknownRequest
	}
	if err != nil {
		return types.RevealRecord{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return types.RevealRecord{}, err
	}
	return decodeRecord(raw)
}

func requestKey(requestID uuid.UUID) []byte {
	return append([]byte(prefixRequest), requestID[:]...)
}

func publicKey(handleID types.HandleID) []byte {
	return append([]byte(prefixPublic), handleID[:]...)
}

func encodeRecord(record types.RevealRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(raw []byte) (types.RevealRecord, error) {
	var record types.RevealRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&record); err != nil {
		return types.RevealRecord{}, err
	}
	return record, nil
}
