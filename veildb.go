// Package veildb is a capability-gated symbolic computation registry for
// values that stay encrypted while code manipulates them. Handles are
// content-addressed nodes of an immutable computation graph; capability
// grants gate who may compute with or decrypt each handle; plaintexts leave
// the system only through the reveal workflow. The actual homomorphic math
// and proof checking live behind the Coprocessor interface, and private
// decryption is delivered by an external relayer through Fulfill.
package veildb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/veil-db/veildb/internal/blobstore"
	"github.com/veil-db/veildb/internal/capability"
	"github.com/veil-db/veildb/internal/evalqueue"
	"github.com/veil-db/veildb/internal/executor"
	"github.com/veil-db/veildb/internal/gate"
	"github.com/veil-db/veildb/internal/keyvalstore"
	"github.com/veil-db/veildb/internal/registry"
	"github.com/veil-db/veildb/internal/reveal"
	"github.com/veil-db/veildb/pkg/types"
)

var (
	ErrNotStarted = errors.New("veildb: not started")
	ErrClosed     = errors.New("veildb: closed")
)

// VeilDB is the main handle. It owns the key-value store, the registry,
// the capability table, the admission gate, the executor, the reveal
// workflow and the background evaluation queue.
type VeilDB struct {
	log    *slog.Logger
	config Config

	kvMu sync.RWMutex
	kv   *keyvalstore.Store

	blobs    *blobstore.Store
	registry *registry.Registry
	caps     *capability.Table
	gate     *gate.Gate
	exec     *executor.Executor
	reveals  *reveal.Workflow
	queue    *evalqueue.Queue

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a VeilDB handle. New does not perform heavy I/O or start
// background goroutines. Call Start to initialize subsystems.
func New(conf Config) (*VeilDB, error) {
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Coprocessor == nil {
		return nil, fmt.Errorf("a coprocessor must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.Clock == nil {
		conf.Clock = types.SystemClock{}
	}
	return &VeilDB{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start initializes the store and all subsystems and marks the instance as
// ready. Start is safe to call multiple times; only the first call has
// effect.
func (v *VeilDB) Start(ctx context.Context) error {
	var startErr error
	v.startOnce.Do(func() {
		dataRoot := v.config.Paths[0]
		if err := os.MkdirAll(dataRoot, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", dataRoot, err)
			return
		}

		kv, err := keyvalstore.NewStore(keyvalstore.StoreConfig{
			Paths:            []string{dataRoot},
			MinimumFreeSpace: int(v.config.MinimumFreeGB),
			Logger:           v.log,
		})
		if err != nil {
			startErr = fmt.Errorf("init keyvalstore: %w", err)
			return
		}

		reg, err := registry.New(kv, v.config.Clock, v.log)
		if err != nil {
			kv.Close()
			startErr = fmt.Errorf("init registry: %w", err)
			return
		}

		v.kvMu.Lock()
		v.kv = kv
		v.kvMu.Unlock()

		v.blobs = blobstore.NewStore(kv, v.log)
		v.registry = reg
		v.caps = capability.NewTable(kv, v.log)
		v.gate = gate.New(v.config.Coprocessor, reg, v.blobs, v.log)
		v.queue = evalqueue.New(evalqueue.Config{WorkerCount: v.config.EvalWorkers}, v.log)
		v.exec = executor.New(reg, v.caps, v.blobs, v.config.Coprocessor, v.queue, v.log)
		v.reveals = reveal.NewWorkflow(kv, v.caps, reg, v.config.Clock, v.log)

		v.started.Store(true)
		v.log.Info("VeilDB started", "path", dataRoot)
	})
	return startErr
}

// Run starts the instance, then blocks until ctx is canceled, and finally
// performs a bounded graceful shutdown. It is a convenience for services.
func (v *VeilDB) Run(ctx context.Context) error {
	if err := v.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return v.Close(shutdownCtx)
}

// Close drains the evaluation queue and releases the store. Close is
// idempotent and safe to call multiple times.
func (v *VeilDB) Close(ctx context.Context) error {
	var closeErr error
	v.closeOnce.Do(func() {
		if v.queue != nil {
			v.queue.Close()
		}

		v.kvMu.Lock()
		kv := v.kv
		v.kv = nil
		v.kvMu.Unlock()
		if kv != nil {
			if err := kv.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close keyvalstore: %w", err))
			}
		}

		v.log.Info("VeilDB closed")
	})
	return closeErr
}

// CloseWithoutContext closes the instance using a background context.
// Prefer Close(ctx) to enforce an application-specific shutdown deadline.
func (v *VeilDB) CloseWithoutContext() error {
	return v.Close(context.Background())
}

func (v *VeilDB) handle() error {
	if !v.started.Load() {
		return ErrNotStarted
	}

	v.kvMu.RLock()
	kv := v.kv
	v.kvMu.RUnlock()
	if kv == nil {
		return ErrClosed
	}

	return nil
}

// AdmitExternal verifies an admission proof and admits the ciphertext into
// the registry bound to the given context. This is the only entry point
// for untrusted bytes.
func (v *VeilDB) AdmitExternal(ctx context.Context, ciphertext []byte, proof types.Proof, bound types.BindingContext) (types.HandleID, error) {
	if err := ctx.Err(); err != nil {
		return types.HandleID{}, err
	}
	if err := v.handle(); err != nil {
		return types.HandleID{}, err
	}

	handle, err := v.gate.VerifyAndAdmit(ctx, ciphertext, proof, bound)
	if err != nil {
		return types.HandleID{}, err
	}
	return handle.ID, nil
}

// Constant registers a trivially encrypted plaintext constant owned by the
// subject and schedules its materialization.
func (v *VeilDB) Constant(ctx context.Context, subject types.Principal, width types.Width, value uint64) (types.HandleID, error) {
	if err := ctx.Err(); err != nil {
		return types.HandleID{}, err
	}
	if err := v.handle(); err != nil {
		return types.HandleID{}, err
	}

	handle, created, err := v.registry.Constant(subject, width, value)
	if err != nil {
		return types.HandleID{}, err
	}
	if created {
		v.exec.MaterializeConstant(handle)
	}
	return handle.ID, nil
}

// Apply derives a new handle by applying the opcode to the operands on
// behalf of the subject. The result carries no grants; issue them
// explicitly afterwards.
func (v *VeilDB) Apply(ctx context.Context, subject types.Principal, op types.Opcode, operands []types.HandleID) (types.HandleID, error) {
	if err := ctx.Err(); err != nil {
		return types.HandleID{}, err
	}
	if err := v.handle(); err != nil {
		return types.HandleID{}, err
	}

	handle, err := v.exec.Apply(ctx, subject, op, operands)
	if err != nil {
		return types.HandleID{}, err
	}
	return handle.ID, nil
}

// Grant issues a capability on a handle. Grants are idempotent and are
// never retracted.
func (v *VeilDB) Grant(ctx context.Context, id types.HandleID, grantee types.Principal, kind types.CapabilityKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.handle(); err != nil {
		return err
	}

	exists, err := v.registry.Exists(id)
	if err != nil {
		return err
	}
	if !exists {
		return types.ErrUnknownHandle
	}
	return v.caps.Grant(id, grantee, kind)
}

// HasCapability reports whether the grantee holds the capability.
func (v *VeilDB) HasCapability(ctx context.Context, id types.HandleID, grantee types.Principal, kind types.CapabilityKind) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := v.handle(); err != nil {
		return false, err
	}
	return v.caps.Check(id, grantee, kind)
}

// GrantsOf lists every grant issued on a handle.
func (v *VeilDB) GrantsOf(ctx context.Context, id types.HandleID) ([]types.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.handle(); err != nil {
		return nil, err
	}
	return v.caps.GrantsOf(id)
}

// Resolve returns the metadata of a handle.
func (v *VeilDB) Resolve(ctx context.Context, id types.HandleID) (types.Handle, error) {
	if err := ctx.Err(); err != nil {
		return types.Handle{}, err
	}
	if err := v.handle(); err != nil {
		return types.Handle{}, err
	}
	return v.registry.Resolve(id)
}

// ListHandles returns the ids of every handle in the registry.
func (v *VeilDB) ListHandles(ctx context.Context) ([]types.HandleID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.handle(); err != nil {
		return nil, err
	}
	return v.registry.List()
}

// CiphertextOf returns the materialized ciphertext of a handle, or
// types.ErrNotMaterialized while the coprocessor is still evaluating it.
// The bytes are ciphertext; plaintext never passes through the core.
func (v *VeilDB) CiphertextOf(ctx context.Context, id types.HandleID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.handle(); err != nil {
		return nil, err
	}

	exists, err := v.registry.Exists(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, types.ErrUnknownHandle
	}

	digest, err := v.registry.BlobOf(id)
	if err != nil {
		return nil, err
	}
	return v.blobs.Get(digest)
}

// Flush blocks until every scheduled coprocessor evaluation has finished.
func (v *VeilDB) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.handle(); err != nil {
		return err
	}
	v.queue.Wait()
	return nil
}

// RequestDecrypt opens a private disclosure request for the requester.
func (v *VeilDB) RequestDecrypt(ctx context.Context, id types.HandleID, requester types.Principal) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if err := v.handle(); err != nil {
		return uuid.Nil, err
	}
	return v.reveals.RequestDecrypt(id, requester)
}

// Fulfill delivers a relayer-decrypted plaintext for a pending request.
func (v *VeilDB) Fulfill(ctx context.Context, requestID uuid.UUID, recipient types.Principal, plaintext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.handle(); err != nil {
		return err
	}
	return v.reveals.Fulfill(requestID, recipient, plaintext)
}

// FulfillBatch delivers plaintexts for several requests atomically.
func (v *VeilDB) FulfillBatch(ctx context.Context, requestIDs []uuid.UUID, recipients []types.Principal, plaintexts [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.handle(); err != nil {
		return err
	}
	return v.reveals.FulfillBatch(requestIDs, recipients, plaintexts)
}

// RevealPublic discloses a handle's plaintext to every principal. Distinct
// from the private path by design; there is no way to reach it through
// RequestDecrypt.
func (v *VeilDB) RevealPublic(ctx context.Context, id types.HandleID, plaintext []byte) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if err := v.handle(); err != nil {
		return uuid.Nil, err
	}
	return v.reveals.RevealPublic(id, plaintext)
}

// RevealPublicBatch discloses several (handle, plaintext) pairs atomically.
func (v *VeilDB) RevealPublicBatch(ctx context.Context, ids []types.HandleID, plaintexts [][]byte) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.handle(); err != nil {
		return nil, err
	}
	return v.reveals.RevealPublicBatch(ids, plaintexts)
}

// RevealStatus returns the current record of a reveal request.
func (v *VeilDB) RevealStatus(ctx context.Context, requestID uuid.UUID) (types.RevealRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.RevealRecord{}, err
	}
	if err := v.handle(); err != nil {
		return types.RevealRecord{}, err
	}
	return v.reveals.Status(requestID)
}

// PendingReveals lists requests still waiting for a relayer.
func (v *VeilDB) PendingReveals(ctx context.Context) ([]types.RevealRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.handle(); err != nil {
		return nil, err
	}
	return v.reveals.Pending()
}

// PublicPlaintext returns the publicly revealed plaintext of a handle.
func (v *VeilDB) PublicPlaintext(ctx context.Context, id types.HandleID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.handle(); err != nil {
		return nil, err
	}
	return v.reveals.PublicPlaintext(id)
}
