// Package executor applies symbolic operations to handles, producing
// derived handles. It consults the capability table before consuming any
// operand and never branches on plaintext knowledge of an encrypted value:
// selection with an encrypted condition produces one handle whose
// underlying value the coprocessor decides, with no observable difference
// in control flow.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veil-db/veildb/internal/blobstore"
	"github.com/veil-db/veildb/internal/capability"
	"github.com/veil-db/veildb/internal/evalqueue"
	"github.com/veil-db/veildb/internal/registry"
	"github.com/veil-db/veildb/pkg/interfaces"
	"github.com/veil-db/veildb/pkg/types"
)

// retryDelay paces re-enqueued materializations whose operands the
// coprocessor has not produced yet. maxRetries bounds how long a job waits
// for an upstream ciphertext before giving up, so a failed upstream
// evaluation cannot keep the queue busy forever.
const (
	retryDelay = 5 * time.Millisecond
	maxRetries = 2000
)

type Executor struct {
	registry *registry.Registry
	caps     *capability.Table
	blobs    *blobstore.Store
	coproc   interfaces.Coprocessor
	queue    *evalqueue.Queue
	log      *slog.Logger
}

func New(reg *registry.Registry, caps *capability.Table, blobs *blobstore.Store, coproc interfaces.Coprocessor, queue *evalqueue.Queue, log *slog.Logger) *Executor {
	return &Executor{
		registry: reg,
		caps:     caps,
		blobs:    blobs,
		coproc:   coproc,
		queue:    queue,
		log:      log,
	}
}

// Apply derives a new handle from the operands. Every operand must carry a
// Compute grant for the acting subject; the first missing grant fails the
// whole call before any storage is touched, so no partial graph is ever
// visible. The result handle starts with an empty grant set regardless of
// the operands' grants; callers issue grants on the result explicitly.
//
// Arithmetic wraps silently at the operand width. Callers that need bounds
// must layer comparison opcodes in front; the executor performs no
// automatic range checking.
func (e *Executor) Apply(ctx context.Context, subject types.Principal, op types.Opcode, operandIDs []types.HandleID) (types.Handle, error) {
	if err := ctx.Err(); err != nil {
		return types.Handle{}, err
	}
	if !op.Valid() {
		return types.Handle{}, fmt.Errorf("veildb: unsupported opcode %d", op)
	}
	if len(operandIDs) != op.Arity() {
		return types.Handle{}, fmt.Errorf("veildb: opcode %s wants %d operands, got %d", op, op.Arity(), len(operandIDs))
	}

	operands := make([]types.Handle, len(operandIDs))
	for i, id := range operandIDs {
		handle, err := e.registry.Resolve(id)
		if err != nil {
			return types.Handle{}, err
		}
		operands[i] = handle
	}

	// All permission checks precede any derivation (atomic failure).
	for _, operand := range operands {
		if err := e.caps.Require(operand.ID, subject, types.CapCompute); err != nil {
			return types.Handle{}, err
		}
	}

	width, err := resultWidth(op, operands)
	if err != nil {
		return types.Handle{}, err
	}

	handle, created, err := e.registry.Derive(subject, op, operandIDs, width)
	if err != nil {
		return types.Handle{}, err
	}

	if created {
		e.enqueueMaterialize(handle)
	}

	return handle, nil
}

// MaterializeConstant enqueues trivial encryption of a constant handle.
func (e *Executor) MaterializeConstant(handle types.Handle) {
	if handle.Origin != types.OriginConstant {
		return
	}
	e.queue.Submit(func() {
		ciphertext, err := e.coproc.TrivialEncrypt(context.Background(), handle.Value, handle.Width)
		if err != nil {
			e.log.Error("trivial encryption failed", "handle", handle.ID.String()[:16], "error", err)
			return
		}
		e.storeResult(handle, ciphertext)
	})
}

// enqueueMaterialize schedules the coprocessor evaluation that produces
// the derived handle's ciphertext. Operands may themselves still be in
// flight; the job re-enqueues itself until their ciphertexts exist.
func (e *Executor) enqueueMaterialize(handle types.Handle) {
	retries := 0
	var job func()
	job = func() {
		ciphertexts, ready, err := e.operandCiphertexts(handle)
		if err != nil {
			e.log.Error("materialization failed", "handle", handle.ID.String()[:16], "error", err)
			return
		}
		if !ready {
			retries++
			if retries > maxRetries {
				e.log.Error("giving up on materialization, operand never materialized",
					"handle", handle.ID.String()[:16])
				return
			}
			time.Sleep(retryDelay)
			e.queue.Resubmit(job)
			return
		}

		result, err := e.coproc.Evaluate(context.Background(), handle.Opcode, handle.Width, ciphertexts)
		if err != nil {
			e.log.Error("coprocessor evaluation failed",
				"handle", handle.ID.String()[:16],
				"opcode", handle.Opcode.String(),
				"error", err,
			)
			return
		}
		e.storeResult(handle, result)
	}
	e.queue.Submit(job)
}

func (e *Executor) operandCiphertexts(handle types.Handle) ([][]byte, bool, error) {
	ciphertexts := make([][]byte, len(handle.Operands))
	for i, operandID := range handle.Operands {
		digest, err := e.registry.BlobOf(operandID)
		if err == types.ErrNotMaterialized {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		blob, err := e.blobs.Get(digest)
		if err != nil {
			return nil, false, err
		}
		ciphertexts[i] = blob
	}
	return ciphertexts, true, nil
}

func (e *Executor) storeResult(handle types.Handle, ciphertext []byte) {
	digest, err := e.blobs.Put(ciphertext)
	if err != nil {
		e.log.Error("persist evaluated ciphertext", "handle", handle.ID.String()[:16], "error", err)
		return
	}
	if err := e.registry.SetBlobOf(handle.ID, digest); err != nil {
		e.log.Error("link evaluated ciphertext", "handle", handle.ID.String()[:16], "error", err)
	}
}

// resultWidth type-checks the operands against the opcode and returns the
// width of the result. The source model treats widths as a compile-time
// guarantee; here they are enforced at apply time.
func resultWidth(op types.Opcode, operands []types.Handle) (types.Width, error) {
	switch {
	case op == types.OpScalarMul:
		cipher, scalar := operands[0], operands[1]
		if cipher.Width == types.WidthBool {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: cipher.ID, Want: types.Width64, Got: cipher.Width}
		}
		if scalar.Origin != types.OriginConstant {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: scalar.ID, Want: scalar.Width, Got: scalar.Width}
		}
		if scalar.Width != cipher.Width {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: scalar.ID, Want: cipher.Width, Got: scalar.Width}
		}
		return cipher.Width, nil

	case op.Arithmetic():
		a, b := operands[0], operands[1]
		if a.Width == types.WidthBool {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: a.ID, Want: types.Width64, Got: a.Width}
		}
		if b.Width != a.Width {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: b.ID, Want: a.Width, Got: b.Width}
		}
		return a.Width, nil

	case op.Comparison():
		a, b := operands[0], operands[1]
		if b.Width != a.Width {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: b.ID, Want: a.Width, Got: b.Width}
		}
		return types.WidthBool, nil

	case op.Boolean():
		for _, operand := range operands {
			if operand.Width != types.WidthBool {
				return 0, &types.TypeMismatchError{Opcode: op, Handle: operand.ID, Want: types.WidthBool, Got: operand.Width}
			}
		}
		return types.WidthBool, nil

	case op == types.OpSelect:
		cond, a, b := operands[0], operands[1], operands[2]
		if cond.Width != types.WidthBool {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: cond.ID, Want: types.WidthBool, Got: cond.Width}
		}
		if b.Width != a.Width {
			return 0, &types.TypeMismatchError{Opcode: op, Handle: b.ID, Want: a.Width, Got: b.Width}
		}
		return a.Width, nil

	default:
		return 0, fmt.Errorf("veildb: unsupported opcode %d", op)
	}
}
