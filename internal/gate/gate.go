// Package gate is the sole path by which untrusted ciphertext enters the
// registry. Every admission carries a proof that the ciphertext is a
// well-formed encryption bound to exactly one (subject-system, principal)
// pair; a proof valid for one binding context is rejected for any other.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veil-db/veildb/internal/blobstore"
	"github.com/veil-db/veildb/internal/registry"
	"github.com/veil-db/veildb/pkg/interfaces"
	"github.com/veil-db/veildb/pkg/types"
)

type Gate struct {
	coproc   interfaces.Coprocessor
	registry *registry.Registry
	blobs    *blobstore.Store
	log      *slog.Logger
}

func New(coproc interfaces.Coprocessor, reg *registry.Registry, blobs *blobstore.Store, log *slog.Logger) *Gate {
	return &Gate{
		coproc:   coproc,
		registry: reg,
		blobs:    blobs,
		log:      log,
	}
}

// VerifyAndAdmit verifies the proof and admits the ciphertext into the
// registry under the presented binding context. Nothing is persisted when
// verification fails: no handle, no blob. Re-admitting the same ciphertext
// under the same context deduplicates to the existing handle.
func (g *Gate) VerifyAndAdmit(ctx context.Context, ciphertext []byte, proof types.Proof, bound types.BindingContext) (types.Handle, error) {
	if len(ciphertext) == 0 {
		return types.Handle{}, fmt.Errorf("veildb: empty ciphertext: %w", types.ErrInvalidProof)
	}
	if !proof.Width.Valid() {
		return types.Handle{}, fmt.Errorf("veildb: proof carries unknown width tag %d: %w", proof.Width, types.ErrInvalidProof)
	}

	// A proof bound elsewhere is a replay of another principal's or
	// another subject-system's admission, even if it verifies.
	if proof.Bound != bound {
		return types.Handle{}, types.ErrContextMismatch
	}

	ok, err := g.coproc.VerifyProof(ctx, ciphertext, proof, bound)
	if err != nil {
		return types.Handle{}, fmt.Errorf("verify proof: %w", err)
	}
	if !ok {
		return types.Handle{}, types.ErrInvalidProof
	}

	blobDigest, err := g.blobs.Put(ciphertext)
	if err != nil {
		return types.Handle{}, fmt.Errorf("persist admitted ciphertext: %w", err)
	}

	handle, err := g.registry.AdmitExternal(blobDigest, types.ProofDigest(proof.Payload), bound, proof.Width)
	if err != nil {
		return types.Handle{}, err
	}

	g.log.Debug("external input admitted",
		"handle", handle.ID.String()[:16],
		"subject", string(bound.Subject),
		"actor", string(bound.Actor),
	)
	return handle, nil
}
