// Package interfaces declares the external collaborators VeilDB depends
// on. The core never performs homomorphic math or decryption itself; it
// orchestrates handles referencing ciphertexts held behind these
// interfaces.
package interfaces

import (
	"context"

	"github.com/veil-db/veildb/pkg/types"
)

// Coprocessor performs proof verification and homomorphic evaluation.
// Evaluate runs off the critical path: handle creation never waits for it.
type Coprocessor interface {
	// VerifyProof checks that ciphertext is a well-formed encryption
	// bound to exactly the given context at the proof's declared width.
	VerifyProof(ctx context.Context, ciphertext []byte, proof types.Proof, bound types.BindingContext) (bool, error)

	// Evaluate applies the opcode to the operand ciphertexts and returns
	// the resulting ciphertext. Operand order matches the handle's
	// operand order.
	Evaluate(ctx context.Context, op types.Opcode, width types.Width, ciphertexts [][]byte) ([]byte, error)

	// TrivialEncrypt wraps a plaintext constant into a ciphertext so it
	// can participate in evaluation.
	TrivialEncrypt(ctx context.Context, value uint64, width types.Width) ([]byte, error)
}

// Relayer decrypts ciphertexts out-of-band for the private reveal path.
// Relayers watch pending reveal records and deliver plaintexts back
// through the workflow's Fulfill entry point; the core exposes no push
// mechanism beyond that.
type Relayer interface {
	Decrypt(ctx context.Context, handle types.HandleID, ciphertext []byte) ([]byte, error)
}
