package types

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrUnknownHandle is returned when resolving an id the registry has
	// never seen.
	ErrUnknownHandle = errors.New("veildb: unknown handle")
	// ErrInvalidProof is returned when the coprocessor rejects an
	// admission proof.
	ErrInvalidProof = errors.New("veildb: invalid admission proof")
	// ErrContextMismatch is returned when a proof is valid but bound to a
	// different (subject, principal) pair than the one presented.
	ErrContextMismatch = errors.New("veildb: proof bound to different context")
	// ErrPermissionDenied anchors errors.Is checks for
	// PermissionDeniedError values.
	ErrPermissionDenied = errors.New("veildb: permission denied")
	// ErrTypeMismatch anchors errors.Is checks for TypeMismatchError
	// values.
	ErrTypeMismatch = errors.New("veildb: operand type mismatch")
	// ErrAlreadyFulfilled is returned when a reveal record already left
	// the pending state. Terminal reveal states are final.
	ErrAlreadyFulfilled = errors.New("veildb: reveal already finalized")
	// ErrRequesterMismatch is returned when a plaintext is delivered to a
	// principal other than the original requester.
	ErrRequesterMismatch = errors.New("veildb: recipient is not the requester")
	// ErrBatchLengthMismatch is returned when a batch reveal's handle and
	// plaintext lists differ in length. No record transitions.
	ErrBatchLengthMismatch = errors.New("veildb: batch length mismatch")
	// ErrUnknownRequest is returned for reveal request ids that were
	// never created.
	ErrUnknownRequest = errors.New("veildb: unknown reveal request")
	// ErrNotMaterialized is returned when a handle's ciphertext has not
	// been produced by the coprocessor yet.
	ErrNotMaterialized = errors.New("veildb: ciphertext not materialized yet")
)

// PermissionDeniedError reports the exact handle and capability kind a
// principal was missing. It matches ErrPermissionDenied via errors.Is.
type PermissionDeniedError struct {
	Handle  HandleID
	Grantee Principal
	Kind    CapabilityKind
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("veildb: %s lacks %s grant on handle %s",
		e.Grantee, e.Kind, shortID(e.Handle))
}

func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// TypeMismatchError reports an operand whose width is incompatible with the
// opcode. It matches ErrTypeMismatch via errors.Is.
type TypeMismatchError struct {
	Opcode Opcode
	Handle HandleID
	Want   Width
	Got    Width
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("veildb: opcode %s wants %s operand, handle %s is %s",
		e.Opcode, e.Want, shortID(e.Handle), e.Got)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

func shortID(id HandleID) string {
	return hex.EncodeToString(id[:8])
}

// String returns the full hex form of the id.
func (id HandleID) String() string {
	return hex.EncodeToString(id[:])
}

// String returns the full hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
