// Package types holds the shared data model of VeilDB: handle identifiers,
// handle records, binding contexts, capability kinds and reveal records.
// Handles are immutable once created; "updating a value" always means
// deriving a new handle, never editing one in place.
package types

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// HandleID is the content address of one encrypted value. It is a SHA-512
// digest over the handle's origin, so identical computations over identical
// operands within the same subject collapse to the same id.
type HandleID [64]byte

// Digest is the SHA-512 digest of a ciphertext blob.
type Digest [64]byte

// Principal identifies a subject-system or a user. Identity is always an
// explicit parameter; there is no ambient caller.
type Principal string

// BindingContext is the (subject-system, principal) pair an externally
// admitted ciphertext is cryptographically tied to.
type BindingContext struct {
	Subject Principal
	Actor   Principal
}

// Width tags a handle with the fixed width of its encrypted value.
type Width uint8

const (
	WidthBool Width = iota + 1
	Width8
	Width16
	Width32
	Width64
)

// Bits returns the value width in bits. WidthBool counts as one bit.
func (w Width) Bits() int {
	switch w {
	case WidthBool:
		return 1
	case Width8:
		return 8
	case Width16:
		return 16
	case Width32:
		return 32
	case Width64:
		return 64
	default:
		return 0
	}
}

// Valid reports whether w is one of the defined width tags.
func (w Width) Valid() bool {
	return w >= WidthBool && w <= Width64
}

// Mask returns the wrap-around mask for arithmetic at this width.
func (w Width) Mask() uint64 {
	bits := w.Bits()
	if bits <= 0 {
		return 0
	}
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

func (w Width) String() string {
	switch w {
	case WidthBool:
		return "bool"
	case Width8:
		return "uint8"
	case Width16:
		return "uint16"
	case Width32:
		return "uint32"
	case Width64:
		return "uint64"
	default:
		return "unknown"
	}
}

// OriginKind says how a handle entered the registry.
type OriginKind uint8

const (
	// OriginExternal marks a handle admitted through the proof gate.
	OriginExternal OriginKind = iota + 1
	// OriginDerived marks a handle produced by the operation executor.
	OriginDerived
	// OriginConstant marks a trivially encrypted plaintext constant.
	OriginConstant
)

func (o OriginKind) String() string {
	switch o {
	case OriginExternal:
		return "external"
	case OriginDerived:
		return "derived"
	case OriginConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Handle is one immutable node of the computation graph. Exactly one of the
// origin field groups is populated, selected by Origin.
type Handle struct {
	ID      HandleID
	Subject Principal // subject-system the handle is bound to
	Actor   Principal // principal the handle was created for
	Width   Width
	Origin  OriginKind

	// OriginExternal
	Blob  Digest // SHA-512 of the admitted ciphertext
	Proof Digest // SHA-512 of the admission proof payload

	// OriginDerived
	Opcode   Opcode
	Operands []HandleID

	// OriginConstant
	Value uint64

	CreatedAt time.Time
}

// Proof attests that a ciphertext is a well-formed encryption bound to
// exactly one (subject-system, principal) pair at a declared width. The
// payload is opaque to the core; only the coprocessor can verify it.
type Proof struct {
	Payload []byte
	Bound   BindingContext
	Width   Width
}

// CapabilityKind distinguishes the two authorizations a grant can carry.
type CapabilityKind uint8

const (
	// CapCompute permits the subject-system to pass the handle as an
	// operand to the executor or the reveal workflow.
	CapCompute CapabilityKind = iota + 1
	// CapDecrypt permits a principal to receive the plaintext.
	CapDecrypt
)

func (k CapabilityKind) String() string {
	switch k {
	case CapCompute:
		return "compute"
	case CapDecrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// Grant is one capability record. Grants are idempotent and monotonic:
// once issued they are never retracted by the core.
type Grant struct {
	Handle  HandleID
	Grantee Principal
	Kind    CapabilityKind
}

// RevealState is the disclosure state of one reveal record. Fulfilled and
// Revealed are terminal.
type RevealState uint8

const (
	RevealPending RevealState = iota + 1
	RevealFulfilled
	RevealRevealed
)

func (s RevealState) String() string {
	switch s {
	case RevealPending:
		return "pending"
	case RevealFulfilled:
		return "fulfilled"
	case RevealRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// RevealRecord tracks one disclosure of a handle's plaintext. Private
// records carry the requester; public records have an empty requester and
// are visible to every principal.
type RevealRecord struct {
	ID          uuid.UUID
	Handle      HandleID
	Requester   Principal
	State       RevealState
	Plaintext   []byte
	RequestedAt time.Time
	FinalizedAt time.Time
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock used outside of tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

const (
	tagExternal = "external"
	tagDerived  = "derived"
	tagConstant = "const"
)

// ExternalID computes the content address of an externally admitted
// ciphertext. The address covers the ciphertext digest and the binding
// context, never the plaintext, so two independently generated encryptions
// of the same value yield distinct handles.
func ExternalID(blob Digest, bound BindingContext) HandleID {
	var buf bytes.Buffer
	buf.WriteString(tagExternal)
	buf.Write(blob[:])
	writeContext(&buf, bound)
	return sha512.Sum512(buf.Bytes())
}

// DerivedID computes the content address of an executor result. Operand
// order must already be normalized by the caller for commutative opcodes.
func DerivedID(subject Principal, op Opcode, operands []HandleID) HandleID {
	var buf bytes.Buffer
	buf.WriteString(tagDerived)
	buf.WriteByte(byte(op))
	// The count pins the boundary between the fixed-size operand list and
	// the variable-length subject, so shifting bytes between the two can
	// never produce the same preimage.
	buf.WriteByte(byte(len(operands)))
	for _, id := range operands {
		buf.Write(id[:])
	}
	buf.WriteString(string(subject))
	return sha512.Sum512(buf.Bytes())
}

// ConstantID computes the content address of a trivially encrypted
// plaintext constant.
func ConstantID(subject Principal, width Width, value uint64) HandleID {
	var buf bytes.Buffer
	buf.WriteString(tagConstant)
	buf.WriteByte(byte(width))
	valueBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(valueBytes, value)
	buf.Write(valueBytes)
	buf.WriteString(string(subject))
	return sha512.Sum512(buf.Bytes())
}

func writeContext(buf *bytes.Buffer, bound BindingContext) {
	// Length-prefix both principals so (ab, c) and (a, bc) cannot collide.
	lenBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(bound.Subject)))
	buf.Write(lenBytes)
	buf.WriteString(string(bound.Subject))
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(bound.Actor)))
	buf.Write(lenBytes)
	buf.WriteString(string(bound.Actor))
}

// BlobDigest hashes a raw ciphertext blob.
func BlobDigest(ciphertext []byte) Digest {
	return sha512.Sum512(ciphertext)
}

// ProofDigest hashes a proof payload for the admission record.
func ProofDigest(payload []byte) Digest {
	return sha512.Sum512(payload)
}

// IsZero reports whether the id is the zero value.
func (id HandleID) IsZero() bool {
	return id == HandleID{}
}
