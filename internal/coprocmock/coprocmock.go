// Package coprocmock is a deterministic stand-in for the cryptographic
// coprocessor and the relayer, for tests and demos. The "ciphertexts" are
// XOR-masked encodings, not real encryption; the point is that the core
// never looks inside them, so a faithful fake is enough to exercise every
// orchestration path.
package coprocmock

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/veil-db/veildb/pkg/interfaces"
	"github.com/veil-db/veildb/pkg/types"
)

var (
	_ interfaces.Coprocessor = (*Coprocessor)(nil)
	_ interfaces.Relayer     = (*Coprocessor)(nil)
)

const (
	formatVersion = 1
	blobLen       = 1 + 1 + 8 + 8 // version, width, masked value, nonce
)

// Coprocessor implements interfaces.Coprocessor and enough extra surface
// (Encrypt, Prove, Decrypt) to play the client and the relayer in tests.
type Coprocessor struct {
	secret [16]byte
}

func New(secret string) *Coprocessor {
	c := &Coprocessor{}
	sum := sha512.Sum512([]byte("coprocmock:" + secret))
	copy(c.secret[:], sum[:16])
	return c
}

// Encrypt produces a fresh ciphertext for a plaintext value. Each call
// draws a random nonce, so two encryptions of the same value are distinct
// blobs, mirroring real probabilistic encryption.
func (c *Coprocessor) Encrypt(value uint64, width types.Width) ([]byte, error) {
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return c.seal(value, width, nonce), nil
}

// Prove binds a ciphertext to a context, producing the proof a client
// would submit alongside it.
func (c *Coprocessor) Prove(ciphertext []byte, bound types.BindingContext, width types.Width) types.Proof {
	return types.Proof{
		Payload: c.mac(ciphertext, bound, width),
		Bound:   bound,
		Width:   width,
	}
}

// VerifyProof recomputes the binding MAC. A proof made for a different
// ciphertext, context or width fails verification.
func (c *Coprocessor) VerifyProof(_ context.Context, ciphertext []byte, proof types.Proof, bound types.BindingContext) (bool, error) {
	expected := c.mac(ciphertext, bound, proof.Width)
	return bytes.Equal(proof.Payload, expected), nil
}

// Evaluate decodes the operand values, applies the opcode with wrapping
// semantics at the result width, and re-seals deterministically so that
// equal derivations materialize to equal blobs.
func (c *Coprocessor) Evaluate(_ context.Context, op types.Opcode, width types.Width, ciphertexts [][]byte) ([]byte, error) {
	values := make([]uint64, len(ciphertexts))
	for i, blob := range ciphertexts {
		value, _, err := c.open(blob)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		values[i] = value
	}

	result, err := evaluate(op, values)
	if err != nil {
		return nil, err
	}
	result &= width.Mask()

	// Deterministic nonce from the inputs keeps Evaluate a pure function.
	var seed bytes.Buffer
	seed.WriteByte(byte(op))
	for _, blob := range ciphertexts {
		seed.Write(blob)
	}
	sum := sha512.Sum512(seed.Bytes())
	var nonce [8]byte
	copy(nonce[:], sum[:8])

	return c.seal(result, width, nonce), nil
}

// TrivialEncrypt seals a plaintext constant with a zero nonce.
func (c *Coprocessor) TrivialEncrypt(_ context.Context, value uint64, width types.Width) ([]byte, error) {
	return c.seal(value, width, [8]byte{}), nil
}

// Decrypt plays the relayer: it opens a ciphertext and returns the
// plaintext value as big-endian bytes.
func (c *Coprocessor) Decrypt(_ context.Context, _ types.HandleID, ciphertext []byte) ([]byte, error) {
	value, _, err := c.open(ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, 8)
	binary.BigEndian.PutUint64(plaintext, value)
	return plaintext, nil
}

// DecodeValue is a test helper turning relayer plaintext bytes back into
// the numeric value.
func DecodeValue(plaintext []byte) uint64 {
	if len(plaintext) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(plaintext)
}

func evaluate(op types.Opcode, values []uint64) (uint64, error) {
	boolVal := func(b bool) uint64 {
		if b {
			return 1
		}
		return 0
	}

	switch op {
	case types.OpAdd:
		return values[0] + values[1], nil
	case types.OpSub:
		return values[0] - values[1], nil
	case types.OpScalarMul:
		return values[0] * values[1], nil
	case types.OpEq:
		return boolVal(values[0] == values[1]), nil
	case types.OpNe:
		return boolVal(values[0] != values[1]), nil
	case types.OpLt:
		return boolVal(values[0] < values[1]), nil
	case types.OpLe:
		return boolVal(values[0] <= values[1]), nil
	case types.OpGt:
		return boolVal(values[0] > values[1]), nil
	case types.OpGe:
		return boolVal(values[0] >= values[1]), nil
	case types.OpAnd:
		return values[0] & values[1], nil
	case types.OpOr:
		return values[0] | values[1], nil
	case types.OpSelect:
		if values[0] != 0 {
			return values[1], nil
		}
		return values[2], nil
	default:
		return 0, fmt.Errorf("coprocmock: unsupported opcode %d", op)
	}
}

func (c *Coprocessor) seal(value uint64, width types.Width, nonce [8]byte) []byte {
	blob := make([]byte, blobLen)
	blob[0] = formatVersion
	blob[1] = byte(width)
	binary.BigEndian.PutUint64(blob[2:10], (value&width.Mask())^c.pad(nonce))
	copy(blob[10:], nonce[:])
	return blob
}

func (c *Coprocessor) open(blob []byte) (uint64, types.Width, error) {
	if len(blob) != blobLen || blob[0] != formatVersion {
		return 0, 0, fmt.Errorf("coprocmock: malformed ciphertext of length %d", len(blob))
	}
	width := types.Width(blob[1])
	var nonce [8]byte
	copy(nonce[:], blob[10:])
	value := (binary.BigEndian.Uint64(blob[2:10]) ^ c.pad(nonce)) & width.Mask()
	return value, width, nil
}

func (c *Coprocessor) pad(nonce [8]byte) uint64 {
	var buf bytes.Buffer
	buf.Write(c.secret[:])
	buf.Write(nonce[:])
	sum := sha512.Sum512(buf.Bytes())
	return binary.BigEndian.Uint64(sum[:8])
}

func (c *Coprocessor) mac(ciphertext []byte, bound types.BindingContext, width types.Width) []byte {
	var buf bytes.Buffer
	buf.WriteString("bind:")
	buf.Write(c.secret[:])
	buf.Write(ciphertext)
	lenBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(bound.Subject)))
	buf.Write(lenBytes)
	buf.WriteString(string(bound.Subject))
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(bound.Actor)))
	buf.Write(lenBytes)
	buf.WriteString(string(bound.Actor))
	buf.WriteByte(byte(width))
	sum := sha512.Sum512(buf.Bytes())
	return sum[:]
}
