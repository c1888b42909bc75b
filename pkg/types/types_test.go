package types_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veil-db/veildb/pkg/types"
)

func TestDerivedIDDeterministic(t *testing.T) {
	a := types.ConstantID("subject", types.Width32, 1)
	b := types.ConstantID("subject", types.Width32, 2)

	first := types.DerivedID("subject", types.OpAdd, []types.HandleID{a, b})
	second := types.DerivedID("subject", types.OpAdd, []types.HandleID{a, b})
	assert.Equal(t, first, second)
}

func TestDerivedIDDependsOnSubject(t *testing.T) {
	a := types.ConstantID("s1", types.Width32, 1)
	b := types.ConstantID("s1", types.Width32, 2)

	one := types.DerivedID("s1", types.OpAdd, []types.HandleID{a, b})
	other := types.DerivedID("s2", types.OpAdd, []types.HandleID{a, b})
	assert.NotEqual(t, one, other)
}

func TestDerivedIDDependsOnOpcodeAndOrder(t *testing.T) {
	a := types.ConstantID("s", types.Width32, 1)
	b := types.ConstantID("s", types.Width32, 2)

	add := types.DerivedID("s", types.OpAdd, []types.HandleID{a, b})
	sub := types.DerivedID("s", types.OpSub, []types.HandleID{a, b})
	subReversed := types.DerivedID("s", types.OpSub, []types.HandleID{b, a})

	assert.NotEqual(t, add, sub)
	assert.NotEqual(t, sub, subReversed)
}

func TestDerivedIDOperandSubjectNoConcatenationCollision(t *testing.T) {
	a := types.ConstantID("s", types.Width32, 1)
	b := types.ConstantID("s", types.Width32, 2)

	// Folding the last operand's bytes into the subject must not reproduce
	// the preimage of the two-operand derivation.
	two := types.DerivedID("X", types.OpSub, []types.HandleID{a, b})
	one := types.DerivedID(types.Principal(string(b[:])+"X"), types.OpSub, []types.HandleID{a})
	assert.NotEqual(t, two, one)
}

func TestExternalIDBindsContext(t *testing.T) {
	blob := types.BlobDigest([]byte("ciphertext"))

	base := types.ExternalID(blob, types.BindingContext{Subject: "s1", Actor: "u1"})
	otherActor := types.ExternalID(blob, types.BindingContext{Subject: "s1", Actor: "u2"})
	otherSubject := types.ExternalID(blob, types.BindingContext{Subject: "s2", Actor: "u1"})

	assert.NotEqual(t, base, otherActor)
	assert.NotEqual(t, base, otherSubject)
}

func TestExternalIDContextNoConcatenationCollision(t *testing.T) {
	blob := types.BlobDigest([]byte("ciphertext"))

	one := types.ExternalID(blob, types.BindingContext{Subject: "ab", Actor: "c"})
	other := types.ExternalID(blob, types.BindingContext{Subject: "a", Actor: "bc"})
	assert.NotEqual(t, one, other)
}

func TestOpcodeProperties(t *testing.T) {
	commutative := []types.Opcode{types.OpAdd, types.OpAnd, types.OpOr, types.OpEq}
	for _, op := range commutative {
		assert.True(t, op.Commutative(), op.String())
	}

	nonCommutative := []types.Opcode{
		types.OpSub, types.OpScalarMul, types.OpNe, types.OpLt,
		types.OpLe, types.OpGt, types.OpGe, types.OpSelect,
	}
	for _, op := range nonCommutative {
		assert.False(t, op.Commutative(), op.String())
	}

	assert.Equal(t, 3, types.OpSelect.Arity())
	assert.Equal(t, 2, types.OpAdd.Arity())
	assert.False(t, types.Opcode(0).Valid())
	assert.False(t, types.Opcode(200).Valid())
}

func TestWidthValid(t *testing.T) {
	for _, w := range []types.Width{
		types.WidthBool, types.Width8, types.Width16, types.Width32, types.Width64,
	} {
		assert.True(t, w.Valid(), w.String())
	}
	assert.False(t, types.Width(0).Valid())
	assert.False(t, types.Width(6).Valid())
	assert.False(t, types.Width(99).Valid())
}

func TestWidthMask(t *testing.T) {
	assert.Equal(t, uint64(1), types.WidthBool.Mask())
	assert.Equal(t, uint64(0xFF), types.Width8.Mask())
	assert.Equal(t, uint64(0xFFFF), types.Width16.Mask())
	assert.Equal(t, uint64(0xFFFFFFFF), types.Width32.Mask())
	assert.Equal(t, ^uint64(0), types.Width64.Mask())
}

func TestPermissionDeniedErrorMatches(t *testing.T) {
	var id types.HandleID
	id[0] = 7

	err := &types.PermissionDeniedError{Handle: id, Grantee: "alice", Kind: types.CapCompute}
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "compute")
}

func TestTypeMismatchErrorMatches(t *testing.T) {
	err := &types.TypeMismatchError{
		Opcode: types.OpAnd,
		Want:   types.WidthBool,
		Got:    types.Width32,
	}
	assert.True(t, errors.Is(err, types.ErrTypeMismatch))
	assert.Contains(t, err.Error(), "bool")
	assert.Contains(t, err.Error(), "uint32")
}
