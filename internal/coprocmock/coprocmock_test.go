package coprocmock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-db/veildb/pkg/types"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c := New("test")
	ctx := context.Background()

	ciphertext, err := c.Encrypt(400, types.Width32)
	require.NoError(t, err)

	plaintext, err := c.Decrypt(ctx, types.HandleID{}, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), DecodeValue(plaintext))
}

func TestEncryptIsProbabilistic(t *testing.T) {
	c := New("test")

	a, err := c.Encrypt(400, types.Width32)
	require.NoError(t, err)
	b, err := c.Encrypt(400, types.Width32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptMasksToWidth(t *testing.T) {
	c := New("test")
	ctx := context.Background()

	ciphertext, err := c.Encrypt(0x1ff, types.Width8)
	require.NoError(t, err)
	plaintext, err := c.Decrypt(ctx, types.HandleID{}, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xff), DecodeValue(plaintext))
}

func TestProveVerifyRoundtrip(t *testing.T) {
	c := New("test")
	ctx := context.Background()
	bound := types.BindingContext{Subject: "s", Actor: "u"}

	ciphertext, err := c.Encrypt(1, types.Width32)
	require.NoError(t, err)
	proof := c.Prove(ciphertext, bound, types.Width32)

	ok, err := c.VerifyProof(ctx, ciphertext, proof, bound)
	require.NoError(t, err)
	assert.True(t, ok)

	// Wrong context.
	ok, err = c.VerifyProof(ctx, ciphertext, proof, types.BindingContext{Subject: "s", Actor: "v"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong ciphertext.
	other, err := c.Encrypt(1, types.Width32)
	require.NoError(t, err)
	ok, err = c.VerifyProof(ctx, other, proof, bound)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProofDifferentSecrets(t *testing.T) {
	prover := New("prover")
	verifier := New("other secret")
	ctx := context.Background()
	bound := types.BindingContext{Subject: "s", Actor: "u"}

	ciphertext, err := prover.Encrypt(1, types.Width32)
	require.NoError(t, err)
	proof := prover.Prove(ciphertext, bound, types.Width32)

	ok, err := verifier.VerifyProof(ctx, ciphertext, proof, bound)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateOps(t *testing.T) {
	c := New("test")
	ctx := context.Background()

	cases := []struct {
		name   string
		op     types.Opcode
		width  types.Width
		inputs []uint64
		want   uint64
	}{
		{"add", types.OpAdd, types.Width32, []uint64{40, 2}, 42},
		{"add wraps", types.OpAdd, types.Width8, []uint64{200, 100}, 44},
		{"sub wraps", types.OpSub, types.Width8, []uint64{1, 2}, 255},
		{"scalar mul", types.OpScalarMul, types.Width32, []uint64{6, 7}, 42},
		{"eq true", types.OpEq, types.WidthBool, []uint64{5, 5}, 1},
		{"eq false", types.OpEq, types.WidthBool, []uint64{5, 6}, 0},
		{"ne", types.OpNe, types.WidthBool, []uint64{5, 6}, 1},
		{"lt", types.OpLt, types.WidthBool, []uint64{5, 6}, 1},
		{"le equal", types.OpLe, types.WidthBool, []uint64{6, 6}, 1},
		{"gt", types.OpGt, types.WidthBool, []uint64{5, 6}, 0},
		{"ge", types.OpGe, types.WidthBool, []uint64{7, 6}, 1},
		{"and", types.OpAnd, types.WidthBool, []uint64{1, 0}, 0},
		{"or", types.OpOr, types.WidthBool, []uint64{1, 0}, 1},
		{"select true", types.OpSelect, types.Width32, []uint64{1, 100, 200}, 100},
		{"select false", types.OpSelect, types.Width32, []uint64{0, 100, 200}, 200},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertexts := make([][]byte, len(tc.inputs))
			for i, value := range tc.inputs {
				blob, err := c.Encrypt(value, types.Width64)
				require.NoError(t, err)
				ciphertexts[i] = blob
			}

			result, err := c.Evaluate(ctx, tc.op, tc.width, ciphertexts)
			require.NoError(t, err)
			plaintext, err := c.Decrypt(ctx, types.HandleID{}, result)
			require.NoError(t, err)
			assert.Equal(t, tc.want, DecodeValue(plaintext))
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	c := New("test")
	ctx := context.Background()

	a, err := c.Encrypt(40, types.Width32)
	require.NoError(t, err)
	b, err := c.Encrypt(2, types.Width32)
	require.NoError(t, err)

	first, err := c.Evaluate(ctx, types.OpAdd, types.Width32, [][]byte{a, b})
	require.NoError(t, err)
	second, err := c.Evaluate(ctx, types.OpAdd, types.Width32, [][]byte{a, b})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateRejectsMalformedBlob(t *testing.T) {
	c := New("test")
	_, err := c.Evaluate(context.Background(), types.OpAdd, types.Width32, [][]byte{{1, 2, 3}, {4}})
	assert.Error(t, err)
}

func TestTrivialEncryptDeterministic(t *testing.T) {
	c := New("test")
	ctx := context.Background()

	a, err := c.TrivialEncrypt(ctx, 7, types.Width32)
	require.NoError(t, err)
	b, err := c.TrivialEncrypt(ctx, 7, types.Width32)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	plaintext, err := c.Decrypt(ctx, types.HandleID{}, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), DecodeValue(plaintext))
}
