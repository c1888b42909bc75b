package capability

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-db/veildb/internal/testutil"
	"github.com/veil-db/veildb/pkg/types"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	return NewTable(testutil.OpenStore(t), slog.Default())
}

func testHandleID(seed byte) types.HandleID {
	var id types.HandleID
	for i := range id {
		id[i] = seed
	}
	return id
}

func TestGrantIdempotent(t *testing.T) {
	table := newTestTable(t)
	id := testHandleID(1)

	require.NoError(t, table.Grant(id, "alice", types.CapDecrypt))
	require.NoError(t, table.Grant(id, "alice", types.CapDecrypt))

	grants, err := table.GrantsOf(id)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestGrantOrderIndependent(t *testing.T) {
	table := newTestTable(t)

	// Decrypt before Compute on one handle, Compute before Decrypt on the
	// other; both orderings are accepted.
	first := testHandleID(1)
	require.NoError(t, table.Grant(first, "s", types.CapDecrypt))
	require.NoError(t, table.Grant(first, "s", types.CapCompute))

	second := testHandleID(2)
	require.NoError(t, table.Grant(second, "s", types.CapCompute))
	require.NoError(t, table.Grant(second, "s", types.CapDecrypt))

	for _, id := range []types.HandleID{first, second} {
		for _, kind := range []types.CapabilityKind{types.CapCompute, types.CapDecrypt} {
			ok, err := table.Check(id, "s", kind)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	}
}

func TestDecryptDoesNotImplyCompute(t *testing.T) {
	table := newTestTable(t)
	id := testHandleID(3)

	require.NoError(t, table.Grant(id, "subject", types.CapDecrypt))

	ok, err := table.Check(id, "subject", types.CapCompute)
	require.NoError(t, err)
	assert.False(t, ok)

	err = table.Require(id, "subject", types.CapCompute)
	assert.ErrorIs(t, err, types.ErrPermissionDenied)
}

func TestRequireReportsHandleAndKind(t *testing.T) {
	table := newTestTable(t)
	id := testHandleID(4)

	err := table.Require(id, "bob", types.CapDecrypt)
	require.Error(t, err)

	var denied *types.PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, id, denied.Handle)
	assert.Equal(t, types.Principal("bob"), denied.Grantee)
	assert.Equal(t, types.CapDecrypt, denied.Kind)
}

func TestCheckDistinguishesGrantees(t *testing.T) {
	table := newTestTable(t)
	id := testHandleID(5)

	require.NoError(t, table.Grant(id, "alice", types.CapDecrypt))

	ok, err := table.Check(id, "alicia", types.CapDecrypt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantRejectsEmptyGrantee(t *testing.T) {
	table := newTestTable(t)

	err := table.Grant(testHandleID(6), "", types.CapCompute)
	assert.Error(t, err)
}

func TestGrantsOfListsAllKinds(t *testing.T) {
	table := newTestTable(t)
	id := testHandleID(7)

	require.NoError(t, table.Grant(id, "subject", types.CapCompute))
	require.NoError(t, table.Grant(id, "alice", types.CapDecrypt))
	require.NoError(t, table.Grant(id, "bob", types.CapDecrypt))

	grants, err := table.GrantsOf(id)
	require.NoError(t, err)
	require.Len(t, grants, 3)

	for _, grant := range grants {
		assert.Equal(t, id, grant.Handle)
	}

	other, err := table.GrantsOf(testHandleID(8))
	require.NoError(t, err)
	assert.Empty(t, other)
}
