// Package capability tracks who may compute with or decrypt each handle.
// Grants are idempotent and monotonic: issuing the same grant twice is a
// no-op, and an issued grant is never retracted by the core. Callers that
// need revocation bookkeeping must layer it on top; the underlying
// authorization stays in place.
package capability

import (
	"fmt"
	"log/slog"

	"github.com/veil-db/veildb/internal/keyvalstore"
	"github.com/veil-db/veildb/pkg/types"
)

const prefixGrant = "acl:grant:"

type Table struct {
	kv  *keyvalstore.Store
	log *slog.Logger
}

func NewTable(kv *keyvalstore.Store, log *slog.Logger) *Table {
	return &Table{kv: kv, log: log}
}

// Grant issues a capability. Granting Decrypt before Compute or vice versa
// is accepted; the table mandates no ordering. A grant that already exists
// is silently kept: rewriting a presence key is an idempotent no-op.
func (t *Table) Grant(id types.HandleID, grantee types.Principal, kind types.CapabilityKind) error {
	if grantee == "" {
		return fmt.Errorf("veildb: grantee must not be empty")
	}

	if err := t.kv.Write(grantKey(id, grantee, kind), []byte{1}); err != nil {
		return fmt.Errorf("store grant: %w", err)
	}

	t.log.Debug("capability granted",
		"handle", id.String()[:16],
		"grantee", string(grantee),
		"kind", kind.String(),
	)
	return nil
}

// Check reports whether the grantee holds the capability on the handle.
func (t *Table) Check(id types.HandleID, grantee types.Principal, kind types.CapabilityKind) (bool, error) {
	ok, err := t.kv.Has(grantKey(id, grantee, kind))
	if err != nil {
		return false, fmt.Errorf("read grant: %w", err)
	}
	return ok, nil
}

// Require fails with a PermissionDeniedError unless the grantee holds the
// capability. Decrypt-ability of a handle never substitutes for
// compute-ability: the kinds are checked independently.
func (t *Table) Require(id types.HandleID, grantee types.Principal, kind types.CapabilityKind) error {
	ok, err := t.Check(id, grantee, kind)
	if err != nil {
		return err
	}
	if !ok {
		return &types.PermissionDeniedError{Handle: id, Grantee: grantee, Kind: kind}
	}
	return nil
}

// GrantsOf lists every grant issued on a handle, for audit. Read-only;
// listing does not weaken monotonicity.
func (t *Table) GrantsOf(id types.HandleID) ([]types.Grant, error) {
	prefix := append([]byte(prefixGrant), id[:]...)
	items, err := t.kv.GetItemsWithPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var grants []types.Grant
	for _, item := range items {
		grant, err := parseGrantKey(item[0])
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// grantKey is prefix + 64-byte handle id + kind byte + grantee bytes. The
// id and kind have fixed size, so the grantee needs no escaping.
func grantKey(id types.HandleID, grantee types.Principal, kind types.CapabilityKind) []byte {
	key := make([]byte, 0, len(prefixGrant)+64+1+len(grantee))
	key = append(key, prefixGrant...)
	key = append(key, id[:]...)
	key = append(key, byte(kind))
	key = append(key, grantee...)
	return key
}

func parseGrantKey(key []byte) (types.Grant, error) {
	body := key[len(prefixGrant):]
	if len(body) < 64+1 {
		return types.Grant{}, fmt.Errorf("malformed grant key of length %d", len(key))
	}

	var grant types.Grant
	copy(grant.Handle[:], body[:64])
	grant.Kind = types.CapabilityKind(body[64])
	grant.Grantee = types.Principal(body[65:])
	return grant, nil
}
