// Package testutil holds helpers shared by package tests.
package testutil

import (
	"flag"
	"io"
	"log/slog"
	"testing"

	"github.com/veil-db/veildb/internal/keyvalstore"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

// OpenStore opens a throwaway keyvalstore in a test temp dir and closes it
// when the test ends.
func OpenStore(t *testing.T) *keyvalstore.Store {
	t.Helper()

	kv, err := keyvalstore.NewStore(keyvalstore.StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 0,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := kv.Close(); err != nil {
			t.Errorf("close test store: %v", err)
		}
	})
	return kv
}
