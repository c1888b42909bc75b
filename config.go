package veildb

import (
	"log/slog"

	"github.com/veil-db/veildb/pkg/interfaces"
	"github.com/veil-db/veildb/pkg/types"
)

// Config configures a VeilDB instance. Only Paths[0] is used at the
// moment; future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold for on-disk operations.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// Coprocessor verifies admission proofs and evaluates opcodes. Required.
	Coprocessor interfaces.Coprocessor
	// EvalWorkers sizes the background materialization pool. If 0, one
	// worker per CPU is used.
	EvalWorkers int
	// Clock is an optional time source. If nil, the system clock is used.
	Clock types.Clock
}
