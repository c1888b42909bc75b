package types

// Opcode identifies one symbolic operation over handles. The executor never
// sees plaintext; opcodes only describe what the coprocessor will evaluate.
type Opcode uint8

const (
	OpAdd Opcode = iota + 1
	OpSub
	OpScalarMul
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpSelect
)

func (op Opcode) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpScalarMul:
		return "scalar_mul"
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpSelect:
		return "select"
	default:
		return "unknown"
	}
}

// Arity returns the operand count the opcode expects.
func (op Opcode) Arity() int {
	if op == OpSelect {
		return 3
	}
	return 2
}

// Commutative reports whether operand order is irrelevant for the opcode.
// Only commutative derivations collapse (a,b) and (b,a) to one handle.
func (op Opcode) Commutative() bool {
	switch op {
	case OpAdd, OpAnd, OpOr, OpEq:
		return true
	default:
		return false
	}
}

// Comparison reports whether the opcode produces an encrypted boolean from
// two same-width numeric operands.
func (op Opcode) Comparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

// Boolean reports whether the opcode combines encrypted booleans.
func (op Opcode) Boolean() bool {
	return op == OpAnd || op == OpOr
}

// Arithmetic reports whether the opcode is numeric. Arithmetic wraps
// silently at the operand width; callers that need bounds must layer
// comparison opcodes in front.
func (op Opcode) Arithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpScalarMul:
		return true
	default:
		return false
	}
}

// Valid reports whether the opcode is one of the supported families.
func (op Opcode) Valid() bool {
	return op >= OpAdd && op <= OpSelect
}
