package vm

// Typed index wrappers around the 24-bit instruction index space (see
// SPEC_FULL.md section 4.1). Keeping these as distinct types instead of bare
// uint32 catches a table-index mismatch (a TypeIndex fed where a
// FunctionIndex was expected) at compile time.

type (
	ConstantIndex uint32
	FunctionIndex uint32
	TypeIndex     uint32
	ModuleIndex   uint32
	LocalIndex    uint32
	FieldIndex    uint32
)

// Pointer is a heap address. The zero value is the reserved "no allocation"
// null pointer (SPEC_FULL.md section 4.6); address 0 is never handed out by
// Allocate.
type Pointer uint32

const NullPointer Pointer = 0

const maxTableIndex = 1<<24 - 1
