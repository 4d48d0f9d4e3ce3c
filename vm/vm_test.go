package vm

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

// runAndCapture redirects machine's stdout sink to an in-memory buffer, runs
// it from entry, and returns whatever was printed.
func runAndCapture(t *testing.T, machine *VirtualMachine, entry FunctionIndex) string {
	var out bytes.Buffer
	machine.stdout = bufio.NewWriter(&out)
	err := machine.Run(entry)
	assert(t, err == nil, "Run faulted: %s", err)
	return strings.TrimSpace(out.String())
}

// TestS1Arithmetic is SPEC_FULL.md section 8's S1 scenario:
// (2+2)*3 == 12.
func TestS1Arithmetic(t *testing.T) {
	machine := NewVirtualMachine()
	two, _ := machine.Constants.Add(U64Value(2))
	three, _ := machine.Constants.Add(U64Value(3))

	instrs := []Instruction{
		EncodeABC(Const, uint32(two)),
		EncodeABC(Const, uint32(two)),
		EncodeABC(Add, 0),
		EncodeABC(Const, uint32(three)),
		EncodeABC(Mul, 0),
		EncodeABC(Print, 0),
		EncodeABC(Halt, 0),
	}
	entry, err := machine.Functions.Insert("s1::main", instrs, NewLocalSlots())
	assert(t, err == nil, "Insert failed: %s", err)

	got := runAndCapture(t, machine, entry)
	assert(t, got == "U64(12)", "expected U64(12), got %q", got)
}

// TestS2LocalStoreRead is section 8's S2 scenario.
func TestS2LocalStoreRead(t *testing.T) {
	machine := NewVirtualMachine()
	c200, _ := machine.Constants.Add(U64Value(200))
	c1, _ := machine.Constants.Add(U64Value(1))

	locals := NewLocalSlots()
	locals.AddSlot(machine.Types, PrimitiveType(TagU64))

	instrs := []Instruction{
		EncodeABC(Const, uint32(c200)),
		EncodeABC(LocalStore, 0),
		EncodeABC(LocalRead, 0),
		EncodeABC(Const, uint32(c1)),
		EncodeABC(Add, 0),
		EncodeABC(Print, 0),
		EncodeABC(Halt, 0),
	}
	entry, err := machine.Functions.Insert("s2::main", instrs, locals)
	assert(t, err == nil, "Insert failed: %s", err)

	got := runAndCapture(t, machine, entry)
	assert(t, got == "U64(201)", "expected U64(201), got %q", got)
}

// TestS3CallReturn is section 8's S3 scenario. The data stack is shared
// across the call boundary (section 5): the caller leaves its argument on
// the stack and the callee's own prologue stores it into its local 0.
func TestS3CallReturn(t *testing.T) {
	machine := NewVirtualMachine()
	c1, _ := machine.Constants.Add(U64Value(1))
	c100, _ := machine.Constants.Add(U64Value(100))

	incrLocals := NewLocalSlots()
	incrLocals.AddSlot(machine.Types, PrimitiveType(TagU64))
	incrInstrs := []Instruction{
		EncodeABC(LocalStore, 0),
		EncodeABC(LocalRead, 0),
		EncodeABC(Const, uint32(c1)),
		EncodeABC(Add, 0),
		EncodeABC(Print, 0),
		EncodeABC(Ret, 0),
	}
	incrIdx, err := machine.Functions.Insert("s3::incr", incrInstrs, incrLocals)
	assert(t, err == nil, "Insert incr failed: %s", err)

	callerInstrs := []Instruction{
		EncodeABC(Const, uint32(c100)),
		EncodeABC(Call, uint32(incrIdx)),
		EncodeABC(Halt, 0),
	}
	callerIdx, err := machine.Functions.Insert("s3::caller", callerInstrs, NewLocalSlots())
	assert(t, err == nil, "Insert caller failed: %s", err)

	got := runAndCapture(t, machine, callerIdx)
	assert(t, got == "U64(101)", "expected U64(101), got %q", got)
}

// TestS4RecordConstructionAndRead is section 8's S4 scenario: values are
// popped in order, so the last-pushed value lands at flattened offset 0.
func TestS4RecordConstructionAndRead(t *testing.T) {
	machine := NewVirtualMachine()

	rgb := NewTypeDefinition("rgb")
	rgb.AddField(machine.Types, Field{Name: "red", Type: PrimitiveType(TagU8)})
	rgb.AddField(machine.Types, Field{Name: "green", Type: PrimitiveType(TagU8)})
	rgb.AddField(machine.Types, Field{Name: "blue", Type: PrimitiveType(TagU8)})
	rgbIdx, err := machine.Types.Insert(rgb)
	assert(t, err == nil, "Insert rgb failed: %s", err)

	locals := NewLocalSlots()
	locals.AddSlot(machine.Types, PrimitiveType(TagU8)) // slot 0: unused filler, matching the spec's literal slot 1 numbering
	locals.AddSlot(machine.Types, LocalDataType(rgbIdx)) // slot 1

	instrs := []Instruction{
		EncodeA(ImmU8, 1),
		EncodeA(ImmU8, 2),
		EncodeA(ImmU8, 3),
		EncodeABC(DataTypeCreate, 1),
		EncodeABC(Extend, 0),
		EncodeABC(DataTypeReadField, 1),
		EncodeABC(Print, 0),
		EncodeABC(Halt, 0),
	}
	entry, err := machine.Functions.Insert("s4::main", instrs, locals)
	assert(t, err == nil, "Insert failed: %s", err)

	got := runAndCapture(t, machine, entry)
	assert(t, got == "U8(3)", "expected U8(3), got %q", got)
}

// TestS5RecordFieldOverwrite continues S4's program with a field overwrite.
func TestS5RecordFieldOverwrite(t *testing.T) {
	machine := NewVirtualMachine()

	rgb := NewTypeDefinition("rgb")
	rgb.AddField(machine.Types, Field{Name: "red", Type: PrimitiveType(TagU8)})
	rgb.AddField(machine.Types, Field{Name: "green", Type: PrimitiveType(TagU8)})
	rgb.AddField(machine.Types, Field{Name: "blue", Type: PrimitiveType(TagU8)})
	rgbIdx, err := machine.Types.Insert(rgb)
	assert(t, err == nil, "Insert rgb failed: %s", err)

	locals := NewLocalSlots()
	locals.AddSlot(machine.Types, PrimitiveType(TagU8))
	locals.AddSlot(machine.Types, LocalDataType(rgbIdx))

	instrs := []Instruction{
		EncodeA(ImmU8, 1),
		EncodeA(ImmU8, 2),
		EncodeA(ImmU8, 3),
		EncodeABC(DataTypeCreate, 1),
		EncodeA(ImmU8, 4),
		EncodeABC(Extend, 1),
		EncodeABC(DataTypeSetField, 1),
		EncodeABC(Extend, 1),
		EncodeABC(DataTypeReadField, 1),
		EncodeABC(Print, 0),
		EncodeABC(Halt, 0),
	}
	entry, err := machine.Functions.Insert("s5::main", instrs, locals)
	assert(t, err == nil, "Insert failed: %s", err)

	got := runAndCapture(t, machine, entry)
	assert(t, got == "U8(4)", "expected U8(4), got %q", got)
}

// TestS6HeapAllocAndRead is section 8's S6 scenario: the heap_alloc pointer
// stays on the data stack for the following heap_read to consume, and
// fields are populated with the same last-pushed-lands-at-offset-0 order
// as S4.
func TestS6HeapAllocAndRead(t *testing.T) {
	machine := NewVirtualMachine()

	point := NewTypeDefinition("point")
	point.AddField(machine.Types, Field{Name: "x", Type: PrimitiveType(TagU64)})
	point.AddField(machine.Types, Field{Name: "y", Type: PrimitiveType(TagU64)})
	pointIdx, err := machine.Types.Insert(point)
	assert(t, err == nil, "Insert point failed: %s", err)

	c10, _ := machine.Constants.Add(U64Value(10))
	c20, _ := machine.Constants.Add(U64Value(20))

	locals := NewLocalSlots()
	locals.AddSlot(machine.Types, HeapDataType(pointIdx))

	instrs := []Instruction{
		EncodeABC(Const, uint32(c10)),
		EncodeABC(Const, uint32(c20)),
		EncodeABC(HeapAlloc, 0),
		EncodeABC(HeapRead, 1),
		EncodeABC(Print, 0),
		EncodeABC(Halt, 0),
	}
	entry, err := machine.Functions.Insert("s6::main", instrs, locals)
	assert(t, err == nil, "Insert failed: %s", err)

	got := runAndCapture(t, machine, entry)
	assert(t, got == "U64(10)", "expected U64(10), got %q", got)
}

// TestFrameTeardownZeroesLocalsAndFreesOwnedHeap is property #5: after ret,
// the callee's static memory range is zeroed and any heap allocation it
// exclusively owned is back on the free list.
func TestFrameTeardownZeroesLocalsAndFreesOwnedHeap(t *testing.T) {
	machine := NewVirtualMachine()

	point := NewTypeDefinition("point")
	point.AddField(machine.Types, Field{Name: "x", Type: PrimitiveType(TagU64)})
	point.AddField(machine.Types, Field{Name: "y", Type: PrimitiveType(TagU64)})
	pointIdx, err := machine.Types.Insert(point)
	assert(t, err == nil, "Insert point failed: %s", err)

	c10, _ := machine.Constants.Add(U64Value(10))
	c20, _ := machine.Constants.Add(U64Value(20))

	calleeLocals := NewLocalSlots()
	calleeLocals.AddSlot(machine.Types, HeapDataType(pointIdx))
	calleeInstrs := []Instruction{
		EncodeABC(Const, uint32(c10)),
		EncodeABC(Const, uint32(c20)),
		EncodeABC(HeapAlloc, 0),
		EncodeABC(Ret, 0),
	}
	calleeIdx, err := machine.Functions.Insert("teardown::callee", calleeInstrs, calleeLocals)
	assert(t, err == nil, "Insert callee failed: %s", err)

	callerInstrs := []Instruction{
		EncodeABC(Call, uint32(calleeIdx)),
		EncodeABC(Halt, 0),
	}
	callerIdx, err := machine.Functions.Insert("teardown::caller", callerInstrs, NewLocalSlots())
	assert(t, err == nil, "Insert caller failed: %s", err)

	err = machine.Run(callerIdx)
	assert(t, err == nil, "Run faulted: %s", err)

	assert(t, len(machine.callStack) == 1, "expected only the caller's frame to remain after the callee returns (halt does not tear down the outermost frame), got depth %d", len(machine.callStack))

	var zeroed bool
	for off := uint32(0); off < calleeLocals.TotalSize(); off++ {
		if machine.statics.bytes[off] != 0 {
			zeroed = false
			break
		}
		zeroed = true
	}
	assert(t, zeroed, "expected the callee's locals range to be zeroed after ret")

	// The pointer heap_alloc pushed stays on the shared data stack across
	// ret (only locals are frame-scoped), so it's
	// still there to inspect: the allocation it names must have been freed
	// by the callee's teardown, not merely decremented once off refcount 2.
	assert(t, len(machine.dataStack) == 1, "expected the heap_alloc pointer to still be on the data stack, got depth %d", len(machine.dataStack))
	ptr, ok := machine.dataStack[0].Pointer()
	assert(t, ok, "expected the data stack's remaining value to be a heap pointer")
	assert(t, !machine.heap.IsAllocationValid(ptr), "expected the callee's exclusively-owned allocation to be freed after ret, not leaked at a nonzero refcount")
}
