package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/google/uuid"
)

const (
	defaultStaticCapacity uint32 = 4096
	defaultHeapCapacity   uint32 = 4096
)

// VirtualMachine is the core interpreter: the builder-populated tables of
// SPEC_FULL.md section 6, plus the execution context it exclusively owns
// while running (data stack, extension stack, call stack, static memory,
// heap) per section 5.
type VirtualMachine struct {
	Modules   *ModuleRegistry
	Types     *TypeTable
	Functions *FunctionTable
	Constants *ConstantPool

	// TraceID tags every fault report from this instance, so logs from
	// several concurrently-held VirtualMachine values can be told apart --
	// see SPEC_FULL.md section 10.
	TraceID uuid.UUID

	dataStack []Value
	ext       extensionStack
	callStack []Frame

	statics *StaticMemory
	heap    *Heap

	// frame/fn are kept alongside each other as a deliberate optimization
	// (SPEC_FULL.md section 9): re-resolving the current function from
	// Functions on every instruction would mean a map/slice lookup per
	// dispatch instead of a single cached pointer.
	frame *Frame
	fn    *Function

	stdout *bufio.Writer
}

// Option configures a VirtualMachine at construction time.
type Option func(*VirtualMachine)

// WithStdout overrides the debug sink the print opcode writes to. Defaults
// to a buffered writer over os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(vm *VirtualMachine) { vm.stdout = bufio.NewWriter(w) }
}

// WithInitialStaticCapacity pre-sizes the static (locals) memory buffer.
func WithInitialStaticCapacity(n uint32) Option {
	return func(vm *VirtualMachine) { vm.statics = NewStaticMemory(n) }
}

// WithInitialHeapCapacity pre-sizes the heap buffer.
func WithInitialHeapCapacity(n uint32) Option {
	return func(vm *VirtualMachine) { vm.heap = NewHeap(n) }
}

func NewVirtualMachine(opts ...Option) *VirtualMachine {
	vm := &VirtualMachine{
		Modules:   NewModuleRegistry(),
		Types:     NewTypeTable(),
		Functions: NewFunctionTable(),
		Constants: NewConstantPool(),
		TraceID:   uuid.New(),
		statics:   NewStaticMemory(defaultStaticCapacity),
		heap:      NewHeap(defaultHeapCapacity),
		stdout:    bufio.NewWriter(os.Stdout),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Run pushes a root frame for entrypoint and executes until halt or a fatal
// fault. It disables the garbage collector for the duration of the hot
// loop, matching the teacher's RunProgram: allocation during dispatch is
// limited to heap growth, so suspending GC is cheap and worth the avoided
// collections in the tight fetch-decode-execute loop.
func (vm *VirtualMachine) Run(entrypoint FunctionIndex) (err error) {
	prevGC := currentGOGC()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prevGC)

	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*faultError); ok {
				err = fe
				fmt.Fprintf(vm.stdout, "fault: %s\n", fe)
				vm.stdout.Flush()
				return
			}
			fe := &faultError{err: errSegmentationFault, traceID: vm.TraceID.String(), depth: len(vm.callStack)}
			if vm.frame != nil {
				fe.ip = vm.frame.ip
				fe.function = vm.frame.function
			}
			err = fe
			fmt.Fprintf(vm.stdout, "fault: %s\n", err)
			vm.stdout.Flush()
		}
	}()

	fn, lookupErr := vm.Functions.Get(entrypoint)
	if lookupErr != nil {
		return lookupErr
	}

	vm.callStack = append(vm.callStack, Frame{localsBegin: 0, localsEnd: fn.Locals.TotalSize(), function: entrypoint})
	vm.frame = &vm.callStack[len(vm.callStack)-1]
	vm.fn = fn
	vm.statics.EnsureCapacity(vm.frame.localsEnd)

	vm.dispatch()
	return nil
}

func currentGOGC() int {
	if v, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 100
}

func (vm *VirtualMachine) dispatch() {
	for {
		if int(vm.frame.ip) >= len(vm.fn.Instrs) {
			vm.fatal(errIndexOutOfRange)
		}
		inst := vm.fn.Instrs[vm.frame.ip]
		vm.frame.ip++

		switch inst.Op() {
		case Halt:
			vm.stdout.Flush()
			return

		case Add, Sub, Mul, Div:
			vm.execArithmetic(inst.Op())

		case Print:
			v := vm.pop()
			fmt.Fprintln(vm.stdout, v.String())

		case Call:
			vm.execCall(FunctionIndex(inst.ABC()))

		case Ret:
			if vm.execRet() {
				vm.stdout.Flush()
				return
			}

		case LocalStore:
			vm.execLocalStore(LocalIndex(inst.ABC()))

		case LocalRead:
			vm.execLocalRead(LocalIndex(inst.ABC()))

		case DataTypeCreate:
			vm.execDataTypeCreate(LocalIndex(inst.ABC()))

		case DataTypeSetField:
			vm.execDataTypeSetField(LocalIndex(inst.ABC()))

		case DataTypeReadField:
			vm.execDataTypeReadField(LocalIndex(inst.ABC()))

		case HeapAlloc:
			vm.execHeapAlloc(LocalIndex(inst.ABC()))

		case HeapStore:
			vm.execHeapStore(FieldIndex(inst.ABC()))

		case HeapRead:
			vm.execHeapRead(FieldIndex(inst.ABC()))

		case Extend:
			vm.ext.push(inst.ABC())

		case ImmI8:
			vm.push(I8Value(inst.I8()))
		case ImmI16:
			vm.push(I16Value(inst.I16()))
		case ImmU8:
			vm.push(U8Value(inst.U8()))
		case ImmU16:
			vm.push(U16Value(inst.U16()))
		case ImmChar:
			vm.push(CharValue(inst.Char()))
		case ImmBool:
			vm.push(BoolValue(inst.Bool()))

		case Const:
			v, err := vm.Constants.Get(ConstantIndex(inst.ABC()))
			if err != nil {
				vm.fatal(err)
			}
			vm.push(v)

		default:
			vm.fatal(errUnknownOpcode)
		}
	}
}

// ---- operand stack ----

func (vm *VirtualMachine) push(v Value) { vm.dataStack = append(vm.dataStack, v) }

func (vm *VirtualMachine) pop() Value {
	n := len(vm.dataStack)
	if n == 0 {
		vm.fatal(errStackUnderflow)
	}
	v := vm.dataStack[n-1]
	vm.dataStack = vm.dataStack[:n-1]
	return v
}

func (vm *VirtualMachine) popExtension() uint32 {
	w, err := vm.ext.pop()
	if err != nil {
		vm.fatal(err)
	}
	return w
}

// ---- arithmetic ----

func (vm *VirtualMachine) execArithmetic(op Opcode) {
	b := vm.pop()
	a := vm.pop()
	if a.Tag() != b.Tag() {
		vm.fatal(errTypeMismatch)
	}
	vm.push(applyArithmetic(vm, op, a, b))
}

func applyArithmetic(vm *VirtualMachine, op Opcode, a, b Value) Value {
	switch a.Tag() {
	case TagU8, TagU16, TagU32, TagU64:
		return intArithmetic(vm, op, a.Tag(), a.U64(), b.U64(), false)
	case TagI8, TagI16, TagI32, TagI64:
		return intArithmetic(vm, op, a.Tag(), uint64(a.I64()), uint64(b.I64()), true)
	case TagF32:
		return floatArithmetic(vm, op, a.Tag(), float64(a.F32()), float64(b.F32()))
	case TagF64:
		return floatArithmetic(vm, op, a.Tag(), a.F64(), b.F64())
	default:
		vm.fatal(errTypeMismatch)
		return Value{}
	}
}

func intArithmetic(vm *VirtualMachine, op Opcode, tag ValueTag, a, b uint64, signed bool) Value {
	if op == Div && b == 0 {
		vm.fatal(errDivisionByZero)
	}
	var result uint64
	if signed {
		ai, bi := int64(a), int64(b)
		switch op {
		case Add:
			result = uint64(ai + bi)
		case Sub:
			result = uint64(ai - bi)
		case Mul:
			result = uint64(ai * bi)
		case Div:
			result = uint64(ai / bi)
		}
	} else {
		switch op {
		case Add:
			result = a + b
		case Sub:
			result = a - b
		case Mul:
			result = a * b
		case Div:
			result = a / b
		}
	}
	return reinterpretAs(tag, result)
}

func floatArithmetic(vm *VirtualMachine, op Opcode, tag ValueTag, a, b float64) Value {
	var result float64
	switch op {
	case Add:
		result = a + b
	case Sub:
		result = a - b
	case Mul:
		result = a * b
	case Div:
		result = a / b // IEEE division by zero yields +-Inf/NaN, not a fault -- see SPEC_FULL.md section 7
	}
	if tag == TagF32 {
		return F32Value(float32(result))
	}
	return F64Value(result)
}

func reinterpretAs(tag ValueTag, bits uint64) Value {
	switch tag {
	case TagU8:
		return U8Value(uint8(bits))
	case TagU16:
		return U16Value(uint16(bits))
	case TagU32:
		return U32Value(uint32(bits))
	case TagU64:
		return U64Value(bits)
	case TagI8:
		return I8Value(int8(uint8(bits)))
	case TagI16:
		return I16Value(int16(uint16(bits)))
	case TagI32:
		return I32Value(int32(uint32(bits)))
	case TagI64:
		return I64Value(int64(bits))
	default:
		panic("corevm: reinterpretAs called with non-integer tag")
	}
}

// ---- call / ret ----

func (vm *VirtualMachine) execCall(target FunctionIndex) {
	fn, err := vm.Functions.Get(target)
	if err != nil {
		vm.fatal(err)
	}

	localsBegin := vm.frame.localsEnd
	localsEnd := localsBegin + fn.Locals.TotalSize()
	vm.statics.EnsureCapacity(localsEnd)

	vm.callStack = append(vm.callStack, Frame{localsBegin: localsBegin, localsEnd: localsEnd, function: target})
	vm.frame = &vm.callStack[len(vm.callStack)-1]
	vm.fn = fn
}

// execRet tears down the current frame and pops it, reporting whether the
// call stack is now empty (the outermost frame returning is treated as
// equivalent to halt).
func (vm *VirtualMachine) execRet() bool {
	// Capture heap-owning slot pointers before zeroing, per SPEC_FULL.md
	// section 4.7's "zero-then-decref" ordering: zeroing first means no byte
	// range ever looks like a still-valid reference to a freed allocation.
	refs := vm.fn.Locals.HeapReferences(vm.frame.localsBegin)
	captured := make([]Pointer, len(refs))
	for i, addr := range refs {
		v, err := vm.statics.ReadValue(addr, HeapDataType(0))
		if err != nil {
			vm.fatal(err)
		}
		p, _ := v.Pointer()
		captured[i] = p
	}

	vm.statics.Zero(vm.frame.localsBegin, vm.frame.localsEnd)

	for _, p := range captured {
		if p != NullPointer {
			if err := vm.heap.RemoveReference(p); err != nil {
				vm.fatal(err)
			}
		}
	}

	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	if len(vm.callStack) == 0 {
		return true
	}
	vm.frame = &vm.callStack[len(vm.callStack)-1]
	fn, err := vm.Functions.Get(vm.frame.function)
	if err != nil {
		vm.fatal(err)
	}
	vm.fn = fn
	return false
}

// ---- locals ----

func (vm *VirtualMachine) slotInfo(idx LocalIndex) (ValueType, uint32) {
	vt, addr, err := vm.fn.Locals.SlotInfo(idx, vm.frame.localsBegin)
	if err != nil {
		vm.fatal(err)
	}
	return vt, addr
}

func (vm *VirtualMachine) execLocalStore(idx LocalIndex) {
	vt, addr := vm.slotInfo(idx)
	v := vm.pop()
	vm.storeTyped(vm.statics, addr, vt, v)
}

func (vm *VirtualMachine) execLocalRead(idx LocalIndex) {
	vt, addr := vm.slotInfo(idx)
	vm.push(vm.readTyped(vm.statics, addr, vt))
}

// storeTyped type-checks v against vt and writes it through mem, updating
// heap refcounts if vt is HeapData.
func (vm *VirtualMachine) storeTyped(mem valueStore, addr uint32, vt ValueType, v Value) {
	if vt.Tag() == VTHeapData {
		if v.Tag() != TagHeapPointer {
			vm.fatal(errTypeMismatch)
		}
	} else if vt.Tag() != VTLocalData && vt.ValueTag() != v.Tag() {
		vm.fatal(errTypeMismatch)
	}

	result := mem.StoreValue(addr, v)
	if result.IsHeapWrite {
		if err := vm.heap.ReplaceReference(result.OldPointer, result.NewPointer); err != nil {
			vm.fatal(err)
		}
	}
}

func (vm *VirtualMachine) readTyped(mem valueReader, addr uint32, vt ValueType) Value {
	v, err := mem.ReadValue(addr, vt)
	if err != nil {
		vm.fatal(err)
	}
	return v
}

// ---- records ----

func (vm *VirtualMachine) recordTypeOf(idx LocalIndex) (ValueType, uint32, *TypeDefinition) {
	vt, addr := vm.slotInfo(idx)
	if vt.Tag() != VTLocalData {
		vm.fatal(errTypeMismatch)
	}
	return vt, addr, vm.Types.Get(vt.TypeIndex())
}

func (vm *VirtualMachine) execDataTypeCreate(idx LocalIndex) {
	_, addr, def := vm.recordTypeOf(idx)
	n := def.NumFlattenedFields()
	for i := 0; i < n; i++ {
		fieldType, offset, err := def.FlattenedField(FieldIndex(i))
		if err != nil {
			vm.fatal(err)
		}
		v := vm.pop()
		vm.storeTyped(vm.statics, addr+offset, fieldType, v)
	}
}

func (vm *VirtualMachine) execDataTypeSetField(idx LocalIndex) {
	_, addr, def := vm.recordTypeOf(idx)
	fieldIdx := FieldIndex(vm.popExtension())
	fieldType, offset, err := def.FlattenedField(fieldIdx)
	if err != nil {
		vm.fatal(err)
	}
	v := vm.pop()
	vm.storeTyped(vm.statics, addr+offset, fieldType, v)
}

func (vm *VirtualMachine) execDataTypeReadField(idx LocalIndex) {
	_, addr, def := vm.recordTypeOf(idx)
	fieldIdx := FieldIndex(vm.popExtension())
	fieldType, offset, err := def.FlattenedField(fieldIdx)
	if err != nil {
		vm.fatal(err)
	}
	vm.push(vm.readTyped(vm.statics, addr+offset, fieldType))
}

// ---- heap ----

func (vm *VirtualMachine) execHeapAlloc(idx LocalIndex) {
	vt, addr := vm.slotInfo(idx)
	if vt.Tag() != VTHeapData {
		vm.fatal(errTypeMismatch)
	}
	typeIdx := vt.TypeIndex()
	def := vm.Types.Get(typeIdx)

	ptr, err := vm.heap.Allocate(vm.Types, typeIdx, 1)
	if err != nil {
		vm.fatal(err)
	}

	// Write the pointer directly, bypassing storeTyped's overwrite-refcount
	// protocol: Allocate already returned ptr with refcount 1 accounting for
	// this very slot, so routing through ReplaceReference would double-count
	// it (old=null adds a reference on top of Allocate's own).
	vm.statics.StoreValue(addr, HeapPointerValue(ptr))

	base := vm.heap.PayloadAddr(ptr)
	n := def.NumFlattenedFields()
	for i := 0; i < n; i++ {
		fieldType, offset, ferr := def.FlattenedField(FieldIndex(i))
		if ferr != nil {
			vm.fatal(ferr)
		}
		v := vm.pop()
		vm.storeTyped(vm.heap, base+offset, fieldType, v)
	}

	vm.push(HeapPointerValue(ptr))
}

func (vm *VirtualMachine) execHeapStore(fieldIdx FieldIndex) {
	v := vm.pop()
	ptr := vm.popPointer()
	def := vm.heap.TypeOf(vm.Types, ptr)
	fieldType, offset, err := def.FlattenedField(fieldIdx)
	if err != nil {
		vm.fatal(err)
	}
	vm.storeTyped(vm.heap, vm.heap.PayloadAddr(ptr)+offset, fieldType, v)
	vm.push(v)
}

func (vm *VirtualMachine) execHeapRead(fieldIdx FieldIndex) {
	ptr := vm.popPointer()
	def := vm.heap.TypeOf(vm.Types, ptr)
	fieldType, offset, err := def.FlattenedField(fieldIdx)
	if err != nil {
		vm.fatal(err)
	}
	vm.push(vm.readTyped(vm.heap, vm.heap.PayloadAddr(ptr)+offset, fieldType))
}

func (vm *VirtualMachine) popPointer() Pointer {
	v := vm.pop()
	p, ok := v.Pointer()
	if !ok {
		vm.fatal(errPointerExtraction)
	}
	return p
}
