package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// valueStore and valueReader are satisfied by both StaticMemory and Heap,
// letting the opcode handlers in vm.go share one code path regardless of
// which backing store a given slot/field lives in.
type valueStore interface {
	StoreValue(ptr uint32, v Value) StorageResult
}

type valueReader interface {
	ReadValue(ptr uint32, vt ValueType) (Value, error)
}

// StorageResult reports what store_value observed, so callers can maintain
// heap refcounts when a HeapData slot is overwritten (SPEC_FULL.md section
// 4.5/4.6).
type StorageResult struct {
	EndPtr      uint32
	IsHeapWrite bool
	OldPointer  Pointer
	NewPointer  Pointer
}

// rawMemory is the common byte-addressable backing store shared by static
// (locals) and dynamic (heap) memory. Multi-byte primitives are written
// big-endian, per SPEC_FULL.md section 3/4.5.
type rawMemory struct {
	bytes []byte
}

func (m *rawMemory) ensureCapacity(n uint32) {
	if uint32(len(m.bytes)) >= n {
		return
	}
	grown := make([]byte, n)
	copy(grown, m.bytes)
	m.bytes = grown
}

func (m *rawMemory) zero(from, to uint32) {
	for i := from; i < to; i++ {
		m.bytes[i] = 0
	}
}

// storeValue writes v's bytes at ptr and reports the previous heap pointer
// bytes that were there, if v is a HeapData write.
func (m *rawMemory) storeValue(ptr uint32, v Value) StorageResult {
	sz := v.Size()
	m.ensureCapacity(ptr + sz)

	result := StorageResult{EndPtr: ptr + sz}
	if v.Tag() == TagHeapPointer {
		result.IsHeapWrite = true
		result.OldPointer = Pointer(binary.BigEndian.Uint64(m.bytes[ptr : ptr+8]))
		result.NewPointer, _ = v.Pointer()
	}

	switch v.Tag() {
	case TagBool, TagChar, TagU8, TagI8:
		m.bytes[ptr] = byte(v.RawBits())
	case TagU16, TagI16:
		binary.BigEndian.PutUint16(m.bytes[ptr:ptr+2], uint16(v.RawBits()))
	case TagU32, TagI32, TagF32:
		binary.BigEndian.PutUint32(m.bytes[ptr:ptr+4], uint32(v.RawBits()))
	case TagU64, TagI64, TagF64, TagHeapPointer:
		binary.BigEndian.PutUint64(m.bytes[ptr:ptr+8], v.RawBits())
	}
	return result
}

// readValue reads sz=vt's size bytes at ptr and reinterprets them as the
// requested ValueType. vt must be primitive or HeapData; LocalData never
// names a single Value.
func (m *rawMemory) readValue(ptr uint32, vt ValueType) (Value, error) {
	if vt.Tag() == VTLocalData {
		return Value{}, fmt.Errorf("%w: cannot read a LocalData slot as a single value", errTypeMismatch)
	}

	if vt.Tag() == VTHeapData {
		p := Pointer(binary.BigEndian.Uint64(m.bytes[ptr : ptr+8]))
		return HeapPointerValue(p), nil
	}

	tag := vt.ValueTag()
	switch tag {
	case TagBool:
		return BoolValue(m.bytes[ptr] != 0), nil
	case TagChar:
		return CharValue(m.bytes[ptr]), nil
	case TagU8:
		return U8Value(m.bytes[ptr]), nil
	case TagI8:
		return I8Value(int8(m.bytes[ptr])), nil
	case TagU16:
		return U16Value(binary.BigEndian.Uint16(m.bytes[ptr : ptr+2])), nil
	case TagI16:
		return I16Value(int16(binary.BigEndian.Uint16(m.bytes[ptr : ptr+2]))), nil
	case TagU32:
		return U32Value(binary.BigEndian.Uint32(m.bytes[ptr : ptr+4])), nil
	case TagI32:
		return I32Value(int32(binary.BigEndian.Uint32(m.bytes[ptr : ptr+4]))), nil
	case TagF32:
		return F32Value(math.Float32frombits(binary.BigEndian.Uint32(m.bytes[ptr : ptr+4]))), nil
	case TagU64:
		return U64Value(binary.BigEndian.Uint64(m.bytes[ptr : ptr+8])), nil
	case TagI64:
		return I64Value(int64(binary.BigEndian.Uint64(m.bytes[ptr : ptr+8]))), nil
	case TagF64:
		return F64Value(math.Float64frombits(binary.BigEndian.Uint64(m.bytes[ptr : ptr+8]))), nil
	default:
		return Value{}, fmt.Errorf("%w: unreadable value type", errTypeMismatch)
	}
}

// StaticMemory backs every call frame's locals: a single growable byte
// buffer, capacity-resized on first touch (SPEC_FULL.md section 4.5).
type StaticMemory struct {
	rawMemory
}

func NewStaticMemory(initialCapacity uint32) *StaticMemory {
	return &StaticMemory{rawMemory{bytes: make([]byte, initialCapacity)}}
}

func (m *StaticMemory) EnsureCapacity(n uint32)            { m.ensureCapacity(n) }
func (m *StaticMemory) Zero(from, to uint32)                { m.zero(from, to) }
func (m *StaticMemory) StoreValue(ptr uint32, v Value) StorageResult {
	return m.storeValue(ptr, v)
}
func (m *StaticMemory) ReadValue(ptr uint32, vt ValueType) (Value, error) {
	return m.readValue(ptr, vt)
}
