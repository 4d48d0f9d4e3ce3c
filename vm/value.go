package vm

import (
	"fmt"
	"math"
)

// ValueTag discriminates the variants of Value. See SPEC_FULL.md section 3.
type ValueTag byte

const (
	TagBool ValueTag = iota
	TagChar
	TagU8
	TagU16
	TagU32
	TagU64
	TagI8
	TagI16
	TagI32
	TagI64
	TagF32
	TagF64
	TagHeapPointer
)

func (t ValueTag) String() string {
	switch t {
	case TagBool:
		return "Bool"
	case TagChar:
		return "Char"
	case TagU8:
		return "U8"
	case TagU16:
		return "U16"
	case TagU32:
		return "U32"
	case TagU64:
		return "U64"
	case TagI8:
		return "I8"
	case TagI16:
		return "I16"
	case TagI32:
		return "I32"
	case TagI64:
		return "I64"
	case TagF32:
		return "F32"
	case TagF64:
		return "F64"
	case TagHeapPointer:
		return "HeapPointer"
	default:
		return "?unknown-tag?"
	}
}

// Size returns the fixed byte width of the tag, per SPEC_FULL.md section 3.
func (t ValueTag) Size() uint32 {
	switch t {
	case TagBool, TagChar, TagU8, TagI8:
		return 1
	case TagU16, TagI16:
		return 2
	case TagU32, TagI32, TagF32:
		return 4
	case TagU64, TagI64, TagF64, TagHeapPointer:
		return 8
	default:
		return 0
	}
}

// Value is a tagged runtime datum carried on the operand stack. The payload
// is always stored in a 64-bit bit pattern regardless of tag width; narrower
// tags simply leave the high bits zero.
type Value struct {
	tag  ValueTag
	bits uint64
}

func BoolValue(b bool) Value {
	if b {
		return Value{tag: TagBool, bits: 1}
	}
	return Value{tag: TagBool, bits: 0}
}

func CharValue(c byte) Value           { return Value{tag: TagChar, bits: uint64(c & 0x7F)} }
func U8Value(v uint8) Value            { return Value{tag: TagU8, bits: uint64(v)} }
func U16Value(v uint16) Value          { return Value{tag: TagU16, bits: uint64(v)} }
func U32Value(v uint32) Value          { return Value{tag: TagU32, bits: uint64(v)} }
func U64Value(v uint64) Value          { return Value{tag: TagU64, bits: v} }
func I8Value(v int8) Value             { return Value{tag: TagI8, bits: uint64(uint8(v))} }
func I16Value(v int16) Value           { return Value{tag: TagI16, bits: uint64(uint16(v))} }
func I32Value(v int32) Value           { return Value{tag: TagI32, bits: uint64(uint32(v))} }
func I64Value(v int64) Value           { return Value{tag: TagI64, bits: uint64(v)} }
func F32Value(v float32) Value         { return Value{tag: TagF32, bits: uint64(math.Float32bits(v))} }
func F64Value(v float64) Value         { return Value{tag: TagF64, bits: math.Float64bits(v)} }
func HeapPointerValue(p Pointer) Value { return Value{tag: TagHeapPointer, bits: uint64(p)} }

func (v Value) Tag() ValueTag { return v.tag }
func (v Value) Size() uint32  { return v.tag.Size() }

// RawBits returns the raw 64-bit payload regardless of tag, for code (like
// rawMemory.storeValue) that writes a width determined by the tag rather
// than by an accessor matching it.
func (v Value) RawBits() uint64 { return v.bits }

func (v Value) Bool() bool   { return v.bits != 0 }
func (v Value) Char() byte   { return byte(v.bits) }
func (v Value) U8() uint8    { return uint8(v.bits) }
func (v Value) U16() uint16  { return uint16(v.bits) }
func (v Value) U32() uint32  { return uint32(v.bits) }
func (v Value) U64() uint64  { return v.bits }
func (v Value) I8() int8     { return int8(uint8(v.bits)) }
func (v Value) I16() int16   { return int16(uint16(v.bits)) }
func (v Value) I32() int32   { return int32(uint32(v.bits)) }
func (v Value) I64() int64   { return int64(v.bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

// Pointer extracts a heap pointer; ok is false if v does not carry one. The
// caller decides whether that is SPEC_FULL.md section 7's "pointer
// extraction from non-pointer value" fatal condition (see vm.popPointer).
func (v Value) Pointer() (Pointer, bool) {
	if v.tag != TagHeapPointer {
		return 0, false
	}
	return Pointer(v.bits), true
}

// Equal is structural on tag and raw bit pattern. Floats compare bitwise, so
// two differently-encoded NaNs are unequal here even though IEEE value
// equality would never hold for either -- this is the dedup rule the
// constant pool relies on (SPEC_FULL.md section 4.2).
func (v Value) Equal(other Value) bool {
	return v.tag == other.tag && v.bits == other.bits
}

func (v Value) String() string {
	switch v.tag {
	case TagBool:
		return fmt.Sprintf("%s(%v)", v.tag, v.Bool())
	case TagChar:
		return fmt.Sprintf("%s(%c)", v.tag, rune(v.Char()))
	case TagF32:
		return fmt.Sprintf("%s(%v)", v.tag, v.F32())
	case TagF64:
		return fmt.Sprintf("%s(%v)", v.tag, v.F64())
	case TagHeapPointer:
		return fmt.Sprintf("%s(%d)", v.tag, v.bits)
	default:
		if v.tag >= TagI8 && v.tag <= TagI64 {
			return fmt.Sprintf("%s(%d)", v.tag, v.I64())
		}
		return fmt.Sprintf("%s(%d)", v.tag, v.bits)
	}
}

// ---- ValueType ----

// TypeTag discriminates the variants of ValueType.
type TypeTag byte

const (
	VTBool TypeTag = iota
	VTChar
	VTU8
	VTU16
	VTU32
	VTU64
	VTI8
	VTI16
	VTI32
	VTI64
	VTF32
	VTF64
	VTLocalData
	VTHeapData
)

// ValueType is the static type of a slot or field. LocalData and HeapData
// both carry a TypeIndex -- HeapData's carried index is this core's
// resolution of the section 9 open question about where heap_alloc's target
// type comes from (see SPEC_FULL.md section 9/12).
type ValueType struct {
	tag       TypeTag
	typeIndex TypeIndex
}

func PrimitiveType(tag ValueTag) ValueType {
	return ValueType{tag: primitiveTypeTag(tag)}
}

func primitiveTypeTag(tag ValueTag) TypeTag {
	switch tag {
	case TagBool:
		return VTBool
	case TagChar:
		return VTChar
	case TagU8:
		return VTU8
	case TagU16:
		return VTU16
	case TagU32:
		return VTU32
	case TagU64:
		return VTU64
	case TagI8:
		return VTI8
	case TagI16:
		return VTI16
	case TagI32:
		return VTI32
	case TagI64:
		return VTI64
	case TagF32:
		return VTF32
	case TagF64:
		return VTF64
	default:
		panic("corevm: not a primitive value tag")
	}
}

func LocalDataType(idx TypeIndex) ValueType { return ValueType{tag: VTLocalData, typeIndex: idx} }
func HeapDataType(idx TypeIndex) ValueType  { return ValueType{tag: VTHeapData, typeIndex: idx} }

func (vt ValueType) Tag() TypeTag       { return vt.tag }
func (vt ValueType) TypeIndex() TypeIndex { return vt.typeIndex }
func (vt ValueType) IsPrimitive() bool  { return vt.tag <= VTF64 }

// ValueTag converts a primitive ValueType back to the operand-stack tag it
// reads/writes as. Panics for LocalData (never carried as a single Value).
func (vt ValueType) ValueTag() ValueTag {
	switch vt.tag {
	case VTBool:
		return TagBool
	case VTChar:
		return TagChar
	case VTU8:
		return TagU8
	case VTU16:
		return TagU16
	case VTU32:
		return TagU32
	case VTU64:
		return TagU64
	case VTI8:
		return TagI8
	case VTI16:
		return TagI16
	case VTI32:
		return TagI32
	case VTI64:
		return TagI64
	case VTF32:
		return TagF32
	case VTF64:
		return TagF64
	case VTHeapData:
		return TagHeapPointer
	default:
		panic("corevm: LocalData has no single ValueTag")
	}
}

// Size returns the byte width of the type. LocalData consults the type
// table for its total flattened size; everything else is fixed.
func (vt ValueType) Size(types *TypeTable) uint32 {
	if vt.tag == VTLocalData {
		return types.Get(vt.typeIndex).TotalSize()
	}
	if vt.tag == VTHeapData {
		return 8
	}
	return vt.ValueTag().Size()
}
