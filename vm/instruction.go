package vm

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Instruction is a packed 32-bit word: [opcode:8 | a:8 | b:8 | c:8]. The
// layout is fixed regardless of host endianness -- accessors always read the
// opcode out of the high byte.
type Instruction uint32

func init() {
	// Catches a miscompiled/misdeclared accessor during development; the
	// word must stay exactly 4 bytes.
	if unsafe.Sizeof(Instruction(0)) != 4 {
		panic("corevm: Instruction must be exactly 4 bytes")
	}
}

// Encode packs an opcode with three raw byte operands.
func Encode(op Opcode, a, b, c byte) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16 | uint32(b)<<8 | uint32(c))
}

// EncodeABC packs an opcode with a single 24-bit index operand.
func EncodeABC(op Opcode, abc uint32) Instruction {
	if abc > 0x00FFFFFF {
		panic(fmt.Sprintf("corevm: abc operand %d exceeds 24 bits", abc))
	}
	return Instruction(uint32(op)<<24 | (abc & 0x00FFFFFF))
}

// EncodeA packs an opcode with a single byte operand in a.
func EncodeA(op Opcode, a byte) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16)
}

// EncodeAB packs an opcode with a 16-bit operand in ab.
func EncodeAB(op Opcode, ab uint16) Instruction {
	return Instruction(uint32(op)<<24 | uint32(ab)<<8)
}

func (i Instruction) Op() Opcode { return Opcode(i >> 24) }
func (i Instruction) A() byte    { return byte(i >> 16) }
func (i Instruction) B() byte    { return byte(i >> 8) }
func (i Instruction) C() byte    { return byte(i) }

func (i Instruction) AB() uint16 { return uint16(i >> 8) }
func (i Instruction) BC() uint16 { return uint16(i) }
func (i Instruction) ABC() uint32 { return uint32(i) & 0x00FFFFFF }

func (i Instruction) I8() int8   { return int8(i.A()) }
func (i Instruction) I16() int16 { return int16(i.AB()) }
func (i Instruction) U8() uint8  { return i.A() }
func (i Instruction) U16() uint16 { return i.AB() }

// Char is the low 7 bits of a -- the core's defined ASCII immediate, see
// SPEC_FULL.md section 12 for why the wider UTF-8 alternative was not
// adopted for the immediate path.
func (i Instruction) Char() byte { return i.A() & 0x7F }
func (i Instruction) Bool() bool { return i.A() != 0 }

func (i Instruction) String() string {
	if i.Op().UsesABCIndex() {
		return fmt.Sprintf("%s %d", i.Op(), i.ABC())
	}
	return fmt.Sprintf("%s %d", i.Op(), i.A())
}

// Bytes renders the instruction as a 4-byte big-endian wire word, for the
// implementations mentioned in SPEC_FULL.md section 6 that choose to persist
// bytecode.
func (i Instruction) Bytes() [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(i))
	return out
}

// InstructionFromBytes reverses Bytes.
func InstructionFromBytes(b []byte) Instruction {
	return Instruction(binary.BigEndian.Uint32(b))
}

// extensionStack is the side-channel LIFO of 24-bit words documented in
// SPEC_FULL.md section 4.1. It is intentionally tiny and not a general
// operand stack.
type extensionStack struct {
	words []uint32
}

func (s *extensionStack) push(w uint32) {
	s.words = append(s.words, w)
}

func (s *extensionStack) pop() (uint32, error) {
	n := len(s.words)
	if n == 0 {
		return 0, errStackUnderflow
	}
	w := s.words[n-1]
	s.words = s.words[:n-1]
	return w, nil
}

func (s *extensionStack) depth() int { return len(s.words) }
