package vm

/*
	Opcodes for the core interpreter.

	Every instruction is a packed 32-bit word: [opcode:8 | a:8 | b:8 | c:8].
	Most opcodes treat a/b/c as a single 24-bit index (abc) into one of the
	runtime tables (constants, functions, locals, flattened fields). A few
	treat the a byte (or the 16-bit ab pair) as a signed/unsigned immediate
	instead.

		halt                         terminates the loop
		add, sub, mul, div           pop b, pop a, push a <op> b (tags must match)
		print                        pop value, write to the debug sink
		call        <abc=func idx>   push a new frame, jump to the callee
		ret                          zero+decref locals, pop frame, resume caller
		local_store <abc=slot idx>   pop value, write to local slot
		local_read  <abc=slot idx>   read local slot, push value
		data_type_create <abc=slot>  pop T.num_flattened_fields values, write record
		data_type_set_field <abc=slot, requires extend>  pop value, write one field
		data_type_read_field <abc=slot, requires extend> read one field, push value
		heap_alloc  <abc=slot idx>   allocate record on heap, push pointer
		heap_store  <abc=field idx>  pop value, pop pointer, write field, re-push value
		heap_read   <abc=field idx>  pop pointer, read field, push value
		extend      <abc=aux index>  push a 24-bit word onto the extension stack
		imm_i8, imm_i16, imm_u8, imm_u16, imm_char, imm_bool   push literal from a/ab
		const       <abc=const idx>  push a copy of a pooled constant

	See the interpreter loop in vm.go for how abc/ab/a are interpreted per
	opcode, and instruction.go for the bit-level encoding.
*/

type Opcode byte

const (
	Halt Opcode = 0x00

	Add Opcode = 0x10
	Sub Opcode = 0x11
	Mul Opcode = 0x12
	Div Opcode = 0x13

	Print Opcode = 0x20

	Call Opcode = 0x30
	Ret  Opcode = 0x31

	LocalStore Opcode = 0x40
	LocalRead  Opcode = 0x41

	DataTypeCreate    Opcode = 0x50
	DataTypeSetField  Opcode = 0x51
	DataTypeReadField Opcode = 0x52

	HeapAlloc Opcode = 0x60
	HeapStore Opcode = 0x61
	HeapRead  Opcode = 0x62

	Extend Opcode = 0x70

	ImmI8   Opcode = 0x80
	ImmI16  Opcode = 0x81
	ImmU8   Opcode = 0x82
	ImmU16  Opcode = 0x83
	ImmChar Opcode = 0x84
	ImmBool Opcode = 0x85

	Const Opcode = 0x90
)

var (
	// Maps from string -> opcode, built by hand; the reverse map is derived in init().
	strToOpcodeMap = map[string]Opcode{
		"halt":                  Halt,
		"add":                   Add,
		"sub":                   Sub,
		"mul":                   Mul,
		"div":                   Div,
		"print":                 Print,
		"call":                  Call,
		"ret":                   Ret,
		"local_store":           LocalStore,
		"local_read":            LocalRead,
		"data_type_create":      DataTypeCreate,
		"data_type_set_field":   DataTypeSetField,
		"data_type_read_field":  DataTypeReadField,
		"heap_alloc":            HeapAlloc,
		"heap_store":            HeapStore,
		"heap_read":             HeapRead,
		"extend":                Extend,
		"imm_i8":                ImmI8,
		"imm_i16":               ImmI16,
		"imm_u8":                ImmU8,
		"imm_u16":               ImmU16,
		"imm_char":              ImmChar,
		"imm_bool":              ImmBool,
		"const":                 Const,
	}

	opcodeToStrMap map[Opcode]string
)

func init() {
	opcodeToStrMap = make(map[Opcode]string, len(strToOpcodeMap))
	for s, op := range strToOpcodeMap {
		opcodeToStrMap[op] = s
	}
}

func (op Opcode) String() string {
	if s, ok := opcodeToStrMap[op]; ok {
		return s
	}
	return "?unknown?"
}

// IsArithmetic reports whether op is one of add/sub/mul/div.
func (op Opcode) IsArithmetic() bool {
	return op == Add || op == Sub || op == Mul || op == Div
}

// UsesABCIndex reports whether op interprets its operand as a single 24-bit
// table index rather than a narrower immediate.
func (op Opcode) UsesABCIndex() bool {
	switch op {
	case Call, LocalStore, LocalRead, DataTypeCreate, DataTypeSetField,
		DataTypeReadField, HeapAlloc, HeapStore, HeapRead, Extend, Const:
		return true
	default:
		return false
	}
}

// RequiresExtension reports whether op must be preceded by an extend word.
func (op Opcode) RequiresExtension() bool {
	return op == DataTypeSetField || op == DataTypeReadField
}
