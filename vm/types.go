package vm

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Field is a single top-level (name, ValueType) pair, see SPEC_FULL.md
// section 3.
type Field struct {
	Name string
	Type ValueType
}

// flatField is one entry of a TypeDefinition's flattened field list -- the
// only field kind that ever appears here is primitive or HeapData; LocalData
// is always expanded away by flattenInto.
type flatField struct {
	path   string
	typ    ValueType
	offset uint32
}

// TypeDefinition is a record type: an ordered top-level field list with
// cached byte offsets, plus the recursively-flattened primitive field list
// and its dotted-path lookup map (SPEC_FULL.md section 3/4.3).
type TypeDefinition struct {
	Name string

	fields       []Field
	fieldOffsets []uint32

	flattened []flatField
	pathIndex map[string]int

	// heapOffsets holds the flattened byte offsets (relative to this type's
	// own start) whose field is HeapData -- read by LocalSlots.AddSlot when a
	// LocalData slot embeds this type, per the "aggregate ownership" note in
	// SPEC_FULL.md section 9.
	heapOffsets []uint32

	totalSize uint32
}

func NewTypeDefinition(name string) *TypeDefinition {
	return &TypeDefinition{Name: name, pathIndex: make(map[string]int)}
}

// AddField appends field to the top-level list, recursively flattening any
// embedded LocalData field using types to resolve nested definitions. types
// must already contain every TypeIndex this field (transitively) embeds --
// the builder registers leaf record types before the records that embed
// them, exactly as section 4.3 describes.
func (t *TypeDefinition) AddField(types *TypeTable, field Field) {
	offset := t.totalSize
	t.fields = append(t.fields, field)
	t.fieldOffsets = append(t.fieldOffsets, offset)

	t.flattenInto(types, field.Name, field.Type, offset)

	t.totalSize += field.Type.Size(types)
}

func (t *TypeDefinition) flattenInto(types *TypeTable, path string, vt ValueType, baseOffset uint32) {
	if vt.Tag() == VTLocalData {
		nested := types.Get(vt.TypeIndex())
		for i, nf := range nested.fields {
			childOffset := baseOffset + nested.fieldOffsets[i]
			t.flattenInto(types, path+"."+nf.Name, nf.Type, childOffset)
		}
		return
	}

	idx := len(t.flattened)
	t.flattened = append(t.flattened, flatField{path: path, typ: vt, offset: baseOffset})
	t.pathIndex[path] = idx
	if vt.Tag() == VTHeapData {
		t.heapOffsets = append(t.heapOffsets, baseOffset)
	}
}

func (t *TypeDefinition) TotalSize() uint32          { return t.totalSize }
func (t *TypeDefinition) NumFields() int             { return len(t.fields) }
func (t *TypeDefinition) NumFlattenedFields() int     { return len(t.flattened) }
func (t *TypeDefinition) Field(i int) Field           { return t.fields[i] }
func (t *TypeDefinition) FieldOffset(i int) uint32    { return t.fieldOffsets[i] }
func (t *TypeDefinition) HeapOffsets() []uint32       { return t.heapOffsets }

// FlattenedField returns the type and byte offset of flattened field idx.
func (t *TypeDefinition) FlattenedField(idx FieldIndex) (ValueType, uint32, error) {
	if int(idx) >= len(t.flattened) {
		return ValueType{}, 0, fmt.Errorf("%w: flattened field index %d", errIndexOutOfRange, idx)
	}
	f := t.flattened[idx]
	return f.typ, f.offset, nil
}

// Query resolves a dotted field path (e.g. ["color","green"]) to a
// flattened field index, per SPEC_FULL.md section 4.3.
func (t *TypeDefinition) Query(path []string) (FieldIndex, bool) {
	idx, ok := t.pathIndex[strings.Join(path, ".")]
	return FieldIndex(idx), ok
}

// TypeTable is the append-only registry of TypeDefinitions with a
// name -> TypeIndex map, see SPEC_FULL.md section 3/6.
type TypeTable struct {
	index map[string]TypeIndex
	defs  []*TypeDefinition
}

func NewTypeTable() *TypeTable {
	return &TypeTable{index: make(map[string]TypeIndex)}
}

func (t *TypeTable) Insert(def *TypeDefinition) (TypeIndex, error) {
	if _, exists := t.index[def.Name]; exists {
		return 0, fmt.Errorf("%w: type %q", errDuplicateRegistration, def.Name)
	}
	idx := TypeIndex(len(t.defs))
	t.index[def.Name] = idx
	t.defs = append(t.defs, def)
	return idx, nil
}

func (t *TypeTable) Get(idx TypeIndex) *TypeDefinition {
	return t.defs[idx]
}

func (t *TypeTable) IndexOf(name string) (TypeIndex, error) {
	idx, ok := t.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: type %q", errIndexOutOfRange, name)
	}
	return idx, nil
}

func (t *TypeTable) Size(idx TypeIndex) uint32 {
	return t.Get(idx).TotalSize()
}

// Names returns every registered type's fully-qualified name in sorted
// order, for debug output; built with golang.org/x/exp/maps and
// golang.org/x/exp/slices the way plan/pir snapshots and sorts map keys for
// deterministic printing.
func (t *TypeTable) Names() []string {
	names := maps.Keys(t.index)
	slices.Sort(names)
	return names
}
