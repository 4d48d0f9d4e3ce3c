package vm

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ModuleName is an opaque handle returned by ModuleRegistry.Register,
// carrying the name used to qualify function/type names as "module::symbol"
// (SPEC_FULL.md section 3/6, confirmed against original_source's
// TypeId::new).
type ModuleName struct {
	name string
}

func (m ModuleName) String() string { return m.name }

// Qualify builds the fully-qualified "module::symbol" identifier.
func (m ModuleName) Qualify(symbol string) string {
	return m.name + "::" + symbol
}

// ModuleRegistry is an append-only name -> ModuleIndex map; duplicate
// registration is a fatal condition (SPEC_FULL.md section 3).
type ModuleRegistry struct {
	index map[string]ModuleIndex
	names []string
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{index: make(map[string]ModuleIndex)}
}

func (r *ModuleRegistry) Register(name string) (ModuleName, error) {
	if _, exists := r.index[name]; exists {
		return ModuleName{}, fmt.Errorf("%w: module %q", errDuplicateRegistration, name)
	}
	r.index[name] = ModuleIndex(len(r.names))
	r.names = append(r.names, name)
	return ModuleName{name: name}, nil
}

func (r *ModuleRegistry) Names() []string {
	names := maps.Keys(r.index)
	slices.Sort(names)
	return names
}

// Function owns its instruction stream and its local slot layout, see
// SPEC_FULL.md section 3.
type Function struct {
	ID     string
	Index  FunctionIndex
	Instrs []Instruction
	Locals *LocalSlots
}

// FunctionTable is the append-only name -> FunctionIndex registry.
type FunctionTable struct {
	index map[string]FunctionIndex
	fns   []*Function
}

func NewFunctionTable() *FunctionTable {
	return &FunctionTable{index: make(map[string]FunctionIndex)}
}

func (t *FunctionTable) Insert(id string, instrs []Instruction, locals *LocalSlots) (FunctionIndex, error) {
	if _, exists := t.index[id]; exists {
		return 0, fmt.Errorf("%w: function %q", errDuplicateRegistration, id)
	}
	idx := FunctionIndex(len(t.fns))
	t.index[id] = idx
	t.fns = append(t.fns, &Function{ID: id, Index: idx, Instrs: instrs, Locals: locals})
	return idx, nil
}

func (t *FunctionTable) Get(idx FunctionIndex) (*Function, error) {
	if int(idx) >= len(t.fns) {
		return nil, fmt.Errorf("%w: function index %d", errIndexOutOfRange, idx)
	}
	return t.fns[idx], nil
}

func (t *FunctionTable) IndexOf(id string) (FunctionIndex, error) {
	idx, ok := t.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: function %q", errIndexOutOfRange, id)
	}
	return idx, nil
}

func (t *FunctionTable) Names() []string {
	names := maps.Keys(t.index)
	slices.Sort(names)
	return names
}
