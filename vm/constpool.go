package vm

import "fmt"

// ConstantPool is the append-only, deduplicated sequence of Values described
// in SPEC_FULL.md section 4.2. Dedup is a linear scan over structural
// (tag+bits) equality -- deliberately bitwise for floats, so two distinct
// NaN bit patterns never collapse into one entry.
type ConstantPool struct {
	values []Value
}

func NewConstantPool() *ConstantPool {
	return &ConstantPool{}
}

// Add returns the index of an existing structurally-equal entry if one
// exists, otherwise appends v and returns its new index.
func (p *ConstantPool) Add(v Value) (ConstantIndex, error) {
	for i, existing := range p.values {
		if existing.Equal(v) {
			return ConstantIndex(i), nil
		}
	}
	if len(p.values) >= maxTableIndex {
		return 0, fmt.Errorf("%w: constant pool exceeds %d entries", errIndexOutOfRange, maxTableIndex)
	}
	p.values = append(p.values, v)
	return ConstantIndex(len(p.values) - 1), nil
}

func (p *ConstantPool) Get(idx ConstantIndex) (Value, error) {
	if int(idx) >= len(p.values) {
		return Value{}, fmt.Errorf("%w: constant index %d", errIndexOutOfRange, idx)
	}
	return p.values[idx], nil
}

func (p *ConstantPool) Len() int { return len(p.values) }
