package vm

import "fmt"

// LocalSlots is the per-function static slot layout described in
// SPEC_FULL.md section 4.4: parallel types/offsets arrays plus the subset of
// offsets whose slot carries a heap reference, used at frame teardown.
type LocalSlots struct {
	types       []ValueType
	offsets     []uint32
	heapOffsets []uint32
	totalSize   uint32
}

func NewLocalSlots() *LocalSlots {
	return &LocalSlots{}
}

// AddSlot appends a slot. When vt is LocalData, any HeapData fields it
// carries (recursively) are folded into this function's heapOffsets at
// their flattened position, per the aggregate-ownership note in
// SPEC_FULL.md section 9.
func (l *LocalSlots) AddSlot(types *TypeTable, vt ValueType) LocalIndex {
	offset := l.totalSize
	idx := LocalIndex(len(l.types))
	l.types = append(l.types, vt)
	l.offsets = append(l.offsets, offset)

	switch vt.Tag() {
	case VTHeapData:
		l.heapOffsets = append(l.heapOffsets, offset)
	case VTLocalData:
		for _, ho := range types.Get(vt.TypeIndex()).HeapOffsets() {
			l.heapOffsets = append(l.heapOffsets, offset+ho)
		}
	}

	l.totalSize += vt.Size(types)
	return idx
}

func (l *LocalSlots) TotalSize() uint32 { return l.totalSize }
func (l *LocalSlots) NumSlots() int     { return len(l.types) }

// SlotInfo returns the slot's static type and its absolute byte address
// within the frame starting at frameBase.
func (l *LocalSlots) SlotInfo(idx LocalIndex, frameBase uint32) (ValueType, uint32, error) {
	if int(idx) >= len(l.types) {
		return ValueType{}, 0, fmt.Errorf("%w: local slot %d", errIndexOutOfRange, idx)
	}
	return l.types[idx], frameBase + l.offsets[idx], nil
}

// HeapReferences returns the absolute addresses of every heap-owning byte
// range within a frame based at frameBase, for teardown on ret.
func (l *LocalSlots) HeapReferences(frameBase uint32) []uint32 {
	out := make([]uint32, len(l.heapOffsets))
	for i, off := range l.heapOffsets {
		out[i] = frameBase + off
	}
	return out
}
