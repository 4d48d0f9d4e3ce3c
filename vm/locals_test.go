package vm

import "testing"

func TestLocalSlotsLayout(t *testing.T) {
	types := NewTypeTable()
	locals := NewLocalSlots()

	locals.AddSlot(types, PrimitiveType(TagU64))
	locals.AddSlot(types, PrimitiveType(TagU8))

	assert(t, locals.NumSlots() == 2, "expected 2 slots, got %d", locals.NumSlots())
	assert(t, locals.TotalSize() == 9, "expected total size 9, got %d", locals.TotalSize())

	_, addr0, err := locals.SlotInfo(0, 100)
	assert(t, err == nil, "SlotInfo(0) failed: %s", err)
	assert(t, addr0 == 100, "expected slot 0 at address 100, got %d", addr0)

	_, addr1, err := locals.SlotInfo(1, 100)
	assert(t, err == nil, "SlotInfo(1) failed: %s", err)
	assert(t, addr1 == 108, "expected slot 1 at address 108, got %d", addr1)
}

func TestLocalSlotsFoldsNestedHeapOffsets(t *testing.T) {
	types := NewTypeTable()

	holder := NewTypeDefinition("holder")
	holder.AddField(types, Field{Name: "tag", Type: PrimitiveType(TagU8)})
	holder.AddField(types, Field{Name: "ref", Type: HeapDataType(0)})
	holderIdx, err := types.Insert(holder)
	assert(t, err == nil, "Insert holder failed: %s", err)

	locals := NewLocalSlots()
	locals.AddSlot(types, PrimitiveType(TagU32))
	locals.AddSlot(types, LocalDataType(holderIdx))

	refs := locals.HeapReferences(0)
	assert(t, len(refs) == 1, "expected exactly one folded-in heap offset, got %d", len(refs))
	assert(t, refs[0] == 5, "expected the nested heap offset at byte 5, got %d", refs[0])
}

func TestLocalSlotsOutOfRange(t *testing.T) {
	locals := NewLocalSlots()
	_, _, err := locals.SlotInfo(0, 0)
	assert(t, err != nil, "expected an out-of-range error on an empty slot list")
}
