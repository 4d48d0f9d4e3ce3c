package vm

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/slices"
)

const heapHeaderSize = 16

// freeBlock is one entry of the heap's size-ordered free list (SPEC_FULL.md
// section 4.6).
type freeBlock struct {
	ptr  Pointer
	size uint32
}

// Heap is the bump-allocating, size-keyed free-list allocator with
// per-allocation reference counting described in SPEC_FULL.md section 4.6.
// Address 0 is reserved as the null pointer and is never handed out.
type Heap struct {
	rawMemory
	freePtr  uint32
	freeList []freeBlock // kept sorted ascending by size
}

func NewHeap(initialCapacity uint32) *Heap {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	h := &Heap{rawMemory: rawMemory{bytes: make([]byte, initialCapacity)}}
	h.freePtr = 1 // never allocate address 0
	return h
}

// Allocate reserves space for n elements of the type named by typeIndex,
// writes the allocation header, and returns a pointer to it with refcount 1.
func (h *Heap) Allocate(types *TypeTable, typeIndex TypeIndex, n uint32) (Pointer, error) {
	elemSize := types.Size(typeIndex)
	size := heapHeaderSize + n*elemSize

	if i, ok := h.findSmallestFit(size); ok {
		block := h.freeList[i]
		h.freeList = slices.Delete(h.freeList, i, i+1)

		if residual := block.size - size; residual > 0 {
			h.insertFree(freeBlock{ptr: block.ptr + Pointer(size), size: residual})
		}

		h.writeHeader(block.ptr, 1, typeIndex, n, size)
		return block.ptr, nil
	}

	ptr := Pointer(h.freePtr)
	h.ensureCapacity(h.freePtr + size)
	h.freePtr += size
	h.writeHeader(ptr, 1, typeIndex, n, size)
	return ptr, nil
}

// findSmallestFit returns the index of the smallest free block whose size is
// still >= the requested size, per the literal wording of SPEC_FULL.md
// section 4.6 ("smallest block with block.size >= size") -- note this is
// the opposite comparison direction from original_source/dynamic_mem.rs's
// try_free_list, which this core does not follow; see DESIGN.md.
func (h *Heap) findSmallestFit(size uint32) (int, bool) {
	i, found := slices.BinarySearchFunc(h.freeList, size, func(b freeBlock, size uint32) int {
		switch {
		case b.size < size:
			return -1
		case b.size > size:
			return 1
		default:
			return 0
		}
	})
	if found {
		return i, true
	}
	if i < len(h.freeList) {
		return i, true
	}
	return 0, false
}

func (h *Heap) insertFree(b freeBlock) {
	i, _ := slices.BinarySearchFunc(h.freeList, b.size, func(b freeBlock, size uint32) int {
		switch {
		case b.size < size:
			return -1
		case b.size > size:
			return 1
		default:
			return 0
		}
	})
	h.freeList = slices.Insert(h.freeList, i, b)
}

func (h *Heap) writeHeader(ptr Pointer, refcount uint32, typeIndex TypeIndex, elementCount, totalSize uint32) {
	h.ensureCapacity(uint32(ptr) + heapHeaderSize)
	header := h.bytes[ptr : ptr+heapHeaderSize]
	binary.BigEndian.PutUint32(header[0:4], refcount)
	binary.BigEndian.PutUint32(header[4:8], uint32(typeIndex))
	binary.BigEndian.PutUint32(header[8:12], elementCount)
	binary.BigEndian.PutUint32(header[12:16], totalSize)
}

func (h *Heap) header(ptr Pointer) (refcount, typeIndex, elementCount, totalSize uint32) {
	b := h.bytes[ptr : ptr+heapHeaderSize]
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]),
		binary.BigEndian.Uint32(b[8:12]), binary.BigEndian.Uint32(b[12:16])
}

// AddReference increments the allocation's refcount.
func (h *Heap) AddReference(ptr Pointer) error {
	if ptr == NullPointer {
		return nil
	}
	refcount, typeIndex, n, size := h.header(ptr)
	if refcount == 1<<31-1 {
		return fmt.Errorf("%w: pointer %d", errReferenceOverflow, ptr)
	}
	h.writeHeader(ptr, refcount+1, TypeIndex(typeIndex), n, size)
	return nil
}

// RemoveReference decrements the allocation's refcount, freeing it (zeroing
// its bytes and returning it to the free list) if the count reaches zero.
func (h *Heap) RemoveReference(ptr Pointer) error {
	if ptr == NullPointer {
		return nil
	}
	refcount, _, _, size := h.header(ptr)
	if refcount == 0 {
		return fmt.Errorf("%w: pointer %d", errReferenceUnderflow, ptr)
	}
	if refcount == 1 {
		h.zero(uint32(ptr), uint32(ptr)+size)
		h.insertFree(freeBlock{ptr: ptr, size: size})
		return nil
	}
	_, typeIndex, n, _ := h.header(ptr)
	h.writeHeader(ptr, refcount-1, TypeIndex(typeIndex), n, size)
	return nil
}

// ReplaceReference decrements old (if non-null) and increments new (if
// non-null) -- the overwrite protocol used whenever a HeapData slot or field
// is assigned a new pointer value.
func (h *Heap) ReplaceReference(old, new Pointer) error {
	if old == new {
		return nil
	}
	if err := h.RemoveReference(old); err != nil {
		return err
	}
	return h.AddReference(new)
}

// TypeOf resolves the allocation's recorded type via the header.
func (h *Heap) TypeOf(types *TypeTable, ptr Pointer) *TypeDefinition {
	_, typeIndex, _, _ := h.header(ptr)
	return types.Get(TypeIndex(typeIndex))
}

// IsAllocationValid reports whether ptr's refcount is nonzero.
func (h *Heap) IsAllocationValid(ptr Pointer) bool {
	if ptr == NullPointer || uint32(ptr)+heapHeaderSize > uint32(len(h.bytes)) {
		return false
	}
	refcount, _, _, _ := h.header(ptr)
	return refcount > 0
}

// PayloadAddr returns the absolute byte address of the allocation's payload,
// i.e. just past the header.
func (h *Heap) PayloadAddr(ptr Pointer) uint32 { return uint32(ptr) + heapHeaderSize }

func (h *Heap) StoreValue(ptr uint32, v Value) StorageResult { return h.storeValue(ptr, v) }
func (h *Heap) ReadValue(ptr uint32, vt ValueType) (Value, error) { return h.readValue(ptr, vt) }
