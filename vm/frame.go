package vm

// Frame is a single activation record on the call stack (SPEC_FULL.md
// section 3). locals_end is always locals_begin + the owning function's
// LocalSlots.TotalSize().
type Frame struct {
	ip          uint32
	localsBegin uint32
	localsEnd   uint32
	function    FunctionIndex
}
