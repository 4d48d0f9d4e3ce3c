package vm

import (
	"errors"
	"fmt"
)

// Sentinel fatal conditions, see SPEC_FULL.md section 7. Every fault the
// interpreter can raise wraps one of these so callers can keep testing with
// errors.Is after a report has been formatted.
var (
	errStackUnderflow        = errors.New("stack underflow")
	errUnknownOpcode         = errors.New("unknown opcode")
	errTypeMismatch          = errors.New("type mismatch")
	errIndexOutOfRange       = errors.New("index out of range")
	errDuplicateRegistration = errors.New("duplicate registration")
	errReferenceOverflow     = errors.New("heap reference overflow")
	errReferenceUnderflow    = errors.New("heap reference underflow")
	errDivisionByZero        = errors.New("division by zero")
	errPointerExtraction     = errors.New("pointer extraction from non-pointer value")
	errSegmentationFault     = errors.New("segmentation fault")
)

// faultError is the panic payload the dispatch loop recovers at the top of
// Run. It carries enough context to locate the fault, mirroring the teacher's
// getDefaultRecoverFuncForVM pattern of printing the offending address. ip is
// the frame's instruction pointer as it stood at the fault; the dispatch loop
// has already advanced it past the instruction being executed.
type faultError struct {
	err      error
	traceID  string
	ip       uint32
	function FunctionIndex
	depth    int
}

func (f *faultError) Error() string {
	return fmt.Sprintf("%s (trace=%s function=%d ip=%d depth=%d)", f.err, f.traceID, f.function, f.ip, f.depth)
}

func (f *faultError) Unwrap() error { return f.err }

// fatal panics with a faultError built from the VM's current position. Every
// opcode handler that detects a violation of section 7 calls this instead of
// returning an error, matching the teacher's panic/recover-based reporting
// rather than threading an error value through every call in the hot loop.
func (vm *VirtualMachine) fatal(err error) {
	ip := uint32(0)
	fn := FunctionIndex(0)
	if vm.frame != nil {
		ip = vm.frame.ip
		fn = vm.frame.function
	}
	panic(&faultError{
		err:      err,
		traceID:  vm.TraceID.String(),
		ip:       ip,
		function: fn,
		depth:    len(vm.callStack),
	})
}

func (vm *VirtualMachine) fatalf(base error, format string, args ...any) {
	vm.fatal(fmt.Errorf("%w: "+format, append([]any{base}, args...)...))
}
