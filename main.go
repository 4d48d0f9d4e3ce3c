package main

import (
	"flag"
	"fmt"
	"os"

	"corevm/vm"
)

// This driver builds the §8 S1 arithmetic scenario by hand through the
// builder API and runs it, as a smoke test for manual invocation: there is
// no bytecode text format or assembler in this core (see SPEC_FULL.md
// section 1/6). Its only flag, -v, prints the VM's trace ID to stderr before
// running.
func main() {
	verbose := flag.Bool("v", false, "print the trace ID before running")
	flag.Parse()

	machine := vm.NewVirtualMachine()
	if *verbose {
		fmt.Fprintf(os.Stderr, "trace=%s\n", machine.TraceID)
	}

	entry, err := buildArithmeticDemo(machine)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}

	if err := machine.Run(entry); err != nil {
		os.Exit(1)
	}
}

// buildArithmeticDemo registers a single function computing (2+2)*3 and
// printing the result, matching SPEC_FULL.md section 8's S1 scenario.
func buildArithmeticDemo(machine *vm.VirtualMachine) (vm.FunctionIndex, error) {
	if _, err := machine.Modules.Register("demo"); err != nil {
		return 0, err
	}

	two, err := machine.Constants.Add(vm.U64Value(2))
	if err != nil {
		return 0, err
	}
	three, err := machine.Constants.Add(vm.U64Value(3))
	if err != nil {
		return 0, err
	}

	instrs := []vm.Instruction{
		vm.EncodeABC(vm.Const, uint32(two)),
		vm.EncodeABC(vm.Const, uint32(two)),
		vm.EncodeABC(vm.Add, 0),
		vm.EncodeABC(vm.Const, uint32(three)),
		vm.EncodeABC(vm.Mul, 0),
		vm.EncodeABC(vm.Print, 0),
		vm.EncodeABC(vm.Halt, 0),
	}

	return machine.Functions.Insert("demo::main", instrs, vm.NewLocalSlots())
}
