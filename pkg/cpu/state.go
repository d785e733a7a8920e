// Package cpu defines the host-visible CPU state record that emitted
// blocks read and mutate directly.
package cpu

import (
	"fmt"
	"unsafe"

	"github.com/bassosimone/rv32dbt/pkg/memory"
)

// NumRegisters is the number of RV32I general purpose registers.
const NumRegisters = 32

// State is the record shared between the Dispatch Loop and every
// compiled block. Between block invocations PC holds the guest address
// of the next instruction to execute. Registers[0] is the architectural
// zero register: writes to it are discarded by the IR Emitter, never by
// this type.
//
// Layout MUST stay registers-then-pc-then-memory with no reordering (see
// AssertLayout). Registers and PC are packed with no padding; Memory
// follows PC at the next pointer-aligned offset, so on 64-bit hosts four
// bytes of alignment padding sit between PC and Memory.
type State struct {
	Registers [NumRegisters]uint32
	PC        uint32
	Memory    *memory.Image
}

// NewState returns a zeroed State with sp (x2) set to the reference
// initial stack pointer and Memory bound to the given image.
func NewState(mem *memory.Image, entry uint32) *State {
	s := &State{Memory: mem, PC: entry}
	s.Registers[2] = 0xFFFFFFF0
	return s
}

// AssertLayout panics if the in-memory layout of State does not match the
// layout documented on State: registers first (32 contiguous words), then
// PC with no padding, then the memory pointer at the first pointer-aligned
// offset after PC. Called once at startup to catch a Go compiler ever
// changing this layout silently.
func AssertLayout() {
	var s State
	if off := unsafe.Offsetof(s.Registers); off != 0 {
		panic(fmt.Sprintf("cpu: Registers must be at offset 0, got %d", off))
	}
	if off := unsafe.Offsetof(s.PC); off != NumRegisters*4 {
		panic(fmt.Sprintf("cpu: PC must be at offset %d, got %d", NumRegisters*4, off))
	}
	ptrAlign := unsafe.Alignof(s.Memory)
	wantMem := (NumRegisters*4 + 4 + ptrAlign - 1) &^ (ptrAlign - 1)
	if off := unsafe.Offsetof(s.Memory); off != wantMem {
		panic(fmt.Sprintf("cpu: Memory must be at offset %d, got %d", wantMem, off))
	}
}

// String renders a compact debug dump of the state, in the vein of the
// teacher VM's own %+v dumps.
func (s *State) String() string {
	return fmt.Sprintf("{PC:%#08x GPR:%+v}", s.PC, s.Registers)
}
