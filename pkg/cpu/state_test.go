package cpu

import (
	"testing"

	"github.com/bassosimone/rv32dbt/pkg/memory"
)

func TestAssertLayoutDoesNotPanic(t *testing.T) {
	AssertLayout()
}

func TestNewStateSetsStackPointer(t *testing.T) {
	img := memory.NewImage(nil)
	s := NewState(img, 0x1000)
	if s.PC != 0x1000 {
		t.Fatalf("PC = %#08x, want 0x1000", s.PC)
	}
	if s.Registers[2] != 0xFFFFFFF0 {
		t.Fatalf("sp = %#08x, want 0xFFFFFFF0", s.Registers[2])
	}
	if s.Registers[0] != 0 {
		t.Fatalf("x0 = %#08x, want 0", s.Registers[0])
	}
	if s.Memory != img {
		t.Fatalf("Memory not bound to the given image")
	}
}

func TestStringDoesNotPanic(t *testing.T) {
	s := NewState(memory.NewImage(nil), 0)
	if s.String() == "" {
		t.Fatalf("String() returned empty output")
	}
}
