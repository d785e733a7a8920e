package emit_test

import (
	"testing"

	"github.com/bassosimone/rv32dbt/pkg/cpu"
	"github.com/bassosimone/rv32dbt/pkg/decode"
	"github.com/bassosimone/rv32dbt/pkg/emit"
	"github.com/bassosimone/rv32dbt/pkg/engine"
	"github.com/bassosimone/rv32dbt/pkg/engine/enginetest"
	"github.com/bassosimone/rv32dbt/pkg/memory"
)

func compileOne(t *testing.T, ins decode.Instruction, pc uint32) engine.Block {
	t.Helper()
	blk, err := enginetest.Fake{}.Compile("test", func(b emit.Builder) error {
		if err := emit.Instruction(b, ins, pc); err != nil {
			return err
		}
		b.Ret()
		return nil
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return blk
}

func newState() *cpu.State {
	img := memory.NewImage([]memory.Segment{{HostBytes: make([]byte, 4096), GuestBase: 0}})
	return cpu.NewState(img, 0)
}

func TestADDI(t *testing.T) {
	s := newState()
	s.Registers[1] = 10
	blk := compileOne(t, decode.Instruction{Kind: decode.ADDI, Rd: 2, HasRd: true, Rs1: 1, HasRs1: true, Imm: 0xFFFFFFFD, HasImm: true}, 0x100) // imm = -3
	halted, _, err := blk.Invoke(s)
	if err != nil || halted {
		t.Fatalf("Invoke: halted=%v err=%v", halted, err)
	}
	if s.Registers[2] != 7 {
		t.Fatalf("x2 = %d, want 7", s.Registers[2])
	}
	if s.PC != 0x104 {
		t.Fatalf("PC = %#08x, want 0x104", s.PC)
	}
}

func TestADDIToX0IsDiscarded(t *testing.T) {
	s := newState()
	s.Registers[1] = 99
	blk := compileOne(t, decode.Instruction{Kind: decode.ADDI, Rd: 0, HasRd: true, Rs1: 1, HasRs1: true, Imm: 1, HasImm: true}, 0)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.Registers[0] != 0 {
		t.Fatalf("x0 = %d, want 0", s.Registers[0])
	}
}

func TestLUIAndAUIPC(t *testing.T) {
	s := newState()
	blk := compileOne(t, decode.Instruction{Kind: decode.LUI, Rd: 5, HasRd: true, Imm: 0x12345000, HasImm: true}, 0)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.Registers[5] != 0x12345000 {
		t.Fatalf("x5 = %#08x, want 0x12345000", s.Registers[5])
	}

	s2 := newState()
	blk2 := compileOne(t, decode.Instruction{Kind: decode.AUIPC, Rd: 6, HasRd: true, Imm: 0x1000, HasImm: true}, 0x2000)
	if _, _, err := blk2.Invoke(s2); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s2.Registers[6] != 0x3000 {
		t.Fatalf("x6 = %#08x, want 0x3000", s2.Registers[6])
	}
}

func TestJALLinksAndJumps(t *testing.T) {
	s := newState()
	blk := compileOne(t, decode.Instruction{Kind: decode.JAL, Rd: 1, HasRd: true, Imm: 16, HasImm: true}, 0x100)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.Registers[1] != 0x104 {
		t.Fatalf("ra = %#08x, want 0x104", s.Registers[1])
	}
	if s.PC != 0x110 {
		t.Fatalf("PC = %#08x, want 0x110", s.PC)
	}
}

func TestJALRMasksLowBit(t *testing.T) {
	s := newState()
	s.Registers[3] = 0x205
	blk := compileOne(t, decode.Instruction{Kind: decode.JALR, Rd: 1, HasRd: true, Rs1: 3, HasRs1: true, Imm: 2, HasImm: true}, 0x100)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.PC != 0x206 {
		t.Fatalf("PC = %#08x, want 0x206", s.PC)
	}
	if s.Registers[1] != 0x104 {
		t.Fatalf("ra = %#08x, want 0x104", s.Registers[1])
	}
}

func TestJALRSurvivesRdAliasingRs1(t *testing.T) {
	s := newState()
	s.Registers[1] = 0x200
	blk := compileOne(t, decode.Instruction{Kind: decode.JALR, Rd: 1, HasRd: true, Rs1: 1, HasRs1: true, Imm: 4, HasImm: true}, 0x100)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.PC != 0x204 {
		t.Fatalf("PC = %#08x, want 0x204 (target must use the pre-link rs1 value)", s.PC)
	}
	if s.Registers[1] != 0x104 {
		t.Fatalf("x1 = %#08x, want 0x104", s.Registers[1])
	}
}

func TestBranchTakenAndNotTaken(t *testing.T) {
	s := newState()
	s.Registers[1], s.Registers[2] = 5, 5
	blk := compileOne(t, decode.Instruction{Kind: decode.BEQ, Rs1: 1, HasRs1: true, Rs2: 2, HasRs2: true, Imm: 0x20, HasImm: true}, 0x100)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.PC != 0x120 {
		t.Fatalf("taken branch PC = %#08x, want 0x120", s.PC)
	}

	s2 := newState()
	s2.Registers[1], s2.Registers[2] = 5, 6
	blk2 := compileOne(t, decode.Instruction{Kind: decode.BEQ, Rs1: 1, HasRs1: true, Rs2: 2, HasRs2: true, Imm: 0x20, HasImm: true}, 0x100)
	if _, _, err := blk2.Invoke(s2); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s2.PC != 0x104 {
		t.Fatalf("not-taken branch PC = %#08x, want 0x104", s2.PC)
	}
}

func TestStoreThenLoadByte(t *testing.T) {
	s := newState()
	s.Registers[1] = 0x40 // base address
	s.Registers[2] = 0xFFFFFFFF // -1, low byte 0xFF

	storeBlk := compileOne(t, decode.Instruction{Kind: decode.SB, Rs1: 1, HasRs1: true, Rs2: 2, HasRs2: true, Imm: 4, HasImm: true}, 0x100)
	if _, _, err := storeBlk.Invoke(s); err != nil {
		t.Fatalf("store Invoke: %v", err)
	}

	loadSignedBlk := compileOne(t, decode.Instruction{Kind: decode.LB, Rd: 3, HasRd: true, Rs1: 1, HasRs1: true, Imm: 4, HasImm: true}, 0x104)
	if _, _, err := loadSignedBlk.Invoke(s); err != nil {
		t.Fatalf("LB Invoke: %v", err)
	}
	if s.Registers[3] != 0xFFFFFFFF {
		t.Fatalf("LB result = %#08x, want 0xFFFFFFFF (sign-extended)", s.Registers[3])
	}

	loadUnsignedBlk := compileOne(t, decode.Instruction{Kind: decode.LBU, Rd: 4, HasRd: true, Rs1: 1, HasRs1: true, Imm: 4, HasImm: true}, 0x108)
	if _, _, err := loadUnsignedBlk.Invoke(s); err != nil {
		t.Fatalf("LBU Invoke: %v", err)
	}
	if s.Registers[4] != 0xFF {
		t.Fatalf("LBU result = %#08x, want 0xFF (zero-extended)", s.Registers[4])
	}
}

func TestLoadFaultPropagatesAsError(t *testing.T) {
	s := newState()
	s.Registers[1] = 0x80000000 // well outside the mapped segment and the stack
	blk := compileOne(t, decode.Instruction{Kind: decode.LW, Rd: 2, HasRd: true, Rs1: 1, HasRs1: true, Imm: 0, HasImm: true}, 0)
	if _, _, err := blk.Invoke(s); err == nil {
		t.Fatalf("Invoke: expected a memory fault, got nil error")
	}
}

func TestShiftRegisterMasksShamt(t *testing.T) {
	s := newState()
	s.Registers[1] = 1
	s.Registers[2] = 0x21 // 33: masked down to 1
	blk := compileOne(t, decode.Instruction{Kind: decode.SLL, Rd: 3, HasRd: true, Rs1: 1, HasRs1: true, Rs2: 2, HasRs2: true}, 0)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.Registers[3] != 2 {
		t.Fatalf("x3 = %d, want 2 (1 << (0x21 & 0x1F) = 1 << 1)", s.Registers[3])
	}
}

func TestSRAPreservesSign(t *testing.T) {
	s := newState()
	s.Registers[1] = 0xFFFFFFF8 // -8
	s.Registers[2] = 1
	blk := compileOne(t, decode.Instruction{Kind: decode.SRA, Rd: 3, HasRd: true, Rs1: 1, HasRs1: true, Rs2: 2, HasRs2: true}, 0)
	if _, _, err := blk.Invoke(s); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if int32(s.Registers[3]) != -4 {
		t.Fatalf("x3 = %d, want -4", int32(s.Registers[3]))
	}
}

func TestECALLHaltsWithExitCode(t *testing.T) {
	s := newState()
	s.Registers[17] = 42 // a7
	blk := compileOne(t, decode.Instruction{Kind: decode.ECALL}, 0x100)
	halted, exitCode, err := blk.Invoke(s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !halted {
		t.Fatalf("ECALL did not halt the block")
	}
	if exitCode != 42 {
		t.Fatalf("exitCode = %d, want 42", exitCode)
	}
}

func TestUnknownInstructionIsSkipped(t *testing.T) {
	s := newState()
	blk := compileOne(t, decode.Instruction{Kind: decode.Unknown}, 0x100)
	halted, _, err := blk.Invoke(s)
	if err != nil || halted {
		t.Fatalf("Invoke: halted=%v err=%v", halted, err)
	}
	if s.PC != 0x104 {
		t.Fatalf("PC = %#08x, want 0x104", s.PC)
	}
}
