// Package emit translates a single decode.Instruction into calls against
// an abstract Builder: integer arithmetic, signed/unsigned compares,
// select, sext/zext/trunc, struct-field access (via the named register/PC
// accessors below), load/store through the six memory helpers, and void
// return.
//
// Two Builder implementations exist in this module: pkg/llvmengine wraps
// github.com/llir/llvm to produce real, inspectable LLVM IR, and
// pkg/engine/enginetest wraps plain Go closures for fast unit testing. The
// translation table below is written once, against the interface, and
// exercised by both.
package emit

import (
	"fmt"

	"github.com/bassosimone/rv32dbt/pkg/decode"
)

// Pred is a signed/unsigned integer comparison predicate.
type Pred int

// The predicates needed by the six RV32I branch kinds.
const (
	PredEQ Pred = iota
	PredNE
	PredSLT
	PredSGE
	PredULT
	PredUGE
)

// Helper names one of the seven externally-resolved ABI functions emitted
// code may call: the six memory accessors, plus Exit, which resolves
// ECALL as a clean loop-exit signal.
type Helper int

// The seven helper symbols.
const (
	HelperRead8 Helper = iota
	HelperRead16
	HelperRead32
	HelperWrite8
	HelperWrite16
	HelperWrite32
	HelperExit
)

// Value is an opaque IR value produced by a Builder method. It carries no
// behavior of its own; only a Builder knows how to consume one.
type Value interface{}

// Builder is the abstract IR builder a compiled block is built against.
// Implementations must keep a cursor over the current insertion point;
// Emit never observes or resets it directly.
type Builder interface {
	ConstU32(v uint32) Value

	LoadReg(idx uint32) Value
	// StoreReg stores v into register idx. Builder implementations must
	// discard writes to register 0 themselves; Emit never calls StoreReg
	// for idx==0 in the first place, but a Builder must still be safe if
	// it ever were.
	StoreReg(idx uint32, v Value)
	LoadPC() Value
	StorePC(v Value)

	Add(a, b Value) Value
	Sub(a, b Value) Value
	And(a, b Value) Value
	Or(a, b Value) Value
	Xor(a, b Value) Value
	Shl(a, b Value) Value
	LShr(a, b Value) Value
	AShr(a, b Value) Value

	ICmp(pred Pred, a, b Value) Value
	Select(cond, onTrue, onFalse Value) Value

	SExt(v Value, fromBits int) Value
	ZExt(v Value, fromBits int) Value
	Trunc(v Value, toBits int) Value

	Call(h Helper, args ...Value) Value

	// Ret closes the current block with a void return.
	Ret()
}

// ErrUnsupportedKind indicates Emit was asked to translate a Kind it does
// not know about; this should never happen for a Kind produced by
// pkg/decode.Decode, which only ever returns the kinds Emit handles.
var ErrUnsupportedKind = fmt.Errorf("emit: unsupported instruction kind")

// Instruction translates one decoded instruction into IR against b. Every
// emitted instruction ends by advancing PC, either to pc+4 or to a
// computed target.
//
// pc is the guest address of the instruction being translated. Instruction
// returns nil on success; on an unknown instruction (ins.Kind ==
// decode.Unknown) it still advances PC by 4 and returns nil, treating the
// word as a skipped no-op rather than a fatal decode error.
func Instruction(b Builder, ins decode.Instruction, pc uint32) error {
	switch ins.Kind {
	case decode.Unknown:
		advancePC4(b, pc)
	case decode.LUI:
		storeReg(b, ins.Rd, b.ConstU32(ins.Imm))
		advancePC4(b, pc)
	case decode.AUIPC:
		storeReg(b, ins.Rd, b.Add(b.ConstU32(pc), b.ConstU32(ins.Imm)))
		advancePC4(b, pc)
	case decode.JAL:
		if ins.Rd != 0 {
			storeReg(b, ins.Rd, b.ConstU32(pc+4))
		}
		b.StorePC(b.Add(b.ConstU32(pc), b.ConstU32(ins.Imm)))
	case decode.JALR:
		target := b.Add(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm))
		target = b.And(target, b.ConstU32(0xFFFFFFFE))
		// Store PC before rd: rd may alias rs1 (e.g. jalr x1,x1,4), and rd's
		// store must not be allowed to run before target is computed from
		// the pre-store rs1 value.
		b.StorePC(target)
		if ins.Rd != 0 {
			storeReg(b, ins.Rd, b.ConstU32(pc+4))
		}
	case decode.BEQ, decode.BNE, decode.BLT, decode.BGE, decode.BLTU, decode.BGEU:
		emitBranch(b, ins, pc)
	case decode.LB, decode.LH, decode.LW, decode.LBU, decode.LHU:
		emitLoad(b, ins)
		advancePC4(b, pc)
	case decode.SB, decode.SH, decode.SW:
		emitStore(b, ins)
		advancePC4(b, pc)
	case decode.ADDI:
		storeReg(b, ins.Rd, b.Add(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm)))
		advancePC4(b, pc)
	case decode.SLTI:
		storeReg(b, ins.Rd, b.ZExt(b.ICmp(PredSLT, b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm)), 1))
		advancePC4(b, pc)
	case decode.SLTIU:
		storeReg(b, ins.Rd, b.ZExt(b.ICmp(PredULT, b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm)), 1))
		advancePC4(b, pc)
	case decode.XORI:
		storeReg(b, ins.Rd, b.Xor(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm)))
		advancePC4(b, pc)
	case decode.ORI:
		storeReg(b, ins.Rd, b.Or(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm)))
		advancePC4(b, pc)
	case decode.ANDI:
		storeReg(b, ins.Rd, b.And(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm)))
		advancePC4(b, pc)
	case decode.SLLI:
		storeReg(b, ins.Rd, b.Shl(b.LoadReg(ins.Rs1), b.ConstU32(ins.Shamt)))
		advancePC4(b, pc)
	case decode.SRLI:
		storeReg(b, ins.Rd, b.LShr(b.LoadReg(ins.Rs1), b.ConstU32(ins.Shamt)))
		advancePC4(b, pc)
	case decode.SRAI:
		storeReg(b, ins.Rd, b.AShr(b.LoadReg(ins.Rs1), b.ConstU32(ins.Shamt)))
		advancePC4(b, pc)
	case decode.ADD:
		storeReg(b, ins.Rd, b.Add(b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)))
		advancePC4(b, pc)
	case decode.SUB:
		storeReg(b, ins.Rd, b.Sub(b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)))
		advancePC4(b, pc)
	case decode.SLL:
		storeReg(b, ins.Rd, b.Shl(b.LoadReg(ins.Rs1), maskShamt(b, ins.Rs2)))
		advancePC4(b, pc)
	case decode.SLT:
		storeReg(b, ins.Rd, b.ZExt(b.ICmp(PredSLT, b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)), 1))
		advancePC4(b, pc)
	case decode.SLTU:
		storeReg(b, ins.Rd, b.ZExt(b.ICmp(PredULT, b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)), 1))
		advancePC4(b, pc)
	case decode.XOR:
		storeReg(b, ins.Rd, b.Xor(b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)))
		advancePC4(b, pc)
	case decode.SRL:
		storeReg(b, ins.Rd, b.LShr(b.LoadReg(ins.Rs1), maskShamt(b, ins.Rs2)))
		advancePC4(b, pc)
	case decode.SRA:
		storeReg(b, ins.Rd, b.AShr(b.LoadReg(ins.Rs1), maskShamt(b, ins.Rs2)))
		advancePC4(b, pc)
	case decode.OR:
		storeReg(b, ins.Rd, b.Or(b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)))
		advancePC4(b, pc)
	case decode.AND:
		storeReg(b, ins.Rd, b.And(b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2)))
		advancePC4(b, pc)
	case decode.FENCE, decode.FENCETSO, decode.PAUSE, decode.EBREAK:
		// No memory-model or breakpoint IR in this core; PC still advances.
		advancePC4(b, pc)
	case decode.ECALL:
		b.Call(HelperExit, b.LoadReg(17)) // a7/x17: Linux RV32 exit-syscall register
		advancePC4(b, pc)
	default:
		return ErrUnsupportedKind
	}
	return nil
}

// maskShamt implements the RV32I shift-masking requirement: SLL/SRL/SRA
// must use only the low 5 bits of rs2's value.
func maskShamt(b Builder, rs2 uint32) Value {
	return b.And(b.LoadReg(rs2), b.ConstU32(0x1F))
}

func storeReg(b Builder, rd uint32, v Value) {
	if rd == 0 {
		return
	}
	b.StoreReg(rd, v)
}

func advancePC4(b Builder, pc uint32) {
	b.StorePC(b.ConstU32(pc + 4))
}

func emitBranch(b Builder, ins decode.Instruction, pc uint32) {
	var pred Pred
	switch ins.Kind {
	case decode.BEQ:
		pred = PredEQ
	case decode.BNE:
		pred = PredNE
	case decode.BLT:
		pred = PredSLT
	case decode.BGE:
		pred = PredSGE
	case decode.BLTU:
		pred = PredULT
	case decode.BGEU:
		pred = PredUGE
	}
	cond := b.ICmp(pred, b.LoadReg(ins.Rs1), b.LoadReg(ins.Rs2))
	target := b.ConstU32(pc + ins.Imm)
	fallthrough_ := b.ConstU32(pc + 4)
	b.StorePC(b.Select(cond, target, fallthrough_))
}

func emitLoad(b Builder, ins decode.Instruction) {
	addr := b.Add(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm))
	switch ins.Kind {
	case decode.LB:
		storeReg(b, ins.Rd, b.SExt(b.Call(HelperRead8, addr), 8))
	case decode.LH:
		storeReg(b, ins.Rd, b.SExt(b.Call(HelperRead16, addr), 16))
	case decode.LW:
		storeReg(b, ins.Rd, b.Call(HelperRead32, addr))
	case decode.LBU:
		storeReg(b, ins.Rd, b.ZExt(b.Call(HelperRead8, addr), 8))
	case decode.LHU:
		storeReg(b, ins.Rd, b.ZExt(b.Call(HelperRead16, addr), 16))
	}
}

func emitStore(b Builder, ins decode.Instruction) {
	addr := b.Add(b.LoadReg(ins.Rs1), b.ConstU32(ins.Imm))
	value := b.LoadReg(ins.Rs2)
	switch ins.Kind {
	case decode.SB:
		b.Call(HelperWrite8, addr, b.Trunc(value, 8))
	case decode.SH:
		b.Call(HelperWrite16, addr, b.Trunc(value, 16))
	case decode.SW:
		b.Call(HelperWrite32, addr, value)
	}
}
