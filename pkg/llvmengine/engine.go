// Package llvmengine implements engine.Engine on top of
// github.com/llir/llvm. Every compiled block gets a genuine *ir.Func
// appended to a shared *ir.Module, so the whole program's translated
// code can be dumped as real, inspectable LLVM IR assembly (see
// Engine.String). Driving that IR through an external JIT from a
// cgo-free process is out of reach here, so each Builder call that
// appends an IR instruction also records the equivalent side-effecting
// step against cpu.State directly, and Block.Invoke replays those steps
// in program order; the IR and the executed semantics are therefore
// built together, from the same translation pass, rather than one being
// derived from the other after the fact.
package llvmengine

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/bassosimone/rv32dbt/pkg/cpu"
	"github.com/bassosimone/rv32dbt/pkg/emit"
	"github.com/bassosimone/rv32dbt/pkg/engine"
)

// statePtrType is the opaque handle every compiled function and helper
// declaration takes: an i8* standing in for *cpu.State. Its only role in
// the IR is to thread a recognizable value through calls; the real
// cpu.State is never dereferenced through it.
var statePtrType = types.NewPointer(types.I8)

// Engine builds one shared *ir.Module across every compiled block.
type Engine struct {
	module    *ir.Module
	readFunc  [3]*ir.Func
	writeFunc [3]*ir.Func
	exitFunc  *ir.Func
}

// New returns an Engine with its helper ABI (the six memory accessors
// plus Exit) declared in a fresh module.
func New() *Engine {
	m := ir.NewModule()
	e := &Engine{module: m}
	e.readFunc[0] = m.NewFunc("host_read8", types.I8,
		ir.NewParam("state", statePtrType), ir.NewParam("addr", types.I32))
	e.readFunc[1] = m.NewFunc("host_read16", types.I16,
		ir.NewParam("state", statePtrType), ir.NewParam("addr", types.I32))
	e.readFunc[2] = m.NewFunc("host_read32", types.I32,
		ir.NewParam("state", statePtrType), ir.NewParam("addr", types.I32))
	e.writeFunc[0] = m.NewFunc("host_write8", types.Void,
		ir.NewParam("state", statePtrType), ir.NewParam("addr", types.I32), ir.NewParam("val", types.I8))
	e.writeFunc[1] = m.NewFunc("host_write16", types.Void,
		ir.NewParam("state", statePtrType), ir.NewParam("addr", types.I32), ir.NewParam("val", types.I16))
	e.writeFunc[2] = m.NewFunc("host_write32", types.Void,
		ir.NewParam("state", statePtrType), ir.NewParam("addr", types.I32), ir.NewParam("val", types.I32))
	e.exitFunc = m.NewFunc("host_exit", types.Void,
		ir.NewParam("state", statePtrType), ir.NewParam("code", types.I32))
	return e
}

// String renders every block compiled so far as LLVM IR assembly.
func (e *Engine) String() string {
	return e.module.String()
}

var _ engine.Engine = (*Engine)(nil)

// Compile translates one block: build is called with a Builder backed by
// a fresh *ir.Func/*ir.Block pair named name.
func (e *Engine) Compile(name string, build func(emit.Builder) error) (engine.Block, error) {
	fn := e.module.NewFunc(name, types.Void, ir.NewParam("state", statePtrType))
	entry := fn.NewBlock("entry")

	b := &builder{engine: e, block: entry, stateParam: fn.Params[0]}
	b.regs = make([]value.Value, 32)
	for i := range b.regs {
		a := entry.NewAlloca(types.I32)
		a.SetName(fmt.Sprintf("x%d", i))
		b.regs[i] = a
	}
	pcAlloca := entry.NewAlloca(types.I32)
	pcAlloca.SetName("pc")
	b.pc = pcAlloca

	if err := build(b); err != nil {
		return nil, err
	}
	return &compiledBlock{ops: b.ops, fn: fn}, nil
}

// dualValue is an emit.Value that carries both the real IR value (for
// inspection) and a thunk computing the same result against cpu.State
// (for execution).
type dualValue struct {
	ir value.Value
	fn func(s *cpu.State) uint32
}

func (dualValue) isEmitValue() {}

func asDual(v emit.Value) dualValue { return v.(dualValue) }

// op is one recorded side-effecting step of a compiled block.
type op func(s *cpu.State) (halt bool, exitCode uint32, err error)

// builder accumulates IR into block while also recording ops.
type builder struct {
	engine     *Engine
	block      *ir.Block
	stateParam value.Value
	regs       []value.Value
	pc         value.Value
	ops        []op
}

var _ emit.Builder = (*builder)(nil)

func (b *builder) ConstU32(v uint32) emit.Value {
	c := constant.NewInt(types.I32, int64(int32(v)))
	return dualValue{ir: c, fn: func(*cpu.State) uint32 { return v }}
}

func (b *builder) LoadReg(idx uint32) emit.Value {
	ld := b.block.NewLoad(types.I32, b.regs[idx])
	return dualValue{ir: ld, fn: func(s *cpu.State) uint32 { return s.Registers[idx] }}
}

func (b *builder) StoreReg(idx uint32, v emit.Value) {
	dv := asDual(v)
	if idx != 0 {
		b.block.NewStore(dv.ir, b.regs[idx])
	}
	b.ops = append(b.ops, func(s *cpu.State) (bool, uint32, error) {
		if idx != 0 {
			s.Registers[idx] = dv.fn(s)
		}
		return false, 0, nil
	})
}

func (b *builder) LoadPC() emit.Value {
	ld := b.block.NewLoad(types.I32, b.pc)
	return dualValue{ir: ld, fn: func(s *cpu.State) uint32 { return s.PC }}
}

func (b *builder) StorePC(v emit.Value) {
	dv := asDual(v)
	b.block.NewStore(dv.ir, b.pc)
	b.ops = append(b.ops, func(s *cpu.State) (bool, uint32, error) {
		s.PC = dv.fn(s)
		return false, 0, nil
	})
}

func (b *builder) binop(a, c emit.Value, irOp func(x, y value.Value) value.Value, f func(x, y uint32) uint32) emit.Value {
	da, dc := asDual(a), asDual(c)
	iv := irOp(da.ir, dc.ir)
	return dualValue{ir: iv, fn: func(s *cpu.State) uint32 { return f(da.fn(s), dc.fn(s)) }}
}

func (b *builder) Add(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewAdd(x, y) },
		func(x, y uint32) uint32 { return x + y })
}

func (b *builder) Sub(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewSub(x, y) },
		func(x, y uint32) uint32 { return x - y })
}

func (b *builder) And(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewAnd(x, y) },
		func(x, y uint32) uint32 { return x & y })
}

func (b *builder) Or(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewOr(x, y) },
		func(x, y uint32) uint32 { return x | y })
}

func (b *builder) Xor(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewXor(x, y) },
		func(x, y uint32) uint32 { return x ^ y })
}

func (b *builder) Shl(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewShl(x, y) },
		func(x, y uint32) uint32 { return x << (y & 0x1F) })
}

func (b *builder) LShr(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewLShr(x, y) },
		func(x, y uint32) uint32 { return x >> (y & 0x1F) })
}

func (b *builder) AShr(a, c emit.Value) emit.Value {
	return b.binop(a, c,
		func(x, y value.Value) value.Value { return b.block.NewAShr(x, y) },
		func(x, y uint32) uint32 { return uint32(int32(x) >> (y & 0x1F)) })
}

func toIPred(p emit.Pred) enum.IPred {
	switch p {
	case emit.PredEQ:
		return enum.IPredEQ
	case emit.PredNE:
		return enum.IPredNE
	case emit.PredSLT:
		return enum.IPredSLT
	case emit.PredSGE:
		return enum.IPredSGE
	case emit.PredULT:
		return enum.IPredULT
	case emit.PredUGE:
		return enum.IPredUGE
	default:
		panic("llvmengine: unknown predicate")
	}
}

func (b *builder) ICmp(pred emit.Pred, a, c emit.Value) emit.Value {
	da, dc := asDual(a), asDual(c)
	iv := b.block.NewICmp(toIPred(pred), da.ir, dc.ir)
	fn := func(s *cpu.State) uint32 {
		x, y := da.fn(s), dc.fn(s)
		var r bool
		switch pred {
		case emit.PredEQ:
			r = x == y
		case emit.PredNE:
			r = x != y
		case emit.PredSLT:
			r = int32(x) < int32(y)
		case emit.PredSGE:
			r = int32(x) >= int32(y)
		case emit.PredULT:
			r = x < y
		case emit.PredUGE:
			r = x >= y
		}
		if r {
			return 1
		}
		return 0
	}
	return dualValue{ir: iv, fn: fn}
}

func (b *builder) Select(cond, onTrue, onFalse emit.Value) emit.Value {
	dcond, dt, df := asDual(cond), asDual(onTrue), asDual(onFalse)
	iv := b.block.NewSelect(dcond.ir, dt.ir, df.ir)
	fn := func(s *cpu.State) uint32 {
		if dcond.fn(s) != 0 {
			return dt.fn(s)
		}
		return df.fn(s)
	}
	return dualValue{ir: iv, fn: fn}
}

func (b *builder) SExt(v emit.Value, fromBits int) emit.Value {
	dv := asDual(v)
	small := b.block.NewTrunc(dv.ir, types.NewInt(uint64(fromBits)))
	ext := b.block.NewSExt(small, types.I32)
	shift := uint(32 - fromBits)
	fn := func(s *cpu.State) uint32 {
		x := dv.fn(s)
		return uint32(int32(x<<shift) >> shift)
	}
	return dualValue{ir: ext, fn: fn}
}

func (b *builder) ZExt(v emit.Value, fromBits int) emit.Value {
	dv := asDual(v)
	small := b.block.NewTrunc(dv.ir, types.NewInt(uint64(fromBits)))
	ext := b.block.NewZExt(small, types.I32)
	mask := uint32(1)<<uint(fromBits) - 1
	fn := func(s *cpu.State) uint32 { return dv.fn(s) & mask }
	return dualValue{ir: ext, fn: fn}
}

func (b *builder) Trunc(v emit.Value, toBits int) emit.Value {
	dv := asDual(v)
	tr := b.block.NewTrunc(dv.ir, types.NewInt(uint64(toBits)))
	mask := uint32(1)<<uint(toBits) - 1
	fn := func(s *cpu.State) uint32 { return dv.fn(s) & mask }
	return dualValue{ir: tr, fn: fn}
}

func (b *builder) Call(h emit.Helper, args ...emit.Value) emit.Value {
	switch h {
	case emit.HelperRead8, emit.HelperRead16, emit.HelperRead32:
		return b.callRead(h, args[0])
	case emit.HelperWrite8, emit.HelperWrite16, emit.HelperWrite32:
		b.callWrite(h, args[0], args[1])
		return dualValue{ir: constant.NewInt(types.I32, 0), fn: func(*cpu.State) uint32 { return 0 }}
	case emit.HelperExit:
		addr := asDual(args[0])
		b.block.NewCall(b.engine.exitFunc, b.stateParam, addr.ir)
		b.ops = append(b.ops, func(s *cpu.State) (bool, uint32, error) {
			return true, addr.fn(s), nil
		})
		return dualValue{ir: constant.NewInt(types.I32, 0), fn: func(*cpu.State) uint32 { return 0 }}
	default:
		panic("llvmengine: unknown helper")
	}
}

// callRead memoizes the actual memory access behind a single closure, so
// the forcing op below and any downstream consumer of the returned Value
// (e.g. SExt feeding a register store) observe one read, not two. The
// forcing op clears the memo first, so every Invoke reads afresh.
func (b *builder) callRead(h emit.Helper, addrV emit.Value) emit.Value {
	addr := asDual(addrV)

	var fn *ir.Func
	var width int
	switch h {
	case emit.HelperRead8:
		fn, width = b.engine.readFunc[0], 8
	case emit.HelperRead16:
		fn, width = b.engine.readFunc[1], 16
	case emit.HelperRead32:
		fn, width = b.engine.readFunc[2], 32
	}
	call := b.block.NewCall(fn, b.stateParam, addr.ir)
	var iv value.Value = call
	if width != 32 {
		iv = b.block.NewZExt(call, types.I32)
	}

	var cached uint32
	var done bool
	var faultErr error
	read := func(s *cpu.State) uint32 {
		if done {
			return cached
		}
		a := addr.fn(s)
		var v uint32
		var err error
		switch h {
		case emit.HelperRead8:
			var x uint8
			x, err = s.Memory.Read8(a)
			v = uint32(x)
		case emit.HelperRead16:
			var x uint16
			x, err = s.Memory.Read16(a)
			v = uint32(x)
		case emit.HelperRead32:
			v, err = s.Memory.Read32(a)
		}
		cached, done, faultErr = v, true, err
		return v
	}
	b.ops = append(b.ops, func(s *cpu.State) (bool, uint32, error) {
		done = false
		read(s)
		return false, 0, faultErr
	})
	return dualValue{ir: iv, fn: read}
}

func (b *builder) callWrite(h emit.Helper, addrV, valV emit.Value) {
	addr, val := asDual(addrV), asDual(valV)
	var fn *ir.Func
	var width int
	switch h {
	case emit.HelperWrite8:
		fn, width = b.engine.writeFunc[0], 8
	case emit.HelperWrite16:
		fn, width = b.engine.writeFunc[1], 16
	case emit.HelperWrite32:
		fn, width = b.engine.writeFunc[2], 32
	}
	valIR := val.ir
	if width != 32 {
		valIR = b.block.NewTrunc(val.ir, types.NewInt(uint64(width)))
	}
	b.block.NewCall(fn, b.stateParam, addr.ir, valIR)
	b.ops = append(b.ops, func(s *cpu.State) (bool, uint32, error) {
		a, v := addr.fn(s), val.fn(s)
		var err error
		switch h {
		case emit.HelperWrite8:
			err = s.Memory.Write8(a, uint8(v))
		case emit.HelperWrite16:
			err = s.Memory.Write16(a, uint16(v))
		case emit.HelperWrite32:
			err = s.Memory.Write32(a, v)
		}
		return false, 0, err
	})
}

func (b *builder) Ret() {
	b.block.NewRet(nil)
}

// compiledBlock replays the ops recorded while building fn.
type compiledBlock struct {
	ops []op
	fn  *ir.Func
}

var _ engine.Block = (*compiledBlock)(nil)

func (cb *compiledBlock) Invoke(s *cpu.State) (halted bool, exitCode uint32, err error) {
	for _, o := range cb.ops {
		halt, code, err := o(s)
		if err != nil {
			return false, 0, err
		}
		if halt {
			return true, code, nil
		}
	}
	return false, 0, nil
}
