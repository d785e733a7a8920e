// Package enginetest provides Fake, an engine.Engine implemented with
// plain Go closures instead of github.com/llir/llvm, so pkg/block,
// pkg/cache, and pkg/dispatch can be unit tested without going through
// real LLVM IR construction.
package enginetest

import (
	"github.com/bassosimone/rv32dbt/pkg/cpu"
	"github.com/bassosimone/rv32dbt/pkg/emit"
	"github.com/bassosimone/rv32dbt/pkg/engine"
)

// thunk is a Value that knows how to compute its own uint32 result given
// the CPU state being operated on.
type thunk func(s *cpu.State) uint32

func (thunk) isEmitValue() {}

func asThunk(v emit.Value) thunk {
	return v.(thunk)
}

// op is one side-effecting step of a compiled block: a register/PC store
// or a helper call. Returns (halt, exitCode) so HelperExit can stop the
// block early.
type op func(s *cpu.State) (halt bool, exitCode uint32, err error)

// recorder is the Fake engine's Builder: it builds up a list of ops
// in program order; Invoke simply replays them.
type recorder struct {
	ops []op
}

var _ emit.Builder = (*recorder)(nil)

func (r *recorder) ConstU32(v uint32) emit.Value {
	return thunk(func(*cpu.State) uint32 { return v })
}

func (r *recorder) LoadReg(idx uint32) emit.Value {
	return thunk(func(s *cpu.State) uint32 { return s.Registers[idx] })
}

func (r *recorder) StoreReg(idx uint32, v emit.Value) {
	fn := asThunk(v)
	r.ops = append(r.ops, func(s *cpu.State) (bool, uint32, error) {
		if idx != 0 {
			s.Registers[idx] = fn(s)
		}
		return false, 0, nil
	})
}

func (r *recorder) LoadPC() emit.Value {
	return thunk(func(s *cpu.State) uint32 { return s.PC })
}

func (r *recorder) StorePC(v emit.Value) {
	fn := asThunk(v)
	r.ops = append(r.ops, func(s *cpu.State) (bool, uint32, error) {
		s.PC = fn(s)
		return false, 0, nil
	})
}

func binop(f func(a, b uint32) uint32, a, b emit.Value) emit.Value {
	fa, fb := asThunk(a), asThunk(b)
	return thunk(func(s *cpu.State) uint32 { return f(fa(s), fb(s)) })
}

func (r *recorder) Add(a, b emit.Value) emit.Value { return binop(func(x, y uint32) uint32 { return x + y }, a, b) }
func (r *recorder) Sub(a, b emit.Value) emit.Value { return binop(func(x, y uint32) uint32 { return x - y }, a, b) }
func (r *recorder) And(a, b emit.Value) emit.Value { return binop(func(x, y uint32) uint32 { return x & y }, a, b) }
func (r *recorder) Or(a, b emit.Value) emit.Value  { return binop(func(x, y uint32) uint32 { return x | y }, a, b) }
func (r *recorder) Xor(a, b emit.Value) emit.Value { return binop(func(x, y uint32) uint32 { return x ^ y }, a, b) }
func (r *recorder) Shl(a, b emit.Value) emit.Value {
	return binop(func(x, y uint32) uint32 { return x << (y & 0x1F) }, a, b)
}
func (r *recorder) LShr(a, b emit.Value) emit.Value {
	return binop(func(x, y uint32) uint32 { return x >> (y & 0x1F) }, a, b)
}
func (r *recorder) AShr(a, b emit.Value) emit.Value {
	return binop(func(x, y uint32) uint32 { return uint32(int32(x) >> (y & 0x1F)) }, a, b)
}

func (r *recorder) ICmp(pred emit.Pred, a, b emit.Value) emit.Value {
	fa, fb := asThunk(a), asThunk(b)
	return thunk(func(s *cpu.State) uint32 {
		x, y := fa(s), fb(s)
		var result bool
		switch pred {
		case emit.PredEQ:
			result = x == y
		case emit.PredNE:
			result = x != y
		case emit.PredSLT:
			result = int32(x) < int32(y)
		case emit.PredSGE:
			result = int32(x) >= int32(y)
		case emit.PredULT:
			result = x < y
		case emit.PredUGE:
			result = x >= y
		}
		if result {
			return 1
		}
		return 0
	})
}

func (r *recorder) Select(cond, onTrue, onFalse emit.Value) emit.Value {
	fc, ft, ff := asThunk(cond), asThunk(onTrue), asThunk(onFalse)
	return thunk(func(s *cpu.State) uint32 {
		if fc(s) != 0 {
			return ft(s)
		}
		return ff(s)
	})
}

func (r *recorder) SExt(v emit.Value, fromBits int) emit.Value {
	fn := asThunk(v)
	shift := uint(32 - fromBits)
	return thunk(func(s *cpu.State) uint32 { return uint32(int32(fn(s)<<shift) >> shift) })
}

func (r *recorder) ZExt(v emit.Value, fromBits int) emit.Value {
	fn := asThunk(v)
	mask := uint32(1)<<uint(fromBits) - 1
	return thunk(func(s *cpu.State) uint32 { return fn(s) & mask })
}

func (r *recorder) Trunc(v emit.Value, toBits int) emit.Value {
	fn := asThunk(v)
	mask := uint32(1)<<uint(toBits) - 1
	return thunk(func(s *cpu.State) uint32 { return fn(s) & mask })
}

func (r *recorder) Call(h emit.Helper, args ...emit.Value) emit.Value {
	fns := make([]thunk, len(args))
	for i, a := range args {
		fns[i] = asThunk(a)
	}
	switch h {
	case emit.HelperRead8, emit.HelperRead16, emit.HelperRead32:
		return r.callRead(h, fns)
	case emit.HelperWrite8, emit.HelperWrite16, emit.HelperWrite32:
		r.callWrite(h, fns)
		return thunk(func(*cpu.State) uint32 { return 0 })
	case emit.HelperExit:
		r.ops = append(r.ops, func(s *cpu.State) (bool, uint32, error) {
			return true, fns[0](s), nil
		})
		return thunk(func(*cpu.State) uint32 { return 0 })
	default:
		panic("enginetest: unknown helper")
	}
}

// callRead memoizes the actual memory access: on every Invoke the forcing
// op below clears the memo and performs the read, and later consumers
// (e.g. the SExt/ZExt wrapping a load's destination register) reuse that
// value. This keeps memory reads unconditional (a load to x0 still faults
// like real hardware) without reading twice when the loaded value also
// feeds a register store.
func (r *recorder) callRead(h emit.Helper, fns []thunk) emit.Value {
	addrFn := fns[0]
	var cached uint32
	var done bool
	var faultErr error
	read := func(s *cpu.State) uint32 {
		if done {
			return cached
		}
		addr := addrFn(s)
		var v uint32
		var err error
		switch h {
		case emit.HelperRead8:
			var b uint8
			b, err = s.Memory.Read8(addr)
			v = uint32(b)
		case emit.HelperRead16:
			var hw uint16
			hw, err = s.Memory.Read16(addr)
			v = uint32(hw)
		case emit.HelperRead32:
			v, err = s.Memory.Read32(addr)
		}
		cached, done, faultErr = v, true, err
		return v
	}
	r.ops = append(r.ops, func(s *cpu.State) (bool, uint32, error) {
		done = false
		read(s)
		return false, 0, faultErr
	})
	return thunk(read)
}

func (r *recorder) callWrite(h emit.Helper, fns []thunk) {
	addrFn, valFn := fns[0], fns[1]
	r.ops = append(r.ops, func(s *cpu.State) (bool, uint32, error) {
		addr, v := addrFn(s), valFn(s)
		var err error
		switch h {
		case emit.HelperWrite8:
			err = s.Memory.Write8(addr, uint8(v))
		case emit.HelperWrite16:
			err = s.Memory.Write16(addr, uint16(v))
		case emit.HelperWrite32:
			err = s.Memory.Write32(addr, v)
		}
		return false, 0, err
	})
}

func (r *recorder) Ret() {}

// block is the Fake's engine.Block: it just replays the recorded ops.
type block struct {
	ops []op
}

func (blk *block) Invoke(s *cpu.State) (halted bool, exitCode uint32, err error) {
	for _, o := range blk.ops {
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

// Fake is an engine.Engine that never touches github.com/llir/llvm.
type Fake struct{}

var _ engine.Engine = Fake{}

// Compile runs build against a fresh recorder and returns the resulting
// replay-able block.
func (Fake) Compile(_ string, build func(emit.Builder) error) (engine.Block, error) {
	r := &recorder{}
	if err := build(r); err != nil {
		return nil, err
	}
	return &block{ops: r.ops}, nil
}
