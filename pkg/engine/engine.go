// Package engine defines the boundary to the host IR/JIT engine treated
// as an external collaborator: the abstract operations required of it.
// pkg/llvmengine and pkg/engine/enginetest both satisfy Engine.
package engine

import (
	"github.com/bassosimone/rv32dbt/pkg/cpu"
	"github.com/bassosimone/rv32dbt/pkg/emit"
)

// Engine compiles one guest block's worth of IR, built by calling build
// against the emit.Builder it is handed, into an invocable Block.
type Engine interface {
	Compile(name string, build func(emit.Builder) error) (Block, error)
}

// Block is an opaque handle to a translated callable: it accepts a
// mutable pointer to the shared CPU state, and reports whether the
// block's ECALL helper requested termination and, if so, with what
// guest exit code. A non-nil err is a memory fault: fatal, per the
// Dispatch Loop's policy.
type Block interface {
	Invoke(state *cpu.State) (halted bool, exitCode uint32, err error)
}
