// Package dispatch implements the Dispatch Loop: it repeatedly re-reads
// PC from the shared CPU state, compiles on cache miss, and invokes the
// cached block.
package dispatch

import (
	"github.com/pkg/errors"

	"github.com/bassosimone/rv32dbt/pkg/block"
	"github.com/bassosimone/rv32dbt/pkg/cache"
	"github.com/bassosimone/rv32dbt/pkg/cpu"
)

// CompileError wraps a block-compilation failure, surfaced from the
// Dispatch Loop as fatal; the failed block is never cached.
type CompileError struct {
	PC  uint32
	Err error
}

func (e *CompileError) Error() string {
	return errors.Wrapf(e.Err, "dispatch: compile block at %#08x", e.PC).Error()
}

func (e *CompileError) Unwrap() error { return e.Err }

// Observer is invoked once per iteration, after a block has executed,
// for an optional per-iteration debug dump.
type Observer func(iteration int, s *cpu.State)

// Loop ties the Translation Cache, the Block Builder, and the CPU state
// together into the core dispatch algorithm.
type Loop struct {
	Builder  *block.Builder
	Cache    *cache.Cache
	State    *cpu.State
	Observer Observer
}

// New returns a Loop over the given builder, cache, and state. observer
// may be nil.
func New(b *block.Builder, c *cache.Cache, s *cpu.State, observer Observer) *Loop {
	return &Loop{Builder: b, Cache: c, State: s, Observer: observer}
}

// Run executes the dispatch loop until the guest halts (via the ECALL
// exit helper) or maxIterations is reached (0 means unbounded; a bounded
// loop is a test-harness concern). It returns the guest exit code
// reported by the halting ECALL, or 0 if the loop stopped because
// maxIterations was reached.
func (l *Loop) Run(maxIterations int) (uint32, error) {
	for i := 0; maxIterations == 0 || i < maxIterations; i++ {
		pc := l.State.PC
		blk, ok := l.Cache.Lookup(pc)
		if !ok {
			compiled, err := l.Builder.Build(pc)
			if err != nil {
				return 0, &CompileError{PC: pc, Err: err}
			}
			l.Cache.Insert(pc, compiled)
			blk = compiled
		}

		halted, exitCode, err := blk.Invoke(l.State)
		if err != nil {
			return 0, errors.Wrapf(err, "dispatch: fault executing block at %#08x", pc)
		}
		if l.Observer != nil {
			l.Observer(i, l.State)
		}
		if halted {
			return exitCode, nil
		}
	}
	return 0, nil
}
