// Package block implements the Block Builder: it drives pkg/decode and
// pkg/emit to translate a tracelet of guest instructions, starting at a
// given entry PC, into one compiled block.
package block

import (
	"fmt"

	"github.com/bassosimone/rv32dbt/pkg/decode"
	"github.com/bassosimone/rv32dbt/pkg/emit"
	"github.com/bassosimone/rv32dbt/pkg/engine"
	"github.com/bassosimone/rv32dbt/pkg/memory"
)

// DefaultThreshold is the maximum number of guest instructions emitted
// into a single block before forcing termination.
const DefaultThreshold = 64

// Builder drives Decoder+Emitter against an Engine to compile one
// tracelet at a time.
type Builder struct {
	Engine    engine.Engine
	Memory    *memory.Image
	Threshold int

	// OnDecodeMiss, if non-nil, is called for every word that decodes to
	// decode.Unknown. Decode misses are not fatal: pkg/emit still emits a
	// PC-advancing no-op for them; this hook only exists so callers can
	// log the occurrence (e.g. --debug mode) without changing behavior.
	OnDecodeMiss func(pc uint32, word uint32)
}

// NewBuilder returns a Builder with DefaultThreshold if threshold <= 0.
func NewBuilder(eng engine.Engine, mem *memory.Image, threshold int) *Builder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Builder{Engine: eng, Memory: mem, Threshold: threshold}
}

// Name is the compiled block's symbol: block_<entry_pc>.
func Name(entryPC uint32) string {
	return fmt.Sprintf("block_%08x", entryPC)
}

// Build emits a straight-line function starting at entryPC: it decodes
// and translates consecutive guest instructions until either a
// control-transfer instruction has been emitted or the instruction count
// reaches b.Threshold.
func (b *Builder) Build(entryPC uint32) (engine.Block, error) {
	return b.Engine.Compile(Name(entryPC), func(bld emit.Builder) error {
		localPC := entryPC
		n := 0
		for {
			word, err := b.Memory.Read32(localPC)
			if err != nil {
				return fmt.Errorf("block: fetch at %#08x: %w", localPC, err)
			}
			ins := decode.Decode(word)
			if ins.Kind == decode.Unknown && b.OnDecodeMiss != nil {
				b.OnDecodeMiss(localPC, word)
			}
			if err := emit.Instruction(bld, ins, localPC); err != nil {
				return fmt.Errorf("block: emit %s at %#08x: %w", ins.Kind, localPC, err)
			}
			localPC += 4
			n++
			if n == b.Threshold || ins.Kind.IsControlTransfer() {
				break
			}
		}
		bld.Ret()
		return nil
	})
}
