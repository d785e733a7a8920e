// Package loader builds a pkg/memory.Image from an ELF32/RISC-V guest
// binary. It uses the standard library's debug/elf: no third-party ELF
// parser appears anywhere in the example pack, and hand-rolling one would
// just re-implement what debug/elf already does correctly.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/bassosimone/rv32dbt/pkg/memory"
)

// ErrUnsupportedBinary indicates the input file is not a little-endian
// 32-bit RISC-V executable.
var ErrUnsupportedBinary = fmt.Errorf("loader: unsupported ELF binary")

// Load reads an ELF32/RISC-V executable from r and returns the guest
// memory image built from its PT_LOAD segments, plus the entry point.
// Relocations are not processed: only statically-linked, non-PIE
// executables are supported.
func Load(r io.ReaderAt) (*memory.Image, uint32, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, 0, fmt.Errorf("loader: parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_RISCV {
		return nil, 0, ErrUnsupportedBinary
	}

	var segments []memory.Segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz == 0 {
			continue
		}
		host := make([]byte, prog.Memsz)
		n, err := prog.ReadAt(host[:prog.Filesz], 0)
		if err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("loader: read segment at %#08x: %w", prog.Vaddr, err)
		}
		if uint64(n) != prog.Filesz {
			return nil, 0, fmt.Errorf("loader: short read of segment at %#08x: got %d want %d", prog.Vaddr, n, prog.Filesz)
		}
		segments = append(segments, memory.Segment{
			HostBytes: host,
			GuestBase: uint32(prog.Vaddr),
		})
	}
	if len(segments) == 0 {
		return nil, 0, fmt.Errorf("loader: no PT_LOAD segments found")
	}

	return memory.NewImage(segments), uint32(f.Entry), nil
}
