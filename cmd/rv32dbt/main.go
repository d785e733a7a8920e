package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/bassosimone/rv32dbt/pkg/block"
	"github.com/bassosimone/rv32dbt/pkg/cache"
	"github.com/bassosimone/rv32dbt/pkg/cpu"
	"github.com/bassosimone/rv32dbt/pkg/dispatch"
	"github.com/bassosimone/rv32dbt/pkg/engine"
	"github.com/bassosimone/rv32dbt/pkg/engine/enginetest"
	"github.com/bassosimone/rv32dbt/pkg/llvmengine"
	"github.com/bassosimone/rv32dbt/pkg/loader"
)

func main() {
	log.SetFlags(0)

	var (
		inputELF   string
		memoryImpl string
		threshold  int
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "rv32dbt",
		Short: "dynamic binary translator for statically-linked RV32I ELF executables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(inputELF, memoryImpl, threshold, debug)
		},
	}
	rootCmd.Flags().StringVar(&inputELF, "input-elf", "", "path to the RV32I ELF executable to run (required)")
	rootCmd.Flags().StringVar(&memoryImpl, "memory-impl", "llvm", "host IR engine to use: llvm or fake")
	rootCmd.Flags().IntVar(&threshold, "threshold", block.DefaultThreshold, "maximum instructions per compiled block")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "dump per-iteration CPU state and, on exit, the translated LLVM IR")
	rootCmd.MarkFlagRequired("input-elf")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(inputELF, memoryImpl string, threshold int, debug bool) error {
	cpu.AssertLayout()

	fp, err := os.Open(inputELF)
	if err != nil {
		return fmt.Errorf("rv32dbt: open %s: %w", inputELF, err)
	}
	defer fp.Close()

	mem, entry, err := loader.Load(fp)
	if err != nil {
		return fmt.Errorf("rv32dbt: load %s: %w", inputELF, err)
	}

	var eng engine.Engine
	var llvm *llvmengine.Engine
	switch memoryImpl {
	case "llvm":
		llvm = llvmengine.New()
		eng = llvm
	case "fake":
		eng = enginetest.Fake{}
	default:
		return fmt.Errorf("rv32dbt: unknown --memory-impl %q (want llvm or fake)", memoryImpl)
	}

	state := cpu.NewState(mem, entry)
	builder := block.NewBuilder(eng, mem, threshold)
	blockCache := cache.New()

	var observer dispatch.Observer
	if debug {
		observer = func(iteration int, s *cpu.State) {
			log.Printf("rv32dbt: iter %d: %s", iteration, s)
		}
		builder.OnDecodeMiss = func(pc uint32, word uint32) {
			log.Printf("rv32dbt: decode miss at %#08x: word %#08x skipped", pc, word)
		}
	}

	loop := dispatch.New(builder, blockCache, state, observer)
	exitCode, err := loop.Run(0)
	if debug && llvm != nil {
		log.Printf("rv32dbt: translated IR:\n%s", llvm)
	}
	if err != nil {
		return fmt.Errorf("rv32dbt: %w", err)
	}
	log.Printf("rv32dbt: guest exited with code %d after %d cached blocks", exitCode, blockCache.Len())
	if exitCode != 0 {
		os.Exit(int(exitCode))
	}
	return nil
}
