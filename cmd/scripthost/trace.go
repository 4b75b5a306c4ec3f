package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/spf13/cobra"

	"github.com/kestrelvm/scripthost/internal/emulator"
	glog "github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/script"
	"github.com/kestrelvm/scripthost/internal/trace"
	"github.com/kestrelvm/scripthost/internal/ui/colorize"
)

// traceCollector buffers host/dynamic/far-call trace events between
// instructions, the way the events get attributed to the instruction whose
// execution produced them.
type traceCollector struct {
	mu     sync.Mutex
	events []*trace.Event
}

func (tc *traceCollector) add(e *trace.Event) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.events = append(tc.events, e)
}

func (tc *traceCollector) drain() []*trace.Event {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	events := tc.events
	tc.events = nil
	return events
}

func disasm(code []byte) string {
	if len(code) < 4 {
		return "???"
	}
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", uint32(code[0])|uint32(code[1])<<8|uint32(code[2])<<16|uint32(code[3])<<24)
	}
	return inst.String()
}

func newTraceCmd() *cobra.Command {
	maxInsn := 500

	cmd := &cobra.Command{
		Use:   "trace <binary.elf> [entry-symbol]",
		Short: "Disassemble a guest run, annotating host/dynamic/far-call events inline",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			binaryPath := args[0]
			entry := ""
			if len(args) > 1 {
				entry = args[1]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg := registry.New(cfg.VMOptions())
			name := filepath.Base(binaryPath)
			if err := reg.Insert(name, binaryPath, ""); err != nil {
				return err
			}
			tmpl, err := reg.Get(name)
			if err != nil {
				return err
			}

			inst, err := script.Create(tmpl, name, script.Options{Debug: cfg.Debug, StdoutEnabled: true})
			if err != nil {
				return err
			}
			defer inst.Machine().Close()
			inst.SetPrintSink(func(data []byte) { fmt.Print(string(data)) })

			collector := &traceCollector{}
			glog.L.SetOnTrace(func(pc uint64, category, fn, detail string) {
				e := trace.NewEvent(pc, category, fn, detail)
				trace.DefaultEnricher(e)
				collector.add(e)
			})

			count := 0
			inst.Machine().Emulator().HookCode(func(e *emulator.Emulator, addr uint64, size uint32) {
				count++
				if count > maxInsn {
					return
				}
				code, _ := e.MemRead(addr, 4)
				dis := disasm(code)
				events := collector.drain()
				fmt.Println(formatTraceLine(addr, dis, inst.SymbolName(addr), events))
			})

			if err := inst.Initialize(entry); err != nil {
				fmt.Printf("\n%s %v\n", colorize.Exception("emulation failed:"), err)
			}
			fmt.Printf("\n%s %d insn, %d overruns\n",
				colorize.Border("────"), count, inst.Machine().BudgetOverruns())
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxInsn, "num", "n", 500, "max instructions to print")
	return cmd
}

func formatTraceLine(addr uint64, dis, funcName string, events []*trace.Event) string {
	var b strings.Builder
	b.WriteString(colorize.Address(addr))
	b.WriteString("  ")
	b.WriteString(colorize.Instruction(dis))

	if funcName != "" {
		b.WriteString("  ")
		b.WriteString(colorize.FuncName(funcName))
	}

	for _, e := range events {
		b.WriteString("  ")
		b.WriteString(colorize.Tag(e.PrimaryTag()))
		if e.Name != "" {
			b.WriteByte(' ')
			b.WriteString(colorize.FuncName(e.Name))
		}
		if e.Detail != "" {
			b.WriteString("  ")
			b.WriteString(colorize.Comment("; " + e.Detail))
		}
	}

	return b.String()
}
