package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/script"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench <binary.elf> <symbol> [rounds]",
		Short: "Measure a guest function's median per-call latency (vmbench)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			binaryPath, symbol := args[0], args[1]
			rounds := 1
			if len(args) == 3 {
				n, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("rounds: %w", err)
				}
				rounds = n
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

			inst, err := script.Create(tmpl, name, script.Options{Debug: cfg.Debug})
			if err != nil {
				return err
			}
			defer inst.Machine().Close()

			addr := inst.AddressOf(symbol)
			if addr == 0 {
				return scripterr.New(scripterr.NotFound, "symbol not found: "+symbol)
			}

			ns, err := inst.Bench(addr, rounds)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %s median over %d calls\n", symbol, time.Duration(ns), rounds*2000)
			return nil
		},
	}
	return cmd
}
