package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/script"
)

func newRunCmd() *cobra.Command {
	var symbolsPath string

	cmd := &cobra.Command{
		Use:   "run <binary.elf> [entry-symbol]",
		Short: "Load a binary, fork a Script Instance, and run it from its entry point",
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
			if err := reg.Insert(name, binaryPath, symbolsPath); err != nil {
				return fmt.Errorf("register %s: %w", name, err)
			}

			tmpl, err := reg.Get(name)
			if err != nil {
				return err
			}

			inst, err := script.Create(tmpl, name, script.Options{
				Debug:         cfg.Debug,
				StdoutEnabled: true,
				MaxReentrancy: cfg.ReentrancyDepth,
			})
			if err != nil {
				return fmt.Errorf("create instance: %w", err)
			}
			defer inst.Machine().Close()

			inst.SetPrintSink(func(data []byte) {
				fmt.Print(string(data))
			})

			if err := inst.Initialize(entry); err != nil {
				return fmt.Errorf("initialize %s: %w", name, err)
			}

			if !quiet {
				fmt.Printf("\n%s: initialized (name_hash=0x%08x, budget_overruns=%d)\n",
					name, inst.NameHash(), inst.Machine().BudgetOverruns())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbolsPath, "symbols", "", "path to a whitespace-separated symbol list for the Public-API Directory")
	return cmd
}
