package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kestrelvm/scripthost/internal/directory"
	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/ui/colorize"
)

func newInfoCmd() *cobra.Command {
	var symbolsPath string

	cmd := &cobra.Command{
		Use:   "info <binary.elf>",
		Short: "Show a Template Binary's ELF metadata and resolvable directory size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binaryPath := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg := registry.New(cfg.VMOptions())
			name := filepath.Base(binaryPath)
			if err := reg.Insert(name, binaryPath, symbolsPath); err != nil {
				return err
			}
			tmpl, err := reg.Get(name)
			if err != nil {
				return err
			}
			info := tmpl.ELF

			fmt.Printf("%s %s\n", colorize.Header("scripthost info"), colorize.Detail(binaryPath))
			fmt.Printf("  %s %s\n", colorize.Detail("entry:"), colorize.Address(info.Entry))
			fmt.Printf("  %s %s .. %s\n", colorize.Detail("range:"), colorize.Address(info.BaseAddr), colorize.Address(info.EndAddr))
			fmt.Printf("  %s %d  %s %d  %s %d\n",
				colorize.Detail("symbols:"), len(info.Symbols),
				colorize.Detail("imports:"), len(info.Imports),
				colorize.Detail("segments:"), len(info.Segments))

			if symbolsPath != "" {
				dir := directory.New()
				dir.BuildFromFile(symbolsPath, info)
				fmt.Printf("  %s %d entries\n", colorize.Detail("directory:"), dir.Len())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbolsPath, "symbols", "", "path to a whitespace-separated symbol list")
	return cmd
}
