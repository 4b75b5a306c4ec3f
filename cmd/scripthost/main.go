// Command scripthost loads guest ARM64 ELF binaries into the scripting
// host and drives them: run a Script Instance to completion, benchmark a
// guest function, trace its instruction stream, or inspect a Template
// Binary's symbols. It is the reference embedder for the scripting host
// package — the game loop, asset pipeline, and network layer it would sit
// behind in a real embedder are out of scope here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrelvm/scripthost/internal/config"
	glog "github.com/kestrelvm/scripthost/internal/log"
)

var (
	configPath string
	debug      bool
	quiet      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scripthost",
		Short: "Multi-tenant ARM64 scripting host",
		Long: `scripthost runs guest ARM64 ELF binaries inside isolated emulated VMs,
one Script Instance per tenant, with a typed host<->guest call boundary,
cross-VM far-calls, and a per-frame tick event.

Examples:
  scripthost run guest.elf start          # load, initialize, call start()
  scripthost bench guest.elf hot_path     # median per-call latency
  scripthost trace guest.elf start -n 200 # disassemble the first 200 insns
  scripthost info guest.elf               # symbol/import counts`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			glog.Init(debug)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults if unset)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "verbose debug logging, unbounded instruction budget")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newBenchCmd())
	rootCmd.AddCommand(newTraceCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newMonitorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Debug = cfg.Debug || debug
	return cfg, nil
}
