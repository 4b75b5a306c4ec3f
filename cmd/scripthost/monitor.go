package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kestrelvm/scripthost/internal/host"
	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/script"
)

var (
	monitorBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	monitorHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	monitorWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	monitorDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type tickMsg time.Time

// monitorModel drives a process-wide instance map's tick event on a fixed
// cadence and renders each instance's live budget-overrun count, standing
// in for the embedder's per-frame pulse.
type monitorModel struct {
	hm       *host.Map
	interval time.Duration
	ticks    uint64
	err      error
}

func (m monitorModel) Init() tea.Cmd {
	return tickEvery(m.interval)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.hm.Tick()
		m.ticks++
		return m, tickEvery(m.interval)
	}
	return m, nil
}

func (m monitorModel) View() string {
	names := m.hm.Names()
	sort.Strings(names)

	body := monitorHeader.Render(fmt.Sprintf("scripthost monitor  —  frame %d  (q to quit)", m.ticks)) + "\n\n"
	if len(names) == 0 {
		body += monitorDim.Render("no instances registered")
	}
	for _, name := range names {
		inst, ok := m.hm.GetByName(name)
		if !ok {
			continue
		}
		overruns := inst.Machine().BudgetOverruns()
		line := fmt.Sprintf("%-24s budget_overruns=%d", name, overruns)
		if overruns > 0 {
			line = monitorWarn.Render(line)
		}
		body += line + "\n"
	}
	return monitorBorder.Render(body)
}

func newMonitorCmd() *cobra.Command {
	var symbolsPath string
	var hz float64

	cmd := &cobra.Command{
		Use:   "monitor <binary.elf>... ",
		Short: "Run a live TUI driving the tick event across one or more instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg := registry.New(cfg.VMOptions())
			hm := host.New()

			for _, binaryPath := range args {
				name := filepath.Base(binaryPath)
				if err := reg.Insert(name, binaryPath, symbolsPath); err != nil {
					return fmt.Errorf("register %s: %w", name, err)
				}
				tmpl, err := reg.Get(name)
				if err != nil {
					return err
				}
				inst, err := script.Create(tmpl, name, script.Options{Debug: cfg.Debug})
				if err != nil {
					return fmt.Errorf("create %s: %w", name, err)
				}
				defer inst.Machine().Close()

				if err := inst.Initialize(""); err != nil {
					return fmt.Errorf("initialize %s: %w", name, err)
				}
				if err := hm.Insert(inst); err != nil {
					return err
				}
			}

			interval := time.Duration(float64(time.Second) / hz)
			model := monitorModel{hm: hm, interval: interval}
			_, err = tea.NewProgram(model).Run()
			return err
		},
	}

	cmd.Flags().StringVar(&symbolsPath, "symbols", "", "path to a whitespace-separated symbol list applied to every binary")
	cmd.Flags().Float64Var(&hz, "hz", 30, "tick rate in frames per second")
	return cmd
}
