// Package debugtui implements an interactive terminal inspector for a
// running simulation: step ticks one at a time, watch an organism's
// registers, and see the world cells around its instruction pointer.
package debugtui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/scheduler"
	"evochora/internal/world"
)

type model struct {
	sched *scheduler.Scheduler
	table *isa.Table
	focus int
	err   error
}

// Init performs no startup command; the scheduler is already populated by
// the caller before Debug starts the program.
func (m model) Init() tea.Cmd { return nil }

// Update advances the simulation in response to key presses: space/j steps
// one tick, h/l change which organism is focused, q quits.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "j":
			m.sched.Step()
		case "h":
			if m.focus > 0 {
				m.focus--
			}
		case "l":
			m.focus++
		}
	}
	return m, nil
}

func (m model) organisms() []*organism.Organism {
	return m.sched.Organisms()
}

func (m model) current() *organism.Organism {
	orgs := m.organisms()
	if len(orgs) == 0 {
		return nil
	}
	if m.focus >= len(orgs) {
		m.focus = len(orgs) - 1
	}
	return orgs[m.focus]
}

// renderRow renders a fixed span of cells starting at pos and stepping
// along the organism's DV, marking the organism's IP.
func (m model) renderRow(w *world.World, org *organism.Organism, pos world.Coord) string {
	const span = 8
	row := fmt.Sprintf("%v | ", []int32(pos))
	p := pos.Clone()
	dv := org.DV
	for i := 0; i < span; i++ {
		cell, _ := w.Get(p)
		cellStr := cell.String()
		if p.Equal(org.IP) {
			row += fmt.Sprintf("[%s] ", cellStr)
		} else {
			row += fmt.Sprintf(" %s  ", cellStr)
		}
		p = w.Neighbor(p, dv)
	}
	return row
}

func (m model) status(org *organism.Organism) string {
	return fmt.Sprintf(
		"ID: %d  tick: %d\nIP: %v  DV: %v\nER: %d\nDR0: %s  PR0: %s  FPR0: %s\ncall depth: %d  data depth: %d\nfailed: %v (%s)\n",
		org.ID, m.sched.CurrentTick(), []int32(org.IP), []int32(org.DV), org.ER,
		regString(org.DR, 0), regString(org.PR, 0), regString(org.FPR, 0),
		len(org.CallStack), len(org.DataStack),
		org.InstructionFailed, org.FailureReason,
	)
}

func regString(regs []molecule.Word, i int) string {
	if i < 0 || i >= len(regs) {
		return "-"
	}
	return regs[i].String()
}

// View renders the row of world cells from the focused organism's IP, its
// status block, the name of the opcode at its IP, and a raw dump of its
// data registers.
func (m model) View() string {
	org := m.current()
	if org == nil {
		return "no organisms\n"
	}
	w := m.sched.World()

	opcodeCell, _ := w.Get(org.IP)
	opName := "?"
	if t, v := molecule.Unpack(opcodeCell); t == molecule.CODE {
		if op, ok := m.table.ByID(int(v)); ok {
			opName = op.Name
		}
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderRow(w, org, org.IP),
		"",
		m.status(org),
		"next opcode: "+opName,
		strings.TrimSpace(spew.Sdump(org.DR)),
	)
}

// Debug starts an interactive TUI over an already-populated scheduler.
func Debug(sched *scheduler.Scheduler, tbl *isa.Table) error {
	p, err := tea.NewProgram(model{sched: sched, table: tbl}).Run()
	if err != nil {
		return err
	}
	if mm, ok := p.(model); ok && mm.err != nil {
		return mm.err
	}
	return nil
}
