// Package debugger implements the interactive single-step/registers/
// call-trace TUI described in §4.11, built on bubbletea/bubbles/lipgloss.
// It reads CPU/MMU/resolver/recorder state only through their exported
// accessors, never their internals, matching spec §6's framing of the
// debugger as an external collaborator behind a narrow interface.
package debugger

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zboralski/uemu32/internal/cpu"
	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/disasm"
	"github.com/zboralski/uemu32/internal/script"
)

// Breakpoint pairs an address with an optional goja condition; an empty
// Condition always halts, per §4.12.
type Breakpoint struct {
	Addr      uint32
	Condition string
}

// Resolver is the narrow symbol-lookup surface the disassembly pane needs.
type Resolver = disasm.Resolver

var (
	paneStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	hdrStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#56A8D6"))
	cursorRow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC800")).Bold(true)
	faultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E05561")).Bold(true)
)

// keyMap groups the debugger's key bindings for bubbles/help's two-line
// rendering (short form in the footer, full form on "?").
type keyMap struct {
	Step     key.Binding
	Continue key.Binding
	Break    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Continue, k.Break, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Step:     key.NewBinding(key.WithKeys("n", "s"), key.WithHelp("n/s", "step")),
	Continue: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "continue")),
	Break:    key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "breakpoint")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the bubbletea model for the debug console.
type Model struct {
	cpu         *cpu.CPU
	resolver    Resolver
	engine      *script.Engine
	breakpoints []Breakpoint
	help        help.Model

	status  string
	faulted bool
	width   int
	height  int
}

// New builds a debug-console Model around an already-constructed CPU.
func New(c *cpu.CPU, resolver Resolver, breakpoints []Breakpoint) Model {
	return Model{
		cpu:         c,
		resolver:    resolver,
		engine:      script.New(),
		breakpoints: breakpoints,
		help:        help.New(),
		status:      "ready",
		width:       100,
		height:      30,
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Step):
			m.step()
		case key.Matches(msg, keys.Continue):
			m.continueToBreakpoint()
		case key.Matches(msg, keys.Break):
			m.status = "set a breakpoint with --break addr[:cond] before launching debug"
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

func (m *Model) step() {
	if m.cpu.Halted {
		m.status = "halted: " + m.cpu.HaltMsg
		return
	}
	res := m.cpu.Step()
	switch {
	case res.MemFault != nil:
		m.faulted = true
		m.status = fmt.Sprintf("fault: %s", res.MemFault.Error())
	case res.Err != nil:
		m.status = fmt.Sprintf("error: %v", res.Err)
	default:
		m.status = fmt.Sprintf("stepped %s", res.Instruction.Name)
	}
}

func (m *Model) continueToBreakpoint() {
	for !m.cpu.Halted {
		if bp, cond := m.hitBreakpoint(); bp {
			m.status = cond
			return
		}
		res := m.cpu.Step()
		if res.Stopped() {
			if res.MemFault != nil {
				m.status = fmt.Sprintf("fault: %s", res.MemFault.Error())
			} else {
				m.status = fmt.Sprintf("error: %v", res.Err)
			}
			return
		}
	}
	m.status = "halted: " + m.cpu.HaltMsg
}

func (m *Model) hitBreakpoint() (bool, string) {
	for _, bp := range m.breakpoints {
		if bp.Addr != m.cpu.EIP() {
			continue
		}
		if bp.Condition == "" {
			return true, fmt.Sprintf("breakpoint at %#08x", bp.Addr)
		}
		ok, err := m.engine.Eval(bp.Condition, m.snapshot())
		if err != nil {
			continue // a malformed condition is never fatal, per §7
		}
		if ok {
			return true, fmt.Sprintf("breakpoint at %#08x (%s)", bp.Addr, bp.Condition)
		}
	}
	return false, ""
}

func (m *Model) snapshot() script.RegSnapshot {
	c := m.cpu
	return script.RegSnapshot{
		EAX: c.GPR(decoder.EAX, decoder.W32), ECX: c.GPR(decoder.ECX, decoder.W32),
		EDX: c.GPR(decoder.EDX, decoder.W32), EBX: c.GPR(decoder.EBX, decoder.W32),
		ESP: c.ESP(), EBP: c.GPR(decoder.EBP, decoder.W32),
		ESI: c.GPR(decoder.ESI, decoder.W32), EDI: c.GPR(decoder.EDI, decoder.W32),
		EIP: c.EIP(),
		CF:  c.Flag(decoder.FlagCF), PF: c.Flag(decoder.FlagPF), AF: c.Flag(decoder.FlagAF),
		ZF: c.Flag(decoder.FlagZF), SF: c.Flag(decoder.FlagSF), TF: c.Flag(decoder.FlagTF),
		IF: c.Flag(decoder.FlagIF), DF: c.Flag(decoder.FlagDF), OF: c.Flag(decoder.FlagOF),
	}
}

func (m Model) View() string {
	regs := paneStyle.Width(m.width/3 - 2).Render(m.registerPane())
	disasmPane := paneStyle.Width(m.width/3 - 2).Render(m.disassemblyPane())
	trace := paneStyle.Width(m.width/3 - 2).Render(m.backtracePane())

	top := lipgloss.JoinHorizontal(lipgloss.Top, regs, disasmPane, trace)
	status := m.status
	if m.faulted {
		status = faultStyle.Render(status)
	}
	return top + "\n" + status + "\n" + m.help.View(keys)
}

func (m Model) registerPane() string {
	c := m.cpu
	var b strings.Builder
	b.WriteString(hdrStyle.Render("registers") + "\n")
	fmt.Fprintf(&b, "eax=%08x ecx=%08x\n", c.GPR(decoder.EAX, decoder.W32), c.GPR(decoder.ECX, decoder.W32))
	fmt.Fprintf(&b, "edx=%08x ebx=%08x\n", c.GPR(decoder.EDX, decoder.W32), c.GPR(decoder.EBX, decoder.W32))
	fmt.Fprintf(&b, "esp=%08x ebp=%08x\n", c.ESP(), c.GPR(decoder.EBP, decoder.W32))
	fmt.Fprintf(&b, "esi=%08x edi=%08x\n", c.GPR(decoder.ESI, decoder.W32), c.GPR(decoder.EDI, decoder.W32))
	fmt.Fprintf(&b, "eip=%08x\n", c.EIP())
	b.WriteString(c.String())
	return b.String()
}

func (m Model) disassemblyPane() string {
	var b strings.Builder
	b.WriteString(hdrStyle.Render("disassembly") + "\n")
	eip := m.cpu.EIP()
	addr := eip
	for i := 0; i < 10; i++ {
		ins := decoder.Decode(m.cpu.Mem(), addr)
		if ins.FetchFailed {
			break
		}
		line := disasm.Render(ins, m.resolver)
		row := fmt.Sprintf("%08x  %s", addr, line.Text)
		if addr == eip {
			row = cursorRow.Render("-> " + row)
		} else {
			row = "   " + row
		}
		b.WriteString(row + "\n")
		addr += ins.BytesConsumed
	}
	return b.String()
}

func (m Model) backtracePane() string {
	var b strings.Builder
	b.WriteString(hdrStyle.Render("call trace") + "\n")
	rec := m.cpu.Recorder()
	if rec == nil || rec.Len() == 0 {
		b.WriteString("(empty)\n")
		return b.String()
	}
	for i := rec.Len() - 1; i >= 0; i-- {
		frame, ok := rec.At(i)
		if !ok {
			continue
		}
		name := frame.SymbolName
		if name == "" {
			name = fmt.Sprintf("%#08x", frame.StartAddr)
		}
		fmt.Fprintf(&b, "#%d %s+%#x (ret %#08x)\n", i, name, frame.RelativeOffset, frame.ReturnAddr)
	}
	return b.String()
}

// Run launches the debug console as a full-screen bubbletea program.
func Run(c *cpu.CPU, resolver Resolver, breakpoints []Breakpoint) error {
	p := tea.NewProgram(New(c, resolver, breakpoints), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
