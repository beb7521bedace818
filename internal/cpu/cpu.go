// Package cpu implements IA-32 register/EFLAGS state and the per-opcode
// semantic routines from §4.6/§4.7: CPU owns architectural state, registers
// its handlers into the decoder package's opcode tables at start-up, and
// runs the main execution loop that ties decode, memory, and the call-trace
// recorder together.
package cpu

import (
	"fmt"

	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/mmu"
	"github.com/zboralski/uemu32/internal/trace"
)

// EFLAGS bit positions, per the IA-32 manual.
const (
	bitCF = 1 << 0
	bitPF = 1 << 2
	bitAF = 1 << 4
	bitZF = 1 << 6
	bitSF = 1 << 7
	bitTF = 1 << 8
	bitIF = 1 << 9
	bitDF = 1 << 10
	bitOF = 1 << 11
)

var flagBits = map[decoder.Flag]uint32{
	decoder.FlagCF: bitCF, decoder.FlagPF: bitPF, decoder.FlagAF: bitAF,
	decoder.FlagZF: bitZF, decoder.FlagSF: bitSF, decoder.FlagTF: bitTF,
	decoder.FlagIF: bitIF, decoder.FlagDF: bitDF, decoder.FlagOF: bitOF,
}

// CPU holds the architectural state named in §3: eight GPRs, EIP, six
// segment registers, and EFLAGS. It implements decoder.Machine so the
// decoder's handler type can invoke it without decoder importing cpu.
type CPU struct {
	gpr    [decoder.NumGPR]uint32
	eip    uint32
	seg    [6]uint16
	eflags uint32

	mem      *mmu.MMU
	recorder *trace.Recorder

	Halted   bool
	HaltMsg  string // diagnostic set on halt, per §7
}

// New builds a CPU bound to mem and recorder. recorder may be nil (e.g. in
// unit tests that don't care about call-trace bookkeeping).
func New(mem *mmu.MMU, recorder *trace.Recorder) *CPU {
	return &CPU{mem: mem, recorder: recorder}
}

func (c *CPU) Mem() *mmu.MMU             { return c.mem }
func (c *CPU) Recorder() *trace.Recorder { return c.recorder }

func (c *CPU) EIP() uint32     { return c.eip }
func (c *CPU) SetEIP(v uint32) { c.eip = v }

func (c *CPU) GPR(id decoder.RegID, w decoder.Width) uint32 {
	v := c.gpr[id]
	switch w {
	case decoder.W8L:
		return v & 0xFF
	case decoder.W8H:
		return (v >> 8) & 0xFF
	case decoder.W16:
		return v & 0xFFFF
	default:
		return v
	}
}

func (c *CPU) SetGPR(id decoder.RegID, w decoder.Width, v uint32) {
	switch w {
	case decoder.W8L:
		c.gpr[id] = (c.gpr[id] &^ 0xFF) | (v & 0xFF)
	case decoder.W8H:
		c.gpr[id] = (c.gpr[id] &^ 0xFF00) | ((v & 0xFF) << 8)
	case decoder.W16:
		c.gpr[id] = (c.gpr[id] &^ 0xFFFF) | (v & 0xFFFF)
	default:
		c.gpr[id] = v
	}
}

func (c *CPU) Seg(id decoder.SegID) uint16     { return c.seg[id] }
func (c *CPU) SetSeg(id decoder.SegID, v uint16) { c.seg[id] = v }

func (c *CPU) Flag(f decoder.Flag) bool {
	return c.eflags&flagBits[f] != 0
}

func (c *CPU) SetFlag(f decoder.Flag, v bool) {
	bit := flagBits[f]
	if v {
		c.eflags |= bit
	} else {
		c.eflags &^= bit
	}
}

// EFLAGS returns the raw packed bitfield, for the disassembly/debugger UIs.
func (c *CPU) EFLAGS() uint32 { return c.eflags }

// SetESP/ESP are convenience accessors the stack handlers use constantly.
func (c *CPU) ESP() uint32     { return c.gpr[decoder.ESP] }
func (c *CPU) SetESP(v uint32) { c.gpr[decoder.ESP] = v }

// String renders a register/flags dump, grounded on original_source's
// cpustat.c state-printing routine (§9's design note maps cpustat.c to
// this method).
func (c *CPU) String() string {
	return fmt.Sprintf(
		"eax=%08x ecx=%08x edx=%08x ebx=%08x esp=%08x ebp=%08x esi=%08x edi=%08x eip=%08x eflags=%08x [%s]",
		c.gpr[decoder.EAX], c.gpr[decoder.ECX], c.gpr[decoder.EDX], c.gpr[decoder.EBX],
		c.gpr[decoder.ESP], c.gpr[decoder.EBP], c.gpr[decoder.ESI], c.gpr[decoder.EDI],
		c.eip, c.eflags, c.flagString(),
	)
}

func (c *CPU) flagString() string {
	set := func(b bool, ch string) string {
		if b {
			return ch
		}
		return "-"
	}
	return set(c.Flag(decoder.FlagOF), "O") + set(c.Flag(decoder.FlagDF), "D") +
		set(c.Flag(decoder.FlagSF), "S") + set(c.Flag(decoder.FlagZF), "Z") +
		set(c.Flag(decoder.FlagAF), "A") + set(c.Flag(decoder.FlagPF), "P") +
		set(c.Flag(decoder.FlagCF), "C")
}
