// Package decoder implements the table-driven IA-32 instruction decoder
// described in §4.4/§4.5: legacy prefixes, the one-byte and 0x0F two-byte
// opcode tables, ModR/M and SIB, displacement, and immediates. It is pure
// with respect to CPU state — the only side effect is reading bytes through
// an mmu.MMU — and stays independent of the cpu package's concrete register
// state via the Machine interface, which cpu.CPU implements.
package decoder

import (
	"github.com/zboralski/uemu32/internal/mmu"
	"github.com/zboralski/uemu32/internal/trace"
)

// RegID names one of the eight 32-bit general-purpose registers.
type RegID int

const (
	EAX RegID = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	NumGPR
)

func (r RegID) String() string {
	names := [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	if int(r) < len(names) {
		return names[r]
	}
	return "?"
}

// SegID names one of the six segment registers.
type SegID int

const (
	SegCS SegID = iota
	SegSS
	SegDS
	SegES
	SegFS
	SegGS
)

// Width selects which aliased view of a GPR an operand addresses, per
// §4.6's register-aliasing rules.
type Width int

const (
	W8L  Width = iota // AL/CL/DL/BL (low byte)
	W8H               // AH/CH/DH/BH (high byte; only valid for EAX..EBX)
	W16               // AX/CX/.../DI
	W32               // EAX/ECX/.../EDI
)

// Flag names one EFLAGS bit the execution engine reads or writes.
type Flag int

const (
	FlagCF Flag = iota
	FlagPF
	FlagAF
	FlagZF
	FlagSF
	FlagTF
	FlagIF
	FlagDF
	FlagOF
)

// Machine is the execution-time state a handler needs: registers, segment
// registers, flags, memory, and the call-trace recorder. cpu.CPU implements
// this; decoder never imports cpu, avoiding the import cycle decoder →
// cpu → decoder that a concrete *cpu.CPU parameter would create.
type Machine interface {
	Mem() *mmu.MMU
	Recorder() *trace.Recorder

	EIP() uint32
	SetEIP(uint32)

	GPR(id RegID, w Width) uint32
	SetGPR(id RegID, w Width, v uint32)

	Seg(id SegID) uint16
	SetSeg(id SegID, v uint16)

	Flag(f Flag) bool
	SetFlag(f Flag, v bool)
}

// HandlerFunc is the per-opcode semantic routine signature from §4.7:
// "handler(cpu, exec_data)". Errors propagate MMU faults and the
// "unreachable" diagnostic for unimplemented opcodes (§7).
type HandlerFunc func(m Machine, ed ExecData) error

// Prefixes is the seven-flag prefix record from §3's exec_data.
type Prefixes struct {
	OperandSize     bool
	AddressSize     bool
	Lock            bool
	Repnz           bool
	Rep             bool
	SegmentOverride SegID
	HasSegOverride  bool
	LastPrefixByte  byte
}

// ModRM is the decoded addressing-mode byte.
type ModRM struct {
	Present bool
	Raw     byte
	Mod     uint8
	Reg     uint8
	RM      uint8
}

// SIB is the decoded scale/index/base byte, present only when ModRM.Mod !=
// 3 and ModRM.RM == 4.
type SIB struct {
	Present bool
	Raw     byte
	Scale   uint8
	Index   uint8
	Base    uint8
}

// ExecData carries everything a handler needs to execute one instruction,
// per §3's exec_data field list.
type ExecData struct {
	Primary      byte
	Secondary    byte
	HasSecondary bool
	Extension    byte // ModR/M.reg when the opcode is extension-selected

	// Encoding is the final, operand-size-resolved encoding kind (§4.4 step
	// 7) — duplicated from Instruction.Encoding because handlers receive
	// only ExecData, not the enclosing Instruction.
	Encoding EncodingKind

	ModRM ModRM
	SIB   SIB

	Disp uint32
	Imm1 uint32
	Imm2 uint32

	Prefixes Prefixes

	// IsMemOperand distinguishes whether the decoded r/m operand is a
	// register (mod==3) or a memory effective address; the execution
	// engine's operand-fetch step (§4.6) uses this, not the decoder.
	IsMemOperand bool

	InstrEIP uint32 // eip_at_decode
}

// Instruction is the decoder's output, per §3's decoded-instruction model.
type Instruction struct {
	Name          string
	Encoding      EncodingKind
	Handler       HandlerFunc
	EIPAtDecode   uint32
	BytesConsumed uint32
	FetchFailed   bool
	FailByte      byte
	ExecData      ExecData
}
