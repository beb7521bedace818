package decoder

// EncodingKind is the closed enumeration of operand patterns from §4.5. It
// covers every IA-32 encoding used by the implemented instruction subset
// (§4.7), plus the SSE/x87/MMX tail needed so those opcodes can still be
// decoded (and their byte length accounted for) even though their handlers
// are stubbed per the FPU/SIMD non-goal.
type EncodingKind int

const (
	EncNone EncodingKind = iota // no operand, not even OP (used for "unset")

	EncOP // no operands at all: HLT, NOP, RET, INT3, CLC...

	EncImm8
	EncImm16
	EncImm32

	EncALImm8
	EncAXImm16
	EncEAXImm32

	EncRM8
	EncRM16
	EncRM32

	EncRM8Imm8
	EncRM16Imm16
	EncRM32Imm32
	EncRM16Imm8 // rm16 op imm8, sign-extended (group1 0x83 with opsize prefix)
	EncRM32Imm8 // rm32 op imm8, sign-extended (group1 0x83)

	EncRM8R8
	EncRM16R16
	EncRM32R32

	EncR8RM8
	EncR16RM16
	EncR32RM32

	EncRela8
	EncRela16
	EncRela32

	EncPtr16_16
	EncPtr16_32

	EncSregRM16
	EncRM16Sreg

	EncR32RM8  // MOVZX 8→32
	EncR32RM16 // MOVZX 16→32
	EncR16RM8  // MOVZX 8→16

	// Stub tail: decoded (for byte-length accounting and disassembly) but
	// never executed; handlers for these report "unreachable", per §7.
	EncX87Stub
	EncMMXStub
	EncSSEStub
)

// String renders the mnemonic-pattern name, mostly for diagnostics and the
// disassembly renderer.
func (k EncodingKind) String() string {
	names := map[EncodingKind]string{
		EncNone: "none", EncOP: "OP",
		EncImm8: "imm8", EncImm16: "imm16", EncImm32: "imm32",
		EncALImm8: "AL_imm8", EncAXImm16: "AX_imm16", EncEAXImm32: "eAX_imm32",
		EncRM8: "rm8", EncRM16: "rm16", EncRM32: "rm32",
		EncRM8Imm8: "rm8_imm8", EncRM16Imm16: "rm16_imm16", EncRM32Imm32: "rm32_imm32",
		EncRM16Imm8: "rm16_imm8", EncRM32Imm8: "rm32_imm8",
		EncRM8R8: "rm8_r8", EncRM16R16: "rm16_r16", EncRM32R32: "rm32_r32",
		EncR8RM8: "r8_rm8", EncR16RM16: "r16_rm16", EncR32RM32: "r32_rm32",
		EncRela8: "rela8", EncRela16: "rela16", EncRela32: "rela32",
		EncPtr16_16: "ptr16_16", EncPtr16_32: "ptr16_32",
		EncSregRM16: "sreg_rm16", EncRM16Sreg: "rm16_sreg",
		EncR32RM8: "r32_rm8", EncR32RM16: "r32_rm16", EncR16RM8: "r16_rm8",
		EncX87Stub: "x87", EncMMXStub: "mmx", EncSSEStub: "sse",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// usesModRM reports whether this encoding kind can carry a memory
// operand via ModR/M (§4.4 step 8's displacement gate).
func (k EncodingKind) usesModRM() bool {
	switch k {
	case EncRM8, EncRM16, EncRM32,
		EncRM8Imm8, EncRM16Imm16, EncRM32Imm32, EncRM16Imm8, EncRM32Imm8,
		EncRM8R8, EncRM16R16, EncRM32R32,
		EncR8RM8, EncR16RM16, EncR32RM32,
		EncSregRM16, EncRM16Sreg,
		EncR32RM8, EncR32RM16, EncR16RM8:
		return true
	default:
		return false
	}
}

// immSize returns how many immediate bytes this encoding consumes (0 if
// none), per §4.4 step 9.
func (k EncodingKind) immSize() int {
	switch k {
	case EncImm8, EncALImm8, EncRM8Imm8, EncRM16Imm8, EncRM32Imm8:
		return 1
	case EncImm16, EncAXImm16, EncRM16Imm16:
		return 2
	case EncImm32, EncEAXImm32, EncRM32Imm32:
		return 4
	case EncRela8:
		return 1
	case EncRela16:
		return 2
	case EncRela32:
		return 4
	case EncPtr16_16:
		return 4 // 16-bit offset + 16-bit selector
	case EncPtr16_32:
		return 6 // 32-bit offset + 16-bit selector
	default:
		return 0
	}
}
