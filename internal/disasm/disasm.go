// Package disasm renders a decoder.Instruction into an Intel-syntax mnemonic
// line, independent of any live CPU state — it reads only the decoded
// ExecData, never register values, per §4.10.
package disasm

import (
	"fmt"
	"strings"

	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/symtab"
	"github.com/zboralski/uemu32/internal/ui/colorize"
)

var reg32Names = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
var reg16Names = [8]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
var reg8Names = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}
var seg16Names = [8]string{"bx+si", "bx+di", "bp+si", "bp+di", "si", "di", "bp", "bx"}

// Resolver is the subset of *symtab.Resolver the renderer needs to annotate
// branch/call targets with a symbol name.
type Resolver interface {
	Lookup(vaddr uint32) symtab.Result
}

// Line is one rendered instruction, ready for a terminal or the debugger's
// disassembly pane.
type Line struct {
	EIP     uint32
	Text    string // "mov eax, 0x5"
	Target  uint32 // resolved absolute branch/call target, 0 if not applicable
	HasSym  bool
	SymName string
}

// width mirrors cpu.widthFromEncoding's table; disasm is deliberately
// decoupled from the cpu package (it only ever sees decoded instructions,
// never live register state), so it carries its own small copy.
func width(enc decoder.EncodingKind) decoder.Width {
	switch enc {
	case decoder.EncRM8R8, decoder.EncR8RM8, decoder.EncALImm8,
		decoder.EncRM8Imm8, decoder.EncRM8:
		return decoder.W8L
	case decoder.EncRM16R16, decoder.EncR16RM16, decoder.EncAXImm16,
		decoder.EncRM16Imm16, decoder.EncRM16Imm8, decoder.EncRM16,
		decoder.EncSregRM16, decoder.EncRM16Sreg, decoder.EncR16RM8:
		return decoder.W16
	default:
		return decoder.W32
	}
}

func regName(field uint8, w decoder.Width) string {
	switch w {
	case decoder.W8L, decoder.W8H:
		return reg8Names[field&7]
	case decoder.W16:
		return reg16Names[field&7]
	default:
		return reg32Names[field&7]
	}
}

func hexImm(v uint32) string {
	if int32(v) < 0 {
		return fmt.Sprintf("-0x%x", uint32(-int32(v)))
	}
	return fmt.Sprintf("0x%x", v)
}

func signedDisp(v uint32) string {
	d := int32(v)
	if d < 0 {
		return fmt.Sprintf("-0x%x", uint32(-d))
	}
	return fmt.Sprintf("+0x%x", uint32(d))
}

// memOperand renders the bracketed memory operand text for a ModR/M+SIB
// encoding that resolved to a memory reference (mod != 3).
func memOperand(ed decoder.ExecData) string {
	var sb strings.Builder
	sb.WriteByte('[')

	if ed.Prefixes.AddressSize {
		mod, rm := ed.ModRM.Mod, ed.ModRM.RM
		if rm == 6 && mod == 0 {
			sb.WriteString(hexImm(ed.Disp))
		} else {
			sb.WriteString(seg16Names[rm])
			if ed.Disp != 0 {
				sb.WriteString(signedDisp(ed.Disp))
			}
		}
	} else if ed.ModRM.RM == 4 && ed.SIB.Present {
		wroteTerm := false
		if !(ed.SIB.Base == 5 && ed.ModRM.Mod == 0) {
			sb.WriteString(reg32Names[ed.SIB.Base])
			wroteTerm = true
		}
		if ed.SIB.Index != 4 {
			if wroteTerm {
				sb.WriteByte('+')
			}
			fmt.Fprintf(&sb, "%s*%d", reg32Names[ed.SIB.Index], 1<<ed.SIB.Scale)
			wroteTerm = true
		}
		if ed.Disp != 0 || !wroteTerm {
			if wroteTerm {
				sb.WriteString(signedDisp(ed.Disp))
			} else {
				sb.WriteString(hexImm(ed.Disp))
			}
		}
	} else if ed.ModRM.RM == 5 && ed.ModRM.Mod == 0 {
		sb.WriteString(hexImm(ed.Disp))
	} else {
		sb.WriteString(reg32Names[ed.ModRM.RM])
		if ed.Disp != 0 {
			sb.WriteString(signedDisp(ed.Disp))
		}
	}

	sb.WriteByte(']')
	return sb.String()
}

func rmOperand(ed decoder.ExecData, w decoder.Width) string {
	if !ed.IsMemOperand {
		return regName(ed.ModRM.RM, w)
	}
	return memOperand(ed)
}

// Render formats ins as an Intel-syntax "mnemonic operands" string. resolver
// may be nil, in which case branch/call targets are shown as bare hex.
func Render(ins decoder.Instruction, resolver Resolver) Line {
	line := Line{EIP: ins.EIPAtDecode}
	if ins.FetchFailed {
		line.Text = "(bad)"
		return line
	}

	w := width(ins.Encoding)
	ed := ins.ExecData
	var operands string

	switch ins.Encoding {
	case decoder.EncOP:
		operands = ""
	case decoder.EncRM8R8, decoder.EncRM16R16, decoder.EncRM32R32:
		operands = rmOperand(ed, w) + ", " + regName(ed.ModRM.Reg, w)
	case decoder.EncR8RM8, decoder.EncR16RM16, decoder.EncR32RM32,
		decoder.EncR32RM8, decoder.EncR32RM16, decoder.EncR16RM8:
		operands = regName(ed.ModRM.Reg, w) + ", " + rmOperand(ed, width(encodingOf(ins.Encoding)))
	case decoder.EncALImm8, decoder.EncAXImm16, decoder.EncEAXImm32:
		operands = regName(0, w) + ", " + hexImm(ed.Imm1)
	case decoder.EncRM8Imm8, decoder.EncRM16Imm16, decoder.EncRM32Imm32,
		decoder.EncRM16Imm8, decoder.EncRM32Imm8:
		operands = rmOperand(ed, w) + ", " + hexImm(ed.Imm1)
	case decoder.EncRM8, decoder.EncRM16, decoder.EncRM32:
		operands = rmOperand(ed, w)
	case decoder.EncImm8, decoder.EncImm16, decoder.EncImm32:
		operands = hexImm(ed.Imm1)
	case decoder.EncRela8, decoder.EncRela16, decoder.EncRela32:
		target := ins.EIPAtDecode + ins.BytesConsumed + ed.Imm1
		line.Target = target
		operands = annotateTarget(target, resolver, &line)
	case decoder.EncSregRM16:
		operands = fmt.Sprintf("seg%d, %s", ed.ModRM.Reg, rmOperand(ed, decoder.W16))
	case decoder.EncRM16Sreg:
		operands = fmt.Sprintf("%s, seg%d", rmOperand(ed, decoder.W16), ed.ModRM.Reg)
	default:
		operands = ""
	}

	text := ins.Name
	if operands != "" {
		text += " " + operands
	}
	line.Text = text
	return line
}

// encodingOf maps a MOVZX-family source-extension encoding back to a
// standalone encoding kind so width() can resolve the rm operand's (narrower)
// width independently of the destination register's width.
func encodingOf(enc decoder.EncodingKind) decoder.EncodingKind {
	switch enc {
	case decoder.EncR32RM8, decoder.EncR16RM8:
		return decoder.EncRM8
	case decoder.EncR32RM16:
		return decoder.EncRM16
	default:
		return enc
	}
}

func annotateTarget(target uint32, resolver Resolver, line *Line) string {
	if resolver == nil {
		return hexImm(target)
	}
	res := resolver.Lookup(target)
	if !res.Found {
		return hexImm(target)
	}
	line.HasSym = true
	line.SymName = res.Name
	off := target - res.Start
	if off == 0 {
		return fmt.Sprintf("0x%x <%s>", target, res.Name)
	}
	return fmt.Sprintf("0x%x <%s+0x%x>", target, res.Name, off)
}

// Highlight pipes line.Text through the colorize package's chroma pipeline.
func Highlight(line Line) string {
	return colorize.Instruction(line.Text)
}
