package cpu

import "github.com/zboralski/uemu32/internal/decoder"

// reg8 maps a 3-bit register-direct field to the 8-bit aliasing rule from
// §4.6: 0-3 are AL/CL/DL/BL (low byte), 4-7 are AH/CH/DH/BH (high byte of
// EAX/ECX/EDX/EBX) — ESP/EBP/ESI/EDI have no 8-bit alias at all.
func reg8(field uint8) (decoder.RegID, decoder.Width) {
	if field < 4 {
		return decoder.RegID(field), decoder.W8L
	}
	return decoder.RegID(field - 4), decoder.W8H
}

func reg16(field uint8) (decoder.RegID, decoder.Width) {
	return decoder.RegID(field), decoder.W16
}

func reg32(field uint8) (decoder.RegID, decoder.Width) {
	return decoder.RegID(field), decoder.W32
}

// effectiveRegister implements §4.6's effective_register(modrm, size):
// decodes ModR/M.rm (register-direct, mod==3) to a (RegID, Width) pair for
// the given operand width.
func effectiveRegister(rm uint8, width decoder.Width) (decoder.RegID, decoder.Width) {
	switch width {
	case decoder.W8L, decoder.W8H:
		return reg8(rm)
	case decoder.W16:
		return reg16(rm)
	default:
		return reg32(rm)
	}
}

// effectiveAddress computes the memory operand address for a ModR/M+SIB
// encoding, per §4.6's 16-bit and 32-bit addressing-mode tables. Only
// called when ed.IsMemOperand is true.
func effectiveAddress(c *CPU, ed decoder.ExecData) uint32 {
	if ed.Prefixes.AddressSize {
		return effectiveAddress16(c, ed)
	}
	return effectiveAddress32(c, ed)
}

func effectiveAddress16(c *CPU, ed decoder.ExecData) uint32 {
	mod, rm := ed.ModRM.Mod, ed.ModRM.RM
	var base uint32
	switch rm {
	case 0:
		base = c.GPR(decoder.EBX, decoder.W16) + c.GPR(decoder.ESI, decoder.W16)
	case 1:
		base = c.GPR(decoder.EBX, decoder.W16) + c.GPR(decoder.EDI, decoder.W16)
	case 2:
		base = c.GPR(decoder.EBP, decoder.W16) + c.GPR(decoder.ESI, decoder.W16)
	case 3:
		base = c.GPR(decoder.EBP, decoder.W16) + c.GPR(decoder.EDI, decoder.W16)
	case 4:
		base = c.GPR(decoder.ESI, decoder.W16)
	case 5:
		base = c.GPR(decoder.EDI, decoder.W16)
	case 6:
		if mod == 0 {
			base = 0 // disp16 only
		} else {
			base = c.GPR(decoder.EBP, decoder.W16)
		}
	case 7:
		base = c.GPR(decoder.EBX, decoder.W16)
	}
	return (base + ed.Disp) & 0xFFFF
}

func effectiveAddress32(c *CPU, ed decoder.ExecData) uint32 {
	mod, rm := ed.ModRM.Mod, ed.ModRM.RM

	if rm == 4 && ed.SIB.Present {
		return effectiveAddressSIB(c, ed)
	}

	var base uint32
	hasBase := true
	switch rm {
	case 0:
		base = c.GPR(decoder.EAX, decoder.W32)
	case 1:
		base = c.GPR(decoder.ECX, decoder.W32)
	case 2:
		base = c.GPR(decoder.EDX, decoder.W32)
	case 3:
		base = c.GPR(decoder.EBX, decoder.W32)
	case 5:
		if mod == 0 {
			hasBase = false // disp32 only, no base
		} else {
			base = c.GPR(decoder.EBP, decoder.W32)
		}
	case 6:
		base = c.GPR(decoder.ESI, decoder.W32)
	case 7:
		base = c.GPR(decoder.EDI, decoder.W32)
	}
	if !hasBase {
		base = 0
	}
	return base + ed.Disp
}

// effectiveAddressSIB decodes base + index*scale + disp, with the EBP/mod=0
// "no base" special case and the ESP-as-index "no index" special case, per
// §4.6.
func effectiveAddressSIB(c *CPU, ed decoder.ExecData) uint32 {
	var addr uint32
	if !(ed.SIB.Base == 5 && ed.ModRM.Mod == 0) {
		addr += c.GPR(decoder.RegID(ed.SIB.Base), decoder.W32)
	}
	if ed.SIB.Index != 4 {
		scale := uint32(1) << ed.SIB.Scale
		addr += c.GPR(decoder.RegID(ed.SIB.Index), decoder.W32) * scale
	}
	return addr + ed.Disp
}
