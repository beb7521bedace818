package cpu

import "github.com/zboralski/uemu32/internal/decoder"

// widthFromEncoding maps a resolved (post operand-size-prefix) encoding
// kind to the operand width the ALU/MOV handlers compute at.
func widthFromEncoding(enc decoder.EncodingKind) decoder.Width {
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

// readRM reads the r/m operand: memory if ed.IsMemOperand, else
// register-direct via ModR/M.rm. Returns ok=false if a memory fault
// occurred (the MMU's sticky error already records the diagnostic; callers
// should just stop, per §4.7's main loop contract).
func readRM(c *CPU, ed decoder.ExecData, w decoder.Width) (v uint32, ok bool) {
	if !ed.IsMemOperand {
		id, ww := effectiveRegister(ed.ModRM.RM, w)
		return c.GPR(id, ww), true
	}
	addr := effectiveAddress(c, ed)
	switch w {
	case decoder.W8L, decoder.W8H:
		b, err := c.Mem().Read8(addr)
		return uint32(b), err == nil
	case decoder.W16:
		h, err := c.Mem().Read16(addr)
		return uint32(h), err == nil
	default:
		d, err := c.Mem().Read32(addr)
		return d, err == nil
	}
}

// writeRM mirrors readRM for the write side.
func writeRM(c *CPU, ed decoder.ExecData, w decoder.Width, v uint32) (ok bool) {
	if !ed.IsMemOperand {
		id, ww := effectiveRegister(ed.ModRM.RM, w)
		c.SetGPR(id, ww, v)
		return true
	}
	addr := effectiveAddress(c, ed)
	switch w {
	case decoder.W8L, decoder.W8H:
		return c.Mem().Write8(addr, uint8(v)) == nil
	case decoder.W16:
		return c.Mem().Write16(addr, uint16(v)) == nil
	default:
		return c.Mem().Write32(addr, v) == nil
	}
}

// readReg/writeReg address the ModR/M.reg-selected register operand (the
// "r8"/"r16"/"r32" half of an rm8_r8-style encoding).
func readReg(c *CPU, ed decoder.ExecData, w decoder.Width) uint32 {
	id, ww := effectiveRegister(ed.ModRM.Reg, w)
	return c.GPR(id, ww)
}

func writeReg(c *CPU, ed decoder.ExecData, w decoder.Width, v uint32) {
	id, ww := effectiveRegister(ed.ModRM.Reg, w)
	c.SetGPR(id, ww, v)
}

// memFault reports whether the MMU's sticky error is set, so a handler
// mid-sequence can bail without clobbering register state on a faulted
// read, per §4.1's "caller must check after every operation" contract.
func memFault(c *CPU) bool {
	return c.Mem().Err() != nil
}
