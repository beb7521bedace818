package cpu

import "github.com/zboralski/uemu32/internal/decoder"

func movRMReg(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	w := widthFromEncoding(ed.Encoding)
	writeRM(c, ed, w, readReg(c, ed, w))
	return nil
}

func movRegRM(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	w := widthFromEncoding(ed.Encoding)
	v, ok := readRM(c, ed, w)
	if !ok {
		return nil
	}
	writeReg(c, ed, w, v)
	return nil
}

// movSregRM loads a segment register from rm16 (0x8E).
func movSregRM(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	v, ok := readRM(c, ed, decoder.W16)
	if !ok {
		return nil
	}
	c.SetSeg(decoder.SegID(ed.ModRM.Reg&7), uint16(v))
	return nil
}

// movRMSreg stores a segment register into rm16 (0x8C).
func movRMSreg(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	writeRM(c, ed, decoder.W16, uint32(c.Seg(decoder.SegID(ed.ModRM.Reg&7))))
	return nil
}

// movRegImm covers 0xB0-0xB7 (r8, imm8) and 0xB8-0xBF (r32/r16, imm32/imm16),
// whose destination register is folded into the opcode itself rather than
// ModR/M.
func movRegImm(id decoder.RegID, wide bool) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		if !wide {
			rid, rw := reg8(uint8(id))
			c.SetGPR(rid, rw, ed.Imm1)
			return nil
		}
		w := widthFromEncoding(ed.Encoding)
		c.SetGPR(id, w, ed.Imm1)
		return nil
	}
}

// movRMImm covers group11 0xC6/0 (rm8,imm8) and 0xC7/0 (rm32/rm16,imm32/imm16).
func movRMImm(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	w := widthFromEncoding(ed.Encoding)
	writeRM(c, ed, w, ed.Imm1)
	return nil
}

// movzx zero-extends an 8- or 16-bit rm operand into a wider register
// destination (0F B6 / 0F B7).
func movzx(srcWidth decoder.Width) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		var v uint32
		var ok bool
		if !ed.IsMemOperand {
			id, ww := effectiveRegister(ed.ModRM.RM, srcWidth)
			v, ok = c.GPR(id, ww), true
		} else {
			v, ok = readRM(c, ed, srcWidth)
		}
		if !ok {
			return nil
		}
		dstWidth := widthFromEncoding(ed.Encoding)
		writeReg(c, ed, dstWidth, v)
		return nil
	}
}

// lea computes the effective address without touching memory and loads it
// into the ModR/M.reg destination (0x8D).
func lea(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	addr := effectiveAddress(c, ed)
	w := widthFromEncoding(ed.Encoding)
	writeReg(c, ed, w, addr)
	return nil
}

func registerMov() {
	decoder.RegisterOp(0x88, "mov", decoder.EncRM8R8, decoder.EncRM8R8, true, movRMReg)
	decoder.RegisterOp(0x89, "mov", decoder.EncRM32R32, decoder.EncRM16R16, true, movRMReg)
	decoder.RegisterOp(0x8A, "mov", decoder.EncR8RM8, decoder.EncR8RM8, true, movRegRM)
	decoder.RegisterOp(0x8B, "mov", decoder.EncR32RM32, decoder.EncR16RM16, true, movRegRM)
	decoder.RegisterOp(0x8C, "mov", decoder.EncRM16Sreg, decoder.EncRM16Sreg, true, movRMSreg)
	decoder.RegisterOp(0x8E, "mov", decoder.EncSregRM16, decoder.EncSregRM16, true, movSregRM)

	for i := 0; i < 8; i++ {
		id := decoder.RegID(i)
		decoder.RegisterOp(0xB0+byte(i), "mov", decoder.EncALImm8, decoder.EncALImm8, false, movRegImm(id, false))
		decoder.RegisterOp(0xB8+byte(i), "mov", decoder.EncEAXImm32, decoder.EncAXImm16, false, movRegImm(id, true))
	}

	decoder.RegisterOpExt(0xC6, 0, "mov", decoder.EncRM8Imm8, decoder.EncRM8Imm8, movRMImm)
	decoder.RegisterOpExt(0xC7, 0, "mov", decoder.EncRM32Imm32, decoder.EncRM16Imm16, movRMImm)

	decoder.RegisterOp(0x8D, "lea", decoder.EncR32RM32, decoder.EncR16RM16, true, lea)

	decoder.RegisterOp0F(0xB6, "movzx", decoder.EncR32RM8, decoder.EncR16RM8, true, movzx(decoder.W8L))
	decoder.RegisterOp0F(0xB7, "movzx", decoder.EncR32RM16, decoder.EncR32RM16, true, movzx(decoder.W16))
}
