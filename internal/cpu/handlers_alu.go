package cpu

import "github.com/zboralski/uemu32/internal/decoder"

// operandShape names which operand is the destination and which is the
// source for one of the ALU group's six encodings per opcode (§4.7).
type operandShape int

const (
	shapeRMReg  operandShape = iota // rm <- op(rm, reg)   (+0/+1 forms)
	shapeRegRM                      // reg <- op(reg, rm)  (+2/+3 forms)
	shapeAccImm                     // AL/eAX <- op(acc, imm)  (+4/+5 forms)
	shapeRMImm                      // rm <- op(rm, imm)   (group1 0x80/0x81/0x83)
)

// computeFunc performs the operation and updates flags; it returns the
// value to write back (ignored by handlers that discard it, e.g. CMP/TEST).
type computeFunc func(c *CPU, dst, src uint32, w decoder.Width) uint32

func makeAluHandler(shape operandShape, compute computeFunc, writeBack bool) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		w := widthFromEncoding(ed.Encoding)

		var dst, src uint32
		var writeDst func(uint32)

		switch shape {
		case shapeRMReg:
			v, ok := readRM(c, ed, w)
			if !ok {
				return nil
			}
			dst, src = v, readReg(c, ed, w)
			writeDst = func(v uint32) { writeRM(c, ed, w, v) }
		case shapeRegRM:
			v, ok := readRM(c, ed, w)
			if !ok {
				return nil
			}
			dst, src = readReg(c, ed, w), v
			writeDst = func(v uint32) { writeReg(c, ed, w, v) }
		case shapeAccImm:
			dst, src = c.GPR(decoder.EAX, w), ed.Imm1
			writeDst = func(v uint32) { c.SetGPR(decoder.EAX, w, v) }
		case shapeRMImm:
			v, ok := readRM(c, ed, w)
			if !ok {
				return nil
			}
			dst, src = v, ed.Imm1
			writeDst = func(v uint32) { writeRM(c, ed, w, v) }
		}

		result := compute(c, dst, src, w)
		if memFault(c) {
			return nil
		}
		if writeBack {
			writeDst(result)
		}
		return nil
	}
}

func computeAdd(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	return setAddFlags(c, dst, src, false, w)
}
func computeAdc(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	return setAddFlags(c, dst, src, c.Flag(decoder.FlagCF), w)
}
func computeSub(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	return setSubFlags(c, dst, src, false, w)
}
func computeSbb(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	return setSubFlags(c, dst, src, c.Flag(decoder.FlagCF), w)
}
func computeAnd(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	r := dst & src
	setLogicalFlags(c, r, w)
	return r
}
func computeOr(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	r := dst | src
	setLogicalFlags(c, r, w)
	return r
}
func computeXor(c *CPU, dst, src uint32, w decoder.Width) uint32 {
	r := dst ^ src
	setLogicalFlags(c, r, w)
	return r
}

// aluOp is one of the eight ALU-group instructions laid out across the
// one-byte table the way real IA-32 does: base+0 rm8_r8, +1 rm32_r32
// (rm16_r16 with 66h), +2 r8_rm8, +3 r32_rm32, +4 AL_imm8, +5 eAX_imm32
// (AX_imm16 with 66h). Table-driven per §9's preference for static
// descriptor tables over repeated ad hoc registration.
type aluOp struct {
	name       string
	base       byte
	groupExt   uint8 // ModR/M.reg slot in the 0x80/0x81/0x83 group1 table
	compute    computeFunc
	writeBack  bool
}

var aluOps = []aluOp{
	{"add", 0x00, 0, computeAdd, true},
	{"or", 0x08, 1, computeOr, true},
	{"adc", 0x10, 2, computeAdc, true},
	{"sbb", 0x18, 3, computeSbb, true},
	{"and", 0x20, 4, computeAnd, true},
	{"sub", 0x28, 5, computeSub, true},
	{"xor", 0x30, 6, computeXor, true},
	{"cmp", 0x38, 7, computeSub, false},
}

func registerALU() {
	for _, op := range aluOps {
		decoder.RegisterOp(op.base+0x00, op.name, decoder.EncRM8R8, decoder.EncRM8R8,
			true, makeAluHandler(shapeRMReg, op.compute, op.writeBack))
		decoder.RegisterOp(op.base+0x01, op.name, decoder.EncRM32R32, decoder.EncRM16R16,
			true, makeAluHandler(shapeRMReg, op.compute, op.writeBack))
		decoder.RegisterOp(op.base+0x02, op.name, decoder.EncR8RM8, decoder.EncR8RM8,
			true, makeAluHandler(shapeRegRM, op.compute, op.writeBack))
		decoder.RegisterOp(op.base+0x03, op.name, decoder.EncR32RM32, decoder.EncR16RM16,
			true, makeAluHandler(shapeRegRM, op.compute, op.writeBack))
		decoder.RegisterOp(op.base+0x04, op.name, decoder.EncALImm8, decoder.EncALImm8,
			false, makeAluHandler(shapeAccImm, op.compute, op.writeBack))
		decoder.RegisterOp(op.base+0x05, op.name, decoder.EncEAXImm32, decoder.EncAXImm16,
			false, makeAluHandler(shapeAccImm, op.compute, op.writeBack))

		decoder.RegisterOpExt(0x80, op.groupExt, op.name, decoder.EncRM8Imm8, decoder.EncRM8Imm8,
			makeAluHandler(shapeRMImm, op.compute, op.writeBack))
		decoder.RegisterOpExt(0x81, op.groupExt, op.name, decoder.EncRM32Imm32, decoder.EncRM16Imm16,
			makeAluHandler(shapeRMImm, op.compute, op.writeBack))
		decoder.RegisterOpExt(0x83, op.groupExt, op.name, decoder.EncRM32Imm8, decoder.EncRM16Imm8,
			makeAluHandler(shapeRMImm, op.compute, op.writeBack))
	}
}

// registerIncDec installs 0x40-0x47 (INC r32) and 0x48-0x4F (DEC r32).
// INC/DEC never touch CF, per §4.7 — setIncDecFlags preserves it.
func registerIncDec() {
	for i := 0; i < 8; i++ {
		id := decoder.RegID(i)
		decoder.RegisterOp(0x40+byte(i), "inc", decoder.EncRM32, decoder.EncRM16, false,
			func(mach decoder.Machine, ed decoder.ExecData) error {
				c := mach.(*CPU)
				w := widthFromEncoding(ed.Encoding)
				v := c.GPR(id, w)
				c.SetGPR(id, w, setIncDecFlags(c, v, true, w))
				return nil
			})
		decoder.RegisterOp(0x48+byte(i), "dec", decoder.EncRM32, decoder.EncRM16, false,
			func(mach decoder.Machine, ed decoder.ExecData) error {
				c := mach.(*CPU)
				w := widthFromEncoding(ed.Encoding)
				v := c.GPR(id, w)
				c.SetGPR(id, w, setIncDecFlags(c, v, false, w))
				return nil
			})
	}
}

// registerTest installs TEST: 0x84/0x85 (rm_r, discarding AND), 0xA8/0xA9
// (AL/eAX,imm), and group3 extension 0 on 0xF6/0xF7 (rm,imm).
func registerTest() {
	testAnd := func(c *CPU, dst, src uint32, w decoder.Width) uint32 {
		r := dst & src
		setLogicalFlags(c, r, w)
		return r
	}
	decoder.RegisterOp(0x84, "test", decoder.EncRM8R8, decoder.EncRM8R8, true, makeAluHandler(shapeRMReg, testAnd, false))
	decoder.RegisterOp(0x85, "test", decoder.EncRM32R32, decoder.EncRM16R16, true, makeAluHandler(shapeRMReg, testAnd, false))
	decoder.RegisterOp(0xA8, "test", decoder.EncALImm8, decoder.EncALImm8, false, makeAluHandler(shapeAccImm, testAnd, false))
	decoder.RegisterOp(0xA9, "test", decoder.EncEAXImm32, decoder.EncAXImm16, false, makeAluHandler(shapeAccImm, testAnd, false))
	decoder.RegisterOpExt(0xF6, 0, "test", decoder.EncRM8Imm8, decoder.EncRM8Imm8, makeAluHandler(shapeRMImm, testAnd, false))
	decoder.RegisterOpExt(0xF7, 0, "test", decoder.EncRM32Imm32, decoder.EncRM16Imm16, makeAluHandler(shapeRMImm, testAnd, false))
}
