package cpu

import "github.com/zboralski/uemu32/internal/decoder"

// push32/pop32 implement the stack-discipline primitives §4.7 assumes for
// every PUSH/POP variant: predecrement-then-store, load-then-postincrement.
func push32(c *CPU, v uint32) bool {
	esp := c.ESP() - 4
	c.SetESP(esp)
	return c.Mem().Write32(esp, v) == nil
}

func pop32(c *CPU) (uint32, bool) {
	esp := c.ESP()
	v, err := c.Mem().Read32(esp)
	if err != nil {
		return 0, false
	}
	c.SetESP(esp + 4)
	return v, true
}

func pushReg(id decoder.RegID) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		push32(c, c.GPR(id, decoder.W32))
		return nil
	}
}

func popReg(id decoder.RegID) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		v, ok := pop32(c)
		if !ok {
			return nil
		}
		c.SetGPR(id, decoder.W32, v)
		return nil
	}
}

// pushImm covers 0x6A (imm8, sign-extended) and 0x68 (imm32).
func pushImm(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	v := ed.Imm1
	if ed.Encoding == decoder.EncImm8 {
		v = uint32(int32(int8(v)))
	}
	push32(c, v)
	return nil
}

// pushRM32 is group5 /6 (0xFF /6): push the rm32 operand's value.
func pushRM32(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	v, ok := readRM(c, ed, decoder.W32)
	if !ok {
		return nil
	}
	push32(c, v)
	return nil
}

// popRM32 is group1a /0 (0x8F /0): pop into the rm32 operand.
func popRM32(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	v, ok := pop32(c)
	if !ok {
		return nil
	}
	writeRM(c, ed, decoder.W32, v)
	return nil
}

func pushSeg(id decoder.SegID) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		push32(c, uint32(c.Seg(id)))
		return nil
	}
}

func popSeg(id decoder.SegID) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		v, ok := pop32(c)
		if !ok {
			return nil
		}
		c.SetSeg(id, uint16(v))
		return nil
	}
}

func registerStack() {
	for i := 0; i < 8; i++ {
		id := decoder.RegID(i)
		decoder.RegisterOp(0x50+byte(i), "push", decoder.EncRM32, decoder.EncRM16, false, pushReg(id))
		decoder.RegisterOp(0x58+byte(i), "pop", decoder.EncRM32, decoder.EncRM16, false, popReg(id))
	}

	decoder.RegisterOp(0x6A, "push", decoder.EncImm8, decoder.EncImm8, false, pushImm)
	decoder.RegisterOp(0x68, "push", decoder.EncImm32, decoder.EncImm16, false, pushImm)

	decoder.RegisterOpExt(0xFF, 6, "push", decoder.EncRM32, decoder.EncRM16, pushRM32)
	decoder.RegisterOpExt(0x8F, 0, "pop", decoder.EncRM32, decoder.EncRM16, popRM32)

	decoder.RegisterOp(0x06, "push", decoder.EncOP, decoder.EncOP, false, pushSeg(decoder.SegES))
	decoder.RegisterOp(0x07, "pop", decoder.EncOP, decoder.EncOP, false, popSeg(decoder.SegES))
	decoder.RegisterOp(0x0E, "push", decoder.EncOP, decoder.EncOP, false, pushSeg(decoder.SegCS))
	decoder.RegisterOp(0x16, "push", decoder.EncOP, decoder.EncOP, false, pushSeg(decoder.SegSS))
	decoder.RegisterOp(0x17, "pop", decoder.EncOP, decoder.EncOP, false, popSeg(decoder.SegSS))
	decoder.RegisterOp(0x1E, "push", decoder.EncOP, decoder.EncOP, false, pushSeg(decoder.SegDS))
	decoder.RegisterOp(0x1F, "pop", decoder.EncOP, decoder.EncOP, false, popSeg(decoder.SegDS))

	decoder.RegisterOp0F(0xA0, "push", decoder.EncOP, decoder.EncOP, false, pushSeg(decoder.SegFS))
	decoder.RegisterOp0F(0xA1, "pop", decoder.EncOP, decoder.EncOP, false, popSeg(decoder.SegFS))
	decoder.RegisterOp0F(0xA8, "push", decoder.EncOP, decoder.EncOP, false, pushSeg(decoder.SegGS))
	decoder.RegisterOp0F(0xA9, "pop", decoder.EncOP, decoder.EncOP, false, popSeg(decoder.SegGS))
}
