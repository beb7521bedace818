package cpu

import (
	"fmt"
	"time"

	"github.com/zboralski/uemu32/internal/decoder"
)

// evalCondition implements the 16-entry Jcc condition table from §4.7:
// condition code -> EFLAGS predicate. Index matches the low nibble of the
// Jcc opcode (0x70+cc / 0F 80+cc).
func evalCondition(c *CPU, cc uint8) bool {
	of, cf, zf, sf, pf := c.Flag(decoder.FlagOF), c.Flag(decoder.FlagCF), c.Flag(decoder.FlagZF), c.Flag(decoder.FlagSF), c.Flag(decoder.FlagPF)
	switch cc {
	case 0x0:
		return of
	case 0x1:
		return !of
	case 0x2:
		return cf
	case 0x3:
		return !cf
	case 0x4:
		return zf
	case 0x5:
		return !zf
	case 0x6:
		return cf || zf
	case 0x7:
		return !cf && !zf
	case 0x8:
		return sf
	case 0x9:
		return !sf
	case 0xA:
		return pf
	case 0xB:
		return !pf
	case 0xC:
		return sf != of
	case 0xD:
		return sf == of
	case 0xE:
		return zf || sf != of
	case 0xF:
		return !zf && sf == of
	}
	return false
}

// jccHandler builds the handlers for 0x70-0x7F and 0F 80-0F 8F: EIP has already been
// advanced past the instruction by the main loop (§4.7), so a taken branch
// is simply EIP += rel.
func jccHandler(cc uint8) decoder.HandlerFunc {
	return func(mach decoder.Machine, ed decoder.ExecData) error {
		c := mach.(*CPU)
		if evalCondition(c, cc) {
			c.SetEIP(c.EIP() + ed.Imm1)
		}
		return nil
	}
}

func jmpRel(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	c.SetEIP(c.EIP() + ed.Imm1)
	return nil
}

// jmpRM32 is group5 /4 (0xFF /4): near indirect jump through rm32.
func jmpRM32(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	target, ok := readRM(c, ed, decoder.W32)
	if !ok {
		return nil
	}
	c.SetEIP(target)
	return nil
}

// callRel is 0xE8: push the return address (already past the instruction,
// since EIP is advanced before the handler runs) and jump to EIP + rel.
func callRel(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	returnAddr := c.EIP()
	target := returnAddr + ed.Imm1
	if !push32(c, returnAddr) {
		return nil
	}
	recordCall(c, target, returnAddr)
	c.SetEIP(target)
	return nil
}

// callRM32 is group5 /2 (0xFF /2): near indirect call through rm32.
func callRM32(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	target, ok := readRM(c, ed, decoder.W32)
	if !ok {
		return nil
	}
	returnAddr := c.EIP()
	if !push32(c, returnAddr) {
		return nil
	}
	recordCall(c, target, returnAddr)
	c.SetEIP(target)
	return nil
}

// recordCall pushes the call-trace entry per §4.8 — a no-op if the CPU was
// built without a recorder (e.g. in unit tests that don't exercise tracing).
func recordCall(c *CPU, target, returnAddr uint32) {
	if c.recorder == nil {
		return
	}
	c.recorder.Push(target, returnAddr, c.GPR(decoder.EBP, decoder.W32), time.Now())
}

// retNear is 0xC3: pop EIP, and pop the call-trace frame.
func retNear(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	target, ok := pop32(c)
	if !ok {
		return nil
	}
	c.SetEIP(target)
	if c.recorder != nil {
		c.recorder.Pop()
	}
	return nil
}

// retNearImm16 is 0xC2 iw: pop EIP, then deallocate imm16 bytes of the
// caller's arguments from the stack.
func retNearImm16(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	target, ok := pop32(c)
	if !ok {
		return nil
	}
	c.SetEIP(target)
	c.SetESP(c.ESP() + ed.Imm1)
	if c.recorder != nil {
		c.recorder.Pop()
	}
	return nil
}

func hlt(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	c.Halted = true
	c.HaltMsg = "hlt"
	return nil
}

func nop(mach decoder.Machine, ed decoder.ExecData) error {
	return nil
}

func int3(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	c.Halted = true
	c.HaltMsg = "int3"
	return nil
}

// farOffsetWidth is the offset width (16 or 32) a far call/jmp/ret's
// operand-size-resolved encoding implies, same rule readRM/writeRM already
// apply to the near forms.
func farOffsetWidth(ed decoder.ExecData) decoder.Width {
	return widthFromEncoding(ed.Encoding)
}

// pushFarReturn pushes CS then EIP, so a later pop-EIP-then-pop-CS (retf's
// order, since EIP sat on top) unwinds it symmetrically. Every stack slot
// here is a flat 4 bytes, matching push32/pop32's treatment of every other
// PUSH/POP in this engine regardless of 16 vs 32-bit form.
func pushFarReturn(c *CPU, returnAddr uint32) bool {
	return push32(c, uint32(c.Seg(decoder.SegCS))) && push32(c, returnAddr)
}

// readFarPtr reads an m16:16/m16:32 far pointer operand: the offset first
// (width per farOffsetWidth), then the 16-bit selector immediately after it.
func readFarPtr(c *CPU, ed decoder.ExecData) (target uint32, sel uint16, ok bool) {
	addr := effectiveAddress(c, ed)
	var off uint32
	var offBytes uint32
	var err error
	if farOffsetWidth(ed) == decoder.W16 {
		var h uint16
		h, err = c.Mem().Read16(addr)
		off, offBytes = uint32(h), 2
	} else {
		off, err = c.Mem().Read32(addr)
		offBytes = 4
	}
	if err != nil {
		return 0, 0, false
	}
	s, err := c.Mem().Read16(addr + offBytes)
	if err != nil {
		return 0, 0, false
	}
	return off, s, true
}

// farCallPtr is 0x9A: push the caller's CS:EIP, then load CS:EIP from
// the instruction's embedded ptr16:16/ptr16:32 operand (Imm2:Imm1).
// Grounded on original_source's x86__mm_far_ptr16_call/x86__mm_far_ptr32_call.
func farCallPtr(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	returnAddr := c.EIP()
	if !pushFarReturn(c, returnAddr) {
		return nil
	}
	target := ed.Imm1
	c.SetSeg(decoder.SegCS, uint16(ed.Imm2))
	recordCall(c, target, returnAddr)
	c.SetEIP(target)
	return nil
}

// farCallRM is group5 /3 (0xFF /3): far indirect call through an m16:16 or
// m16:32 memory operand. A register operand has no selector:offset pair to
// read, so it's reported rather than silently treated as a near call.
func farCallRM(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	if !ed.IsMemOperand {
		return fmt.Errorf("call: far indirect through a register has no selector:offset pair")
	}
	target, sel, ok := readFarPtr(c, ed)
	if !ok {
		return nil
	}
	returnAddr := c.EIP()
	if !pushFarReturn(c, returnAddr) {
		return nil
	}
	c.SetSeg(decoder.SegCS, sel)
	recordCall(c, target, returnAddr)
	c.SetEIP(target)
	return nil
}

// farJmpPtr is 0xEA used as jmp: load CS:EIP from the embedded ptr16:16/
// ptr16:32 operand without touching the stack.
func farJmpPtr(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	c.SetSeg(decoder.SegCS, uint16(ed.Imm2))
	c.SetEIP(ed.Imm1)
	return nil
}

// farJmpRM is group5 /5 (0xFF /5): far indirect jump through an m16:16 or
// m16:32 memory operand.
func farJmpRM(mach decoder.Machine, ed decoder.ExecData) error {
	c := mach.(*CPU)
	if !ed.IsMemOperand {
		return fmt.Errorf("jmp: far indirect through a register has no selector:offset pair")
	}
	target, sel, ok := readFarPtr(c, ed)
	if !ok {
		return nil
	}
	c.SetSeg(decoder.SegCS, sel)
	c.SetEIP(target)
	return nil
}

// retFar is 0xCB: pop EIP then CS (reverse of pushFarReturn's order, since
// EIP was pushed last and sits on top), per original_source's
// x86__mm_imm16_far_ret16/32 with a zero deallocation.
func retFar(mach decoder.Machine, ed decoder.ExecData) error {
	return retFarDealloc(mach, 0)
}

// retFarImm16 is 0xCA iw: retFar, then deallocate imm16 bytes of the
// caller's arguments from the stack.
func retFarImm16(mach decoder.Machine, ed decoder.ExecData) error {
	return retFarDealloc(mach, ed.Imm1)
}

func retFarDealloc(mach decoder.Machine, dealloc uint32) error {
	c := mach.(*CPU)
	target, ok := pop32(c)
	if !ok {
		return nil
	}
	cs, ok := pop32(c)
	if !ok {
		return nil
	}
	c.SetSeg(decoder.SegCS, uint16(cs))
	c.SetEIP(target)
	c.SetESP(c.ESP() + dealloc)
	if c.recorder != nil {
		c.recorder.Pop()
	}
	return nil
}

func registerControl() {
	for cc := uint8(0); cc < 16; cc++ {
		decoder.RegisterOp(0x70+cc, "jcc", decoder.EncRela8, decoder.EncRela8, false, jccHandler(cc))
		decoder.RegisterOp0F(0x80+cc, "jcc", decoder.EncRela32, decoder.EncRela16, false, jccHandler(cc))
	}

	decoder.RegisterOp(0xEB, "jmp", decoder.EncRela8, decoder.EncRela8, false, jmpRel)
	decoder.RegisterOp(0xE9, "jmp", decoder.EncRela32, decoder.EncRela16, false, jmpRel)
	decoder.RegisterOpExt(0xFF, 4, "jmp", decoder.EncRM32, decoder.EncRM16, jmpRM32)
	decoder.RegisterOpExt(0xFF, 5, "jmp", decoder.EncRM32, decoder.EncRM16, farJmpRM)
	decoder.RegisterOp(0xEA, "jmp", decoder.EncPtr16_32, decoder.EncPtr16_16, false, farJmpPtr)

	decoder.RegisterOp(0xE8, "call", decoder.EncRela32, decoder.EncRela16, false, callRel)
	decoder.RegisterOpExt(0xFF, 2, "call", decoder.EncRM32, decoder.EncRM16, callRM32)
	decoder.RegisterOpExt(0xFF, 3, "call", decoder.EncRM32, decoder.EncRM16, farCallRM)
	decoder.RegisterOp(0x9A, "call", decoder.EncPtr16_32, decoder.EncPtr16_16, false, farCallPtr)

	decoder.RegisterOp(0xC3, "ret", decoder.EncOP, decoder.EncOP, false, retNear)
	decoder.RegisterOp(0xC2, "ret", decoder.EncImm16, decoder.EncImm16, false, retNearImm16)
	decoder.RegisterOp(0xCB, "retf", decoder.EncOP, decoder.EncOP, false, retFar)
	decoder.RegisterOp(0xCA, "retf", decoder.EncImm16, decoder.EncImm16, false, retFarImm16)

	decoder.RegisterOp(0xF4, "hlt", decoder.EncOP, decoder.EncOP, false, hlt)
	decoder.RegisterOp(0x90, "nop", decoder.EncOP, decoder.EncOP, false, nop)
	decoder.RegisterOp(0xCC, "int3", decoder.EncOP, decoder.EncOP, false, int3)

	decoder.RegisterOpPrefixSec(0x90, 0xF3, "pause", decoder.EncOP, decoder.EncOP, false, nop)
}
