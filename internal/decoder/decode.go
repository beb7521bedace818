package decoder

import "github.com/zboralski/uemu32/internal/mmu"

// cursor tracks the decode position as bytes are consumed from mmu,
// starting at eip_at_decode and walking forward one fetch at a time, per
// §4.4's "does not update eip" contract — only the returned
// BytesConsumed advances the caller's EIP.
type cursor struct {
	m       *mmu.MMU
	addr    uint32
	start   uint32
	failed  bool
	failByte byte
}

func newCursor(m *mmu.MMU, eip uint32) *cursor {
	return &cursor{m: m, addr: eip, start: eip}
}

func (c *cursor) fetch() (byte, bool) {
	if c.failed {
		return 0, false
	}
	b, err := c.m.Fetch(c.addr)
	if err != nil {
		c.failed = true
		c.failByte = 0
		return 0, false
	}
	c.addr++
	return b, true
}

func (c *cursor) fetch16() (uint16, bool) {
	lo, ok := c.fetch()
	if !ok {
		return 0, false
	}
	hi, ok := c.fetch()
	if !ok {
		return 0, false
	}
	return uint16(lo) | uint16(hi)<<8, true
}

func (c *cursor) fetch32() (uint32, bool) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, ok := c.fetch()
		if !ok {
			return 0, false
		}
		v |= uint32(b) << (8 * i)
	}
	return v, true
}

// applyPrefix reports whether b is one of the bytes in §4.4 step 1's
// prefix set, and which Prefixes field it sets.
func applyPrefix(b byte, p *Prefixes) bool {
	switch b {
	case 0xF0:
		p.Lock = true
	case 0xF2:
		p.Repnz = true
	case 0xF3:
		p.Rep = true
	case 0x2E:
		p.SegmentOverride, p.HasSegOverride = SegCS, true
	case 0x36:
		p.SegmentOverride, p.HasSegOverride = SegSS, true
	case 0x3E:
		p.SegmentOverride, p.HasSegOverride = SegDS, true
	case 0x26:
		p.SegmentOverride, p.HasSegOverride = SegES, true
	case 0x64:
		p.SegmentOverride, p.HasSegOverride = SegFS, true
	case 0x65:
		p.SegmentOverride, p.HasSegOverride = SegGS, true
	case 0x66:
		p.OperandSize = true
	case 0x67:
		p.AddressSize = true
	default:
		return false
	}
	p.LastPrefixByte = b
	return true
}

// dispSize computes how many displacement bytes follow ModR/M (and SIB, if
// present), per §4.4 step 8 and §4.6's addressing-mode rules.
func dispSize(mod, rm uint8, sibPresent bool, sibBase uint8, addr16 bool) int {
	if mod == 3 {
		return 0
	}
	if addr16 {
		switch mod {
		case 0:
			if rm == 6 {
				return 2
			}
			return 0
		case 1:
			return 1
		case 2:
			return 2
		}
		return 0
	}
	switch mod {
	case 0:
		if rm == 5 {
			return 4
		}
		if sibPresent && sibBase == 5 {
			return 4
		}
		return 0
	case 1:
		return 1
	case 2:
		return 4
	}
	return 0
}

// hasExtensions reports whether d disambiguates via ModR/M.reg (§4.4 step
// 5's "extension opcode" case).
func hasExtensions(d *Descriptor) bool {
	for _, e := range d.extensions {
		if e != nil {
			return true
		}
	}
	return false
}

// Decode implements §4.4's nine-step algorithm. It is pure with respect to
// CPU state: the only effect is reading through mmu.Fetch.
func Decode(m *mmu.MMU, eip uint32) Instruction {
	c := newCursor(m, eip)
	var ed ExecData
	ed.InstrEIP = eip

	// Step 1: legacy prefixes.
	for {
		b, ok := c.fetch()
		if !ok {
			return failedInstruction(eip, c)
		}
		if !applyPrefix(b, &ed.Prefixes) {
			c.addr-- // not a prefix; un-consume, it's the opcode byte.
			break
		}
	}

	// Step 2: two-byte escape.
	tbl := &oneByteTable
	b, ok := c.fetch()
	if !ok {
		return failedInstruction(eip, c)
	}
	if b == 0x0F {
		tbl = &twoByteTable
		b, ok = c.fetch()
		if !ok {
			return failedInstruction(eip, c)
		}
	}

	// Step 3: primary opcode.
	ed.Primary = b
	d := tbl[b]
	if d == nil {
		c.failed = true
		c.failByte = b
		return failedInstruction(eip, c)
	}

	// Step 4: secondary opcode, for opcodes with a byte-keyed sub-table
	// (x87 D8-DF style, 0F 38 / 0F 3A).
	if d.secondary != nil {
		sb, ok := c.fetch()
		if !ok {
			return failedInstruction(eip, c)
		}
		sel, found := d.secondary[sb]
		if !found {
			c.failed = true
			c.failByte = sb
			return failedInstruction(eip, c)
		}
		ed.Secondary = sb
		ed.HasSecondary = true
		d = sel
	}

	// Step 5: ModR/M and SIB.
	if d.UsesRM {
		mb, ok := c.fetch()
		if !ok {
			return failedInstruction(eip, c)
		}
		ed.ModRM = ModRM{Present: true, Raw: mb, Mod: mb >> 6, Reg: (mb >> 3) & 7, RM: mb & 7}

		if hasExtensions(d) {
			sel := d.extensions[ed.ModRM.Reg]
			if sel == nil {
				c.failed = true
				c.failByte = mb
				return failedInstruction(eip, c)
			}
			ed.Extension = ed.ModRM.Reg
			d = sel
		}

		if ed.ModRM.Mod != 3 && ed.ModRM.RM == 4 && !ed.Prefixes.AddressSize {
			sb, ok := c.fetch()
			if !ok {
				return failedInstruction(eip, c)
			}
			ed.SIB = SIB{Present: true, Raw: sb, Scale: sb >> 6, Index: (sb >> 3) & 7, Base: sb & 7}
		}
		ed.IsMemOperand = ed.ModRM.Mod != 3
	}

	// Step 6: prefix-qualified redispatch.
	if d.prefixVariants != nil {
		if sel, ok := d.prefixVariants[ed.Prefixes.LastPrefixByte]; ok {
			d = sel
			if d.secondary != nil {
				sb, ok := c.fetch()
				if !ok {
					return failedInstruction(eip, c)
				}
				sel2, found := d.secondary[sb]
				if !found {
					c.failed = true
					c.failByte = sb
					return failedInstruction(eip, c)
				}
				ed.Secondary = sb
				ed.HasSecondary = true
				d = sel2
			}
		}
	}

	// Step 7: operand-size selection.
	encoding := d.Encoding
	if ed.Prefixes.OperandSize {
		encoding = d.Encoding16
	}

	// Step 8: displacement.
	if ed.ModRM.Present && encoding.usesModRM() {
		size := dispSize(ed.ModRM.Mod, ed.ModRM.RM, ed.SIB.Present, ed.SIB.Base, ed.Prefixes.AddressSize)
		switch size {
		case 1:
			b, ok := c.fetch()
			if !ok {
				return failedInstruction(eip, c)
			}
			ed.Disp = uint32(int32(int8(b)))
		case 2:
			v, ok := c.fetch16()
			if !ok {
				return failedInstruction(eip, c)
			}
			ed.Disp = uint32(int32(int16(v)))
		case 4:
			v, ok := c.fetch32()
			if !ok {
				return failedInstruction(eip, c)
			}
			ed.Disp = v
		}
	}

	// Step 9: immediates.
	if !readImmediates(c, encoding, &ed) {
		return failedInstruction(eip, c)
	}
	ed.Encoding = encoding

	return Instruction{
		Name:          d.Name,
		Encoding:      encoding,
		Handler:       d.Handler,
		EIPAtDecode:   eip,
		BytesConsumed: c.addr - c.start,
		ExecData:      ed,
	}
}

func readImmediates(c *cursor, encoding EncodingKind, ed *ExecData) bool {
	switch encoding {
	case EncPtr16_16:
		off, ok := c.fetch16()
		if !ok {
			return false
		}
		sel, ok := c.fetch16()
		if !ok {
			return false
		}
		ed.Imm1 = uint32(off)
		ed.Imm2 = uint32(sel)
		return true
	case EncPtr16_32:
		off, ok := c.fetch32()
		if !ok {
			return false
		}
		sel, ok := c.fetch16()
		if !ok {
			return false
		}
		ed.Imm1 = off
		ed.Imm2 = uint32(sel)
		return true
	}

	switch n := encoding.immSize(); n {
	case 0:
		return true
	case 1:
		b, ok := c.fetch()
		if !ok {
			return false
		}
		if encoding == EncRela8 || encoding == EncRM16Imm8 || encoding == EncRM32Imm8 {
			ed.Imm1 = uint32(int32(int8(b)))
		} else {
			ed.Imm1 = uint32(b)
		}
		return true
	case 2:
		v, ok := c.fetch16()
		if !ok {
			return false
		}
		if encoding == EncRela16 {
			ed.Imm1 = uint32(int32(int16(v)))
		} else {
			ed.Imm1 = uint32(v)
		}
		return true
	case 4:
		v, ok := c.fetch32()
		if !ok {
			return false
		}
		ed.Imm1 = v
		return true
	}
	return true
}

func failedInstruction(eip uint32, c *cursor) Instruction {
	return Instruction{
		EIPAtDecode:   eip,
		BytesConsumed: c.addr - c.start,
		FetchFailed:   true,
		FailByte:      c.failByte,
	}
}

// DecodeUntil repeatedly decodes from startEIP, accumulating byte lengths,
// to find the address of the last complete instruction that fits before
// stopEIP, per §4.4.
func DecodeUntil(m *mmu.MMU, startEIP, stopEIP uint32) uint32 {
	addr := startEIP
	last := startEIP
	for addr < stopEIP {
		ins := Decode(m, addr)
		if ins.FetchFailed || ins.BytesConsumed == 0 {
			break
		}
		if addr+ins.BytesConsumed > stopEIP {
			break
		}
		last = addr
		addr += ins.BytesConsumed
	}
	return last
}
