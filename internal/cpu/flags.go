package cpu

import "github.com/zboralski/uemu32/internal/decoder"

// widthBits returns the operand width in bits for a W8L/W8H/W16/W32 value.
func widthBits(w decoder.Width) uint {
	switch w {
	case decoder.W16:
		return 16
	case decoder.W32:
		return 32
	default:
		return 8
	}
}

func mask(bits uint) uint32 {
	if bits >= 32 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << bits) - 1
}

func signBit(bits uint) uint32 {
	return uint32(1) << (bits - 1)
}

// parity reports the even-parity of the low byte, per §4.6.
func parity(v uint32) bool {
	b := byte(v)
	count := 0
	for i := 0; i < 8; i++ {
		if b&(1<<i) != 0 {
			count++
		}
	}
	return count%2 == 0
}

// setLogicalFlags applies §4.7's rule for AND/OR/XOR/TEST: OF and CF are
// cleared, SF/ZF/PF reflect the result at the operand's width, AF is left
// undefined (we leave it unchanged, matching "prefer the general-purpose
// variant" from §9's design note on the two historical ALU implementations).
func setLogicalFlags(c *CPU, result uint32, w decoder.Width) {
	bits := widthBits(w)
	r := result & mask(bits)
	c.SetFlag(decoder.FlagOF, false)
	c.SetFlag(decoder.FlagCF, false)
	c.SetFlag(decoder.FlagSF, r&signBit(bits) != 0)
	c.SetFlag(decoder.FlagZF, r == 0)
	c.SetFlag(decoder.FlagPF, parity(r))
}

// setAddFlags computes result = a + b (+ carryIn) at width w and updates
// OF/SF/ZF/AF/PF/CF per §4.6's conventions for addition.
func setAddFlags(c *CPU, a, b uint32, carryIn bool, w decoder.Width) uint32 {
	bits := widthBits(w)
	m := mask(bits)
	a, b = a&m, b&m

	var cin uint32
	if carryIn {
		cin = 1
	}
	full := uint64(a) + uint64(b) + uint64(cin)
	result := uint32(full) & m

	c.SetFlag(decoder.FlagCF, full&^uint64(m) != 0)
	c.SetFlag(decoder.FlagAF, (a&0xF)+(b&0xF)+cin > 0xF)
	c.SetFlag(decoder.FlagSF, result&signBit(bits) != 0)
	c.SetFlag(decoder.FlagZF, result == 0)
	c.SetFlag(decoder.FlagPF, parity(result))

	aSign := a&signBit(bits) != 0
	bSign := b&signBit(bits) != 0
	rSign := result&signBit(bits) != 0
	c.SetFlag(decoder.FlagOF, aSign == bSign && rSign != aSign)

	return result
}

// setSubFlags computes result = a - b (- borrowIn) at width w and updates
// flags per §4.6's subtraction conventions (the equivalent of setAddFlags
// for subtract; CMP calls this and discards the result).
func setSubFlags(c *CPU, a, b uint32, borrowIn bool, w decoder.Width) uint32 {
	bits := widthBits(w)
	m := mask(bits)
	a, b = a&m, b&m

	var bin uint32
	if borrowIn {
		bin = 1
	}
	result := (a - b - bin) & m

	c.SetFlag(decoder.FlagCF, uint64(a) < uint64(b)+uint64(bin))
	c.SetFlag(decoder.FlagAF, (a&0xF) < (b&0xF)+bin)
	c.SetFlag(decoder.FlagSF, result&signBit(bits) != 0)
	c.SetFlag(decoder.FlagZF, result == 0)
	c.SetFlag(decoder.FlagPF, parity(result))

	aSign := a&signBit(bits) != 0
	bSign := b&signBit(bits) != 0
	rSign := result&signBit(bits) != 0
	c.SetFlag(decoder.FlagOF, aSign != bSign && rSign != aSign)

	return result
}

// setIncDecFlags updates OF/SF/ZF/AF/PF for INC/DEC, which — unlike
// ADD/SUB — never touch CF, per §4.7.
func setIncDecFlags(c *CPU, a uint32, isInc bool, w decoder.Width) uint32 {
	saved := c.Flag(decoder.FlagCF)
	var result uint32
	if isInc {
		result = setAddFlags(c, a, 1, false, w)
	} else {
		result = setSubFlags(c, a, 1, false, w)
	}
	c.SetFlag(decoder.FlagCF, saved)
	return result
}
