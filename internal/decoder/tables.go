package decoder

// Descriptor is the per-opcode entry from §4.5: mnemonic, the two encoding
// kinds (32-bit and operand-size-prefixed), whether the opcode consumes
// ModR/M, whether it disambiguates via ModR/M.reg ("extension"), and the
// optional secondary/prefix-variant sub-tables.
//
// The source this is grounded on (original_source/src/x86/opcodes.c) builds
// these tables at runtime with a malloc-tracking "alloc table" so extension
// and secondary arrays can be torn down later. A static-table systems
// language doesn't need that bookkeeping (§9's design note): each
// Descriptor's sub-tables are just Go slices/maps owned by the descriptor
// itself, freed by the garbage collector like everything else.
type Descriptor struct {
	Name        string
	Encoding    EncodingKind
	Encoding16  EncodingKind
	UsesRM      bool
	IsPrefix    bool
	Handler     HandlerFunc

	// extensions holds up to 8 sub-descriptors selected by ModR/M.reg when
	// multiple instructions share one primary opcode (e.g. FF /2, FF /6).
	extensions [8]*Descriptor

	// secondary holds a byte-keyed sub-table consulted after the primary
	// opcode when the opcode escapes further (x87 D8-DF, 0F 38, 0F 3A).
	secondary map[byte]*Descriptor

	// prefixVariants re-selects the descriptor entirely when the last
	// legacy prefix byte matches a key (e.g. F3 90 → PAUSE instead of NOP).
	prefixVariants map[byte]*Descriptor
}

// table is a 256-entry opcode table (one-byte, or 0x0F-prefixed).
type table [256]*Descriptor

var (
	oneByteTable table
	twoByteTable table
)

// RegisterOp installs a primary (non-extension, non-escape) one-byte
// opcode, per §4.5's register_op.
func RegisterOp(opcode byte, name string, encoding, encoding16 EncodingKind, usesRM bool, handler HandlerFunc) {
	oneByteTable[opcode] = &Descriptor{Name: name, Encoding: encoding, Encoding16: encoding16, UsesRM: usesRM, Handler: handler}
}

// RegisterOp0F installs a plain (non-extension, non-escape) 0x0F-prefixed
// two-byte opcode, the twoByteTable counterpart of RegisterOp.
func RegisterOp0F(opcode byte, name string, encoding, encoding16 EncodingKind, usesRM bool, handler HandlerFunc) {
	twoByteTable[opcode] = &Descriptor{Name: name, Encoding: encoding, Encoding16: encoding16, UsesRM: usesRM, Handler: handler}
}

// RegisterOpPrefix installs a plain opcode that also carries no ModR/M
// extension, but whose table slot IS a prefix byte (LOCK, REP, segment
// overrides, operand/address size) rather than an instruction.
func RegisterOpPrefix(opcode byte) {
	oneByteTable[opcode] = &Descriptor{IsPrefix: true}
}

// RegisterOpExt installs one ModR/M.reg-selected sub-instruction of an
// extension opcode (e.g. 0x80..0x83 group1, 0xFF group5), per §4.5's
// register_op_ext. The primary slot is created on first use with UsesRM set
// and no handler of its own — decode always re-selects via Extensions.
func RegisterOpExt(opcode byte, reg uint8, name string, encoding, encoding16 EncodingKind, handler HandlerFunc) {
	registerExt(&oneByteTable, opcode, reg, name, encoding, encoding16, handler)
}

// RegisterOp0FExt is RegisterOpExt's two-byte (0x0F-escaped) counterpart.
func RegisterOp0FExt(opcode byte, reg uint8, name string, encoding, encoding16 EncodingKind, handler HandlerFunc) {
	registerExt(&twoByteTable, opcode, reg, name, encoding, encoding16, handler)
}

func registerExt(t *table, opcode byte, reg uint8, name string, encoding, encoding16 EncodingKind, handler HandlerFunc) {
	d := t[opcode]
	if d == nil {
		d = &Descriptor{UsesRM: true}
		t[opcode] = d
	}
	d.extensions[reg&7] = &Descriptor{Name: name, Encoding: encoding, Encoding16: encoding16, UsesRM: true, Handler: handler}
}

// RegisterOpSec installs one secondary-byte-selected sub-instruction under
// a primary opcode that escapes further (x87 D8-DF style), per §4.5's
// register_op_sec.
func RegisterOpSec(opcode, secondary byte, name string, encoding, encoding16 EncodingKind, usesRM bool, handler HandlerFunc) {
	registerSec(&oneByteTable, opcode, secondary, name, encoding, encoding16, usesRM, handler)
}

// RegisterOp0FSec is RegisterOpSec's two-byte counterpart (0F 38 / 0F 3A).
func RegisterOp0FSec(opcode, secondary byte, name string, encoding, encoding16 EncodingKind, usesRM bool, handler HandlerFunc) {
	registerSec(&twoByteTable, opcode, secondary, name, encoding, encoding16, usesRM, handler)
}

func registerSec(t *table, opcode, secondary byte, name string, encoding, encoding16 EncodingKind, usesRM bool, handler HandlerFunc) {
	d := t[opcode]
	if d == nil {
		d = &Descriptor{}
		t[opcode] = d
	}
	if d.secondary == nil {
		d.secondary = make(map[byte]*Descriptor)
	}
	d.secondary[secondary] = &Descriptor{Name: name, Encoding: encoding, Encoding16: encoding16, UsesRM: usesRM, Handler: handler}
}

// RegisterOpPrefixExt installs a prefix-qualified variant of an opcode that
// is itself an extension opcode, per §4.5's register_op_prefix_ext.
func RegisterOpPrefixExt(opcode byte, reg uint8, prefixByte byte, name string, encoding, encoding16 EncodingKind, handler HandlerFunc) {
	d := oneByteTable[opcode]
	if d == nil || d.extensions[reg&7] == nil {
		RegisterOpExt(opcode, reg, name, encoding, encoding16, handler)
		return
	}
	base := d.extensions[reg&7]
	if base.prefixVariants == nil {
		base.prefixVariants = make(map[byte]*Descriptor)
	}
	base.prefixVariants[prefixByte] = &Descriptor{Name: name, Encoding: encoding, Encoding16: encoding16, UsesRM: base.UsesRM, Handler: handler}
}

// RegisterOpPrefixSec installs a prefix-qualified plain-opcode variant (no
// ModR/M extension involved), per §4.5's register_op_prefix_sec — despite
// the "_sec" name (kept from the source this is grounded on), it keys on
// the last prefix byte, not a secondary opcode byte.
func RegisterOpPrefixSec(opcode byte, prefixByte byte, name string, encoding, encoding16 EncodingKind, usesRM bool, handler HandlerFunc) {
	d := oneByteTable[opcode]
	if d == nil {
		d = &Descriptor{}
		oneByteTable[opcode] = d
	}
	if d.prefixVariants == nil {
		d.prefixVariants = make(map[byte]*Descriptor)
	}
	d.prefixVariants[prefixByte] = &Descriptor{Name: name, Encoding: encoding, Encoding16: encoding16, UsesRM: usesRM, Handler: handler}
}

// Reset clears both opcode tables. Exported for tests that want a clean
// registration each run; production start-up calls cpu.Register once.
func Reset() {
	oneByteTable = table{}
	twoByteTable = table{}
}
