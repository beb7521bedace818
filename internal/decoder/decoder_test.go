package decoder

import (
	"testing"

	"github.com/zboralski/uemu32/internal/mmu"
)

// byteSrc is a trivial mmu.ByteSource backed by a plain slice.
type byteSrc []byte

func (b byteSrc) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}

func newCodeMMU(t *testing.T, base uint32, code []byte) *mmu.MMU {
	t.Helper()
	m := mmu.New(0)
	if _, err := m.Map(base, uint32(len(code)), mmu.ProtRead|mmu.ProtExec, false, byteSrc(code), 0, uint32(len(code))); err != nil {
		t.Fatalf("map code: %v", err)
	}
	return m
}

func TestDecodeMovEAXImm32(t *testing.T) {
	Reset()
	RegisterOp(0xB8, "mov", EncEAXImm32, EncAXImm16, false, nil)

	code := []byte{0xb8, 0x05, 0x00, 0x00, 0x00} // mov eax, 5
	m := newCodeMMU(t, 0x1000, code)

	ins := Decode(m, 0x1000)
	if ins.FetchFailed {
		t.Fatalf("unexpected fetch failure at byte 0x%02x", ins.FailByte)
	}
	if ins.BytesConsumed != 5 {
		t.Errorf("BytesConsumed = %d, want 5", ins.BytesConsumed)
	}
	if ins.ExecData.Imm1 != 5 {
		t.Errorf("Imm1 = %d, want 5", ins.ExecData.Imm1)
	}
}

func TestDecodeIsPureAcrossRepeatedCalls(t *testing.T) {
	Reset()
	RegisterOp(0xB8, "mov", EncEAXImm32, EncAXImm16, false, nil)

	code := []byte{0xb8, 0x05, 0x00, 0x00, 0x00}
	m := newCodeMMU(t, 0x1000, code)

	first := Decode(m, 0x1000)
	second := Decode(m, 0x1000)
	if first.BytesConsumed != second.BytesConsumed || first.ExecData.Imm1 != second.ExecData.Imm1 {
		t.Errorf("Decode not pure: first=%+v second=%+v", first, second)
	}
}

func TestDecodeModRMRegisterDirect(t *testing.T) {
	Reset()
	// 01 /r: ADD rm32, r32 (register-direct when mod==3).
	RegisterOp(0x01, "add", EncRM32R32, EncRM16R16, true, nil)

	// add eax, ebx: modrm = 11 011 000 = 0xd8
	code := []byte{0x01, 0xd8}
	m := newCodeMMU(t, 0x2000, code)

	ins := Decode(m, 0x2000)
	if ins.FetchFailed {
		t.Fatalf("unexpected fetch failure")
	}
	if ins.BytesConsumed != 2 {
		t.Errorf("BytesConsumed = %d, want 2", ins.BytesConsumed)
	}
	if ins.ExecData.ModRM.Mod != 3 || ins.ExecData.ModRM.Reg != 3 || ins.ExecData.ModRM.RM != 0 {
		t.Errorf("ModRM = %+v, want mod=3 reg=3 rm=0", ins.ExecData.ModRM)
	}
}

func TestDecodeSIBWithDisp32NoBase(t *testing.T) {
	Reset()
	RegisterOp(0x8B, "mov", EncR32RM32, EncR16RM16, true, nil)

	// mov eax, [edx*4 + 0x100]: modrm=00 000 100 (mod=0,reg=0,rm=4/SIB),
	// sib = 10 010 101 (scale=4,index=edx,base=101=none), disp32=0x100.
	code := []byte{0x8b, 0x04, 0x95, 0x00, 0x01, 0x00, 0x00}
	m := newCodeMMU(t, 0x3000, code)

	ins := Decode(m, 0x3000)
	if ins.FetchFailed {
		t.Fatalf("unexpected fetch failure at byte 0x%02x", ins.FailByte)
	}
	if ins.BytesConsumed != 7 {
		t.Errorf("BytesConsumed = %d, want 7", ins.BytesConsumed)
	}
	if !ins.ExecData.SIB.Present {
		t.Fatalf("expected SIB byte to be decoded")
	}
	if ins.ExecData.Disp != 0x100 {
		t.Errorf("Disp = 0x%x, want 0x100", ins.ExecData.Disp)
	}
}

func TestDecodeInvalidOpcodeSetsFetchFailed(t *testing.T) {
	Reset()
	// No opcode registered at all: 0xff1 is never a valid single byte, use
	// an opcode nothing registers.
	code := []byte{0x0f, 0xff} // two-byte escape into an unregistered slot
	m := newCodeMMU(t, 0x4000, code)

	ins := Decode(m, 0x4000)
	if !ins.FetchFailed {
		t.Fatalf("expected FetchFailed for unregistered opcode")
	}
	if ins.FailByte != 0xff {
		t.Errorf("FailByte = 0x%02x, want 0xff", ins.FailByte)
	}
}

func TestDecodeRejectsClaimingUnreadableBytes(t *testing.T) {
	Reset()
	RegisterOp(0xB8, "mov", EncEAXImm32, EncAXImm16, false, nil)

	// Only 3 bytes mapped; mov eax,imm32 needs 5.
	code := []byte{0xb8, 0x05, 0x00}
	m := newCodeMMU(t, 0x5000, code)

	ins := Decode(m, 0x5000)
	if !ins.FetchFailed {
		t.Fatalf("expected FetchFailed when immediate bytes run past the mapped segment")
	}
}
