package elfview

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"
)

// buildTinyELF assembles the smallest ELF32/EM_386 executable this package
// can load: a header and one PT_LOAD segment, with no section headers.
// Mirrors the teacher's approach of constructing a real binary fixture
// rather than mocking debug/elf.
func buildTinyELF(t *testing.T) string {
	t.Helper()

	const (
		entry    = 0x08048080
		loadAddr = 0x08048000
		code     = "\xb8\x05\x00\x00\x00\xf4" // mov eax,5; hlt
	)

	ehdrSize := 52
	phdrSize := 32
	codeOff := ehdrSize + phdrSize

	buf := new(bytes.Buffer)
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0})
	buf.Write(make([]byte, 8)) // padding

	le := func(v uint32) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}
	le16 := func(v uint16) []byte {
		return []byte{byte(v), byte(v >> 8)}
	}

	buf.Write(le16(uint16(elf.ET_EXEC)))
	buf.Write(le16(uint16(elf.EM_386)))
	buf.Write(le(1)) // version
	buf.Write(le(entry))
	buf.Write(le(uint32(ehdrSize))) // phoff
	buf.Write(le(0))                // shoff
	buf.Write(le(0))                // flags
	buf.Write(le16(uint16(ehdrSize)))
	buf.Write(le16(uint16(phdrSize)))
	buf.Write(le16(1)) // phnum
	buf.Write(le16(0)) // shentsize
	buf.Write(le16(0)) // shnum
	buf.Write(le16(0)) // shstrndx

	// Program header: PT_LOAD, R+X, file offset 0, vaddr loadAddr.
	buf.Write(le(uint32(elf.PT_LOAD)))
	buf.Write(le(0))
	buf.Write(le(loadAddr))
	buf.Write(le(loadAddr))
	buf.Write(le(uint32(codeOff + len(code))))
	buf.Write(le(uint32(codeOff + len(code))))
	buf.Write(le(uint32(elf.PF_R | elf.PF_X)))
	buf.Write(le(0x1000))

	buf.WriteString(code)

	dir := t.TempDir()
	path := filepath.Join(dir, "tiny")
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadRejectsNonELFInput(t *testing.T) {
	// A directory is never a valid ELF; Load must fail without panicking.
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error loading a directory as ELF")
	}
}

func TestLoadTinyELF(t *testing.T) {
	path := buildTinyELF(t)

	view, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if view.Entry != 0x08048080 {
		t.Errorf("Entry = 0x%08x, want 0x08048080", view.Entry)
	}
	if len(view.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(view.Segments))
	}
	seg := view.Segments[0]
	if seg.VAddr != 0x08048000 {
		t.Errorf("Segments[0].VAddr = 0x%08x, want 0x08048000", seg.VAddr)
	}
	if seg.Flags&PFX == 0 || seg.Flags&PFR == 0 {
		t.Errorf("Segments[0].Flags = %v, want R|X", seg.Flags)
	}

	f, err := view.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
}
