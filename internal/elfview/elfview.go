// Package elfview is the read-only ELF façade the spec calls out as an
// external collaborator (§1): it exposes loadable segments, the entry
// point, a symbol iterator, and the exec-stack flag, and nothing else. The
// MMU and symbol resolver each consume it through their own narrow views.
package elfview

import (
	"debug/elf"
	"fmt"
	"os"
)

// ProgFlags mirrors elf.ProgFlag so callers outside this package never need
// to import debug/elf themselves.
type ProgFlags uint32

const (
	PFX ProgFlags = ProgFlags(elf.PF_X)
	PFW ProgFlags = ProgFlags(elf.PF_W)
	PFR ProgFlags = ProgFlags(elf.PF_R)
)

// Segment is one PT_LOAD program header.
type Segment struct {
	VAddr  uint32
	MemSz  uint32
	FileSz uint32
	Offset uint32
	Flags  ProgFlags
}

// Symbol is one STT_FUNC/STT_OBJECT symbol table entry, pre-resolution: the
// name is already materialized here (debug/elf does that for us), but the
// symbol resolver treats it as if it were lazy, per §4.2's design.
type Symbol struct {
	Name  string
	Value uint32
	Size  uint32
	Func  bool // true for STT_FUNC, false for STT_OBJECT
}

// View is the read-only façade over one ELF32/EM_386/SYSV executable.
type View struct {
	Path      string
	Entry     uint32
	Segments  []Segment
	ExecStack bool
	Symbols   []Symbol
}

// Open re-opens the backing file for positioned reads (the MMU loader's
// ByteSource). The symbol resolver opens its own separate handle per §4.2,
// deliberately independent of this one.
func (v *View) Open() (*os.File, error) {
	return os.Open(v.Path)
}

// Load parses path and validates it is ELFCLASS32/EM_386/ELFOSABI_SYSV, per
// §6. Any other combination is rejected with UnsupportedError at load time.
func Load(path string) (*View, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfview: open %s: %w", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, &UnsupportedError{fmt.Sprintf("class %s, want ELFCLASS32", f.Class)}
	}
	if f.Machine != elf.EM_386 {
		return nil, &UnsupportedError{fmt.Sprintf("machine %s, want EM_386", f.Machine)}
	}
	if f.OSABI != elf.ELFOSABI_NONE && f.OSABI != elf.ELFOSABI_LINUX {
		return nil, &UnsupportedError{fmt.Sprintf("OS/ABI %s, want ELFOSABI_SYSV", f.OSABI)}
	}

	view := &View{
		Path:  path,
		Entry: uint32(f.Entry),
	}

	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			view.Segments = append(view.Segments, Segment{
				VAddr:  uint32(prog.Vaddr),
				MemSz:  uint32(prog.Memsz),
				FileSz: uint32(prog.Filesz),
				Offset: uint32(prog.Off),
				Flags:  ProgFlags(prog.Flags),
			})
		case elf.PT_GNU_STACK:
			view.ExecStack = prog.Flags&elf.PF_X != 0
		}
	}

	view.Symbols = loadSymbols(f)

	return view, nil
}

// loadSymbols prefers .symtab, falling back to .dynsym, per §4.2 step 0.
func loadSymbols(f *elf.File) []Symbol {
	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		syms, err = f.DynamicSymbols()
		if err != nil {
			return nil
		}
	}

	out := make([]Symbol, 0, len(syms))
	for _, s := range syms {
		typ := elf.ST_TYPE(s.Info)
		if typ != elf.STT_FUNC && typ != elf.STT_OBJECT {
			continue
		}
		if s.Name == "" {
			continue
		}
		out = append(out, Symbol{
			Name:  s.Name,
			Value: uint32(s.Value),
			Size:  uint32(s.Size),
			Func:  typ == elf.STT_FUNC,
		})
	}
	return out
}

// UnsupportedError is returned for any ELF that is not
// ELFCLASS32/EM_386/ELFOSABI_SYSV.
type UnsupportedError struct {
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("elfview: unsupported binary: %s", e.Reason)
}
