package mmu

import "github.com/zboralski/uemu32/internal/elfview"

// elfProt maps an ELF program header's read/write/exec flags to Prot bits.
func elfProt(flags elfview.ProgFlags) Prot {
	var p Prot
	if flags&elfview.PFR != 0 {
		p |= ProtRead
	}
	if flags&elfview.PFW != 0 {
		p |= ProtWrite
	}
	if flags&elfview.PFX != 0 {
		p |= ProtExec
	}
	return p
}

// LoadELF materializes every PT_LOAD segment of view into the MMU, then
// creates the stack using view's exec-stack flag, returning the initial ESP.
// This is the loader half of §4.1's contract: "map... and create the initial
// stack".
func LoadELF(m *MMU, view *elfview.View) (initialESP uint32, err error) {
	f, ferr := view.Open()
	if ferr != nil {
		return 0, ferr
	}
	defer f.Close()

	for _, seg := range view.Segments {
		prot := elfProt(seg.Flags)
		if _, err := m.Map(seg.VAddr, seg.MemSz, prot, false, f, int64(seg.Offset), seg.FileSz); err != nil {
			return 0, err
		}
	}
	return m.CreateStack(view.ExecStack)
}
