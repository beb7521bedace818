// Package mmu implements the emulated segmented virtual address space: a
// table of page-aligned segments with per-segment protection, the byte/word/
// dword/qword read and write primitives the CPU executes through, and the
// ELF/stack loaders that populate it.
package mmu

import (
	"encoding/binary"
	"fmt"
)

// Layout constants fixed by the spec.
const (
	DefaultMapCursor uint32 = 0x0804_5000
	StackTop         uint32 = 0x7fff_0000
	StackSize        uint32 = 0x4000
	stackHighMask    uint32 = 0x7f00_0000
)

// Prot is a combination of PROT_READ/WRITE/EXEC bits used when mapping a
// segment; it is folded into a concrete SegType alongside the stack flag.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// SegType is the closed set of segment kinds the spec's data model names.
type SegType int

const (
	RODATA SegType = iota
	RWDATA
	XOCODE
	RXCODE
	RWXCODE
	RWSTACK
	RWXSTACK
)

func (t SegType) String() string {
	switch t {
	case RODATA:
		return "RO_DATA"
	case RWDATA:
		return "RW_DATA"
	case XOCODE:
		return "XO_CODE"
	case RXCODE:
		return "RX_CODE"
	case RWXCODE:
		return "RWX_CODE"
	case RWSTACK:
		return "RW_STACK"
	case RWXSTACK:
		return "RWX_STACK"
	default:
		return "UNKNOWN"
	}
}

// Readable, Writable and Executable implement the per-type access rules
// §4.1 uses to decide which of fetch/read/write a segment permits.
func (t SegType) Readable() bool {
	return t != XOCODE
}

func (t SegType) Writable() bool {
	switch t {
	case RWDATA, RWXCODE, RWSTACK, RWXSTACK:
		return true
	default:
		return false
	}
}

func (t SegType) Executable() bool {
	switch t {
	case XOCODE, RXCODE, RWXCODE, RWXSTACK:
		return true
	default:
		return false
	}
}

func (t SegType) IsStack() bool {
	return t == RWSTACK || t == RWXSTACK
}

// segTypeFor folds PROT_* flags and the stack bit into one SegType, the way
// §4.1 describes Map doing.
func segTypeFor(prot Prot, isStack bool) SegType {
	r := prot&ProtRead != 0
	w := prot&ProtWrite != 0
	x := prot&ProtExec != 0
	switch {
	case isStack && x:
		return RWXSTACK
	case isStack:
		return RWSTACK
	case x && w:
		return RWXCODE
	case x && r:
		return RXCODE
	case x:
		return XOCODE
	case w:
		return RWDATA
	default:
		return RODATA
	}
}

// Errno is the closed set of MMU error codes from §6.
type Errno int32

const (
	ENONE Errno = iota
	ESEGFAULT
	EPROT
	UNSUPPORTED
	INVALREF
	NOTAEXEC
)

func (e Errno) String() string {
	switch e {
	case ENONE:
		return "ENONE"
	case ESEGFAULT:
		return "ESEGFAULT"
	case EPROT:
		return "EPROT"
	case UNSUPPORTED:
		return "UNSUPPORTED"
	case INVALREF:
		return "INVALREF"
	case NOTAEXEC:
		return "NOTAEXEC"
	default:
		return "EUNKNOWN"
	}
}

// Error is the sticky per-operation error object described in §6/§7. Callers
// must check it after every public MMU operation before trusting a result.
type Error struct {
	Errno Errno
	Desc  string // max 80 bytes, per §6
}

func (e *Error) Error() string { return e.Desc }

func newError(errno Errno, format string, args ...interface{}) *Error {
	desc := fmt.Sprintf(format, args...)
	if len(desc) > 80 {
		desc = desc[:80]
	}
	return &Error{Errno: errno, Desc: desc}
}

// Segment is one contiguous mapping, per §3's data model.
type Segment struct {
	Start   uint32
	Limit   uint32
	Backing []byte
	Type    SegType
}

func (s *Segment) contains(addr uint32) bool {
	return addr >= s.Start && addr < s.Limit
}

// containsRange reports whether [addr, addr+n) lies entirely in the segment;
// reads/writes never straddle segment boundaries.
func (s *Segment) containsRange(addr uint32, n uint32) bool {
	if addr < s.Start || addr >= s.Limit {
		return false
	}
	end := addr + n
	return end >= addr && end <= s.Limit
}

// MMU is the segment table described in §3: populated during ELF load and
// stack creation, read-only for the remainder of the CPU's lifetime.
type MMU struct {
	segments []*Segment
	stack    *Segment
	cursor   uint32
	pageSize uint32
	err      *Error
}

// New creates an empty MMU. pageSize should come from the host
// (sysconf(_SC_PAGESIZE) equivalent); callers typically pass
// internal/config's resolved PageSize.
func New(pageSize uint32) *MMU {
	if pageSize == 0 {
		pageSize = 4096
	}
	return &MMU{
		cursor:   DefaultMapCursor,
		pageSize: pageSize,
	}
}

func roundUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Err returns the sticky error set by the last failing operation, if any.
func (m *MMU) Err() *Error { return m.err }

// ClearError clears the sticky error; the main loop calls this before each
// instruction, per §6.
func (m *MMU) ClearError() { m.err = nil }

func (m *MMU) setErr(errno Errno, format string, args ...interface{}) {
	m.err = newError(errno, format, args...)
}

// PageSize returns the configured host page size.
func (m *MMU) PageSize() uint32 { return m.pageSize }

// ByteSource supplies the bytes backing a file-initialized mapping.
type ByteSource interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// Map rounds memsz up to the page size, allocates backing storage, optionally
// populates the first fileSize bytes by positioned read from src at
// fileOffset, and records the segment. virtaddr == 0 assigns a fresh address
// at the running cursor, per §4.1.
func (m *MMU) Map(virtaddr, memsz uint32, prot Prot, isStack bool, src ByteSource, fileOffset int64, fileSize uint32) (uint32, error) {
	if memsz == 0 {
		m.setErr(INVALREF, "map: zero-length mapping")
		return 0, m.err
	}
	vaddr := virtaddr
	var size, dataOff uint32
	if vaddr == 0 {
		size = roundUp(memsz, m.pageSize)
		vaddr = roundUp(m.cursor, m.pageSize)
		m.cursor = vaddr + size
	} else {
		aligned := vaddr &^ (m.pageSize - 1)
		dataOff = vaddr - aligned
		size = roundUp(memsz+dataOff, m.pageSize)
		vaddr = aligned
		if vaddr+size > m.cursor {
			m.cursor = vaddr + size
		}
	}

	for _, s := range m.segments {
		if vaddr < s.Limit && vaddr+size > s.Start {
			m.setErr(INVALREF, "map: overlaps existing segment at 0x%08x", s.Start)
			return 0, m.err
		}
	}

	backing := make([]byte, size)
	if src != nil && fileSize > 0 {
		if dataOff+fileSize > size {
			fileSize = size - dataOff
		}
		if _, err := src.ReadAt(backing[dataOff:dataOff+fileSize], fileOffset); err != nil {
			m.setErr(INVALREF, "map: read backing data: %v", err)
			return 0, m.err
		}
	}

	seg := &Segment{
		Start:   vaddr,
		Limit:   vaddr + size,
		Backing: backing,
		Type:    segTypeFor(prot, isStack),
	}
	m.segments = append(m.segments, seg)
	if isStack {
		m.stack = seg
	}
	return vaddr, nil
}

// CreateStack maps the fixed stack region [StackTop, StackTop+StackSize) and
// returns the initial ESP value, stack_top + stack_size per §6.
func (m *MMU) CreateStack(execBit bool) (uint32, error) {
	prot := ProtRead | ProtWrite
	if execBit {
		prot |= ProtExec
	}
	addr, err := m.Map(StackTop, StackSize, prot, true, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	return addr + StackSize, nil
}

// findSegment locates the segment containing addr. Stack-range addresses hit
// the cached stack segment directly, bypassing the linear scan (§4.1's fast
// path for the common case of stack-relative accesses).
func (m *MMU) findSegment(addr uint32) *Segment {
	if m.stack != nil && addr&stackHighMask == StackTop&stackHighMask && m.stack.contains(addr) {
		return m.stack
	}
	for _, s := range m.segments {
		if s.contains(addr) {
			return s
		}
	}
	return nil
}

// PtrType reports the SegType of the segment containing vaddr.
func (m *MMU) PtrType(vaddr uint32) (SegType, error) {
	seg := m.findSegment(vaddr)
	if seg == nil {
		m.setErr(ESEGFAULT, "Segmentation Fault at 0x%08x", vaddr)
		return 0, m.err
	}
	return seg.Type, nil
}

// Fetch returns one instruction byte. Only executable segments may be
// fetched from; everything else is EPROT, per §4.1.
func (m *MMU) Fetch(vaddr uint32) (byte, error) {
	seg := m.findSegment(vaddr)
	if seg == nil {
		m.setErr(ESEGFAULT, "Segmentation Fault at 0x%08x", vaddr)
		return 0, m.err
	}
	if !seg.Type.Executable() {
		m.setErr(EPROT, "attempted fetch at non-executable segment at 0x%08x", vaddr)
		return 0, m.err
	}
	return seg.Backing[vaddr-seg.Start], nil
}

func (m *MMU) readN(vaddr uint32, n uint32) ([]byte, error) {
	seg := m.findSegment(vaddr)
	if seg == nil {
		m.setErr(ESEGFAULT, "Segmentation Fault at 0x%08x", vaddr)
		return nil, m.err
	}
	if !seg.Type.Readable() {
		m.setErr(EPROT, "attempted read at non-readable segment at 0x%08x", vaddr)
		return nil, m.err
	}
	if !seg.containsRange(vaddr, n) {
		m.setErr(ESEGFAULT, "Segmentation Fault at 0x%08x", vaddr)
		return nil, m.err
	}
	off := vaddr - seg.Start
	return seg.Backing[off : off+n], nil
}

func (m *MMU) writeN(vaddr uint32, data []byte) error {
	seg := m.findSegment(vaddr)
	if seg == nil {
		m.setErr(ESEGFAULT, "Segmentation Fault at 0x%08x", vaddr)
		return m.err
	}
	if !seg.Type.Writable() {
		m.setErr(EPROT, "attempted write at non-writable segment at 0x%08x", vaddr)
		return m.err
	}
	n := uint32(len(data))
	if !seg.containsRange(vaddr, n) {
		m.setErr(ESEGFAULT, "Segmentation Fault at 0x%08x", vaddr)
		return m.err
	}
	off := vaddr - seg.Start
	copy(seg.Backing[off:off+n], data)
	return nil
}

// Read8 reads one byte.
func (m *MMU) Read8(vaddr uint32) (uint8, error) {
	b, err := m.readN(vaddr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Read16 reads a little-endian word.
func (m *MMU) Read16(vaddr uint32) (uint16, error) {
	b, err := m.readN(vaddr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Read32 reads a little-endian dword.
func (m *MMU) Read32(vaddr uint32) (uint32, error) {
	b, err := m.readN(vaddr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Read64 reads a little-endian qword.
func (m *MMU) Read64(vaddr uint32) (uint64, error) {
	b, err := m.readN(vaddr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write8 writes one byte.
func (m *MMU) Write8(vaddr uint32, v uint8) error {
	return m.writeN(vaddr, []byte{v})
}

// Write16 writes a little-endian word.
func (m *MMU) Write16(vaddr uint32, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.writeN(vaddr, b[:])
}

// Write32 writes a little-endian dword.
func (m *MMU) Write32(vaddr uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.writeN(vaddr, b[:])
}

// Write64 writes a little-endian qword.
func (m *MMU) Write64(vaddr uint32, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.writeN(vaddr, b[:])
}

// GetReadonlySlice returns a slice of the segment's backing bytes, for
// callers that want to peek at emulated memory without a copy. Nothing in
// this module calls it. Callers must not mutate or retain the slice past
// the next Map call.
func (m *MMU) GetReadonlySlice(vaddr uint32, length uint32) ([]byte, error) {
	return m.readN(vaddr, length)
}

// Segments returns the segment table in mapping order, for introspection
// (the "info" CLI command).
func (m *MMU) Segments() []*Segment {
	out := make([]*Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Unmap drops a segment from the table. The spec's core loop never calls
// this (no runtime munmap in the main loop); it exists for completeness and
// deliberately does not reproduce the partial-invalidation arithmetic the
// original C mmu's munmap used — see DESIGN.md.
func (m *MMU) Unmap(vaddr uint32) error {
	for i, s := range m.segments {
		if s.Start == vaddr {
			m.segments = append(m.segments[:i], m.segments[i+1:]...)
			if m.stack == s {
				m.stack = nil
			}
			return nil
		}
	}
	m.setErr(ESEGFAULT, "unmap: no segment at 0x%08x", vaddr)
	return m.err
}
