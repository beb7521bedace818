package mmu

import "testing"

func TestMapFreshAddressRoundsUpToPageSize(t *testing.T) {
	m := New(0x1000)
	addr, err := m.Map(0, 1, ProtRead|ProtWrite, false, nil, 0, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if addr%0x1000 != 0 {
		t.Errorf("addr = %#x, want page-aligned", addr)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	m := New(0x1000)
	addr, err := m.Map(0x10000, 0x1000, ProtRead|ProtWrite, false, nil, 0, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := m.Write32(addr+4, 0xdeadbeef); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	v, err := m.Read32(addr + 4)
	if err != nil {
		t.Fatalf("Read32: %v", err)
	}
	if v != 0xdeadbeef {
		t.Errorf("v = %#x, want 0xdeadbeef", v)
	}
}

func TestReadUnmappedAddressSetsSegfault(t *testing.T) {
	m := New(0x1000)
	_, err := m.Read32(0xdead0000)
	if err == nil {
		t.Fatal("expected a segfault reading unmapped memory")
	}
	if m.Err() == nil || m.Err().Errno != ESEGFAULT {
		t.Errorf("Err() = %v, want ESEGFAULT", m.Err())
	}
}

func TestClearErrorResetsStickyFault(t *testing.T) {
	m := New(0x1000)
	if _, err := m.Read32(0xdead0000); err == nil {
		t.Fatal("expected a segfault")
	}
	m.ClearError()
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil after ClearError", m.Err())
	}
}

func TestWriteToReadOnlySegmentIsProtFault(t *testing.T) {
	m := New(0x1000)
	addr, err := m.Map(0x20000, 0x1000, ProtRead, false, nil, 0, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := m.Write32(addr, 1); err == nil {
		t.Fatal("expected a protection fault writing to a read-only segment")
	}
	if m.Err() == nil || m.Err().Errno != EPROT {
		t.Errorf("Err() = %v, want EPROT", m.Err())
	}
}

func TestFetchFromNonExecutableSegmentIsProtFault(t *testing.T) {
	m := New(0x1000)
	addr, err := m.Map(0x30000, 0x1000, ProtRead|ProtWrite, false, nil, 0, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, err := m.Fetch(addr); err == nil {
		t.Fatal("expected a protection fault fetching from a non-executable segment")
	}
	if m.Err() == nil || m.Err().Errno != EPROT {
		t.Errorf("Err() = %v, want EPROT", m.Err())
	}
}

func TestCreateStackReturnsTopOfStackESP(t *testing.T) {
	m := New(0x1000)
	esp, err := m.CreateStack(false)
	if err != nil {
		t.Fatalf("CreateStack: %v", err)
	}
	if esp != StackTop+StackSize {
		t.Errorf("esp = %#x, want %#x", esp, StackTop+StackSize)
	}
}

func TestOverlappingMapIsRejected(t *testing.T) {
	m := New(0x1000)
	if _, err := m.Map(0x40000, 0x1000, ProtRead, false, nil, 0, 0); err != nil {
		t.Fatalf("first Map: %v", err)
	}
	if _, err := m.Map(0x40000, 0x1000, ProtRead, false, nil, 0, 0); err == nil {
		t.Fatal("expected an error mapping an overlapping segment")
	}
}
