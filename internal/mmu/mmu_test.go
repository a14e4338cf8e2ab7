package mmu

import (
	"testing"

	"github.com/rvvp/rvvp/internal/isa"
)

// fakeMem is a tiny in-memory page-table store for exercising the
// walker without a real bus.
type fakeMem struct {
	words map[uint64]uint64
}

func newFakeMem() *fakeMem { return &fakeMem{words: make(map[uint64]uint64)} }

func (f *fakeMem) LoadPTE32(paddr uint64) uint32 { return uint32(f.words[paddr]) }
func (f *fakeMem) LoadPTE64(paddr uint64) uint64 { return f.words[paddr] }
func (f *fakeMem) StorePTE32(paddr uint64, val uint32) { f.words[paddr] = uint64(val) }

func TestBareModePassesThrough(t *testing.T) {
	m := New(64, newFakeMem())
	st := Status{SatpMode: isa.SatpModeBare}
	pa, err := m.Translate(0x80001234, isa.AccessLoad, isa.PrivUser, st)
	if err != nil || pa != 0x80001234 {
		t.Fatalf("Translate() = %#x, %v; want 0x80001234, nil", pa, err)
	}
}

func TestMachineModePassesThrough(t *testing.T) {
	m := New(64, newFakeMem())
	st := Status{SatpMode: isa.SatpModeSv39, SatpPPN: 1}
	pa, err := m.Translate(0x1000, isa.AccessLoad, isa.PrivMachine, st)
	if err != nil || pa != 0x1000 {
		t.Fatalf("Translate() = %#x, %v; want 0x1000, nil", pa, err)
	}
}

// buildSv39Identity installs a 3-level Sv39 table mapping vaddr to paddr:
// the root and level-1 entries are non-leaf pointers, and the level-0 leaf
// is a user-accessible RWX 4KiB page with A/D already set.
func buildSv39Identity(mem *fakeMem, rootPPN uint64, vaddr, paddr uint64) {
	// level 2 points to level-1 table, level-1 points to level-0 table,
	// level-0 is the leaf mapping the exact page.
	l1PPN := rootPPN + 1
	l0PPN := rootPPN + 2

	idx2 := (vaddr >> (12 + 18)) & 0x1ff
	idx1 := (vaddr >> (12 + 9)) & 0x1ff
	idx0 := (vaddr >> 12) & 0x1ff

	rootBase := rootPPN << 12
	l1Base := l1PPN << 12
	l0Base := l0PPN << 12

	mem.words[rootBase+idx2*8] = (l1PPN << ptePPNShift) | pteV
	mem.words[l1Base+idx1*8] = (l0PPN << ptePPNShift) | pteV
	leafPPN := paddr >> 12
	mem.words[l0Base+idx0*8] = (leafPPN << ptePPNShift) | pteV | pteR | pteW | pteX | pteU | pteA | pteD
}

func TestSv39Walk(t *testing.T) {
	mem := newFakeMem()
	const rootPPN = 0x80000
	buildSv39Identity(mem, rootPPN, 0x80400000, 0x80400000)

	m := New(64, mem)
	st := Status{SatpMode: isa.SatpModeSv39, SatpPPN: rootPPN}
	pa, err := m.Translate(0x80400000, isa.AccessLoad, isa.PrivUser, st)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if pa != 0x80400000 {
		t.Fatalf("Translate() = %#x, want 0x80400000", pa)
	}

	// second access should hit the TLB: corrupt the backing table and
	// confirm the cached translation still resolves.
	mem.words = map[uint64]uint64{}
	pa2, err := m.Translate(0x80400000, isa.AccessLoad, isa.PrivUser, st)
	if err != nil || pa2 != pa {
		t.Fatalf("TLB hit: Translate() = %#x, %v; want %#x, nil", pa2, err, pa)
	}
}

func TestSv39PageFaultOnInvalidPTE(t *testing.T) {
	mem := newFakeMem()
	m := New(64, mem)
	st := Status{SatpMode: isa.SatpModeSv39, SatpPPN: 0x80000}
	_, err := m.Translate(0x1000, isa.AccessLoad, isa.PrivUser, st)
	pf, ok := err.(*PageFault)
	if !ok {
		t.Fatalf("Translate() err = %v (%T), want *PageFault", err, err)
	}
	if pf.Code != isa.ExcLoadPageFault {
		t.Errorf("PageFault.Code = %d, want ExcLoadPageFault", pf.Code)
	}
}

func TestFlushTLBInvalidatesEntries(t *testing.T) {
	mem := newFakeMem()
	const rootPPN = 0x80000
	buildSv39Identity(mem, rootPPN, 0x1000, 0x1000)
	m := New(64, mem)
	st := Status{SatpMode: isa.SatpModeSv39, SatpPPN: rootPPN}

	if _, err := m.Translate(0x1000, isa.AccessLoad, isa.PrivUser, st); err != nil {
		t.Fatalf("initial translate: %v", err)
	}
	mem.words = map[uint64]uint64{}
	m.FlushTLB()
	if _, err := m.Translate(0x1000, isa.AccessLoad, isa.PrivUser, st); err == nil {
		t.Fatal("expected page fault after flush with cleared backing store")
	}
}
