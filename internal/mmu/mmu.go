// Package mmu implements the Sv32/Sv39/Sv48 page-table walker and the
// per-(mode,access-type) translation TLB sitting between the ISS and
// physical memory.
//
// RV32/RV64 VP virtual memory.
//
// Copyright (c) 2024, the rvvp authors.
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
package mmu

import "github.com/rvvp/rvvp/internal/isa"

const (
	pgShift = 12
	pgSize  = 1 << pgShift
	pgMask  = pgSize - 1

	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteA = 1 << 6
	pteD = 1 << 7

	ptePPNShift = 10

	tlbEntries = 256
	numModes   = 2 // U, S
	numTypes   = 3 // FETCH, LOAD, STORE
)

// PageFault reports a failed translation: the exception code to raise
// and the faulting virtual address (mtval).
type PageFault struct {
	Code  uint32
	VAddr uint64
}

func (e *PageFault) Error() string { return "mmu: page fault" }

// PTEMem is the MMU-private load/store interface into physical memory
// used only for page-table walks: it bypasses the bus's cycle
// accounting.
type PTEMem interface {
	LoadPTE32(paddr uint64) uint32
	LoadPTE64(paddr uint64) uint64
	StorePTE32(paddr uint64, val uint32)
}

// Status is the subset of CSR state the walker needs: satp plus the
// mstatus SUM and MXR bits. The privilege used for a walk is Translate's
// mode argument; MPRV/MPP substitution is the caller's job.
type Status struct {
	SatpMode uint64
	SatpPPN  uint64
	Priv     int // hart privilege level; Translate does not read it
	SUM      bool
	MXR      bool
}

// Config holds the runtime policy flags this model exposes.
type Config struct {
	// PageFaultOnAD raises a page fault instead of auto-setting the A/D
	// bits on first touch of a leaf PTE. Defaults to false (auto-set).
	PageFaultOnAD bool
}

type tlbEntry struct {
	vpn, ppn uint64
}

const vacant = ^uint64(0)

// MMU is the walker plus its TLB. XLEN selects the canonical-address
// sign-extension check width (32 or 64).
type MMU struct {
	Config Config
	XLEN   int
	Mem    PTEMem

	tlb [numModes][numTypes][tlbEntries]tlbEntry
}

// New returns an MMU with every TLB slot vacant.
func New(xlen int, mem PTEMem) *MMU {
	m := &MMU{XLEN: xlen, Mem: mem}
	m.FlushTLB()
	return m
}

// FlushTLB invalidates every entry. Called on SFENCE.VMA and any write
// to satp; this model does no selective flush.
func (m *MMU) FlushTLB() {
	for mode := 0; mode < numModes; mode++ {
		for t := 0; t < numTypes; t++ {
			for i := range m.tlb[mode][t] {
				m.tlb[mode][t][i] = tlbEntry{vpn: vacant, ppn: vacant}
			}
		}
	}
}

type vmInfo struct {
	levels, idxbits, ptesize int
	ptbase                   uint64
}

func (m *MMU) decodeVMInfo(st Status) (vmInfo, bool) {
	base := st.SatpPPN << pgShift
	switch st.SatpMode {
	case isa.SatpModeSv32:
		return vmInfo{2, 10, 4, base}, true
	case isa.SatpModeSv39:
		return vmInfo{3, 9, 8, base}, true
	case isa.SatpModeSv48:
		return vmInfo{4, 9, 8, base}, true
	default:
		return vmInfo{}, false
	}
}

func (m *MMU) vaddrExtensionOK(vaddr uint64, vm vmInfo) bool {
	highbit := uint(vm.idxbits*vm.levels + pgShift - 1)
	extMask := (uint64(1) << (uint(m.XLEN) - highbit)) - 1
	bits := (vaddr >> highbit) & extMask
	return bits == 0 || bits == extMask
}

// Translate converts vaddr to a physical address for the given access
// type under Status st. mode is the effective privilege for this access
// (already substituted via mprv/mpp by the caller for LOAD/STORE).
func (m *MMU) Translate(vaddr uint64, typ isa.MemoryAccessType, mode int, st Status) (uint64, error) {
	if st.SatpMode == isa.SatpModeBare || mode == isa.PrivMachine {
		return vaddr, nil
	}

	vpn := vaddr >> pgShift
	idx := vpn % tlbEntries
	ent := &m.tlb[mode][typ][idx]
	if ent.vpn == vpn {
		return ent.ppn | (vaddr & pgMask), nil
	}

	paddr, err := m.walk(vaddr, typ, mode, st)
	if err != nil {
		return 0, err
	}
	ent.vpn = vpn
	ent.ppn = paddr &^ pgMask
	return paddr, nil
}

func (m *MMU) walk(vaddr uint64, typ isa.MemoryAccessType, mode int, st Status) (uint64, error) {
	sMode := mode == isa.PrivSuper

	vm, ok := m.decodeVMInfo(st)
	levels := 0
	if ok {
		levels = vm.levels
		if !m.vaddrExtensionOK(vaddr, vm) {
			levels = 0
		}
	}

	base := vm.ptbase
	for i := levels - 1; i >= 0; i-- {
		ptshift := i * vm.idxbits
		vpnField := (vaddr >> (pgShift + uint(ptshift))) & ((1 << uint(vm.idxbits)) - 1)
		pteAddr := base + vpnField*uint64(vm.ptesize)

		var pte uint64
		if vm.ptesize == 4 {
			pte = uint64(m.Mem.LoadPTE32(pteAddr))
		} else {
			pte = m.Mem.LoadPTE64(pteAddr)
		}
		ppn := pte >> ptePPNShift

		if pte&pteV == 0 || (pte&pteW != 0 && pte&pteR == 0) {
			break
		}
		if pte&pteR == 0 && pte&pteX == 0 {
			base = ppn << pgShift
			continue
		}

		switch typ {
		case isa.AccessFetch:
			if pte&pteX == 0 {
				goto fault
			}
		case isa.AccessLoad:
			if pte&pteR == 0 && !(st.MXR && pte&pteX != 0) {
				goto fault
			}
		case isa.AccessStore:
			if pte&pteR == 0 || pte&pteW == 0 {
				goto fault
			}
		}

		if pte&pteU != 0 {
			if sMode && (typ == isa.AccessFetch || !st.SUM) {
				break
			}
		} else if !sMode {
			break
		}

		if ppn&((1<<uint(ptshift))-1) != 0 {
			break // misaligned superpage
		}

		ad := uint64(pteA)
		if typ == isa.AccessStore {
			ad |= pteD
		}
		if pte&ad != ad {
			if m.Config.PageFaultOnAD {
				break
			}
			m.Mem.StorePTE32(pteAddr, uint32(pte|ad))
		}

		mask := uint64(1)<<uint(ptshift) - 1
		vpn := vaddr >> pgShift
		pgoff := vaddr & (pgSize - 1)
		return (((ppn &^ mask) | (vpn & mask)) << pgShift) | pgoff, nil
	}

fault:
	var code uint32
	switch typ {
	case isa.AccessFetch:
		code = isa.ExcInstrPageFault
	case isa.AccessLoad:
		code = isa.ExcLoadPageFault
	default:
		code = isa.ExcStoreAMOPageFault
	}
	return 0, &PageFault{Code: code, VAddr: vaddr}
}
