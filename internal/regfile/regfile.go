// Package regfile holds per-hart architectural state: the 32 integer
// registers and the CSR file. Both are plain data types; the ISS decides
// when and how they're read or written; this package only enforces the
// invariants the ISA itself guarantees (x0 reads as zero, certain CSRs
// refresh from a live source on every read).
//
// RV32/RV64 VP register file and CSR table.
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
package regfile

import "github.com/rvvp/rvvp/internal/isa"

// RegFile is the 32-entry integer register file. X[0] is wired to zero:
// Write silently no-ops on register 0, matching every RISC-V core.
type RegFile struct {
	X [32]uint64
	// XLEN 32 truncates every written value to its low 32 bits and Read
	// zero-extends it; the ISS sets this once at hart construction.
	XLEN int
}

// NewRegFile returns a RegFile reset to architectural zero for the given
// XLEN (32 or 64).
func NewRegFile(xlen int) *RegFile {
	return &RegFile{XLEN: xlen}
}

// Read returns the value of register n, masked to XLEN bits.
func (r *RegFile) Read(n uint32) uint64 {
	if r.XLEN == 32 {
		return uint64(uint32(r.X[n&0x1f]))
	}
	return r.X[n&0x1f]
}

// Write stores val into register n. Writes to x0 are discarded.
func (r *RegFile) Write(n uint32, val uint64) {
	n &= 0x1f
	if n == 0 {
		return
	}
	if r.XLEN == 32 {
		val = uint64(uint32(val))
	}
	r.X[n] = val
}

// csrView is one CSR's storage plus the bits a guest is allowed to
// modify directly. Read-only CSRs (cycle, time, instret) instead pull
// their value from a live Source function set at construction.
type csrView struct {
	value     uint64
	writeMask uint64
	source    func() uint64 // non-nil for CSRs that refresh on every read
}

// CSRFile is a sparse table of the control and status registers this
// model implements. Unlisted addresses are simply absent from the map;
// callers distinguish "CSR not implemented" from "read returned zero"
// via the ok return of Read/Write.
type CSRFile struct {
	regs map[uint32]*csrView
}

// NewCSRFile builds the CSR set this model supports: the M-mode trap
// CSRs, satp, and the cycle/time/instret read-only counters, each with
// the legal-value mask covering only the bits this model implements
// (WARL: writes to other bits are dropped). cycleFn, timeFn and
// instretFn back the free-running counters; timeFn is normally wired
// to the CLINT's mtime so that rdtime and mtime agree.
func NewCSRFile(xlen int, cycleFn, timeFn, instretFn func() uint64) *CSRFile {
	xlenMask := ^uint64(0)
	if xlen == 32 {
		xlenMask = 1<<32 - 1
	}

	mstatusMask := uint64(1)<<isa.MStatusMIEShift |
		uint64(1)<<isa.MStatusMPIEShift |
		uint64(isa.MStatusMPPMask)<<isa.MStatusMPPShift |
		uint64(1)<<isa.MStatusMPRVShift |
		uint64(1)<<isa.MStatusSUMShift |
		uint64(1)<<isa.MStatusMXRShift
	intrMask := uint64(1)<<isa.MSIEShift | uint64(1)<<isa.MTIEShift | uint64(1)<<isa.MEIEShift

	// satp: mode plus PPN; the unimplemented ASID field reads zero.
	satpMask := uint64(0xf)<<60 | (uint64(1)<<44 - 1)
	if xlen == 32 {
		satpMask = uint64(1)<<31 | (uint64(1)<<22 - 1)
	}

	// misa: read-only identity, MXL plus the I/M/A extension bits.
	misa := uint64(1)<<0 | uint64(1)<<8 | uint64(1)<<12
	if xlen == 64 {
		misa |= 2 << 62
	} else {
		misa |= 1 << 30
	}

	f := &CSRFile{regs: make(map[uint32]*csrView)}
	f.regs[isa.CSRMStatus] = &csrView{writeMask: mstatusMask}
	f.regs[isa.CSRMISA] = &csrView{value: misa} // writeMask 0: writes dropped
	f.regs[isa.CSRMIE] = &csrView{writeMask: intrMask}
	f.regs[isa.CSRMIP] = &csrView{writeMask: intrMask}
	f.regs[isa.CSRMTVec] = &csrView{writeMask: xlenMask &^ 0x3} // direct mode only
	f.regs[isa.CSRMScratch] = &csrView{writeMask: xlenMask}
	f.regs[isa.CSRMEPC] = &csrView{writeMask: xlenMask &^ 0x3} // IALIGN=32
	f.regs[isa.CSRMCause] = &csrView{writeMask: xlenMask}
	f.regs[isa.CSRMTval] = &csrView{writeMask: xlenMask}
	f.regs[isa.CSRSatp] = &csrView{writeMask: satpMask}

	f.regs[isa.CSRCycle] = &csrView{source: cycleFn}
	f.regs[isa.CSRMCycle] = &csrView{source: cycleFn}
	f.regs[isa.CSRTime] = &csrView{source: timeFn}
	f.regs[isa.CSRInstret] = &csrView{source: instretFn}
	f.regs[isa.CSRMInstret] = &csrView{source: instretFn}
	return f
}

// Read returns the CSR's current value. For counter CSRs this calls the
// live source rather than returning stale stored state.
func (f *CSRFile) Read(addr uint32) (uint64, bool) {
	v, ok := f.regs[addr]
	if !ok {
		return 0, false
	}
	if v.source != nil {
		return v.source(), true
	}
	return v.value, true
}

// Write stores val into the CSR, respecting its write mask. Read-only
// (source-backed) CSRs reject writes.
func (f *CSRFile) Write(addr uint32, val uint64) bool {
	v, ok := f.regs[addr]
	if !ok || v.source != nil {
		return false
	}
	v.value = (v.value &^ v.writeMask) | (val & v.writeMask)
	return true
}

// SetBits ORs bits into the CSR in place, used by the ISS/CLINT/PLIC to
// raise pending-interrupt bits in mip without a full read-modify-write.
func (f *CSRFile) SetBits(addr uint32, bits uint64) {
	if v, ok := f.regs[addr]; ok && v.source == nil {
		v.value |= bits
	}
}

// ClearBits clears bits in the CSR in place.
func (f *CSRFile) ClearBits(addr uint32, bits uint64) {
	if v, ok := f.regs[addr]; ok && v.source == nil {
		v.value &^= bits
	}
}
