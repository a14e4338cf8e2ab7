// Package iss is the per-hart Instruction Set Simulator: Hart.Step()
// runs one fetch/decode/execute/trap iteration against the register
// file, CSR table, MMU and bus, with per-opcode cycle accounting into
// the hart's quantum keeper.
//
// RV32/RV64 VP instruction set simulator.
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
package iss

import (
	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/decode"
	"github.com/rvvp/rvvp/internal/isa"
	"github.com/rvvp/rvvp/internal/memory"
	"github.com/rvvp/rvvp/internal/mmu"
	"github.com/rvvp/rvvp/internal/regfile"
)

// Status is the hart's execution status.
type Status int

const (
	Runnable Status = iota
	HitBreakpoint
	Terminated
)

// Syscall handles an intercepted ECALL: it reads a7 (syscall number)
// and a0..a3 (arguments) off the hart and writes the return value to
// a0.
type Syscall interface {
	ECall(h *Hart)
}

// QuantumKeeper tracks a hart's accumulated simulated-time offset from
// the global clock: Step() advances Local on every retired
// instruction; the driver calls NeedSync/Sync at quantum boundaries to
// interleave with CLINT/PLIC/GDB.
type QuantumKeeper struct {
	CurrentTime int64 // cumulative cycles this hart has executed
	Local       int64 // cycles since the last Sync
	Budget      int64 // Local reaching Budget triggers NeedSync
}

// Advance accounts cycles cycles of work.
func (q *QuantumKeeper) Advance(cycles int64) {
	q.CurrentTime += cycles
	q.Local += cycles
}

// NeedSync reports whether the hart has used its quantum and should
// yield back to the driver.
func (q *QuantumKeeper) NeedSync() bool { return q.Local >= q.Budget }

// Sync resets the local counter at a quantum boundary.
func (q *QuantumKeeper) Sync() { q.Local = 0 }

// defaultCycleCost is the per-opcode cycle cost table: loads, stores
// and atomics cost 4 cycles, multiply/divide cost 8, everything else
// costs 1.
func defaultCycleCost(op decode.Op) int64 {
	switch op {
	case decode.LB, decode.LH, decode.LW, decode.LBU, decode.LHU, decode.LWU, decode.LD,
		decode.SB, decode.SH, decode.SW, decode.SD,
		decode.LRW, decode.LRD, decode.SCW, decode.SCD,
		decode.AMOSWAPW, decode.AMOADDW, decode.AMOXORW, decode.AMOANDW, decode.AMOORW,
		decode.AMOMINW, decode.AMOMAXW, decode.AMOMINUW, decode.AMOMAXUW,
		decode.AMOSWAPD, decode.AMOADDD, decode.AMOXORD, decode.AMOANDD, decode.AMOORD,
		decode.AMOMIND, decode.AMOMAXD, decode.AMOMINUD, decode.AMOMAXUD:
		return 4
	case decode.MUL, decode.MULH, decode.MULHSU, decode.MULHU, decode.MULW,
		decode.DIV, decode.DIVU, decode.REM, decode.REMU,
		decode.DIVW, decode.DIVUW, decode.REMW, decode.REMUW:
		return 8
	default:
		return 1
	}
}

// Hart is one RISC-V hardware thread: architectural state plus the
// collaborators (bus, MMU) it needs to execute. Construct with New.
type Hart struct {
	ID   int
	XLEN int

	Reg *regfile.RegFile
	CSR *regfile.CSRFile
	Bus *bus.Bus
	MMU *mmu.MMU

	PC     uint64
	LastPC uint64

	Status      Status
	Breakpoints map[uint64]bool
	DebugMode   bool
	Waiting     bool // true while blocked in WFI

	Quantum QuantumKeeper

	MInstret uint64

	// InstrDMI/DataDMI, when non-nil, let fetches and loads whose
	// physical address falls inside the region read RAM directly,
	// skipping the bus port table. Stores always go through the bus so
	// LR/SC reservation invalidation stays visible to every master.
	InstrDMI *memory.RAM
	DataDMI  *memory.RAM

	Syscall           Syscall
	InterceptSyscalls bool

	// Priv is the hart's current privilege level (isa.PrivUser or
	// isa.PrivMachine; this model never runs S-mode software).
	Priv int
}

// New returns a freshly-reset hart. cycleFn/timeFn/instretFn back the
// CSR file's read-only counters; timeFn is normally clint.CLINT.MTime
// so rdtime and mtime agree.
func New(id, xlen int, bu *bus.Bus, mm *mmu.MMU, cycleFn, timeFn, instretFn func() uint64) *Hart {
	h := &Hart{
		ID:          id,
		XLEN:        xlen,
		Reg:         regfile.NewRegFile(xlen),
		CSR:         regfile.NewCSRFile(xlen, cycleFn, timeFn, instretFn),
		Bus:         bu,
		MMU:         mm,
		Breakpoints: make(map[uint64]bool),
		Priv:        isa.PrivMachine,
	}
	h.Quantum.Budget = 1
	return h
}

// ---- device.ClintTarget / device.ExternalInterruptTarget ----

// TriggerTimerInterrupt sets or clears mip.MTIP; any assertion wakes a
// WFI-blocked hart (the wake is edge-triggered).
func (h *Hart) TriggerTimerInterrupt(status bool) {
	h.setMIPBit(isa.MTIEShift, status)
	if status {
		h.Waiting = false
	}
}

// TriggerSoftwareInterrupt sets or clears mip.MSIP.
func (h *Hart) TriggerSoftwareInterrupt(status bool) {
	h.setMIPBit(isa.MSIEShift, status)
	if status {
		h.Waiting = false
	}
}

// TriggerExternalInterrupt sets mip.MEIP (the PLIC's per-hart line).
func (h *Hart) TriggerExternalInterrupt() {
	h.setMIPBit(isa.MEIEShift, true)
	h.Waiting = false
}

// ClearExternalInterrupt clears mip.MEIP.
func (h *Hart) ClearExternalInterrupt() { h.setMIPBit(isa.MEIEShift, false) }

func (h *Hart) setMIPBit(shift int, set bool) {
	bit := uint64(1) << uint(shift)
	if set {
		h.CSR.SetBits(isa.CSRMIP, bit)
	} else {
		h.CSR.ClearBits(isa.CSRMIP, bit)
	}
}

// NotifyResume clears Waiting without touching mip, matching the GDB
// stub's "c"/"s" resume path, which also edge-triggers the WFI wait.
func (h *Hart) NotifyResume() { h.Waiting = false }

// ---- CSR bitfield helpers ----

func (h *Hart) csr(addr uint32) uint64 {
	v, _ := h.CSR.Read(addr)
	return v
}

func (h *Hart) mstatusMIE() bool  { return h.csr(isa.CSRMStatus)&(1<<isa.MStatusMIEShift) != 0 }
func (h *Hart) mstatusMPIE() bool { return h.csr(isa.CSRMStatus)&(1<<isa.MStatusMPIEShift) != 0 }
func (h *Hart) mstatusMPP() int   { return int((h.csr(isa.CSRMStatus) >> isa.MStatusMPPShift) & isa.MStatusMPPMask) }
func (h *Hart) mstatusMPRV() bool { return h.csr(isa.CSRMStatus)&(1<<isa.MStatusMPRVShift) != 0 }
func (h *Hart) mstatusSUM() bool  { return h.csr(isa.CSRMStatus)&(1<<isa.MStatusSUMShift) != 0 }
func (h *Hart) mstatusMXR() bool  { return h.csr(isa.CSRMStatus)&(1<<isa.MStatusMXRShift) != 0 }

func (h *Hart) setMStatusBit(shift int, val bool) {
	bit := uint64(1) << uint(shift)
	cur := h.csr(isa.CSRMStatus)
	if val {
		cur |= bit
	} else {
		cur &^= bit
	}
	h.CSR.Write(isa.CSRMStatus, cur)
}

func (h *Hart) setMStatusMPP(mode int) {
	cur := h.csr(isa.CSRMStatus)
	cur &^= isa.MStatusMPPMask << isa.MStatusMPPShift
	cur |= uint64(mode&isa.MStatusMPPMask) << isa.MStatusMPPShift
	h.CSR.Write(isa.CSRMStatus, cur)
}

func (h *Hart) mieMTIE() bool { return h.csr(isa.CSRMIE)&(1<<isa.MTIEShift) != 0 }
func (h *Hart) mieMSIE() bool { return h.csr(isa.CSRMIE)&(1<<isa.MSIEShift) != 0 }
func (h *Hart) mieMEIE() bool { return h.csr(isa.CSRMIE)&(1<<isa.MEIEShift) != 0 }

func (h *Hart) mipMTIP() bool { return h.csr(isa.CSRMIP)&(1<<isa.MTIEShift) != 0 }
func (h *Hart) mipMSIP() bool { return h.csr(isa.CSRMIP)&(1<<isa.MSIEShift) != 0 }
func (h *Hart) mipMEIP() bool { return h.csr(isa.CSRMIP)&(1<<isa.MEIEShift) != 0 }

func (h *Hart) satpMode() uint64 {
	if h.XLEN == 32 {
		return (h.csr(isa.CSRSatp) >> 31) & 0x1
	}
	return (h.csr(isa.CSRSatp) >> 60) & 0xf
}
func (h *Hart) satpPPN() uint64 {
	mask := uint64(1)<<44 - 1
	if h.XLEN == 32 {
		mask = uint64(1)<<22 - 1
	}
	return h.csr(isa.CSRSatp) & mask
}

// hasPendingEnabledInterrupts reports whether an enabled external or
// timer interrupt is pending while mstatus.MIE is set.
func (h *Hart) hasPendingEnabledInterrupts() bool {
	if !h.mstatusMIE() {
		return false
	}
	return (h.mieMEIE() && h.mipMEIP()) || (h.mieMTIE() && h.mipMTIP())
}

// TranslateDebug converts a virtual address on behalf of a debugger,
// using the hart's current translation regime. Unlike the fetch/load/
// store paths it never raises a trap; the caller just sees the error.
func (h *Hart) TranslateDebug(vaddr uint64, typ isa.MemoryAccessType) (uint64, error) {
	if h.MMU == nil {
		return vaddr, nil
	}
	return h.MMU.Translate(vaddr, typ, h.Priv, h.mmuStatus())
}

// mmuStatus packages the bits mmu.Translate needs.
func (h *Hart) mmuStatus() mmu.Status {
	return mmu.Status{
		SatpMode: h.satpMode(),
		SatpPPN:  h.satpPPN(),
		SUM:      h.mstatusSUM(),
		MXR:      h.mstatusMXR(),
	}
}

func (h *Hart) effectivePriv(typ isa.MemoryAccessType) int {
	if typ == isa.AccessFetch {
		return h.Priv
	}
	if h.mstatusMPRV() {
		return h.mstatusMPP()
	}
	return h.Priv
}

// ---- trap entry ----

// raiseTrap records mcause/mtval/mepc and redirects pc to mtvec.base.
// epc is the architectural value mepc should hold (last_pc for
// synchronous exceptions raised mid-instruction, pc for the
// end-of-instruction interrupt check).
func (h *Hart) raiseTrap(cause uint32, isInterrupt bool, tval uint64, epc uint64) {
	mcause := uint64(cause)
	if isInterrupt {
		mcause |= uint64(1) << 63
		if h.XLEN == 32 {
			mcause = uint64(cause) | (1 << 31)
		}
	}
	h.CSR.Write(isa.CSRMCause, mcause)
	h.CSR.Write(isa.CSRMTval, tval)
	h.CSR.Write(isa.CSRMEPC, epc)

	h.setMStatusBit(isa.MStatusMPIEShift, h.mstatusMIE())
	h.setMStatusBit(isa.MStatusMIEShift, false)
	h.setMStatusMPP(h.Priv)
	h.Priv = isa.PrivMachine

	mtvec := h.csr(isa.CSRMTVec)
	h.PC = mtvec &^ 0x3 // direct mode: ignore vectored low bits for this model
}

func (h *Hart) switchToTrapHandler() {
	var cause uint32
	if h.mieMEIE() && h.mipMEIP() {
		cause = isa.IntExternal
	} else {
		cause = isa.IntTimer
	}
	h.raiseTrap(cause, true, 0, h.PC)
}

// mret returns from an M-mode trap: pc from mepc, MIE restored from
// MPIE, privilege restored from MPP.
func (h *Hart) mret() {
	h.PC = h.csr(isa.CSRMEPC)
	h.setMStatusBit(isa.MStatusMIEShift, h.mstatusMPIE())
	h.setMStatusBit(isa.MStatusMPIEShift, true)
	h.Priv = h.mstatusMPP()
	h.setMStatusMPP(isa.PrivUser)
}
