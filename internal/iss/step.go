package iss

import (
	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/decode"
	"github.com/rvvp/rvvp/internal/isa"
	"github.com/rvvp/rvvp/internal/mmu"
)

// Step executes at most one instruction: fetch, decode, dispatch, then
// the end-of-instruction interrupt check and cycle accounting. It is a
// no-op when the hart is not Runnable or is waiting in WFI; when an
// enabled interrupt is already pending it enters the trap handler
// without executing an instruction.
func (h *Hart) Step() {
	if h.Status != Runnable {
		return
	}
	if h.Waiting {
		return
	}

	// An interrupt that arrived while the hart was parked (WFI wake,
	// or between quanta) is taken before the next instruction runs.
	if h.hasPendingEnabledInterrupts() {
		h.switchToTrapHandler()
		return
	}

	h.LastPC = h.PC
	if h.PC%4 != 0 {
		h.raiseTrap(isa.ExcInstrMisaligned, false, h.PC, h.LastPC)
		return
	}

	word, ok := h.fetch(h.PC)
	if !ok {
		return // trap already raised by fetch
	}

	in := decode.Decode(word, h.XLEN)
	h.PC += 4

	if in.Op == decode.UNDEF {
		h.raiseTrap(isa.ExcIllegalInstr, false, uint64(word), h.LastPC)
		return
	}

	h.dispatch(in)

	h.MInstret++
	h.Quantum.Advance(defaultCycleCost(in.Op))

	if h.Status == Runnable && h.hasPendingEnabledInterrupts() {
		h.switchToTrapHandler()
	}
}

// fetch reads one instruction word through the MMU and bus (or the
// instruction DMI region when one is installed), raising an
// instruction-fault or page-fault trap on failure.
func (h *Hart) fetch(vaddr uint64) (uint32, bool) {
	paddr, err := h.translate(vaddr, isa.AccessFetch)
	if err != nil {
		return 0, false
	}
	if h.InstrDMI != nil && h.InstrDMI.Contains(paddr, 4) {
		return h.InstrDMI.ReadWord(paddr), true
	}
	buf := make([]byte, 4)
	if err := h.Bus.Transport(bus.CmdRead, paddr, buf); err != nil {
		h.raiseTrap(isa.ExcInstrFault, false, vaddr, h.LastPC)
		return 0, false
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, true
}

// translate runs a hart's virtual address through its MMU (if any),
// raising the matching page-fault trap and returning a non-nil error on
// failure. A nil MMU (Bare-only builds) passes addresses through
// unchanged.
func (h *Hart) translate(vaddr uint64, typ isa.MemoryAccessType) (uint64, error) {
	if h.MMU == nil {
		return vaddr, nil
	}
	mode := h.effectivePriv(typ)
	paddr, err := h.MMU.Translate(vaddr, typ, mode, h.mmuStatus())
	if err != nil {
		if pf, ok := err.(*mmu.PageFault); ok {
			h.raiseTrap(pf.Code, false, pf.VAddr, h.LastPC)
		}
		return 0, err
	}
	return paddr, nil
}

// dispatch executes one decoded instruction. Arithmetic, memory and
// system instructions are split across alu.go, memops.go and system.go
// by concern.
func (h *Hart) dispatch(in decode.Instr) {
	switch {
	case isALU(in.Op):
		h.execALU(in)
	case isBranch(in.Op):
		h.execBranch(in)
	case isLoad(in.Op):
		h.execLoad(in)
	case isStore(in.Op):
		h.execStore(in)
	case isAMO(in.Op):
		h.execAMO(in)
	case isSystem(in.Op):
		h.execSystem(in)
	default:
		h.execControl(in)
	}
}
