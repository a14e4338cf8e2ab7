package iss

import (
	"github.com/rvvp/rvvp/internal/decode"
	"github.com/rvvp/rvvp/internal/isa"
)

func isSystem(op decode.Op) bool {
	switch op {
	case decode.CSRRW, decode.CSRRS, decode.CSRRC, decode.CSRRWI, decode.CSRRSI, decode.CSRRCI,
		decode.ECALL, decode.EBREAK, decode.MRET, decode.SRET, decode.URET, decode.WFI, decode.SFENCEVMA:
		return true
	}
	return false
}

// execSystem implements Zicsr plus the privileged control-transfer
// instructions: ECALL/EBREAK/WFI/MRET and SFENCE.VMA.
func (h *Hart) execSystem(in decode.Instr) {
	switch in.Op {
	case decode.CSRRW, decode.CSRRS, decode.CSRRC, decode.CSRRWI, decode.CSRRSI, decode.CSRRCI:
		h.execCSR(in)
	case decode.ECALL:
		h.execECall()
	case decode.EBREAK:
		h.Status = HitBreakpoint
	case decode.WFI:
		if !h.hasPendingEnabledInterrupts() {
			h.Waiting = true
		}
	case decode.MRET:
		h.mret()
	case decode.SRET, decode.URET:
		// This model never runs S- or U-mode trap handlers, so the
		// return instructions are illegal rather than fatal.
		h.raiseTrap(isa.ExcIllegalInstr, false, uint64(in.Raw), h.LastPC)
	case decode.SFENCEVMA:
		if h.MMU != nil {
			h.MMU.FlushTLB()
		}
	}
}

// execCSR implements CSRRW/CSRRS/CSRRC and the *I immediate variants:
// the old value goes to rd, then the new value is applied, except that
// CSRRS/CSRRC with a zero operand suppress the write entirely (so a
// read of a read-only CSR never traps).
func (h *Hart) execCSR(in decode.Instr) {
	old, ok := h.CSR.Read(in.CSR)
	if !ok {
		h.raiseTrap(isa.ExcIllegalInstr, false, uint64(in.Raw), h.LastPC)
		return
	}

	var operand uint64
	isImmediate := in.Op == decode.CSRRWI || in.Op == decode.CSRRSI || in.Op == decode.CSRRCI
	if isImmediate {
		operand = uint64(uint32(in.Imm))
	} else {
		operand = h.Reg.Read(in.Rs1)
	}

	h.Reg.Write(in.Rd, old)

	switch in.Op {
	case decode.CSRRW, decode.CSRRWI:
		h.CSR.Write(in.CSR, operand)
	case decode.CSRRS, decode.CSRRSI:
		if operand != 0 {
			h.CSR.Write(in.CSR, old|operand)
		}
	case decode.CSRRC, decode.CSRRCI:
		if operand != 0 {
			h.CSR.Write(in.CSR, old&^operand)
		}
	}

	if in.CSR == isa.CSRSatp && h.MMU != nil {
		h.MMU.FlushTLB()
	}
}

// execECall delegates to the syscall proxy collaborator when enabled,
// otherwise raises the appropriate ECALL-from-* trap.
func (h *Hart) execECall() {
	if h.InterceptSyscalls && h.Syscall != nil {
		h.Syscall.ECall(h)
		return
	}
	cause := isa.ExcECallFromU
	if h.Priv == isa.PrivMachine {
		cause = isa.ExcECallFromM
	}
	h.raiseTrap(cause, false, 0, h.LastPC)
}
