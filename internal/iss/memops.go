package iss

import (
	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/decode"
	"github.com/rvvp/rvvp/internal/isa"
)

func isLoad(op decode.Op) bool {
	switch op {
	case decode.LB, decode.LH, decode.LW, decode.LBU, decode.LHU, decode.LWU, decode.LD:
		return true
	}
	return false
}

func isStore(op decode.Op) bool {
	switch op {
	case decode.SB, decode.SH, decode.SW, decode.SD:
		return true
	}
	return false
}

func isAMO(op decode.Op) bool {
	switch op {
	case decode.LRW, decode.SCW, decode.AMOSWAPW, decode.AMOADDW, decode.AMOXORW, decode.AMOANDW,
		decode.AMOORW, decode.AMOMINW, decode.AMOMAXW, decode.AMOMINUW, decode.AMOMAXUW,
		decode.LRD, decode.SCD, decode.AMOSWAPD, decode.AMOADDD, decode.AMOXORD, decode.AMOANDD,
		decode.AMOORD, decode.AMOMIND, decode.AMOMAXD, decode.AMOMINUD, decode.AMOMAXUD:
		return true
	}
	return false
}

func (h *Hart) effAddr(in decode.Instr) uint64 {
	return h.Reg.Read(in.Rs1) + uint64(int64(in.Imm))
}

func (h *Hart) readLE(paddr uint64, n int) (uint64, bool) {
	if h.DataDMI != nil && h.DataDMI.Contains(paddr, uint64(n)) {
		switch n {
		case 1:
			return uint64(h.DataDMI.ReadByte(paddr)), true
		case 2:
			return uint64(h.DataDMI.ReadHalf(paddr)), true
		case 4:
			return uint64(h.DataDMI.ReadWord(paddr)), true
		case 8:
			return h.DataDMI.ReadDouble(paddr), true
		}
	}
	buf := make([]byte, n)
	if err := h.Bus.Transport(bus.CmdRead, paddr, buf); err != nil {
		h.raiseTrap(isa.ExcLoadFault, false, paddr, h.LastPC)
		return 0, false
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, true
}

func (h *Hart) writeLE(paddr uint64, n int, v uint64) bool {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	if err := h.Bus.Transport(bus.CmdWrite, paddr, buf); err != nil {
		h.raiseTrap(isa.ExcStoreFault, false, paddr, h.LastPC)
		return false
	}
	return true
}

// execLoad implements LB/LH/LW/LBU/LHU/LWU/LD: effective address from
// rs1+imm, translated, then sign- or zero-extended per width.
func (h *Hart) execLoad(in decode.Instr) {
	vaddr := h.effAddr(in)
	paddr, err := h.translate(vaddr, isa.AccessLoad)
	if err != nil {
		return
	}

	var v uint64
	var ok bool
	switch in.Op {
	case decode.LB:
		v, ok = h.readLE(paddr, 1)
		v = uint64(int64(int8(v)))
	case decode.LBU:
		v, ok = h.readLE(paddr, 1)
	case decode.LH:
		v, ok = h.readLE(paddr, 2)
		v = uint64(int64(int16(v)))
	case decode.LHU:
		v, ok = h.readLE(paddr, 2)
	case decode.LW:
		v, ok = h.readLE(paddr, 4)
		v = uint64(int64(int32(v)))
	case decode.LWU:
		v, ok = h.readLE(paddr, 4)
	case decode.LD:
		v, ok = h.readLE(paddr, 8)
	}
	if !ok {
		return
	}
	h.Reg.Write(in.Rd, v)
}

// execStore implements SB/SH/SW/SD.
func (h *Hart) execStore(in decode.Instr) {
	vaddr := h.effAddr(in)
	paddr, err := h.translate(vaddr, isa.AccessStore)
	if err != nil {
		return
	}
	v := h.Reg.Read(in.Rs2)
	switch in.Op {
	case decode.SB:
		h.writeLE(paddr, 1, v)
	case decode.SH:
		h.writeLE(paddr, 2, v)
	case decode.SW:
		h.writeLE(paddr, 4, v)
	case decode.SD:
		h.writeLE(paddr, 8, v)
	}
}

// execAMO implements LR/SC/AMO*. Because the simulation is
// single-threaded-cooperative, the read-modify-write is naturally
// atomic with respect to every other hart and device; only the LR/SC
// reservation bookkeeping on internal/bus needs to model cross-hart
// interference explicitly.
func (h *Hart) execAMO(in decode.Instr) {
	size := 4
	isDouble := false
	switch in.Op {
	case decode.LRD, decode.SCD, decode.AMOSWAPD, decode.AMOADDD, decode.AMOXORD, decode.AMOANDD,
		decode.AMOORD, decode.AMOMIND, decode.AMOMAXD, decode.AMOMINUD, decode.AMOMAXUD:
		size = 8
		isDouble = true
	}
	vaddr := h.Reg.Read(in.Rs1)
	paddr, err := h.translate(vaddr, isa.AccessStore)
	if err != nil {
		return
	}

	switch in.Op {
	case decode.LRW, decode.LRD:
		v, ok := h.readLE(paddr, size)
		if !ok {
			return
		}
		h.Bus.Reserve(h.ID, paddr, size)
		if isDouble {
			h.Reg.Write(in.Rd, v)
		} else {
			h.Reg.Write(in.Rd, uint64(int64(int32(v))))
		}
		return
	case decode.SCW, decode.SCD:
		success := h.Bus.CheckAndClearReservation(h.ID, paddr, size)
		if success {
			h.writeLE(paddr, size, h.Reg.Read(in.Rs2))
			h.Reg.Write(in.Rd, 0)
		} else {
			h.Reg.Write(in.Rd, 1)
		}
		return
	}

	old, ok := h.readLE(paddr, size)
	if !ok {
		return
	}
	rs2 := h.Reg.Read(in.Rs2)

	var result uint64
	if isDouble {
		result = amoResult64(in.Op, old, rs2)
	} else {
		result = uint64(amoResult32(in.Op, uint32(old), uint32(rs2)))
	}
	if !h.writeLE(paddr, size, result) {
		return
	}
	if isDouble {
		h.Reg.Write(in.Rd, old)
	} else {
		h.Reg.Write(in.Rd, uint64(int64(int32(old))))
	}
}

func amoResult32(op decode.Op, old, rs2 uint32) uint32 {
	switch op {
	case decode.AMOSWAPW:
		return rs2
	case decode.AMOADDW:
		return old + rs2
	case decode.AMOXORW:
		return old ^ rs2
	case decode.AMOANDW:
		return old & rs2
	case decode.AMOORW:
		return old | rs2
	case decode.AMOMINW:
		if int32(old) < int32(rs2) {
			return old
		}
		return rs2
	case decode.AMOMAXW:
		if int32(old) > int32(rs2) {
			return old
		}
		return rs2
	case decode.AMOMINUW:
		if old < rs2 {
			return old
		}
		return rs2
	case decode.AMOMAXUW:
		if old > rs2 {
			return old
		}
		return rs2
	}
	return old
}

func amoResult64(op decode.Op, old, rs2 uint64) uint64 {
	switch op {
	case decode.AMOSWAPD:
		return rs2
	case decode.AMOADDD:
		return old + rs2
	case decode.AMOXORD:
		return old ^ rs2
	case decode.AMOANDD:
		return old & rs2
	case decode.AMOORD:
		return old | rs2
	case decode.AMOMIND:
		if int64(old) < int64(rs2) {
			return old
		}
		return rs2
	case decode.AMOMAXD:
		if int64(old) > int64(rs2) {
			return old
		}
		return rs2
	case decode.AMOMINUD:
		if old < rs2 {
			return old
		}
		return rs2
	case decode.AMOMAXUD:
		if old > rs2 {
			return old
		}
		return rs2
	}
	return old
}
