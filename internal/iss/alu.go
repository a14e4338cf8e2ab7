package iss

import "github.com/rvvp/rvvp/internal/decode"

func isALU(op decode.Op) bool {
	switch op {
	case decode.LUI, decode.AUIPC,
		decode.ADDI, decode.SLTI, decode.SLTIU, decode.XORI, decode.ORI, decode.ANDI,
		decode.SLLI, decode.SRLI, decode.SRAI,
		decode.ADD, decode.SUB, decode.SLL, decode.SLT, decode.SLTU, decode.XOR, decode.SRL, decode.SRA, decode.OR, decode.AND,
		decode.ADDIW, decode.SLLIW, decode.SRLIW, decode.SRAIW,
		decode.ADDW, decode.SUBW, decode.SLLW, decode.SRLW, decode.SRAW,
		decode.MUL, decode.MULH, decode.MULHSU, decode.MULHU, decode.DIV, decode.DIVU, decode.REM, decode.REMU,
		decode.MULW, decode.DIVW, decode.DIVUW, decode.REMW, decode.REMUW,
		decode.JAL, decode.JALR:
		return true
	}
	return false
}

func isBranch(op decode.Op) bool {
	switch op {
	case decode.BEQ, decode.BNE, decode.BLT, decode.BGE, decode.BLTU, decode.BGEU:
		return true
	}
	return false
}

func shamt(h *Hart, rs2 uint32) uint32 {
	mask := uint32(31)
	if h.XLEN == 64 {
		mask = 63
	}
	return uint32(h.Reg.Read(rs2)) & mask
}

func shamt32(h *Hart, rs2 uint32) uint32 {
	return uint32(h.Reg.Read(rs2)) & 31
}

// execALU covers OP/OP-IMM/OP-32/OP-IMM-32, LUI/AUIPC, JAL/JALR and the
// M extension. Arithmetic uses 2's-complement wraparound; *W variants
// operate on the low 32 bits and sign-extend the 64-bit result.
func (h *Hart) execALU(in decode.Instr) {
	x1 := h.Reg.Read(in.Rs1)
	x2 := h.Reg.Read(in.Rs2)
	imm := uint64(int64(in.Imm))

	switch in.Op {
	case decode.LUI:
		h.Reg.Write(in.Rd, imm)
	case decode.AUIPC:
		h.Reg.Write(in.Rd, h.LastPC+imm)
	case decode.JAL:
		h.Reg.Write(in.Rd, h.PC)
		h.PC = h.LastPC + imm
	case decode.JALR:
		target := (x1 + imm) &^ 1
		h.Reg.Write(in.Rd, h.PC)
		h.PC = target

	case decode.ADDI:
		h.Reg.Write(in.Rd, x1+imm)
	case decode.SLTI:
		h.Reg.Write(in.Rd, boolU64(int64(x1) < int64(imm)))
	case decode.SLTIU:
		h.Reg.Write(in.Rd, boolU64(x1 < imm))
	case decode.XORI:
		h.Reg.Write(in.Rd, x1^imm)
	case decode.ORI:
		h.Reg.Write(in.Rd, x1|imm)
	case decode.ANDI:
		h.Reg.Write(in.Rd, x1&imm)
	case decode.SLLI:
		h.Reg.Write(in.Rd, x1<<in.Shamt)
	case decode.SRLI:
		h.Reg.Write(in.Rd, h.maskXLEN(x1)>>in.Shamt)
	case decode.SRAI:
		h.Reg.Write(in.Rd, uint64(h.signExt(x1)>>in.Shamt))

	case decode.ADD:
		h.Reg.Write(in.Rd, x1+x2)
	case decode.SUB:
		h.Reg.Write(in.Rd, x1-x2)
	case decode.SLL:
		h.Reg.Write(in.Rd, x1<<shamt(h, in.Rs2))
	case decode.SLT:
		h.Reg.Write(in.Rd, boolU64(int64(x1) < int64(x2)))
	case decode.SLTU:
		h.Reg.Write(in.Rd, boolU64(x1 < x2))
	case decode.XOR:
		h.Reg.Write(in.Rd, x1^x2)
	case decode.SRL:
		h.Reg.Write(in.Rd, h.maskXLEN(x1)>>shamt(h, in.Rs2))
	case decode.SRA:
		h.Reg.Write(in.Rd, uint64(h.signExt(x1)>>shamt(h, in.Rs2)))
	case decode.OR:
		h.Reg.Write(in.Rd, x1|x2)
	case decode.AND:
		h.Reg.Write(in.Rd, x1&x2)

	case decode.ADDIW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)+uint32(imm)))
	case decode.SLLIW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)<<in.Shamt))
	case decode.SRLIW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)>>in.Shamt))
	case decode.SRAIW:
		h.Reg.Write(in.Rd, uint64(int64(int32(x1)>>in.Shamt)))
	case decode.ADDW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)+uint32(x2)))
	case decode.SUBW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)-uint32(x2)))
	case decode.SLLW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)<<shamt32(h, in.Rs2)))
	case decode.SRLW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)>>shamt32(h, in.Rs2)))
	case decode.SRAW:
		h.Reg.Write(in.Rd, uint64(int64(int32(x1)>>shamt32(h, in.Rs2))))

	default:
		h.execMulDiv(in, x1, x2)
	}
}

// execMulDiv implements the M extension. Division edge cases:
// divide-by-zero yields -1 for DIV* and the dividend for REM*;
// INT_MIN/-1 yields the dividend for DIV and 0 for REM.
func (h *Hart) execMulDiv(in decode.Instr, x1, x2 uint64) {
	switch in.Op {
	case decode.MUL:
		h.Reg.Write(in.Rd, x1*x2)
	case decode.MULH:
		h.Reg.Write(in.Rd, uint64(mulHSS(int64(x1), int64(x2))))
	case decode.MULHSU:
		h.Reg.Write(in.Rd, uint64(mulHSU(int64(x1), x2)))
	case decode.MULHU:
		h.Reg.Write(in.Rd, mulHUU(x1, x2))
	case decode.DIV:
		h.Reg.Write(in.Rd, uint64(sdiv(int64(x1), int64(x2))))
	case decode.DIVU:
		h.Reg.Write(in.Rd, udiv(x1, x2))
	case decode.REM:
		h.Reg.Write(in.Rd, uint64(srem(int64(x1), int64(x2))))
	case decode.REMU:
		h.Reg.Write(in.Rd, urem(x1, x2))

	case decode.MULW:
		h.Reg.Write(in.Rd, signExt32U64(uint32(x1)*uint32(x2)))
	case decode.DIVW:
		h.Reg.Write(in.Rd, uint64(int64(sdiv32(int32(x1), int32(x2)))))
	case decode.DIVUW:
		h.Reg.Write(in.Rd, uint64(int64(int32(udiv32(uint32(x1), uint32(x2))))))
	case decode.REMW:
		h.Reg.Write(in.Rd, uint64(int64(srem32(int32(x1), int32(x2)))))
	case decode.REMUW:
		h.Reg.Write(in.Rd, uint64(int64(int32(urem32(uint32(x1), uint32(x2))))))
	}
}

func sdiv(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == minInt64 && b == -1 {
		return a
	}
	return a / b
}

func srem(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == minInt64 && b == -1 {
		return 0
	}
	return a % b
}

func udiv(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func urem(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func sdiv32(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == minInt32 && b == -1 {
		return a
	}
	return a / b
}

func srem32(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == minInt32 && b == -1 {
		return 0
	}
	return a % b
}

func udiv32(a, b uint32) uint32 {
	if b == 0 {
		return ^uint32(0)
	}
	return a / b
}

func urem32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

const minInt64 = -1 << 63
const minInt32 = -1 << 31

func mulHSS(a, b int64) int64 {
	hi, _ := bitsMulS(a, b)
	return hi
}

func mulHSU(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, lo := bitsMulU(ua, b)
	if neg {
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi)
}

func mulHUU(a, b uint64) uint64 {
	hi, _ := bitsMulU(a, b)
	return hi
}

// bitsMulU returns the full 128-bit product of a*b as (hi, lo).
func bitsMulU(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	lo = (t << 32) | w0
	hi = aHi*bHi + w2 + k
	return hi, lo
}

func bitsMulS(a, b int64) (hi, lo int64) {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	uhi, ulo := bitsMulU(ua, ub)
	if neg {
		uhi = ^uhi
		ulo = ^ulo + 1
		if ulo == 0 {
			uhi++
		}
	}
	return int64(uhi), int64(ulo)
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signExt32U64(v uint32) uint64 { return uint64(int64(int32(v))) }

// maskXLEN masks v down to the hart's XLEN width, used for logical
// shifts where Go's uint64 would otherwise shift in bits above XLEN.
func (h *Hart) maskXLEN(v uint64) uint64 {
	if h.XLEN == 32 {
		return v & 0xffffffff
	}
	return v
}

func (h *Hart) signExt(v uint64) int64 {
	if h.XLEN == 32 {
		return int64(int32(v))
	}
	return int64(v)
}

// execBranch implements BEQ/BNE/BLT/BGE/BLTU/BGEU.
func (h *Hart) execBranch(in decode.Instr) {
	x1, x2 := h.Reg.Read(in.Rs1), h.Reg.Read(in.Rs2)
	var taken bool
	switch in.Op {
	case decode.BEQ:
		taken = x1 == x2
	case decode.BNE:
		taken = x1 != x2
	case decode.BLT:
		taken = int64(x1) < int64(x2)
	case decode.BGE:
		taken = int64(x1) >= int64(x2)
	case decode.BLTU:
		taken = x1 < x2
	case decode.BGEU:
		taken = x1 >= x2
	}
	if taken {
		h.PC = h.LastPC + uint64(int64(in.Imm))
	}
}

// execControl handles FENCE (a no-op in this model: the bus is
// sequentially consistent) plus anything dispatch routed here by
// elimination; kept as a safety net, not a normal path.
func (h *Hart) execControl(in decode.Instr) {
	switch in.Op {
	case decode.FENCE:
		// no-op: single-threaded cooperative scheduling is already SC.
	}
}
