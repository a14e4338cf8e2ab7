// Package isa holds the constant tables shared by the decoder, the
// register file, and the ISS interpreter: opcode/funct encodings, CSR
// addresses, and trap cause codes.
//
// RV32/RV64 VP instruction set definitions.
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
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
package isa

// Major opcodes (bits [6:0]).
const (
	OpLoad    uint32 = 0b0000011
	OpMiscMem uint32 = 0b0001111
	OpImm     uint32 = 0b0010011
	OpAUIPC   uint32 = 0b0010111
	OpImm32   uint32 = 0b0011011 // RV64 only
	OpStore   uint32 = 0b0100011
	OpAMO     uint32 = 0b0101111
	OpOp      uint32 = 0b0110011
	OpLUI     uint32 = 0b0110111
	OpOp32    uint32 = 0b0111011 // RV64 only
	OpBranch  uint32 = 0b1100011
	OpJALR    uint32 = 0b1100111
	OpJAL     uint32 = 0b1101111
	OpSystem  uint32 = 0b1110011
)

// funct3 values for OpImm/OpOp/OpImm32/OpOp32.
const (
	F3ADDSUB uint32 = 0b000
	F3SLL    uint32 = 0b001
	F3SLT    uint32 = 0b010
	F3SLTU   uint32 = 0b011
	F3XOR    uint32 = 0b100
	F3SRLSRA uint32 = 0b101
	F3OR     uint32 = 0b110
	F3AND    uint32 = 0b111
)

// funct3 values for OpLoad/OpStore.
const (
	F3B  uint32 = 0b000
	F3H  uint32 = 0b001
	F3W  uint32 = 0b010
	F3D  uint32 = 0b011 // RV64 load/store doubleword
	F3BU uint32 = 0b100
	F3HU uint32 = 0b101
	F3WU uint32 = 0b110 // RV64 LWU
)

// funct3 values for OpBranch.
const (
	F3BEQ  uint32 = 0b000
	F3BNE  uint32 = 0b001
	F3BLT  uint32 = 0b100
	F3BGE  uint32 = 0b101
	F3BLTU uint32 = 0b110
	F3BGEU uint32 = 0b111
)

// funct7 values distinguishing ADD/SUB and SRL/SRA (also funct6 << 1 on RV64 shifts).
const (
	F7Base   uint32 = 0b0000000
	F7Alt    uint32 = 0b0100000 // SUB, SRA
	F7MULDIV uint32 = 0b0000001
)

// funct3 for the M extension (shares OpOp/OpOp32 with F7MULDIV).
const (
	F3MUL    uint32 = 0b000
	F3MULH   uint32 = 0b001
	F3MULHSU uint32 = 0b010
	F3MULHU  uint32 = 0b011
	F3DIV    uint32 = 0b100
	F3DIVU   uint32 = 0b101
	F3REM    uint32 = 0b110
	F3REMU   uint32 = 0b111
)

// funct3 for OpSystem: Zicsr + privileged.
const (
	F3PRIV   uint32 = 0b000
	F3CSRRW  uint32 = 0b001
	F3CSRRS  uint32 = 0b010
	F3CSRRC  uint32 = 0b011
	F3CSRRWI uint32 = 0b101
	F3CSRRSI uint32 = 0b110
	F3CSRRCI uint32 = 0b111
)

// funct12 values for OpSystem/F3PRIV.
const (
	F12ECALL  uint32 = 0x000
	F12EBREAK uint32 = 0x001
	F12URET   uint32 = 0x002
	F12SRET   uint32 = 0x102
	F12WFI    uint32 = 0x105
	F12MRET   uint32 = 0x302
)

// funct7 for SFENCE.VMA (OpSystem/F3PRIV, rd=x0).
const F7SFENCEVMA uint32 = 0b0001001

// funct5 (bits [31:27]) for OpAMO, combined with funct3 (0b010=W, 0b011=D).
const (
	F5LR      uint32 = 0b00010
	F5SC      uint32 = 0b00011
	F5AMOSWAP uint32 = 0b00001
	F5AMOADD  uint32 = 0b00000
	F5AMOXOR  uint32 = 0b00100
	F5AMOAND  uint32 = 0b01100
	F5AMOOR   uint32 = 0b01000
	F5AMOMIN  uint32 = 0b10000
	F5AMOMAX  uint32 = 0b10100
	F5AMOMINU uint32 = 0b11000
	F5AMOMAXU uint32 = 0b11100
)

// CSR addresses used by this model (subset: M-mode + Sv* satp + Zicsr time views).
const (
	CSRMStatus  uint32 = 0x300
	CSRMISA     uint32 = 0x301
	CSRMIE      uint32 = 0x304
	CSRMTVec    uint32 = 0x305
	CSRMScratch uint32 = 0x340
	CSRMEPC     uint32 = 0x341
	CSRMCause   uint32 = 0x342
	CSRMTval    uint32 = 0x343
	CSRMIP      uint32 = 0x344
	CSRSatp     uint32 = 0x180
	CSRCycle    uint32 = 0xc00
	CSRTime     uint32 = 0xc01
	CSRInstret  uint32 = 0xc02
	CSRMCycle   uint32 = 0xb00
	CSRMInstret uint32 = 0xb02
)

// mstatus bit positions (low 32 bits, which is all this model interprets).
const (
	MStatusMIEShift  = 3
	MStatusMPIEShift = 7
	MStatusMPPShift  = 11 // 2 bits
	MStatusMPPMask   = 0x3
	MStatusMPRVShift = 17
	MStatusSUMShift  = 18
	MStatusMXRShift  = 19
)

// mie/mip bit positions.
const (
	MSIEShift = 3
	MTIEShift = 7
	MEIEShift = 11
)

// satp.mode encodings (RV64; RV32 only ever uses Bare/Sv32).
const (
	SatpModeBare uint64 = 0
	SatpModeSv32 uint64 = 1 // RV32 encoding of satp.mode is a single bit
	SatpModeSv39 uint64 = 8
	SatpModeSv48 uint64 = 9
)

// Privilege levels (this model only ever runs U and M; S is a placeholder
// used purely as the "supervisor" slot in the 2-mode TLB/MMU index space).
const (
	PrivUser    = 0
	PrivSuper   = 1
	PrivMachine = 3
)

// MemoryAccessType selects the TLB/MMU access class.
type MemoryAccessType int

const (
	AccessFetch MemoryAccessType = iota
	AccessLoad
	AccessStore
)

// Trap cause codes (exception_code field of mcause; interrupt bit is
// tracked separately). Exceptions first, then the two interrupt causes
// this model raises.
const (
	ExcInstrMisaligned   uint32 = 0
	ExcInstrFault        uint32 = 1
	ExcIllegalInstr      uint32 = 2
	ExcBreakpoint        uint32 = 3
	ExcLoadMisaligned    uint32 = 4
	ExcLoadFault         uint32 = 5
	ExcStoreMisaligned   uint32 = 6
	ExcStoreFault        uint32 = 7
	ExcECallFromU        uint32 = 8
	ExcECallFromM        uint32 = 11
	ExcInstrPageFault    uint32 = 12
	ExcLoadPageFault     uint32 = 13
	ExcStoreAMOPageFault uint32 = 15

	IntSoftware uint32 = 3
	IntTimer    uint32 = 7
	IntExternal uint32 = 11
)
