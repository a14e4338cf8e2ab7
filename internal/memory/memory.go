// Package memory is the flat guest RAM backing a hart's physical
// address space: a configurably-sized byte slice with explicit-width
// accessors, plus a per-page "key" byte recording access and modify
// bits.
//
// RV32/RV64 VP physical memory.
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
package memory

const pageShift = 12 // 4KiB pages for the key array

// Key bits recorded per page.
const (
	KeyAccess uint8 = 0x4
	KeyModify uint8 = 0x6
)

// RAM is a contiguous block of guest physical memory starting at base.
// Addresses below base or at/above base+len are out of range.
type RAM struct {
	base uint64
	mem  []byte
	key  []uint8
}

// NewRAM allocates size bytes of guest RAM starting at physical address
// base.
func NewRAM(base uint64, size uint64) *RAM {
	return &RAM{
		base: base,
		mem:  make([]byte, size),
		key:  make([]uint8, (size>>pageShift)+1),
	}
}

// Base returns the physical address the RAM region starts at.
func (r *RAM) Base() uint64 { return r.base }

// Size returns the number of bytes backing the region.
func (r *RAM) Size() uint64 { return uint64(len(r.mem)) }

// Contains reports whether [addr, addr+n) lies entirely within this RAM.
func (r *RAM) Contains(addr uint64, n uint64) bool {
	if addr < r.base {
		return false
	}
	off := addr - r.base
	return off+n <= uint64(len(r.mem))
}

func (r *RAM) markKey(off uint64, bits uint8) {
	r.key[off>>pageShift] |= bits
}

// ReadByte, ReadHalf, ReadWord and ReadDouble read little-endian values
// of the named width, marking the access bit. The caller (the bus) is
// responsible for bounds checking via Contains before calling these.
func (r *RAM) ReadByte(addr uint64) uint8 {
	off := addr - r.base
	r.markKey(off, KeyAccess)
	return r.mem[off]
}

func (r *RAM) ReadHalf(addr uint64) uint16 {
	off := addr - r.base
	r.markKey(off, KeyAccess)
	return uint16(r.mem[off]) | uint16(r.mem[off+1])<<8
}

func (r *RAM) ReadWord(addr uint64) uint32 {
	off := addr - r.base
	r.markKey(off, KeyAccess)
	return uint32(r.mem[off]) | uint32(r.mem[off+1])<<8 |
		uint32(r.mem[off+2])<<16 | uint32(r.mem[off+3])<<24
}

func (r *RAM) ReadDouble(addr uint64) uint64 {
	lo := uint64(r.ReadWord(addr))
	hi := uint64(r.ReadWord(addr + 4))
	return lo | hi<<32
}

func (r *RAM) WriteByte(addr uint64, v uint8) {
	off := addr - r.base
	r.markKey(off, KeyModify)
	r.mem[off] = v
}

func (r *RAM) WriteHalf(addr uint64, v uint16) {
	off := addr - r.base
	r.markKey(off, KeyModify)
	r.mem[off] = byte(v)
	r.mem[off+1] = byte(v >> 8)
}

func (r *RAM) WriteWord(addr uint64, v uint32) {
	off := addr - r.base
	r.markKey(off, KeyModify)
	r.mem[off] = byte(v)
	r.mem[off+1] = byte(v >> 8)
	r.mem[off+2] = byte(v >> 16)
	r.mem[off+3] = byte(v >> 24)
}

func (r *RAM) WriteDouble(addr uint64, v uint64) {
	r.WriteWord(addr, uint32(v))
	r.WriteWord(addr+4, uint32(v>>32))
}

// LoadBytes copies src into the RAM at addr, used by the ELF loader. It
// does not update the key array: a fresh load is neither an access nor
// a guest-visible modify.
func (r *RAM) LoadBytes(addr uint64, src []byte) {
	off := addr - r.base
	copy(r.mem[off:], src)
}

// ReadBytes copies len(dst) bytes starting at addr into dst, marking the
// access bit for each page touched. Used directly by the bus for
// arbitrary-length transfers that don't fit the fixed-width accessors.
func (r *RAM) ReadBytes(addr uint64, dst []byte) {
	off := addr - r.base
	copy(dst, r.mem[off:off+uint64(len(dst))])
	for p := off >> pageShift; p <= (off+uint64(len(dst))-1)>>pageShift; p++ {
		r.key[p] |= KeyAccess
	}
}

// WriteBytes copies src into RAM starting at addr, marking the modify
// bit for each page touched.
func (r *RAM) WriteBytes(addr uint64, src []byte) {
	off := addr - r.base
	copy(r.mem[off:], src)
	for p := off >> pageShift; p <= (off+uint64(len(src))-1)>>pageShift; p++ {
		r.key[p] |= KeyModify
	}
}

// Key returns the access/modify key byte for the page containing addr.
func (r *RAM) Key(addr uint64) uint8 {
	off := addr - r.base
	return r.key[off>>pageShift]
}

// SetKey overwrites the key byte for the page containing addr.
func (r *RAM) SetKey(addr uint64, key uint8) {
	off := addr - r.base
	r.key[off>>pageShift] = key
}
