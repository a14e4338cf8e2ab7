// Package elf is the minimal ELF32/ELF64 loader the platform driver
// uses to get a guest image into memory: PT_LOAD segments and the two
// `begin_signature`/`end_signature` symbols the RISC-V compliance
// harness convention relies on. It is built directly on Go's debug/elf
// rather than hand-rolled parsing; it is not a general-purpose ELF
// toolchain.
//
// RV32/RV64 VP ELF image loader.
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
package elf

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/rvvp/rvvp/internal/memory"
)

// Segment is one loadable program segment, already read into memory.
type Segment struct {
	PhysAddr uint64
	Data     []byte
	MemSize  uint64
}

// Image is the result of loading a guest ELF file: where execution
// starts, where each PT_LOAD segment goes, and (when present) the
// begin/end_signature symbol pair the compliance-signature dump needs.
type Image struct {
	XLEN     int // 32 or 64, from the ELF class
	Entry    uint64
	Segments []Segment

	HasSignature bool
	BeginSig     uint64
	EndSig       uint64
}

// Load parses r as an ELF RISC-V executable and returns its loadable
// segments and entry point. It does not touch guest memory itself; call
// WriteInto to do that once the target RAM region exists.
func Load(r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elf: open: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elf: unsupported machine %v (want EM_RISCV)", f.Machine)
	}

	xlen := 32
	if f.Class == elf.ELFCLASS64 {
		xlen = 64
	}

	img := &Image{XLEN: xlen, Entry: f.Entry}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("elf: read segment @%#x: %w", prog.Paddr, err)
			}
		}
		img.Segments = append(img.Segments, Segment{
			PhysAddr: prog.Paddr,
			Data:     data,
			MemSize:  prog.Memsz,
		})
	}

	if syms, err := f.Symbols(); err == nil {
		var begin, end uint64
		var haveBegin, haveEnd bool
		for _, s := range syms {
			switch s.Name {
			case "begin_signature":
				begin, haveBegin = s.Value, true
			case "end_signature":
				end, haveEnd = s.Value, true
			}
		}
		if haveBegin && haveEnd {
			img.HasSignature = true
			img.BeginSig = begin
			img.EndSig = end
		}
	}

	return img, nil
}

// WriteInto copies every PT_LOAD segment into ram. Bytes beyond Filesz up
// to MemSize (the guest's .bss) are left as RAM's zero-initialized
// default; LoadBytes does not mark the access/modify key, matching a
// power-on image load rather than guest-visible writes.
func (img *Image) WriteInto(ram *memory.RAM) error {
	for _, seg := range img.Segments {
		if !ram.Contains(seg.PhysAddr, seg.MemSize) {
			return fmt.Errorf("elf: segment [%#x,%#x) does not fit target RAM", seg.PhysAddr, seg.PhysAddr+seg.MemSize)
		}
		ram.LoadBytes(seg.PhysAddr, seg.Data)
	}
	return nil
}
