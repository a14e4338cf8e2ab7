// Package syscallproxy implements the newlib-style ECALL syscall
// proxy: when a hart is run with --intercept-syscalls, an ECALL is not
// delivered as a trap but handled directly by forwarding a small set
// of syscalls to the host. a7 carries the syscall number and a0..a3
// the arguments, per the riscv-pk/newlib ABI; the return value goes
// back in a0.
//
// RV32/RV64 VP syscall proxy.
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
package syscallproxy

import (
	"fmt"
	"io"
	"os"

	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/iss"
)

// Syscall numbers from the riscv newlib libgloss table.
const (
	SysClose          = 57
	SysLseek          = 62
	SysRead           = 63
	SysWrite          = 64
	SysFstat          = 80
	SysExit           = 93
	SysBrk            = 214
	SysGettimeofday   = 169
	SysTime           = 1062
	SysHostError      = 0xdead
	SysHostTestPass   = 0x3000
	SysHostTestFail   = 0x3001
)

// register indices for the a0..a7 argument/number ABI slots.
const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA7 = 17
)

// Proxy implements iss.Syscall, forwarding guest ECALLs to the host
// process. Stdout/Stderr default to the process's own streams.
type Proxy struct {
	Stdout io.Writer
	Stderr io.Writer

	// Exited reports whether a SYS_exit (or a host test terminator) has
	// been observed, along with the guest-supplied exit code. The main
	// loop polls this to decide when the run is over.
	Exited   bool
	ExitCode int64

	hp      uint64 // current brk/heap pointer, per sys_brk
	maxHeap uint64
}

// New returns a proxy writing guest stdout/stderr to the host's own.
func New() *Proxy {
	return &Proxy{Stdout: os.Stdout, Stderr: os.Stderr}
}

// ECall implements iss.Syscall.
func (p *Proxy) ECall(h *iss.Hart) {
	n := h.Reg.Read(regA7)
	a0 := h.Reg.Read(regA0)
	a1 := h.Reg.Read(regA1)
	a2 := h.Reg.Read(regA2)

	var ret uint64
	switch n {
	case SysWrite:
		ret = p.sysWrite(h, a0, a1, a2)
	case SysRead:
		ret = p.sysRead(h, a0, a1, a2)
	case SysBrk:
		ret = p.sysBrk(a0)
	case SysClose:
		ret = p.sysClose(a0)
	case SysLseek:
		ret = uint64(^uint64(0)) // not backed by a real fd table: report failure
	case SysFstat:
		ret = uint64(^uint64(0))
	case SysGettimeofday, SysTime:
		ret = 0
	case SysExit:
		p.Exited = true
		p.ExitCode = int64(int32(a0))
		h.Status = iss.Terminated
		ret = 0
	case SysHostError:
		p.Exited = true
		p.ExitCode = 1
		h.Status = iss.Terminated
		ret = 0
	case SysHostTestPass:
		fmt.Fprintln(p.stdoutOrDiscard(), "TEST_PASS")
		p.Exited = true
		h.Status = iss.Terminated
		ret = 0
	case SysHostTestFail:
		fmt.Fprintf(p.stdoutOrDiscard(), "TEST_FAIL (testnum = %d)\n", a0)
		p.Exited = true
		h.Status = iss.Terminated
		ret = 0
	default:
		ret = uint64(^uint64(0))
	}
	h.Reg.Write(regA0, ret)
}

func (p *Proxy) stdoutOrDiscard() io.Writer {
	if p.Stdout != nil {
		return p.Stdout
	}
	return io.Discard
}

// sysWrite implements sys_write: fd 1/2 go to the proxy's Stdout/
// Stderr, anything else is reported unsupported rather than touching
// the host filesystem.
func (p *Proxy) sysWrite(h *iss.Hart, fd, buf, count uint64) uint64 {
	data := make([]byte, count)
	if err := h.Bus.Transport(bus.CmdReadDbg, buf, data); err != nil {
		return uint64(^uint64(0))
	}
	var w io.Writer
	switch fd {
	case 1:
		w = p.stdoutOrDiscard()
	case 2:
		if p.Stderr != nil {
			w = p.Stderr
		} else {
			w = io.Discard
		}
	default:
		return uint64(^uint64(0))
	}
	n, _ := w.Write(data)
	return uint64(n)
}

// sysRead implements sys_read; this proxy has no guest stdin wiring, so
// it reports EOF (0 bytes) for every fd.
func (p *Proxy) sysRead(h *iss.Hart, fd, buf, count uint64) uint64 {
	return 0
}

// sysBrk implements sys_brk: addr==0 reports the current break, any
// other value sets it (growing or shrinking).
func (p *Proxy) sysBrk(addr uint64) uint64 {
	if addr == 0 {
		return p.hp
	}
	p.hp = addr
	if p.hp > p.maxHeap {
		p.maxHeap = p.hp
	}
	return p.hp
}

func (p *Proxy) sysClose(fd uint64) uint64 {
	if fd == 0 || fd == 1 || fd == 2 {
		return 0
	}
	return uint64(^uint64(0))
}
