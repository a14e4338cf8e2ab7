// Package clint implements the core-local interrupter: one shared
// mtime register, and a per-hart mtimecmp/msip pair. CLINT is the
// discrete-event variant scheduled on the shared delta queue; RealTime
// is the alternate implementation that arms host OS timers against the
// wall clock instead.
//
// RV32/RV64 VP CLINT.
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
package clint

import (
	"sync"
	"time"

	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/device"
	"github.com/rvvp/rvvp/internal/schedule"
)

// Register offsets relative to the CLINT's base.
const (
	OffMSIPBase      = 0x0000
	OffMTimeCmpBase  = 0x4000
	OffMTime         = 0xbff8
)

// defaultCyclesPerUS converts the simulation's cycle time base to the
// microsecond resolution FreeRTOS-class guests assume for mtime.
const defaultCyclesPerUS = 100

// CLINT is the discrete-event variant: mtime advances only when the
// simulation driver calls AdvanceCycles, and timer deadlines are serviced by
// the shared schedule.Queue rather than a background OS thread.
type CLINT struct {
	Queue *schedule.Queue

	mtime        uint64
	mtimecmp     []uint64
	msip         []uint32
	harts        []device.ClintTarget
	cyclesPerUS  uint64
	simulatedCyc uint64
}

// New returns a CLINT serving the given harts, one mtimecmp/msip slot
// per hart, scheduled on q.
func New(q *schedule.Queue, harts []device.ClintTarget, cyclesPerUS uint64) *CLINT {
	if cyclesPerUS == 0 {
		cyclesPerUS = defaultCyclesPerUS
	}
	return &CLINT{
		Queue:       q,
		mtimecmp:    make([]uint64, len(harts)),
		msip:        make([]uint32, len(harts)),
		harts:       harts,
		cyclesPerUS: cyclesPerUS,
	}
}

// AdvanceCycles moves the CLINT's notion of simulated time forward and
// refreshes mtime, then advances the shared schedule.Queue by the same
// number of cycles; callers (internal/sim) do not advance the queue
// themselves.
func (c *CLINT) AdvanceCycles(cycles int64) {
	c.simulatedCyc += uint64(cycles)
	c.updateAndGetMtime()
	c.Queue.Advance(cycles)
}

// updateAndGetMtime is update_and_get_mtime(): mtime never moves
// backward even if a hart's local quantum observes time out of order.
func (c *CLINT) updateAndGetMtime() uint64 {
	now := c.simulatedCyc / c.cyclesPerUS
	if now > c.mtime {
		c.mtime = now
	}
	return c.mtime
}

// MTime returns the current mtime value, refreshing it first (the
// "time"/"mtime" CSR read side effect).
func (c *CLINT) MTime() uint64 { return c.updateAndGetMtime() }

// WriteMTimeCmp implements the per-hart mtimecmp register write: rearm
// the deadline, or fire immediately when mtime has already passed it.
func (c *CLINT) WriteMTimeCmp(hart int, val uint64) {
	c.mtimecmp[hart] = val
	c.Queue.CancelEvent(c, hart)
	c.reschedule(hart)
}

func (c *CLINT) reschedule(hart int) {
	mtime := c.updateAndGetMtime()
	cmp := c.mtimecmp[hart]
	if cmp > 0 && mtime >= cmp {
		c.harts[hart].TriggerTimerInterrupt(true)
		return
	}
	c.harts[hart].TriggerTimerInterrupt(false)
	if cmp > 0 {
		deadlineCycles := int64((cmp - mtime) * c.cyclesPerUS)
		c.Queue.AddEvent(c, func(arg int) { c.reschedule(arg) }, deadlineCycles, hart)
	}
}

// WriteMSIP implements a write to msip[hart]: only bit 0 is meaningful.
func (c *CLINT) WriteMSIP(hart int, val uint32) {
	c.msip[hart] = val & 1
	c.harts[hart].TriggerSoftwareInterrupt(c.msip[hart] != 0)
}

// ReadMSIP returns the stored msip register for hart.
func (c *CLINT) ReadMSIP(hart int) uint32 { return c.msip[hart] }

// ReadMTimeCmp returns the stored mtimecmp register for hart.
func (c *CLINT) ReadMTimeCmp(hart int) uint64 { return c.mtimecmp[hart] }

// Transport implements bus.Target over the CLINT wire layout:
// msip[i] at 4*i, mtimecmp[i] at 0x4000+8*i, mtime at 0xbff8.
func (c *CLINT) Transport(cmd bus.Cmd, off uint64, buf []byte) error {
	switch {
	case off == OffMTime:
		return c.accessU64(cmd, buf, func() uint64 { return c.MTime() }, nil)
	case off >= OffMTimeCmpBase && off < OffMTimeCmpBase+8*uint64(len(c.mtimecmp)):
		hart := int((off - OffMTimeCmpBase) / 8)
		return c.accessU64(cmd, buf, func() uint64 { return c.ReadMTimeCmp(hart) },
			func(v uint64) { c.WriteMTimeCmp(hart, v) })
	case off >= OffMSIPBase && off < OffMSIPBase+4*uint64(len(c.msip)):
		hart := int((off - OffMSIPBase) / 4)
		return c.accessU32(cmd, buf, func() uint32 { return c.ReadMSIP(hart) },
			func(v uint32) { c.WriteMSIP(hart, v) })
	}
	return errAddress(off)
}

func (c *CLINT) accessU64(cmd bus.Cmd, buf []byte, read func() uint64, write func(uint64)) error {
	if !cmd.IsWrite() {
		putU64(buf, read())
		return nil
	}
	if write == nil {
		return errReadOnly()
	}
	write(getU64(buf))
	return nil
}

func (c *CLINT) accessU32(cmd bus.Cmd, buf []byte, read func() uint32, write func(uint32)) error {
	if !cmd.IsWrite() {
		putU32(buf, read())
		return nil
	}
	write(getU32(buf))
	return nil
}

func putU64(buf []byte, v uint64) {
	for i := 0; i < len(buf) && i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getU64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < len(buf) && i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

func putU32(buf []byte, v uint32) {
	for i := 0; i < len(buf) && i < 4; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getU32(buf []byte) uint32 {
	var v uint32
	for i := 0; i < len(buf) && i < 4; i++ {
		v |= uint32(buf[i]) << (8 * i)
	}
	return v
}

type addrError uint64

func (e addrError) Error() string { return "clint: unmapped register offset" }
func errAddress(off uint64) error { return addrError(off) }

type roError struct{}

func (roError) Error() string { return "clint: mtime is read-only" }
func errReadOnly() error      { return roError{} }

// RealTime is the alternate CLINT that services mtimecmp deadlines
// from a genuine OS timer goroutine instead of the discrete-event
// queue: used when the driver runs un-throttled against a wall-clock
// deadline (an interactive GDB session, or --tlm-global-quantum set
// very large).
type RealTime struct {
	mu       sync.Mutex
	start    time.Time
	mtime    uint64
	mtimecmp []uint64
	msip     []uint32
	harts    []device.ClintTarget
	timers   []*time.Timer
}

// NewRealTime returns a RealTime CLINT whose mtime tracks the host wall
// clock in microseconds from construction.
func NewRealTime(harts []device.ClintTarget) *RealTime {
	return &RealTime{
		start:    time.Now(),
		mtimecmp: make([]uint64, len(harts)),
		msip:     make([]uint32, len(harts)),
		harts:    harts,
		timers:   make([]*time.Timer, len(harts)),
	}
}

// MTime returns elapsed wall-clock microseconds since construction.
func (c *RealTime) MTime() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtimeLocked()
}

func (c *RealTime) mtimeLocked() uint64 {
	now := uint64(time.Since(c.start).Microseconds())
	if now > c.mtime {
		c.mtime = now
	}
	return c.mtime
}

// WriteMTimeCmp arms (or disarms, for val==0) a host OS timer that
// fires the hart's timer interrupt at the wall-clock deadline.
func (c *RealTime) WriteMTimeCmp(hart int, val uint64) {
	c.mu.Lock()
	c.mtimecmp[hart] = val
	if t := c.timers[hart]; t != nil {
		t.Stop()
	}
	mtime := c.mtimeLocked()
	if val == 0 {
		c.harts[hart].TriggerTimerInterrupt(false)
		c.mu.Unlock()
		return
	}
	if mtime >= val {
		c.harts[hart].TriggerTimerInterrupt(true)
		c.mu.Unlock()
		return
	}
	c.harts[hart].TriggerTimerInterrupt(false)
	delay := time.Duration(val-mtime) * time.Microsecond
	c.timers[hart] = time.AfterFunc(delay, func() { c.harts[hart].TriggerTimerInterrupt(true) })
	c.mu.Unlock()
}

// WriteMSIP raises or clears the software interrupt for hart.
func (c *RealTime) WriteMSIP(hart int, val uint32) {
	c.mu.Lock()
	c.msip[hart] = val & 1
	c.mu.Unlock()
	c.harts[hart].TriggerSoftwareInterrupt(val&1 != 0)
}
