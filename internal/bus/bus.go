// Package bus routes physical accesses to the memory region or device
// that owns the target address, and arbitrates the single global LR/SC
// reservation lock shared by every hart.
//
// RV32/RV64 VP system bus.
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
package bus

import (
	"fmt"
	"sync"
)

// Cmd selects the direction and debug-ness of a Transport call. The
// Dbg variants are used by the GDB stub's memory read/write: they must
// neither fire interrupts nor advance simulated time.
type Cmd int

const (
	CmdRead Cmd = iota
	CmdWrite
	CmdReadDbg
	CmdWriteDbg
)

// IsDebug reports whether cmd is one of the silent debug variants.
func (c Cmd) IsDebug() bool { return c == CmdReadDbg || c == CmdWriteDbg }

// IsWrite reports whether cmd is a write (debug or not).
func (c Cmd) IsWrite() bool { return c == CmdWrite || c == CmdWriteDbg }

// Target is anything the bus can route an access to: RAM, a device's
// MMIO window, or the CLINT/PLIC register windows.
type Target interface {
	// Transport reads (cmd == CmdRead) or writes (cmd == CmdWrite) len(buf)
	// bytes at the target-local offset off, little-endian. An error return
	// becomes an access fault at the ISS.
	Transport(cmd Cmd, off uint64, buf []byte) error
}

// port is one entry in the address range table, which is kept in
// registration order and searched linearly.
type port struct {
	start, end uint64 // inclusive
	target     Target
	name       string
}

func (p port) contains(addr uint64) bool { return addr >= p.start && addr <= p.end }

// Bus is the address-range routing table plus the LR/SC lock. The zero
// value is ready to use.
type Bus struct {
	ports []port
	lock  Lock

	reservations map[int]reservation
}

// reservation records a single hart's outstanding LR reservation. Any
// successful write to the reserved word by another bus master
// invalidates it.
type reservation struct {
	addr  uint64
	size  int
	valid bool
}

// Reserve records a load-reserved at addr for hartID, matching LR.W/D.
func (b *Bus) Reserve(hartID int, addr uint64, size int) {
	if b.reservations == nil {
		b.reservations = make(map[int]reservation)
	}
	b.reservations[hartID] = reservation{addr: addr, size: size, valid: true}
}

// CheckAndClearReservation implements SC.W/D: it succeeds (returns true)
// iff hartID holds a still-valid reservation on exactly addr/size, and
// always clears that hart's reservation afterward.
func (b *Bus) CheckAndClearReservation(hartID int, addr uint64, size int) bool {
	r, ok := b.reservations[hartID]
	delete(b.reservations, hartID)
	return ok && r.valid && r.addr == addr && r.size == size
}

// invalidateOverlapping clears any hart's reservation whose word
// overlaps [addr, addr+n), called on every bus write regardless of
// which hart or peripheral issued it.
func (b *Bus) invalidateOverlapping(addr uint64, n uint64) {
	for id, r := range b.reservations {
		if !r.valid {
			continue
		}
		if addr < r.addr+uint64(r.size) && addr+n > r.addr {
			r.valid = false
			b.reservations[id] = r
		}
	}
}

// Map registers target to answer for [start, end] (inclusive).
// Overlapping ranges are a configuration bug and panic at registration
// time rather than misrouting silently at run time.
func (b *Bus) Map(start, end uint64, name string, target Target) {
	for _, p := range b.ports {
		if start <= p.end && end >= p.start {
			panic(fmt.Sprintf("bus: %s [%#x,%#x] overlaps existing mapping %s [%#x,%#x]",
				name, start, end, p.name, p.start, p.end))
		}
	}
	b.ports = append(b.ports, port{start: start, end: end, target: target, name: name})
}

// decode finds the port owning addr, or nil if no mapping covers it.
func (b *Bus) decode(addr uint64) *port {
	for i := range b.ports {
		if b.ports[i].contains(addr) {
			return &b.ports[i]
		}
	}
	return nil
}

// Transport routes a read or write of len(buf) bytes at physical address
// addr to whichever target owns that range.
func (b *Bus) Transport(cmd Cmd, addr uint64, buf []byte) error {
	p := b.decode(addr)
	if p == nil {
		return fmt.Errorf("bus: no mapping for address %#x", addr)
	}
	if cmd.IsWrite() {
		b.invalidateOverlapping(addr, uint64(len(buf)))
	}
	return p.target.Transport(cmd, addr-p.start, buf)
}

// Lock is the global bus lock peripherals that write RAM must respect:
// one hart can hold it at a time, spanning an atomic instruction, and
// DMA-class masters wait for it before issuing their own transactions.
type Lock struct {
	once    sync.Once
	mu      sync.Mutex
	cond    *sync.Cond
	locked  bool
	ownerID int
}

func (l *Lock) init() {
	l.once.Do(func() { l.cond = sync.NewCond(&l.mu) })
}

// L returns the bus's lock.
func (b *Bus) L() *Lock {
	b.lock.init()
	return &b.lock
}

// Lock acquires the reservation for hartID, blocking if another hart
// currently holds it.
func (l *Lock) Lock(hartID int) {
	l.init()
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.locked && l.ownerID != hartID {
		l.cond.Wait()
	}
	l.locked = true
	l.ownerID = hartID
}

// Unlock releases the reservation if hartID currently holds it.
func (l *Lock) Unlock(hartID int) {
	l.init()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked && l.ownerID == hartID {
		l.locked = false
		l.cond.Broadcast()
	}
}

// IsLocked reports whether any hart holds the reservation.
func (l *Lock) IsLocked() bool {
	l.init()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// IsLockedBy reports whether hartID specifically holds the reservation.
func (l *Lock) IsLockedBy(hartID int) bool {
	l.init()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && l.ownerID == hartID
}

// WaitUntilUnlocked blocks until no hart holds the reservation.
func (l *Lock) WaitUntilUnlocked() {
	l.init()
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.locked {
		l.cond.Wait()
	}
}
