// Package plic implements the platform-level interrupt controller:
// per-source enable/priority/pending state and the per-hart
// threshold/claim/complete protocol that aggregates external interrupt
// sources into a single external IRQ line per hart.
//
// RV32/RV64 VP PLIC (FE310-style memory map).
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
package plic

import (
	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/device"
)

// FE310-style register windows, offsets relative to the PLIC's base.
const (
	OffPriorityBase  = 0x000000
	OffEnableBase    = 0x002000
	enableStride     = 0x80
	OffThresholdBase = 0x200000
	OffClaimBase     = 0x200004
	hartStride       = 0x1000
)

// PLIC aggregates up to numSources external interrupt sources into one
// line per hart.
type PLIC struct {
	numSources int
	harts      []device.ExternalInterruptTarget

	priority []uint32 // index 0 unused; sources are 1-based
	enable   [][]uint32
	pending  []bool
	claimed  []bool

	threshold []uint32
}

// New returns a PLIC with numSources interrupt sources (1-based) wired
// to notify harts.
func New(numSources int, harts []device.ExternalInterruptTarget) *PLIC {
	p := &PLIC{
		numSources: numSources,
		harts:      harts,
		priority:   make([]uint32, numSources+1),
		pending:    make([]bool, numSources+1),
		claimed:    make([]bool, numSources+1),
		threshold:  make([]uint32, len(harts)),
	}
	p.enable = make([][]uint32, len(harts))
	words := (numSources + 32) / 32
	for h := range p.enable {
		p.enable[h] = make([]uint32, words)
	}
	return p
}

// GatewayTriggerInterrupt marks src pending and re-evaluates every
// hart's external IRQ line.
func (p *PLIC) GatewayTriggerInterrupt(src uint32) {
	if int(src) < 1 || int(src) > p.numSources {
		return
	}
	p.pending[src] = true
	p.updateAll()
}

func (p *PLIC) sourceEnabled(hart int, src int) bool {
	return p.enable[hart][src/32]&(1<<uint(src%32)) != 0
}

func (p *PLIC) updateAll() {
	for h := range p.harts {
		p.update(h)
	}
}

func (p *PLIC) update(hart int) {
	asserted := false
	for src := 1; src <= p.numSources; src++ {
		if p.pending[src] && !p.claimed[src] && p.sourceEnabled(hart, src) && p.priority[src] > p.threshold[hart] {
			asserted = true
			break
		}
	}
	if asserted {
		p.harts[hart].TriggerExternalInterrupt()
	} else {
		p.harts[hart].ClearExternalInterrupt()
	}
}

// Claim returns the highest-priority pending-and-enabled source for
// hart, marking it claimed (removed from the pending set the hart sees)
// until Complete is called, per the RISC-V claim/complete protocol.
func (p *PLIC) Claim(hart int) uint32 {
	best := uint32(0)
	bestPri := uint32(0)
	for src := 1; src <= p.numSources; src++ {
		if p.pending[src] && !p.claimed[src] && p.sourceEnabled(hart, src) && p.priority[src] > bestPri {
			best = uint32(src)
			bestPri = p.priority[src]
		}
	}
	if best != 0 {
		p.claimed[best] = true
		p.pending[best] = false
		p.update(hart)
	}
	return best
}

// Complete re-enables src for future claims, called when the guest
// writes the claimed id back to the complete register.
func (p *PLIC) Complete(hart int, src uint32) {
	if int(src) >= 1 && int(src) <= p.numSources {
		p.claimed[src] = false
		p.update(hart)
	}
}

// Transport implements bus.Target over the FE310-style register layout.
func (p *PLIC) Transport(cmd bus.Cmd, off uint64, buf []byte) error {
	switch {
	case off < OffEnableBase:
		src := off / 4
		return p.access32(cmd, buf, func() uint32 {
			if int(src) <= p.numSources {
				return p.priority[src]
			}
			return 0
		}, func(v uint32) {
			if int(src) >= 1 && int(src) <= p.numSources {
				p.priority[src] = v
				p.updateAll()
			}
		})
	case off >= OffEnableBase && off < OffThresholdBase:
		rel := off - OffEnableBase
		hart := int(rel / enableStride)
		word := int((rel % enableStride) / 4)
		return p.access32(cmd, buf, func() uint32 {
			if hart < len(p.enable) && word < len(p.enable[hart]) {
				return p.enable[hart][word]
			}
			return 0
		}, func(v uint32) {
			if hart < len(p.enable) && word < len(p.enable[hart]) {
				p.enable[hart][word] = v
				p.update(hart)
			}
		})
	case off >= OffThresholdBase:
		rel := off - OffThresholdBase
		hart := int(rel / hartStride)
		reg := rel % hartStride
		if reg == 0 {
			return p.access32(cmd, buf, func() uint32 {
				if hart < len(p.threshold) {
					return p.threshold[hart]
				}
				return 0
			}, func(v uint32) {
				if hart < len(p.threshold) {
					p.threshold[hart] = v
					p.update(hart)
				}
			})
		}
		if reg == (OffClaimBase - OffThresholdBase) {
			return p.access32(cmd, buf, func() uint32 { return p.Claim(hart) },
				func(v uint32) { p.Complete(hart, v) })
		}
	}
	return errUnmapped{}
}

func (p *PLIC) access32(cmd bus.Cmd, buf []byte, read func() uint32, write func(uint32)) error {
	if !cmd.IsWrite() {
		v := read()
		for i := 0; i < len(buf) && i < 4; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		return nil
	}
	var v uint32
	for i := 0; i < len(buf) && i < 4; i++ {
		v |= uint32(buf[i]) << (8 * i)
	}
	write(v)
	return nil
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "plic: unmapped register offset" }
