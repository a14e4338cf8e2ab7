// Package uart is a SiFive/FE310-style memory-mapped UART, fitted to
// the single-threaded cooperative scheduler the rest of this simulator
// uses: Transport drains/fills the FIFOs synchronously, and an
// external front end (the console reader, or a telnet peer) calls Push
// to deliver received bytes and drains transmitted bytes via Out.
//
// RV32/RV64 VP UART device.
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
package uart

import (
	"sync"

	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/device"
)

// Register offsets, the FE310 UART layout.
const (
	RegTxData = 0x0
	RegRxData = 0x4
	RegTxCtrl = 0x8
	RegRxCtrl = 0xc
	RegIE     = 0x10
	RegIP     = 0x14
	RegDiv    = 0x18
)

// Status bits for txdata/rxdata/ip, matching UART_TXWM/UART_RXWM/UART_FULL.
const (
	bitTXWM uint32 = 1 << 0
	bitRXWM uint32 = 1 << 1
	bitFULL uint32 = 1 << 31
)

const fifoDepth = 8

// UART is one FE310-style serial port. Push is expected to be called
// from a console front end's own goroutine (e.g. telnet) concurrently
// with Transport from the simulator's hart goroutine, so state is
// guarded by mu rather than assuming the single-goroutine cooperative
// model the rest of the bus enjoys.
type UART struct {
	IRQSource uint32
	Gateway   device.InterruptGateway

	// Out receives every byte the guest transmits, in order. A nil Out
	// silently discards output, matching a UART with nothing attached.
	Out func(b byte)

	mu sync.Mutex

	txFifo []byte
	rxFifo []byte

	txctrl, rxctrl uint32
	ie             uint32
	div            uint32
}

// New returns a UART that raises irqSource on the given PLIC gateway.
func New(irqSource uint32, gw device.InterruptGateway) *UART {
	return &UART{IRQSource: irqSource, Gateway: gw}
}

// Push delivers one received byte to the guest's rx FIFO. It drops
// the byte if the FIFO is already full.
func (u *UART) Push(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.rxFifo) >= fifoDepth {
		return
	}
	u.rxFifo = append(u.rxFifo, b)
	u.maybeInterrupt()
}

func txCtrlCount(reg uint32) uint32 { return reg >> 16 }

// Transport implements bus.Target over the seven 32-bit registers.
func (u *UART) Transport(cmd bus.Cmd, off uint64, buf []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch off {
	case RegTxData:
		return u.access(cmd, buf, u.readTxData, u.writeTxData)
	case RegRxData:
		return u.access(cmd, buf, u.readRxData, nil)
	case RegTxCtrl:
		return u.access(cmd, buf, func() uint32 { return u.txctrl }, func(v uint32) { u.txctrl = v })
	case RegRxCtrl:
		return u.access(cmd, buf, func() uint32 { return u.rxctrl }, func(v uint32) { u.rxctrl = v })
	case RegIE:
		return u.access(cmd, buf, func() uint32 { return u.ie }, func(v uint32) { u.ie = v; u.maybeInterrupt() })
	case RegIP:
		return u.access(cmd, buf, u.readIP, nil)
	case RegDiv:
		return u.access(cmd, buf, func() uint32 { return u.div }, func(v uint32) { u.div = v })
	}
	return errUnmapped{}
}

func (u *UART) readTxData() uint32 {
	if len(u.txFifo) >= fifoDepth {
		return bitFULL
	}
	return 0
}

func (u *UART) writeTxData(v uint32) {
	if len(u.txFifo) >= fifoDepth {
		return // FIFO full: write ignored
	}
	b := byte(v)
	u.txFifo = append(u.txFifo, b)
	// Single-threaded model: drain synchronously instead of waiting for
	// a transmit thread to wake up.
	u.txFifo = u.txFifo[1:]
	if u.Out != nil {
		u.Out(b)
	}
	u.maybeInterrupt()
}

func (u *UART) readRxData() uint32 {
	if len(u.rxFifo) == 0 {
		return 1 << 31
	}
	b := u.rxFifo[0]
	u.rxFifo = u.rxFifo[1:]
	return uint32(b)
}

func (u *UART) readIP() uint32 {
	var ip uint32
	if uint32(len(u.txFifo)) < txCtrlCount(u.txctrl) {
		ip |= bitTXWM
	}
	if uint32(len(u.rxFifo)) > txCtrlCount(u.rxctrl) {
		ip |= bitRXWM
	}
	return ip
}

func (u *UART) maybeInterrupt() {
	if u.Gateway == nil {
		return
	}
	trigger := false
	if u.ie&bitTXWM != 0 && uint32(len(u.txFifo)) < txCtrlCount(u.txctrl) {
		trigger = true
	}
	if u.ie&bitRXWM != 0 && uint32(len(u.rxFifo)) > txCtrlCount(u.rxctrl) {
		trigger = true
	}
	if trigger {
		u.Gateway.GatewayTriggerInterrupt(u.IRQSource)
	}
}

func (u *UART) access(cmd bus.Cmd, buf []byte, read func() uint32, write func(uint32)) error {
	if cmd == bus.CmdRead || cmd == bus.CmdReadDbg {
		v := read()
		for i := 0; i < len(buf) && i < 4; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		return nil
	}
	if write == nil {
		return nil // read-only register written: silently ignored, like rxdata
	}
	var v uint32
	for i := 0; i < len(buf) && i < 4; i++ {
		v |= uint32(buf[i]) << (8 * i)
	}
	write(v)
	return nil
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "uart: unmapped register offset" }
