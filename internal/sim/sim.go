// Package sim is the cooperative scheduler driver: it owns the harts,
// the CLINT, and the schedule.Queue they share, and runs them on
// a single goroutine. Whoever can run advances; when every hart is
// blocked, time jumps to the next pending event. A GDB stub
// (internal/gdbstub) drives the control channel.
//
// RV32/RV64 VP simulation driver.
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
package sim

import (
	"sync"
	"time"

	"github.com/rvvp/rvvp/internal/clint"
	"github.com/rvvp/rvvp/internal/iss"
	"github.com/rvvp/rvvp/internal/schedule"
	"github.com/rvvp/rvvp/util/debug"
)

// traceMask is the single mask/level pair --trace-mode's always-on
// instruction trace uses; every call site gates on mask&level rather
// than a bare bool.
const traceMask = 1

// Command is a control-channel request from the GDB stub (or any other
// front end) to the simulation driver.
type Command int

const (
	CmdHalt Command = iota
	CmdResume
	CmdStep
)

// ControlMsg is one request on the Simulation's control channel. Done, if
// non-nil, is closed once the command has been applied, letting a
// synchronous caller (the GDB stub's dispatcher) wait for effect.
type ControlMsg struct {
	Cmd    Command
	HartID int
	Done   chan struct{}
}

// Simulation owns every hart plus the shared CLINT and event queue and
// drives them from Start until Stop.
type Simulation struct {
	Harts []*iss.Hart
	CLINT *clint.CLINT
	Queue *schedule.Queue

	// TraceMode, when set, logs every retired instruction's PC to the
	// debug trace sink (--trace-mode).
	TraceMode bool

	done    chan struct{}
	control chan ControlMsg
	wg      sync.WaitGroup
}

// New returns a Simulation ready to run harts, scheduled against q and
// timed by cl.
func New(harts []*iss.Hart, q *schedule.Queue, cl *clint.CLINT) *Simulation {
	return &Simulation{
		Harts:   harts,
		CLINT:   cl,
		Queue:   q,
		done:    make(chan struct{}),
		control: make(chan ControlMsg, 8),
	}
}

// Control returns the channel used to halt/resume/step individual harts,
// normally driven by internal/gdbstub.
func (s *Simulation) Control() chan<- ControlMsg { return s.control }

// Start runs the cooperative loop until Stop is called. It blocks, so
// callers normally invoke it in its own goroutine.
func (s *Simulation) Start() {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		// Apply a queued control request before stepping, so a halt sent
		// ahead of Start parks its hart before that hart retires anything.
		select {
		case <-s.done:
			return
		case msg := <-s.control:
			s.apply(msg)
			continue
		default:
		}

		busy := s.stepHarts()
		if !busy && s.Queue.Pending() {
			s.CLINT.AdvanceCycles(s.Queue.NextDelta())
			busy = true
		}

		if busy {
			continue
		}

		// Nothing runnable and no pending event: every hart is either
		// Terminated or parked under debugger control. Block on the
		// control channel instead of busy-spinning; a debugger-attached
		// hart can sit idle indefinitely between GDB commands.
		select {
		case <-s.done:
			return
		case msg := <-s.control:
			s.apply(msg)
		}
	}
}

// Stop signals Start to return and waits up to one second for it to
// finish.
func (s *Simulation) Stop() {
	close(s.done)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

// stepHarts advances every Runnable, non-Waiting, non-breakpointed hart
// by exactly one instruction and reports whether any hart made progress.
// A hart whose quantum has elapsed feeds its elapsed cycles to the CLINT
// so mtime/mtimecmp observe the same notion of time ISS instruction
// retirement does.
func (s *Simulation) stepHarts() bool {
	any := false
	for _, h := range s.Harts {
		if h.Status != iss.Runnable || h.Waiting {
			continue
		}
		if h.Breakpoints[h.PC] {
			h.Status = iss.HitBreakpoint
			continue
		}
		pc := h.PC
		h.Step()
		any = true
		if s.TraceMode {
			debug.DebugHartf(h.ID, traceMask, traceMask, "pc=%#x instret=%d", pc, h.MInstret)
		}
		if h.Quantum.NeedSync() {
			s.CLINT.AdvanceCycles(h.Quantum.Local)
			h.Quantum.Sync()
		}
	}
	return any
}

// apply executes one control-channel command against the named hart.
func (s *Simulation) apply(msg ControlMsg) {
	defer func() {
		if msg.Done != nil {
			close(msg.Done)
		}
	}()
	if msg.HartID < 0 || msg.HartID >= len(s.Harts) {
		return
	}
	h := s.Harts[msg.HartID]
	switch msg.Cmd {
	case CmdHalt:
		h.Status = iss.HitBreakpoint
	case CmdResume:
		h.Status = iss.Runnable
		h.NotifyResume()
	case CmdStep:
		if h.Status == iss.Terminated {
			return
		}
		h.Status = iss.Runnable
		h.NotifyResume()
		h.Step()
		// Step can terminate the hart (an intercepted exit syscall);
		// only re-park it when it is still runnable.
		if h.Status == iss.Runnable {
			h.Status = iss.HitBreakpoint
		}
	}
}
