package sim

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/clint"
	"github.com/rvvp/rvvp/internal/device"
	"github.com/rvvp/rvvp/internal/isa"
	"github.com/rvvp/rvvp/internal/iss"
	"github.com/rvvp/rvvp/internal/memory"
	"github.com/rvvp/rvvp/internal/schedule"
)

func loadWord(ram *memory.RAM, addr uint64, w uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	ram.LoadBytes(addr, buf[:])
}

func encodeIType(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func newTestSim(t *testing.T) (*Simulation, *iss.Hart) {
	t.Helper()
	ram := memory.NewRAM(0, 64*1024)
	b := &bus.Bus{}
	b.Map(0, ram.Size()-1, "ram", bus.RAMTarget{RAM: ram})

	h := iss.New(0, 64, b, nil, func() uint64 { return 0 }, func() uint64 { return 0 }, func() uint64 { return 0 })
	h.Quantum.Budget = 1000

	// A long run of addi x1, x1, 1, so the hart never halts on its own.
	for i := uint64(0); i < 64; i += 4 {
		loadWord(ram, i, encodeIType(isa.OpImm, isa.F3ADDSUB, 1, 1, 1))
	}

	q := &schedule.Queue{}
	cl := clint.New(q, []device.ClintTarget{h}, 100)
	s := New([]*iss.Hart{h}, q, cl)
	return s, h
}

func TestStartStepsRunnableHartUntilStopped(t *testing.T) {
	s, h := newTestSim(t)
	go s.Start()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if got := h.Reg.Read(1); got == 0 {
		t.Fatalf("x1 = %d, want > 0 after running", got)
	}
	if h.MInstret == 0 {
		t.Fatalf("minstret should have advanced")
	}
}

func TestControlHaltStopsHartWithoutTerminatingSim(t *testing.T) {
	s, h := newTestSim(t)
	go s.Start()
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	s.Control() <- ControlMsg{Cmd: CmdHalt, HartID: 0, Done: done}
	<-done

	time.Sleep(5 * time.Millisecond)
	if h.Status != iss.HitBreakpoint {
		t.Fatalf("status = %v, want HitBreakpoint after halt", h.Status)
	}
	stalled := h.Reg.Read(1)
	time.Sleep(5 * time.Millisecond)
	if got := h.Reg.Read(1); got != stalled {
		t.Fatalf("x1 advanced from %d to %d after halt", stalled, got)
	}

	resumed := make(chan struct{})
	s.Control() <- ControlMsg{Cmd: CmdResume, HartID: 0, Done: resumed}
	<-resumed
	time.Sleep(5 * time.Millisecond)
	s.Stop()

	if got := h.Reg.Read(1); got <= stalled {
		t.Fatalf("x1 = %d, want progress after resume (was %d)", got, stalled)
	}
}

type exitSyscall struct{}

func (exitSyscall) ECall(h *iss.Hart) { h.Status = iss.Terminated }

// Stepping into an intercepted exit syscall must leave the hart
// Terminated, not re-park it as HitBreakpoint, so a debugger sees the
// program end rather than another breakpoint stop.
func TestControlStepIntoExitSyscallStaysTerminated(t *testing.T) {
	ram := memory.NewRAM(0, 4096)
	b := &bus.Bus{}
	b.Map(0, ram.Size()-1, "ram", bus.RAMTarget{RAM: ram})

	h := iss.New(0, 64, b, nil, func() uint64 { return 0 }, func() uint64 { return 0 }, func() uint64 { return 0 })
	h.Quantum.Budget = 1000
	h.Syscall = exitSyscall{}
	h.InterceptSyscalls = true
	loadWord(ram, 0, 0x00000073) // ecall

	q := &schedule.Queue{}
	cl := clint.New(q, []device.ClintTarget{h}, 100)
	s := New([]*iss.Hart{h}, q, cl)

	halted := make(chan struct{})
	s.Control() <- ControlMsg{Cmd: CmdHalt, HartID: 0, Done: halted}
	go s.Start()
	<-halted

	stepped := make(chan struct{})
	s.Control() <- ControlMsg{Cmd: CmdStep, HartID: 0, Done: stepped}
	<-stepped

	if h.Status != iss.Terminated {
		t.Fatalf("status = %v, want Terminated after stepping into the exit syscall", h.Status)
	}
	s.Stop()
}

func TestControlStepAdvancesExactlyOneInstruction(t *testing.T) {
	s, h := newTestSim(t)
	halted := make(chan struct{})
	s.Control() <- ControlMsg{Cmd: CmdHalt, HartID: 0, Done: halted}
	go s.Start()
	<-halted

	before := h.Reg.Read(1)
	stepped := make(chan struct{})
	s.Control() <- ControlMsg{Cmd: CmdStep, HartID: 0, Done: stepped}
	<-stepped

	if got := h.Reg.Read(1); got != before+1 {
		t.Fatalf("x1 = %d, want %d after single step", got, before+1)
	}
	if h.Status != iss.HitBreakpoint {
		t.Fatalf("status = %v, want HitBreakpoint after step (parked again)", h.Status)
	}
	s.Stop()
}
