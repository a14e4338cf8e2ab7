package gdbstub

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/clint"
	"github.com/rvvp/rvvp/internal/device"
	"github.com/rvvp/rvvp/internal/iss"
	"github.com/rvvp/rvvp/internal/memory"
	"github.com/rvvp/rvvp/internal/schedule"
	"github.com/rvvp/rvvp/internal/sim"
)

func newTestConn(t *testing.T) (*connState, *iss.Hart, *bus.Bus) {
	t.Helper()
	ram := memory.NewRAM(0, 4096)
	b := &bus.Bus{}
	b.Map(0, ram.Size()-1, "ram", bus.RAMTarget{RAM: ram})

	h := iss.New(0, 64, b, nil, func() uint64 { return 0 }, func() uint64 { return 0 }, func() uint64 { return 0 })
	q := &schedule.Queue{}
	cl := clint.New(q, []device.ClintTarget{h}, 100)
	s := sim.New([]*iss.Hart{h}, q, cl)

	srv := &Server{sim: s, harts: []*iss.Hart{h}, bus: b}
	return &connState{server: srv, curHart: 0}, h, b
}

func TestReadWriteRegsRoundTrip(t *testing.T) {
	c, h, _ := newTestConn(t)
	h.Reg.Write(1, 0x1122334455667788)
	h.PC = 0xdeadbeef

	hex := c.readRegs()
	// 33 registers * 16 hex chars each (8 bytes) for XLEN=64.
	if len(hex) != 33*16 {
		t.Fatalf("readRegs length = %d, want %d", len(hex), 33*16)
	}

	c2, h2, _ := newTestConn(t)
	c2.writeRegs(hex)
	if got := h2.Reg.Read(1); got != 0x1122334455667788 {
		t.Fatalf("x1 after writeRegs = %#x, want 0x1122334455667788", got)
	}
	if h2.PC != 0xdeadbeef {
		t.Fatalf("pc after writeRegs = %#x, want 0xdeadbeef", h2.PC)
	}
}

func TestReadWriteOneReg(t *testing.T) {
	c, h, _ := newTestConn(t)
	h.Reg.Write(5, 0xabcd)

	got := c.readOneReg(parseCommand("p5"))
	if got != "cdab000000000000" {
		t.Fatalf("p5 = %q, want little-endian 0xabcd", got)
	}

	if reply := c.writeOneReg(parseCommand("P6=0102030405060708")); reply != "OK" {
		t.Fatalf("P6 reply = %q, want OK", reply)
	}
	if got := h.Reg.Read(6); got != 0x0807060504030201 {
		t.Fatalf("x6 = %#x after P6", got)
	}

	// index 32 is the pc
	if reply := c.writeOneReg(parseCommand("P20=0010000000000000")); reply != "OK" {
		t.Fatalf("P20 reply = %q, want OK", reply)
	}
	if h.PC != 0x1000 {
		t.Fatalf("pc = %#x after P20, want 0x1000", h.PC)
	}
}

func TestReadWriteMem(t *testing.T) {
	c, _, _ := newTestConn(t)

	wrote := c.writeMem(parseCommand("M100,4:deadbeef"))
	if wrote != "OK" {
		t.Fatalf("writeMem = %q, want OK", wrote)
	}

	got := c.readMem(parseCommand("m100,4"))
	if got != "deadbeef" {
		t.Fatalf("readMem = %q, want deadbeef (raw byte sequence, unchanged)", got)
	}
}

func TestSetBreakpointAliasesHardwareToSoftware(t *testing.T) {
	c, h, _ := newTestConn(t)

	if reply := c.setBreakpoint(parseCommand("Z0,1000,4"), true); reply != "OK" {
		t.Fatalf("Z0 reply = %q, want OK", reply)
	}
	if !h.Breakpoints[0x1000] {
		t.Fatalf("software breakpoint at 0x1000 not set")
	}
	c.setBreakpoint(parseCommand("z0,1000,4"), false)
	if h.Breakpoints[0x1000] {
		t.Fatalf("software breakpoint at 0x1000 not cleared")
	}

	// hardware breakpoint aliases to the same set
	c.setBreakpoint(parseCommand("Z1,2000,4"), true)
	if !h.Breakpoints[0x2000] {
		t.Fatalf("hardware breakpoint should alias to the software set")
	}

	// watchpoints are unsupported: empty reply, no set mutation
	if reply := c.setBreakpoint(parseCommand("Z2,3000,4"), true); reply != "" {
		t.Fatalf("watchpoint reply = %q, want empty", reply)
	}
	if h.Breakpoints[0x3000] {
		t.Fatalf("watchpoint kind must not touch the breakpoint set")
	}
}

func TestSetThreadSelectsHartAndContSet(t *testing.T) {
	c, _, _ := newTestConn(t)
	c.setThread(parseCommand("Hg1"))
	if c.curHart != 0 {
		t.Fatalf("curHart = %d, want 0 for thread 1", c.curHart)
	}
	c.setThread(parseCommand("Hc-1"))
	if !c.contAll {
		t.Fatalf("Hc-1 should widen continue to every hart")
	}
	c.setThread(parseCommand("Hcp1.1"))
	if c.contAll {
		t.Fatalf("Hcp1.1 should narrow continue to one hart")
	}
}

func TestStopReplyForms(t *testing.T) {
	c, h, _ := newTestConn(t)
	h.Status = iss.Terminated
	if got := c.stopReply(); got != "W00" {
		t.Fatalf("stopReply = %q, want W00 for a terminated hart", got)
	}
	h.Status = iss.HitBreakpoint
	if got := c.stopReply(); got != "T05thread:p1.01;" {
		t.Fatalf("stopReply = %q, want T05thread:p1.01;", got)
	}
}

func TestXferServesTargetXML(t *testing.T) {
	c, _, _ := newTestConn(t)
	got := c.xfer("features:read:target.xml:0,1000")
	if !strings.HasPrefix(got, "l") {
		t.Fatalf("full read should come back with the 'l' (last chunk) marker, got %q", got)
	}
	if !strings.Contains(got, "riscv:rv64") {
		t.Fatalf("target.xml should name riscv:rv64, got %q", got)
	}

	partial := c.xfer("features:read:target.xml:0,8")
	if !strings.HasPrefix(partial, "m") {
		t.Fatalf("partial read should come back with the 'm' (more) marker, got %q", partial)
	}
}

func TestParseCommandVariants(t *testing.T) {
	cmd := parseCommand("m1f,a")
	if cmd.Kind != ArgMemRegion || cmd.Addr != 0x1f || cmd.Length != 0xa {
		t.Fatalf("m1f,a parsed to %+v", cmd)
	}

	cmd = parseCommand("M80,2:abcd")
	if cmd.Kind != ArgMemWrite || cmd.Data != "abcd" {
		t.Fatalf("M80,2:abcd parsed to %+v", cmd)
	}

	cmd = parseCommand("vCont;c:p1.01;s")
	if cmd.Name != "vCont" || len(cmd.Actions) != 2 {
		t.Fatalf("vCont parsed to %+v", cmd)
	}
	if cmd.Actions[0].Op != 'c' || !cmd.Actions[0].HasTID || cmd.Actions[0].Thread.TID != 1 {
		t.Fatalf("vCont first action parsed to %+v", cmd.Actions[0])
	}

	cmd = parseCommand("Hgp1.02")
	if cmd.Kind != ArgHPacket || cmd.HOp != 'g' || cmd.Thread.PID != 1 || cmd.Thread.TID != 2 {
		t.Fatalf("Hgp1.02 parsed to %+v", cmd)
	}

	cmd = parseCommand("qXfer:features:read:target.xml:0,fff")
	if cmd.Name != "qXfer" || cmd.Data != "features:read:target.xml:0,fff" {
		t.Fatalf("qXfer parsed to %+v", cmd)
	}

	cmd = parseCommand("Z0,80000000,4")
	if cmd.Kind != ArgBreakpoint || cmd.Addr != 0x80000000 || cmd.BPKind != 4 {
		t.Fatalf("Z0 parsed to %+v", cmd)
	}
}

// A vCont naming a distinct action per thread must apply every action,
// not just the first: here both harts are stepped exactly once.
func TestVContStepsEachNamedHart(t *testing.T) {
	ram := memory.NewRAM(0, 4096)
	b := &bus.Bus{}
	b.Map(0, ram.Size()-1, "ram", bus.RAMTarget{RAM: ram})
	// addi x1, x1, 1 at pc 0, shared by both harts.
	ram.LoadBytes(0, []byte{0x93, 0x80, 0x10, 0x00})

	mk := func(id int) *iss.Hart {
		h := iss.New(id, 64, b, nil, func() uint64 { return 0 }, func() uint64 { return 0 }, func() uint64 { return 0 })
		h.Quantum.Budget = 1000
		h.Status = iss.HitBreakpoint
		return h
	}
	h0, h1 := mk(0), mk(1)
	harts := []*iss.Hart{h0, h1}

	q := &schedule.Queue{}
	cl := clint.New(q, []device.ClintTarget{h0, h1}, 100)
	s := sim.New(harts, q, cl)
	srv := &Server{sim: s, harts: harts, bus: b}
	rw := bufio.NewReadWriter(
		bufio.NewReader(strings.NewReader("++++")),
		bufio.NewWriter(io.Discard),
	)
	c := &connState{server: srv, rw: rw}

	go s.Start()
	defer s.Stop()

	c.vCont(parseCommand("vCont;s:p1.01;s:p1.02"))

	if got := h0.Reg.Read(1); got != 1 {
		t.Fatalf("hart0 x1 = %d, want 1 (stepped once)", got)
	}
	if got := h1.Reg.Read(1); got != 1 {
		t.Fatalf("hart1 x1 = %d, want 1 (stepped once)", got)
	}
	if h0.Status != iss.HitBreakpoint || h1.Status != iss.HitBreakpoint {
		t.Fatalf("statuses = %v/%v, want both re-parked after their steps", h0.Status, h1.Status)
	}
}

func TestDetachClearsBreakpointsAndResumes(t *testing.T) {
	c, h, _ := newTestConn(t)
	h.Breakpoints[0x100] = true
	h.Status = iss.HitBreakpoint

	go c.server.sim.Start()
	defer c.server.sim.Stop()
	c.detach()

	if len(h.Breakpoints) != 0 {
		t.Fatalf("detach should clear the breakpoint set")
	}
	if h.Status != iss.Runnable {
		t.Fatalf("detach should leave the hart Runnable, got %v", h.Status)
	}
}
