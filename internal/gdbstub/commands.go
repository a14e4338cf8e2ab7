package gdbstub

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/isa"
	"github.com/rvvp/rvvp/internal/iss"
	"github.com/rvvp/rvvp/internal/sim"
)

// targetXML32/targetXML64 are the target descriptions served via qXfer:features:read,
// naming the architecture so clients pick the right register layout
// without guessing from the 'g' reply length.
const targetXML32 = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0"><architecture>riscv:rv32</architecture></target>`

const targetXML64 = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0"><architecture>riscv:rv64</architecture></target>`

// connState is the per-connection dispatcher, holding which hart 'g'/
// 'G'/'m'/'M'/'p'/'P' currently target and which harts 'c'/'s' resume,
// both set via the 'H' command. GDB threads are 1-based; for 'Hc',
// thread 0 or -1 widens to every hart, and for 'Hg' it selects hart 0.
type connState struct {
	server  *Server
	rw      *bufio.ReadWriter
	curHart int
	contAll bool // Hc-1 / vCont with no thread: resume every hart
}

func (c *connState) hart() *iss.Hart { return c.server.harts[c.curHart] }

// dispatch handles one decoded RSP payload and replies. It returns
// false when the session should end ('D' detach, 'k' kill).
func (c *connState) dispatch(payload string) bool {
	cmd := parseCommand(payload)
	switch cmd.Name {
	case "":
		c.reply("")
	case "?":
		c.reply(c.stopReply())
	case "g":
		c.reply(c.readRegs())
	case "G":
		c.writeRegs(cmd.Data)
		c.reply("OK")
	case "p":
		c.reply(c.readOneReg(cmd))
	case "P":
		c.reply(c.writeOneReg(cmd))
	case "m":
		c.reply(c.readMem(cmd))
	case "M":
		c.reply(c.writeMem(cmd))
	case "c":
		c.resume(cmd)
		c.reply(c.stopReply())
	case "s":
		c.step(cmd)
		c.reply(c.stopReply())
	case "H":
		c.setThread(cmd)
		c.reply("OK")
	case "T":
		c.reply("OK")
	case "Z":
		c.reply(c.setBreakpoint(cmd, true))
	case "z":
		c.reply(c.setBreakpoint(cmd, false))
	case "D":
		c.detach()
		c.reply("OK")
		return false
	case "k":
		return false
	case "qSupported":
		c.reply("PacketSize=4000;qXfer:features:read+;multiprocess+;vContSupported+")
	case "qAttached":
		c.reply("1")
	case "qC":
		c.reply(fmt.Sprintf("QCp1.%02x", c.curHart+1))
	case "qfThreadInfo":
		c.reply(c.threadInfo())
	case "qsThreadInfo":
		c.reply("l")
	case "qXfer":
		c.reply(c.xfer(cmd.Data))
	case "vCont?":
		c.reply("vCont;c;C;s;S")
	case "vCont":
		c.vCont(cmd)
	default:
		c.reply("")
	}
	return true
}

func (c *connState) reply(s string) {
	_ = writePacket(c.rw, s)
}

// stopReply builds a stop reply naming the stopped thread in
// multiprocess form; signal 5 (SIGTRAP) for any stopped hart.
func (c *connState) stopReply() string {
	if c.hart().Status == iss.Terminated {
		return "W00"
	}
	return fmt.Sprintf("T05thread:p1.%02x;", c.curHart+1)
}

func (c *connState) threadInfo() string {
	var sb strings.Builder
	sb.WriteString("m")
	for i := range c.server.harts {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "p1.%02x", i+1)
	}
	return sb.String()
}

// xfer serves qXfer:features:read:target.xml:offset,length.
func (c *connState) xfer(args string) string {
	parts := strings.SplitN(args, ":", 3)
	if len(parts) < 3 || parts[0] != "features" || parts[1] != "read" {
		return ""
	}
	annex, rng, ok := strings.Cut(parts[2], ":")
	if !ok || annex != "target.xml" {
		return "E00"
	}
	cmd := parseMemCommand("m" + rng)
	if cmd.Kind != ArgMemRegion {
		return "E00"
	}
	xml := targetXML64
	if c.hart().XLEN == 32 {
		xml = targetXML32
	}
	if cmd.Addr >= uint64(len(xml)) {
		return "l"
	}
	end := cmd.Addr + cmd.Length
	if end >= uint64(len(xml)) {
		return "l" + xml[cmd.Addr:]
	}
	return "m" + xml[cmd.Addr:end]
}

func (c *connState) halt() {
	done := make(chan struct{})
	c.server.sim.Control() <- sim.ControlMsg{Cmd: sim.CmdHalt, HartID: c.curHart, Done: done}
	<-done
}

// selectedHarts is the set 'c'/'s'/vCont apply to.
func (c *connState) selectedHarts() []int {
	if !c.contAll {
		return []int{c.curHart}
	}
	ids := make([]int, len(c.server.harts))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// resume implements 'c'/'cAAAA': optionally retarget pc, then let the
// selected harts run until the first of them stops; the rest are then
// halted too so the debugger observes one coherent stopped world.
func (c *connState) resume(cmd Command) {
	if cmd.Kind == ArgInt {
		c.hart().PC = uint64(cmd.Int)
	}
	c.resumeAndWait(c.selectedHarts())
}

// resumeAndWait resumes every non-terminated hart in ids, blocks until
// the first of them stops, then halts the rest.
func (c *connState) resumeAndWait(ids []int) {
	var resumed []int
	for _, id := range ids {
		if c.server.harts[id].Status == iss.Terminated {
			continue
		}
		done := make(chan struct{})
		c.server.sim.Control() <- sim.ControlMsg{Cmd: sim.CmdResume, HartID: id, Done: done}
		<-done
		resumed = append(resumed, id)
	}
	if len(resumed) == 0 {
		return
	}
	c.waitAnyStopped(resumed)
	for _, id := range resumed {
		if c.server.harts[id].Status == iss.Runnable {
			done := make(chan struct{})
			c.server.sim.Control() <- sim.ControlMsg{Cmd: sim.CmdHalt, HartID: id, Done: done}
			<-done
		}
	}
}

func (c *connState) step(cmd Command) {
	if cmd.Kind == ArgInt {
		c.hart().PC = uint64(cmd.Int)
	}
	done := make(chan struct{})
	c.server.sim.Control() <- sim.ControlMsg{Cmd: sim.CmdStep, HartID: c.curHart, Done: done}
	<-done
}

// waitAnyStopped polls until at least one selected hart leaves
// Runnable. This stub does not support an asynchronous Ctrl-C break
// mid-run: the client must wait for a natural stop (a breakpoint, or
// the guest halting itself).
func (c *connState) waitAnyStopped(ids []int) {
	for {
		for _, id := range ids {
			if c.server.harts[id].Status != iss.Runnable {
				c.curHart = id
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
}

// detach resumes every hart and drops all breakpoints, so the guest
// runs freely once the debugger is gone.
func (c *connState) detach() {
	for id, h := range c.server.harts {
		for addr := range h.Breakpoints {
			delete(h.Breakpoints, addr)
		}
		if h.Status == iss.Terminated {
			continue
		}
		done := make(chan struct{})
		c.server.sim.Control() <- sim.ControlMsg{Cmd: sim.CmdResume, HartID: id, Done: done}
		<-done
	}
}

// readRegs implements 'g': x0..x31 then pc, each XLEN/8 bytes
// little-endian hex.
func (c *connState) readRegs() string {
	h := c.hart()
	width := h.XLEN / 8
	var sb strings.Builder
	for i := uint32(0); i < 32; i++ {
		writeHexLE(&sb, h.Reg.Read(i), width)
	}
	writeHexLE(&sb, h.PC, width)
	return sb.String()
}

// writeRegs implements 'G': the inverse of readRegs.
func (c *connState) writeRegs(hexData string) {
	h := c.hart()
	width := h.XLEN / 8
	chunk := width * 2
	for i := 0; i < 32 && (i+1)*chunk <= len(hexData); i++ {
		v := parseHexLE(hexData[i*chunk : (i+1)*chunk])
		h.Reg.Write(uint32(i), v)
	}
	if off := 32 * chunk; off+chunk <= len(hexData) {
		h.PC = parseHexLE(hexData[off : off+chunk])
	}
}

// readOneReg implements 'pn': register n in the same numbering 'g'
// uses, with pc at index 32.
func (c *connState) readOneReg(cmd Command) string {
	if cmd.Kind != ArgInt {
		return "E01"
	}
	h := c.hart()
	width := h.XLEN / 8
	var sb strings.Builder
	switch {
	case cmd.Int < 32:
		writeHexLE(&sb, h.Reg.Read(uint32(cmd.Int)), width)
	case cmd.Int == 32:
		writeHexLE(&sb, h.PC, width)
	default:
		return "E01"
	}
	return sb.String()
}

// writeOneReg implements 'Pn=hexval'.
func (c *connState) writeOneReg(cmd Command) string {
	if cmd.Kind != ArgInt || cmd.Data == "" {
		return "E01"
	}
	h := c.hart()
	v := parseHexLE(cmd.Data)
	switch {
	case cmd.Int < 32:
		h.Reg.Write(uint32(cmd.Int), v)
	case cmd.Int == 32:
		h.PC = v
	default:
		return "E01"
	}
	return "OK"
}

// busAddr translates one debugger-supplied address through the current
// hart's MMU, so 'm'/'M' work on virtual addresses whenever the guest
// has paging on.
func (c *connState) busAddr(vaddr uint64, typ isa.MemoryAccessType) (uint64, bool) {
	paddr, err := c.hart().TranslateDebug(vaddr, typ)
	if err != nil {
		return 0, false
	}
	return paddr, true
}

// readMem implements 'maddr,length', translating page by page.
func (c *connState) readMem(cmd Command) string {
	if cmd.Kind != ArgMemRegion {
		return "E01"
	}
	buf := make([]byte, cmd.Length)
	for off := uint64(0); off < cmd.Length; {
		n := pageChunk(cmd.Addr+off, cmd.Length-off)
		paddr, ok := c.busAddr(cmd.Addr+off, isa.AccessLoad)
		if !ok {
			return "E02"
		}
		if err := c.server.bus.Transport(bus.CmdReadDbg, paddr, buf[off:off+n]); err != nil {
			return "E02"
		}
		off += n
	}
	var sb strings.Builder
	for _, b := range buf {
		sb.WriteString(toHex2(b))
	}
	return sb.String()
}

// writeMem implements 'Maddr,length:data'.
func (c *connState) writeMem(cmd Command) string {
	if cmd.Kind != ArgMemWrite || len(cmd.Data) != int(cmd.Length)*2 {
		return "E01"
	}
	buf := make([]byte, cmd.Length)
	for i := range buf {
		buf[i] = fromHex2([2]byte{cmd.Data[i*2], cmd.Data[i*2+1]})
	}
	for off := uint64(0); off < cmd.Length; {
		n := pageChunk(cmd.Addr+off, cmd.Length-off)
		paddr, ok := c.busAddr(cmd.Addr+off, isa.AccessStore)
		if !ok {
			return "E02"
		}
		if err := c.server.bus.Transport(bus.CmdWriteDbg, paddr, buf[off:off+n]); err != nil {
			return "E02"
		}
		off += n
	}
	return "OK"
}

// pageChunk bounds a transfer so it never crosses a 4KiB translation
// boundary.
func pageChunk(addr, remaining uint64) uint64 {
	n := 0x1000 - (addr & 0xfff)
	if n > remaining {
		return remaining
	}
	return n
}

// setThread applies 'Hc'/'Hg': 'c' selects which harts resume, 'g'
// selects which hart register/memory commands inspect.
func (c *connState) setThread(cmd Command) {
	if cmd.Kind != ArgHPacket {
		return
	}
	tid := cmd.Thread.TID
	switch cmd.HOp {
	case 'c':
		c.contAll = tid <= 0
		if tid > 0 && int(tid)-1 < len(c.server.harts) {
			c.curHart = int(tid) - 1
		}
	case 'g':
		if tid > 0 && int(tid)-1 < len(c.server.harts) {
			c.curHart = int(tid) - 1
		} else {
			c.curHart = 0
		}
	}
}

// setBreakpoint implements 'Ztype,addr,kind' / 'ztype,addr,kind'.
// Software (type 0) and hardware (type 1) breakpoints share one set and
// stop the hart before the instruction at addr; watchpoint types 2-4 are
// not supported and get the empty reply.
func (c *connState) setBreakpoint(cmd Command, set bool) string {
	if cmd.Kind != ArgBreakpoint {
		return "E01"
	}
	if cmd.BPType > 1 {
		return "" // watchpoint kinds: unsupported, empty reply
	}
	h := c.hart()
	if set {
		h.Breakpoints[cmd.Addr] = true
	} else {
		delete(h.Breakpoints, cmd.Addr)
	}
	return "OK"
}

// vCont applies an action list. Per the protocol, the first action
// matching a thread wins, and an action with no thread id (or thread
// -1/0) covers every hart not already claimed by an earlier action.
// Stepped harts advance one instruction each; all continued harts run
// together until the first of them stops. Only c/C and s/S are
// supported, matching the vCont? reply.
func (c *connState) vCont(cmd Command) {
	if cmd.Kind != ArgVCont || len(cmd.Actions) == 0 {
		c.reply("E01")
		return
	}
	assigned := make([]byte, len(c.server.harts))
	for _, a := range cmd.Actions {
		if a.HasTID && a.Thread.TID > 0 {
			id := int(a.Thread.TID) - 1
			if id < len(assigned) && assigned[id] == 0 {
				assigned[id] = a.Op
			}
			continue
		}
		for id := range assigned {
			if assigned[id] == 0 {
				assigned[id] = a.Op
			}
		}
	}

	var continued []int
	for id, op := range assigned {
		switch op {
		case 's', 'S':
			c.curHart = id
			c.step(Command{Name: "s"})
		case 'c', 'C':
			continued = append(continued, id)
		}
	}
	c.resumeAndWait(continued)
	c.reply(c.stopReply())
}

func writeHexLE(sb *strings.Builder, v uint64, width int) {
	for i := 0; i < width; i++ {
		sb.WriteString(toHex2(byte(v >> (8 * i))))
	}
}

func parseHexLE(s string) uint64 {
	var v uint64
	for i := 0; i*2 < len(s); i++ {
		b := fromHex2([2]byte{s[i*2], s[i*2+1]})
		v |= uint64(b) << (8 * i)
	}
	return v
}
