/*
 * rvvp - RISC-V virtual platform entry point.
 *
 * Copyright 2024, the rvvp authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Command rvvp loads a RISC-V ELF image, wires up a single hart against
// guest memory, a CLINT, a PLIC and a UART, and runs it to completion
// (or until a GDB client attaches and drives it): parse flags, build a
// logger, construct the platform, start the driver on its own
// goroutine, wait for SIGINT/SIGTERM or guest exit.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/rvvp/rvvp/config"
	"github.com/rvvp/rvvp/internal/bus"
	"github.com/rvvp/rvvp/internal/clint"
	"github.com/rvvp/rvvp/internal/device"
	"github.com/rvvp/rvvp/internal/elf"
	"github.com/rvvp/rvvp/internal/gdbstub"
	"github.com/rvvp/rvvp/internal/iss"
	"github.com/rvvp/rvvp/internal/memory"
	"github.com/rvvp/rvvp/internal/mmu"
	"github.com/rvvp/rvvp/internal/plic"
	"github.com/rvvp/rvvp/internal/schedule"
	"github.com/rvvp/rvvp/internal/sim"
	"github.com/rvvp/rvvp/internal/syscallproxy"
	"github.com/rvvp/rvvp/internal/uart"
	"github.com/rvvp/rvvp/telnet"
	"github.com/rvvp/rvvp/util/logger"

	_ "github.com/rvvp/rvvp/util/debug"
)

// Conventional platform base addresses: the CLINT and PLIC bases are the
// ones both qemu's "virt" machine and the FE310 use; the UART sits at the
// FE310's UART0 address.
const (
	clintBase = 0x02000000
	plicBase  = 0x0c000000
	uartBase  = 0x10013000
	uartIRQ   = 3

	plicSources = 8
)

func main() {
	flags, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		config.Usage()
		os.Exit(1)
	}
	if flags.Help {
		config.Usage()
		os.Exit(0)
	}
	if flags.ELFPath == "" {
		fmt.Fprintln(os.Stderr, "rvvp: missing ELF image argument")
		config.Usage()
		os.Exit(1)
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	debugOn := flags.TraceMode || flags.DebugMode
	log := slog.New(logger.New(nil, programLevel, &debugOn))
	slog.SetDefault(log)

	if flags.DebugTraceFile != "" {
		if err := config.CreateFile("DEBUGFILE", flags.DebugTraceFile); err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
	}
	if flags.UseEBaseISA {
		log.Warn("--use-E-base-isa requested but this build always decodes the full 32-register I-extension; continuing")
	}

	f, err := os.Open(flags.ELFPath)
	if err != nil {
		log.Error("rvvp: open ELF", "path", flags.ELFPath, "err", err)
		os.Exit(1)
	}
	img, err := elf.Load(f)
	f.Close()
	if err != nil {
		log.Error("rvvp: load ELF", "err", err)
		os.Exit(1)
	}

	ram := memory.NewRAM(flags.MemoryStart, flags.MemorySize)
	if err := img.WriteInto(ram); err != nil {
		log.Error("rvvp: write ELF segments", "err", err)
		os.Exit(1)
	}

	entry := img.Entry
	if flags.HasEntryPoint {
		entry = flags.EntryPoint
	}

	b := &bus.Bus{}
	b.Map(ram.Base(), ram.Base()+ram.Size()-1, "ram", bus.RAMTarget{RAM: ram})

	queue := &schedule.Queue{}

	// cl/pl are captured by the hart's CSR/interrupt closures before they
	// exist: New(... hart) needs the hart to construct CLINT/PLIC, and
	// the hart needs CLINT's mtime/PLIC's gateway to construct. Closures
	// over the not-yet-assigned pointer break the cycle the same way a
	// forward-declared reference would in a single-pass language.
	// h itself is forward-referenced the same way: mcycle/minstret read
	// the hart's own retirement count, which doesn't exist until New
	// returns it.
	var cl *clint.CLINT
	var pl *plic.PLIC
	var h *iss.Hart

	m := mmu.New(img.XLEN, bus.PTEWalker{Bus: b})

	h = iss.New(0, img.XLEN, b, m,
		func() uint64 { return h.MInstret },
		func() uint64 { return cl.MTime() },
		func() uint64 { return h.MInstret },
	)
	h.PC = entry
	h.Quantum.Budget = int64(flags.TLMQuantum)
	if h.Quantum.Budget <= 0 {
		h.Quantum.Budget = 10000
	}

	if flags.UseInstrDMI {
		h.InstrDMI = ram
	}
	if flags.UseDataDMI {
		h.DataDMI = ram
	}

	proxy := syscallproxy.New()
	h.Syscall = proxy
	h.InterceptSyscalls = flags.InterceptSysc

	harts := []*iss.Hart{h}

	cl = clint.New(queue, toClintTargets(harts), 100)
	b.Map(clintBase, clintBase+0xc000-1, "clint", cl)

	pl = plic.New(plicSources, toExtTargets(harts))
	b.Map(plicBase, plicBase+0x3fffff, "plic", pl)

	con := uart.New(uartIRQ, pl)
	b.Map(uartBase, uartBase+0xfff, "uart0", con)
	if flags.ConsolePort != "" {
		if err := telnet.Start(map[string]*uart.UART{flags.ConsolePort: con}); err != nil {
			log.Error("rvvp: console", "err", err)
			os.Exit(1)
		}
	}

	driver := sim.New(harts, queue, cl)
	driver.TraceMode = flags.TraceMode

	var stub *gdbstub.Server
	if flags.DebugMode {
		addr := fmt.Sprintf("127.0.0.1:%d", flags.DebugPort)
		stub, err = gdbstub.NewServer(addr, driver, harts, b)
		if err != nil {
			log.Error("rvvp: gdb stub", "err", err)
			os.Exit(1)
		}
		h.DebugMode = true
		h.Status = iss.HitBreakpoint // parked until the debugger issues its first continue
		stub.Start()
		log.Info("GDB stub listening", "addr", stub.Addr().String())
	}

	go driver.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := runUntilDone(flags, sigChan, proxy, harts)

	driver.Stop()
	if stub != nil {
		stub.Stop()
	}
	if flags.ConsolePort != "" {
		telnet.Stop()
	}

	if flags.SignatureFile != "" {
		if err := writeSignature(flags.SignatureFile, ram, img); err != nil {
			log.Error("rvvp: signature dump", "err", err)
			os.Exit(1)
		}
	}

	os.Exit(exitCode)
}

// runUntilDone blocks until the guest exits via the syscall proxy or a
// terminal signal arrives (or, with --monitor, the operator quits the
// interactive prompt). It returns the process exit code. proxy.Exited is
// set by the simulation goroutine's ECall handler and only ever read
// here, a single-writer/single-reader flag rather than a full
// synchronization point, adequate for a coarse "is the guest done yet"
// poll, not for anything finer-grained.
func runUntilDone(flags *config.Flags, sigChan chan os.Signal, proxy *syscallproxy.Proxy, harts []*iss.Hart) int {
	if flags.Monitor {
		return runMonitor(sigChan, proxy, harts)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			return 130
		case <-ticker.C:
			if proxy.Exited {
				return int(proxy.ExitCode)
			}
		}
	}
}

// runMonitor serves an interactive liner-based console on stdin/stdout
// with a handful of commands for inspecting hart state.
func runMonitor(sigChan chan os.Signal, proxy *syscallproxy.Proxy, harts []*iss.Hart) int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	input := make(chan string, 1)
	go func() {
		for {
			text, err := line.Prompt("rvvp> ")
			if err != nil {
				close(input)
				return
			}
			line.AppendHistory(text)
			input <- text
		}
	}()

	for {
		if proxy.Exited {
			return int(proxy.ExitCode)
		}
		select {
		case <-sigChan:
			return 130
		case text, ok := <-input:
			if !ok {
				return 130
			}
			runMonitorCommand(strings.TrimSpace(text), harts)
		}
	}
}

func runMonitorCommand(cmd string, harts []*iss.Hart) {
	switch cmd {
	case "regs":
		for _, h := range harts {
			fmt.Printf("hart%d: pc=%#x status=%v minstret=%d\n", h.ID, h.PC, h.Status, h.MInstret)
		}
	case "quit", "exit":
		os.Exit(0)
	case "":
	default:
		fmt.Println("commands: regs, quit")
	}
}

func toClintTargets(harts []*iss.Hart) []device.ClintTarget {
	out := make([]device.ClintTarget, len(harts))
	for i, h := range harts {
		out[i] = h
	}
	return out
}

func toExtTargets(harts []*iss.Hart) []device.ExternalInterruptTarget {
	out := make([]device.ExternalInterruptTarget, len(harts))
	for i, h := range harts {
		out[i] = h
	}
	return out
}

// writeSignature dumps [BeginSig, EndSig) as one 32-bit little-endian
// hex word per line, the RISC-V compliance-suite convention.
func writeSignature(path string, ram *memory.RAM, img *elf.Image) error {
	if !img.HasSignature {
		return fmt.Errorf("rvvp: ELF has no begin_signature/end_signature symbols")
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	for addr := img.BeginSig; addr < img.EndSig; addr += 4 {
		word := ram.ReadWord(addr)
		if _, err := fmt.Fprintf(out, "%08x\n", word); err != nil {
			return err
		}
	}
	return nil
}
