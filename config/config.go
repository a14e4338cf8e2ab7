/*
 * rvvp - CLI flag parsing and file-sink registration.
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

// Package config parses the simulator's command line and keeps a small
// named registry of file-sink creators (register a name, dispatch to
// its creator when the matching flag is supplied). Flag parsing itself
// is delegated to getopt/v2.
package config

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"
)

// Flags holds the parsed command line.
type Flags struct {
	ELFPath string

	MemoryStart    uint64
	MemorySize     uint64
	UseEBaseISA    bool
	EntryPoint     uint64
	HasEntryPoint  bool
	InterceptSysc  bool
	DebugMode      bool
	DebugPort      int
	TraceMode      bool
	TLMQuantum     uint64
	UseInstrDMI    bool
	UseDataDMI     bool
	UseDMI         bool
	SignatureFile  string
	ConsolePort    string
	DebugTraceFile string
	Monitor        bool
	Help           bool
}

// Parse parses args (excluding the program name) into Flags. Every
// option has a long name; address- and size-valued options accept both
// 0x-prefixed hex and plain decimal.
func Parse(args []string) (*Flags, error) {
	set := getopt.New()

	memStart := set.StringLong("memory-start", 0, "0x80000000", "Guest physical base address of RAM")
	memSize := set.StringLong("memory-size", 0, "0x4000000", "Guest RAM size in bytes")
	useE := set.BoolLong("use-E-base-isa", 0, "Accepted but ignored: this build always decodes the full 32-register base ISA")
	entry := set.StringLong("entry-point", 0, "", "Override the ELF entry point")
	intercept := set.BoolLong("intercept-syscalls", 0, "Proxy ECALL as a host syscall instead of trapping")
	debugMode := set.BoolLong("debug-mode", 0, "Start a GDB remote-serial-protocol stub")
	debugPort := set.IntLong("debug-port", 0, 5005, "TCP port for the GDB stub")
	traceMode := set.BoolLong("trace-mode", 0, "Trace every retired instruction to the debug sink")
	quantum := set.StringLong("tlm-global-quantum", 0, "10000", "Cycles a hart runs before yielding to CLINT/PLIC/GDB")
	instrDMI := set.BoolLong("use-instr-dmi", 0, "Bypass the bus for instruction fetches backed by RAM")
	dataDMI := set.BoolLong("use-data-dmi", 0, "Bypass the bus for data accesses backed by RAM")
	allDMI := set.BoolLong("use-dmi", 0, "Shorthand for --use-instr-dmi --use-data-dmi")
	signature := set.StringLong("signature", 0, "", "Write the compliance signature to this file on exit")
	console := set.StringLong("console", 0, "", "TCP port to serve the UART console on")
	debugFile := set.StringLong("debug-file", 0, "", "File to write debug trace output to")
	monitor := set.BoolLong("monitor", 0, "Start an interactive liner-based monitor prompt on stdin/stdout")
	help := set.BoolLong("help", 'h', "Show usage")

	if err := set.Getopt(args, nil); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	f := &Flags{
		UseEBaseISA:    *useE,
		InterceptSysc:  *intercept,
		DebugMode:      *debugMode,
		DebugPort:      *debugPort,
		TraceMode:      *traceMode,
		UseInstrDMI:    *instrDMI || *allDMI,
		UseDataDMI:     *dataDMI || *allDMI,
		UseDMI:         *allDMI,
		SignatureFile:  *signature,
		ConsolePort:    *console,
		DebugTraceFile: *debugFile,
		Monitor:        *monitor,
		Help:           *help,
	}

	var err error
	if f.MemoryStart, err = parseUint(*memStart); err != nil {
		return nil, fmt.Errorf("config: --memory-start: %w", err)
	}
	if f.MemorySize, err = parseUint(*memSize); err != nil {
		return nil, fmt.Errorf("config: --memory-size: %w", err)
	}
	if *entry != "" {
		if f.EntryPoint, err = parseUint(*entry); err != nil {
			return nil, fmt.Errorf("config: --entry-point: %w", err)
		}
		f.HasEntryPoint = true
	}
	if f.TLMQuantum, err = parseUint(*quantum); err != nil {
		return nil, fmt.Errorf("config: --tlm-global-quantum: %w", err)
	}

	rest := set.Args()
	if len(rest) > 0 {
		f.ELFPath = rest[0]
	}
	return f, nil
}

// Usage prints getopt's generated usage text to stderr.
func Usage() {
	getopt.Usage()
}

func parseUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "0x%x", &v)
	if err == nil {
		return v, nil
	}
	_, err = fmt.Sscanf(s, "%d", &v)
	return v, err
}

// FileCreator is called with the path the user supplied for a
// registered file-sink flag (e.g. --debug-file).
type FileCreator func(fileName string) error

var fileRegistry = map[string]FileCreator{}

// RegisterFile registers fn under name for later lookup via CreateFile.
// Called from package init functions.
func RegisterFile(name string, fn FileCreator) {
	fileRegistry[name] = fn
}

// CreateFile invokes the FileCreator registered under name with
// fileName. It is a no-op returning nil if nothing is registered under
// name, so an unused sink can be left wired without requiring every
// caller to check for its presence.
func CreateFile(name, fileName string) error {
	fn, ok := fileRegistry[name]
	if !ok || fileName == "" {
		return nil
	}
	return fn(fileName)
}

// ExitGracefully prints msg to stderr and exits with the given code,
// matching main.go's os.Exit-on-configuration-error idiom.
func ExitGracefully(code int, msg string) {
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}
