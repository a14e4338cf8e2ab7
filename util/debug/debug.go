/*
 * rvvp - per-subsystem debug trace sink.
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

// Package debug is a per-subsystem trace sink: mask+level gated
// fprintf lines for harts, devices and the bus, written to a trace
// file registered through the config package.
package debug

import (
	"fmt"
	"os"

	"github.com/rvvp/rvvp/config"
)

var traceFile *os.File

// DebugHartf logs a per-hart trace line (instruction retirement, trap
// entry/exit) when mask&level is nonzero.
func DebugHartf(hartID int, mask int, level int, format string, a ...interface{}) {
	if traceFile == nil || (mask&level) == 0 {
		return
	}
	fmt.Fprintf(traceFile, "hart%d: "+format+"\n", append([]interface{}{hartID}, a...)...)
}

// DebugDevf logs a per-device trace line (UART, CLINT, PLIC register
// access) when mask&level is nonzero.
func DebugDevf(name string, mask int, level int, format string, a ...interface{}) {
	if traceFile == nil || (mask&level) == 0 {
		return
	}
	fmt.Fprintf(traceFile, name+": "+format+"\n", a...)
}

// DebugBusf logs a bus-level trace line (port routing, LR/SC lock
// contention) when mask&level is nonzero.
func DebugBusf(mask int, level int, format string, a ...interface{}) {
	if traceFile == nil || (mask&level) == 0 {
		return
	}
	fmt.Fprintf(traceFile, "bus: "+format+"\n", a...)
}

// Mirror appends one already-formatted line to the trace file, letting
// the slog handler interleave its records with the hart/device/bus
// traces. A no-op when no trace file is registered.
func Mirror(line string) {
	if traceFile == nil {
		return
	}
	fmt.Fprintln(traceFile, line)
}

func init() {
	config.RegisterFile("DEBUGFILE", create)
}

func create(fileName string) error {
	if traceFile != nil {
		return fmt.Errorf("debug: trace file already open: %s", traceFile.Name())
	}
	file, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("debug: unable to create trace file %s: %w", fileName, err)
	}
	traceFile = file
	return nil
}
