/*
 * rvvp - slog handler for the simulator's own diagnostics.
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

// Package logger provides the simulator's slog.Handler: one timestamped
// line per record, safe for concurrent use from the GDB network
// goroutine and the simulation goroutine. Debug-level records are also
// mirrored into util/debug's trace file, so a single --debug-file
// capture interleaves slog output with the hart/device/bus traces.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rvvp/rvvp/util/debug"
)

// Handler writes "TIME LEVEL: msg key=value ..." lines to an optional
// log file and/or stderr. The debug pointer is a live flag: while it is
// set, every record (any level) is mirrored to stderr, which is how
// --trace-mode and --debug-mode surface the normally-suppressed
// debug-level records without rebuilding the logger.
type Handler struct {
	mu    *sync.Mutex
	out   io.Writer // optional log file; nil means stderr is the primary sink
	level slog.Leveler
	debug *bool
	attrs string // preformatted " key=value" pairs from WithAttrs
}

// New returns a Handler at the given minimum level. out may be nil, in
// which case records go to stderr only.
func New(out io.Writer, level slog.Leveler, debug *bool) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, out: out, level: level, debug: debug}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	min := h.level.Level()
	if h.debug != nil && *h.debug && slog.LevelDebug < min {
		min = slog.LevelDebug
	}
	return level >= min
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		fmt.Fprintf(&sb, " %s=%s", a.Key, a.Value.String())
	}
	h2.attrs = sb.String()
	return &h2
}

// WithGroup flattens groups away: this simulator's call sites only use
// plain key/value attrs.
func (h *Handler) WithGroup(string) slog.Handler { return h }

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Time.Format("2006/01/02 15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(r.Level.String())
	sb.WriteString(": ")
	sb.WriteString(r.Message)
	sb.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%s", a.Key, a.Value.String())
		return true
	})
	line := sb.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	debugOn := h.debug != nil && *h.debug
	var err error
	if h.out != nil {
		_, err = fmt.Fprintln(h.out, line)
		if debugOn {
			fmt.Fprintln(os.Stderr, line)
		}
	} else if debugOn || r.Level >= slog.LevelInfo {
		_, err = fmt.Fprintln(os.Stderr, line)
	}

	if r.Level <= slog.LevelDebug {
		debug.Mirror(line)
	}
	return err
}
