//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package crash

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/fw/irq"
)

const (
	// DumpStart and DumpEnd bracket a watchdog dump on the console.
	DumpStart = "--- BEGIN WATCHDOG DUMP ---"
	DumpEnd   = "---- END WATCHDOG DUMP ----"

	// CodeDumpLen bytes around the PC are dumped, half before it.
	CodeDumpLen = 64
	// EntryDumpLen bytes are dumped from the module entry point.
	EntryDumpLen = 32
	// StackWords words above the stack pointer are dumped.
	StackWords = 16

	regsPerLine  = 4
	bytesPerLine = 16
)

var (
	headColor  = color.New(color.FgRed, color.Bold)
	titleColor = color.New(color.FgYellow)
)

// Report writes the human readable dump of c. Memory is read through mem;
// anything that cannot be read is shown as question marks.
func Report(out io.Writer, c *Context, mem io.ReaderAt) error {
	w := bufio.NewWriter(out)
	fmt.Fprintln(w, DumpStart)
	name := c.Module.Name
	if name == "" {
		name = "module"
	}
	fmt.Fprintln(w, headColor.Sprintf("Watchdog: %s did not return within %d ticks", name, c.Deadline))
	fmt.Fprintf(w, "module 0x%08x size %d crc 0x%08x\n", c.Module.Base, c.Module.Size, c.Module.Checksum)
	where := "inside module"
	if !c.InModule() {
		where = "outside module"
	}
	fmt.Fprintf(w, "pc   0x%08x (%s, +0x%x)\n", c.PC, where, c.PC-c.Module.Base)
	fmt.Fprintf(w, "irq  0x%08x (%s)\n", c.IntMask, irq.Source(c.IntMask))
	fmt.Fprintf(w, "cyc  %d\n", c.Cycle)

	for _, g := range regGroups {
		fmt.Fprintln(w, titleColor.Sprintf("%s:", g.title))
		for i := 0; i < len(g.regs); i += regsPerLine {
			var cols []string
			for j := i; j < i+regsPerLine && j < len(g.regs); j++ {
				r := g.regs[j]
				cols = append(cols, fmt.Sprintf("%-4s0x%08x", RegNames[r], c.Regs[r]))
			}
			fmt.Fprintf(w, "  %s\n", strings.Join(cols, "  "))
		}
	}

	fmt.Fprintln(w, titleColor.Sprintf("code around pc:"))
	hexdump(w, mem, codeStart(c.PC), CodeDumpLen, c.PC)
	fmt.Fprintln(w, titleColor.Sprintf("entry point:"))
	hexdump(w, mem, c.Module.Base, EntryDumpLen, c.PC)
	fmt.Fprintln(w, titleColor.Sprintf("stack:"))
	for _, l := range stackLines(mem, c.SP()) {
		fmt.Fprintln(w, l)
	}
	fmt.Fprintln(w, DumpEnd)
	return errors.Trace(w.Flush())
}

// codeStart is where the code dump around pc begins: half the dump
// before pc, rounded down to a whole line.
func codeStart(pc uint32) uint32 {
	start := pc - CodeDumpLen/2
	if pc < CodeDumpLen/2 {
		start = 0
	}
	return start &^ (bytesPerLine - 1)
}

func hexdump(w io.Writer, mem io.ReaderAt, addr uint32, n int, mark uint32) {
	buf := make([]byte, bytesPerLine)
	for off := 0; off < n; off += bytesPerLine {
		a := addr + uint32(off)
		got, _ := mem.ReadAt(buf, int64(a))
		var sb strings.Builder
		prefix := "  "
		if mark >= a && mark-a < bytesPerLine {
			prefix = "> "
		}
		fmt.Fprintf(&sb, "%s0x%08x:", prefix, a)
		for i := 0; i < bytesPerLine; i++ {
			if i < got {
				fmt.Fprintf(&sb, " %02x", buf[i])
			} else {
				sb.WriteString(" ??")
			}
		}
		fmt.Fprintln(w, sb.String())
	}
}

func readWord(mem io.ReaderAt, addr uint32) (uint32, bool) {
	var b [4]byte
	if n, _ := mem.ReadAt(b[:], int64(addr)); n != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:]), true
}

func stackLines(mem io.ReaderAt, sp uint32) []string {
	var lines []string
	for i := 0; i < StackWords; i += regsPerLine {
		a := sp + uint32(i*4)
		l := fmt.Sprintf("  0x%08x:", a)
		for j := 0; j < regsPerLine; j++ {
			if v, ok := readWord(mem, a+uint32(j*4)); ok {
				l += fmt.Sprintf(" %08x", v)
			} else {
				l += " ????????"
			}
		}
		lines = append(lines, l)
	}
	return lines
}
