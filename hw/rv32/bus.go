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
package rv32

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	// Memory map
	RAMBase  = 0x00000000
	MMIOBase = 0x10000000
	MMIOSize = 0x40

	// MMIO registers
	RegTimerCtrl  = MMIOBase + 0x00
	RegTimerLoad  = MMIOBase + 0x04
	RegTimerCount = MMIOBase + 0x08
	RegLED        = MMIOBase + 0x10
	RegUARTTx     = MMIOBase + 0x20
	RegIntEnable  = MMIOBase + 0x30

	// TIMER_CTRL bits
	TimerCtrlRun     = 1 << 0
	TimerCtrlOneShot = 1 << 1
)

// ErrBus is returned for accesses outside RAM and MMIO.
var ErrBus = errors.New("bus error")

type bus struct {
	ram   []byte
	timer *Timer
	intc  *IntController
	led   *LED
	uart  io.Writer
}

func (b *bus) inRAM(addr uint32, n uint32) bool {
	return uint64(addr)+uint64(n) <= uint64(len(b.ram))
}

func isMMIO(addr uint32) bool {
	return addr >= MMIOBase && addr < MMIOBase+MMIOSize
}

func (b *bus) read32(addr uint32) (uint32, error) {
	if b.inRAM(addr, 4) {
		r := b.ram[addr : addr+4]
		return uint32(r[0]) | uint32(r[1])<<8 | uint32(r[2])<<16 | uint32(r[3])<<24, nil
	}
	if isMMIO(addr) {
		return b.readReg(addr &^ 3), nil
	}
	return 0, errors.Annotatef(ErrBus, "read32 @ 0x%08x", addr)
}

func (b *bus) write32(addr uint32, v uint32) error {
	if b.inRAM(addr, 4) {
		r := b.ram[addr : addr+4]
		r[0], r[1], r[2], r[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		return nil
	}
	if isMMIO(addr) {
		b.writeReg(addr&^3, v)
		return nil
	}
	return errors.Annotatef(ErrBus, "write32 @ 0x%08x", addr)
}

// read reads a 1, 2 or 4 byte little endian value.
func (b *bus) read(addr uint32, n uint32) (uint32, error) {
	if n == 4 {
		return b.read32(addr)
	}
	if b.inRAM(addr, n) {
		var v uint32
		for i := n; i > 0; i-- {
			v = v<<8 | uint32(b.ram[addr+i-1])
		}
		return v, nil
	}
	if isMMIO(addr) {
		w := b.readReg(addr &^ 3)
		return (w >> ((addr & 3) * 8)) & (1<<(n*8) - 1), nil
	}
	return 0, errors.Annotatef(ErrBus, "read%d @ 0x%08x", n*8, addr)
}

func (b *bus) write(addr uint32, n uint32, v uint32) error {
	if n == 4 {
		return b.write32(addr, v)
	}
	if b.inRAM(addr, n) {
		for i := uint32(0); i < n; i++ {
			b.ram[addr+i] = byte(v >> (i * 8))
		}
		return nil
	}
	if isMMIO(addr) {
		// Narrow MMIO writes land in the low bits of the register.
		b.writeReg(addr&^3, v&(1<<(n*8)-1))
		return nil
	}
	return errors.Annotatef(ErrBus, "write%d @ 0x%08x", n*8, addr)
}

func (b *bus) readReg(addr uint32) uint32 {
	switch addr {
	case RegTimerCtrl:
		return b.timer.ctrl()
	case RegTimerLoad:
		return b.timer.load
	case RegTimerCount:
		return b.timer.count
	case RegLED:
		if b.led.On() {
			return 1
		}
		return 0
	case RegIntEnable:
		return uint32(b.intc.Enabled())
	}
	return 0
}

func (b *bus) writeReg(addr uint32, v uint32) {
	glog.V(4).Infof("mmio 0x%08x <= 0x%08x", addr, v)
	switch addr {
	case RegTimerCtrl:
		b.timer.setCtrl(v)
	case RegTimerLoad:
		b.timer.load = v
	case RegLED:
		b.led.Set(v&1 != 0)
	case RegUARTTx:
		if b.uart != nil {
			b.uart.Write([]byte{byte(v)})
		}
	}
}

// ReadAt reads device RAM. Absolute addresses, RAM only.
func (b *bus) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.ram)) {
		return 0, errors.Annotatef(ErrBus, "read %d @ 0x%08x", len(p), off)
	}
	n := copy(p, b.ram[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes device RAM. Absolute addresses, RAM only.
func (b *bus) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(b.ram)) {
		return 0, errors.Annotatef(ErrBus, "write %d @ 0x%08x", len(p), off)
	}
	return copy(b.ram[off:], p), nil
}

// MappedRAM is device RAM backed by a memory-mapped file, so its contents
// (the execution window in particular) outlive the process.
type MappedRAM struct {
	f *os.File
	m mmap.MMap
}

// MapRAM maps size bytes of the file at path, creating or extending it.
func MapRAM(path string, size int) (*MappedRAM, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Trace(err)
	}
	if fi.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, errors.Annotatef(err, "failed to size %s", path)
		}
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "failed to map %s", path)
	}
	glog.V(1).Infof("mapped %d bytes of RAM from %s", size, path)
	return &MappedRAM{f: f, m: m}, nil
}

// Bytes returns the mapped memory.
func (r *MappedRAM) Bytes() []byte { return r.m }

// Close flushes and unmaps the RAM.
func (r *MappedRAM) Close() error {
	if err := r.m.Flush(); err != nil {
		glog.Errorf("flush failed: %s", err)
	}
	if err := r.m.Unmap(); err != nil {
		r.f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(r.f.Close())
}
