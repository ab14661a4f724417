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

// Package rv32 emulates the board the firmware runs on: an RV32I core, RAM,
// a countdown timer, an interrupt controller, a status LED and a UART
// transmit register.
//
// Modules are flat binaries executed in place. A call into a module starts
// at its entry address with ra set to ReturnAddr; jumping there ends the
// call. When the timer interrupt is enabled and expires, the trap entry stub
// snapshots the core into a hal.TrapFrame before the handler sees it.
package rv32

import (
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/fw/hal"
	"github.com/mongoose-os/fastload/fw/irq"
)

const (
	// ReturnAddr is loaded into ra before a call. It is not backed by memory.
	ReturnAddr = 0xFFFFFFF0

	DefaultRAMSize = 512 * 1024

	// How often (in instructions) Call checks its context.
	ctxCheckInterval = 4096
)

type Config struct {
	// RAM is the backing store for device memory. If nil, RAMSize bytes
	// are allocated.
	RAM     []byte
	RAMSize int
	// Prescale is the number of instructions per timer tick, 1 if unset.
	Prescale uint32
	// Console receives bytes written to the UART transmit register.
	Console io.Writer
}

// Machine is the emulated board.
type Machine struct {
	Core

	bus   bus
	timer Timer
	intc  IntController
	led   LED
	cycle uint64
}

func New(cfg Config) *Machine {
	ram := cfg.RAM
	if ram == nil {
		size := cfg.RAMSize
		if size <= 0 {
			size = DefaultRAMSize
		}
		ram = make([]byte, size)
	}
	prescale := cfg.Prescale
	if prescale == 0 {
		prescale = 1
	}
	m := &Machine{}
	m.timer = Timer{intc: &m.intc, prescale: prescale}
	m.bus = bus{
		ram:   ram,
		timer: &m.timer,
		intc:  &m.intc,
		led:   &m.led,
		uart:  cfg.Console,
	}
	return m
}

// Memory returns device RAM, addressed absolutely.
func (m *Machine) Memory() hal.Memory { return &m.bus }

// RAMSize returns the size of device RAM.
func (m *Machine) RAMSize() uint32 { return uint32(len(m.bus.ram)) }

// StackTop is the initial stack pointer of a call.
func (m *Machine) StackTop() uint32 { return uint32(len(m.bus.ram)) &^ 15 }

func (m *Machine) Timer() hal.Timer { return &m.timer }

func (m *Machine) IRQ() irq.Controller { return &m.intc }

// IntController gives access to emulator-only controller hooks.
func (m *Machine) IntController() *IntController { return &m.intc }

func (m *Machine) LED() *LED { return &m.led }

// Cycles returns the number of instructions retired since creation.
func (m *Machine) Cycles() uint64 { return m.cycle }

// Call runs code at entry until it returns to ReturnAddr, a trap handler
// aborts it, it faults or ctx is done. Registers other than ra and sp are
// zeroed on entry.
//
// UNSAFE: whatever bytes are at entry are executed as a module, with the
// machine's RAM and devices at its disposal. Only the supervisor calls it.
func (m *Machine) Call(ctx context.Context, entry uint32, onTrap hal.TrapHandler) (hal.Exit, error) {
	m.Core = Core{PC: entry}
	m.X[RA] = ReturnAddr
	m.X[SP] = m.StackTop()
	glog.V(2).Infof("call 0x%08x sp 0x%08x", entry, m.X[SP])
	start := m.cycle
	for n := uint64(0); ; n++ {
		if m.PC == ReturnAddr {
			glog.V(2).Infof("returned after %d instructions", m.cycle-start)
			return hal.Returned, nil
		}
		if n%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return hal.Aborted, errors.Trace(ctx.Err())
			default:
			}
		}
		if err := m.step(&m.bus); err != nil {
			return hal.Aborted, errors.Trace(err)
		}
		m.cycle++
		m.timer.tick()
		if m.intc.active()&irq.Timer != 0 {
			if m.trap(onTrap) == hal.Abort {
				glog.V(2).Infof("call aborted at 0x%08x", m.PC)
				return hal.Aborted, nil
			}
		}
	}
}

// trap is the entry stub: capture first, then dispatch.
func (m *Machine) trap(onTrap hal.TrapHandler) hal.TrapAction {
	tf := &hal.TrapFrame{
		X:       m.X,
		PC:      m.PC,
		IntMask: uint32(m.intc.Enabled()),
		Cycle:   m.cycle,
	}
	m.intc.clear(irq.Timer)
	if onTrap == nil {
		return hal.Resume
	}
	return onTrap(tf)
}
