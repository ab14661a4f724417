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

// Package supervisor transfers control to a loaded module and gets it back.
//
// Invoke either returns Returned, after the module came back on its own, or
// TimedOut with the crash context captured by the trap path when the
// watchdog fired. A timeout is terminal: the supervisor refuses further
// invocations until the device is reset.
//
// The watchdog and the module share the one countdown timer, so an
// invocation either has the watchdog or lets the module use the timer.
// The caller chooses through Options.
package supervisor

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/fw/crash"
	"github.com/mongoose-os/fastload/fw/hal"
	"github.com/mongoose-os/fastload/fw/irq"
	"github.com/mongoose-os/fastload/fw/loader"
)

// Platform is the hardware the supervisor drives.
type Platform interface {
	IRQ() irq.Controller
	Timer() hal.Timer
	// Call transfers control to entry with no arguments. onTrap is called
	// from the trap path on every timer interrupt.
	//
	// UNSAFE: this is the one place where foreign code runs. Nothing about
	// the module is checked beyond its checksum; entry is taken as code at
	// offset 0 of the window, and only the watchdog (if armed) gets control
	// back from a module that never returns. Invoke is its only caller.
	Call(ctx context.Context, entry uint32, onTrap hal.TrapHandler) (hal.Exit, error)
}

type Options struct {
	// Watchdog arms the timer in one-shot mode for the invocation. The
	// module must then leave the timer alone.
	Watchdog bool
	// Deadline is the watchdog period in timer ticks.
	Deadline uint32
}

type Result int

const (
	Returned Result = iota
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Returned:
		return "returned"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

type Outcome struct {
	Result Result
	// Crash is set iff Result is TimedOut.
	Crash *crash.Context
	// Ticks is the number of routine timer interrupts seen during the call.
	Ticks uint64
}

var ErrHalted = errors.New("supervisor halted by watchdog, reset required")

type Supervisor struct {
	p      Platform
	halted bool
}

func New(p Platform) *Supervisor {
	return &Supervisor{p: p}
}

// Halted reports whether a watchdog fire has stopped the supervisor.
func (s *Supervisor) Halted() bool { return s.halted }

// Invoke runs the module h. Interrupts are masked on entry and on every
// return path; they are only enabled across the control transfer.
func (s *Supervisor) Invoke(ctx context.Context, h *loader.Handle, opts Options) (*Outcome, error) {
	if s.halted {
		return nil, errors.Trace(ErrHalted)
	}
	if h == nil {
		return nil, errors.Errorf("no module loaded")
	}
	if opts.Watchdog && opts.Deadline == 0 {
		return nil, errors.Errorf("watchdog needs a deadline")
	}
	ctl, timer := s.p.IRQ(), s.p.Timer()
	ctl.Disable(irq.All)

	mod := crash.Module{Name: h.Name, Base: h.Entry, Size: h.Size, Checksum: h.Checksum}
	// Filled by the trap path, read once below.
	fired := make(chan *crash.Context, 1)
	armed := false
	out := &Outcome{}
	onTrap := func(tf *hal.TrapFrame) hal.TrapAction {
		if armed && timer.Mode() == hal.OneShot {
			timer.Stop()
			armed = false
			fired <- crash.Capture(tf, mod, opts.Deadline)
			return hal.Abort
		}
		out.Ticks++
		return hal.Resume
	}

	if opts.Watchdog {
		timer.Start(hal.OneShot, opts.Deadline)
		armed = true
		glog.V(1).Infof("watchdog armed, %d ticks", opts.Deadline)
	}
	ctl.Enable(irq.All)
	exit, err := s.p.Call(ctx, h.Entry, onTrap)
	ctl.Disable(irq.All)

	select {
	case c := <-fired:
		s.halted = true
		out.Result = TimedOut
		out.Crash = c
		glog.Errorf("watchdog fired at pc 0x%08x running %s", c.PC, h)
		return out, nil
	default:
	}

	if armed || timer.Running() {
		timer.Stop()
		timer.Reset()
		armed = false
	}
	if err != nil {
		return nil, errors.Annotatef(err, "%s", h)
	}
	if exit != hal.Returned {
		return nil, errors.Errorf("%s: call ended with %s", h, exit)
	}
	out.Result = Returned
	glog.V(1).Infof("%s returned, %d ticks", h, out.Ticks)
	return out, nil
}
