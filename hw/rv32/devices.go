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
	"github.com/golang/glog"

	"github.com/mongoose-os/fastload/fw/hal"
	"github.com/mongoose-os/fastload/fw/irq"
)

// Timer is the countdown timer. It counts down once every prescale retired
// instructions and raises the timer interrupt when it reaches zero.
type Timer struct {
	intc     *IntController
	prescale uint32

	running bool
	mode    hal.TimerMode
	load    uint32
	count   uint32
	div     uint32
}

func (t *Timer) Start(mode hal.TimerMode, ticks uint32) {
	glog.V(3).Infof("timer: start mode %d, %d ticks", mode, ticks)
	t.mode = mode
	t.load = ticks
	t.count = ticks
	t.div = 0
	t.running = ticks > 0
	t.intc.clear(irq.Timer)
}

func (t *Timer) Stop() {
	t.running = false
	t.intc.clear(irq.Timer)
}

func (t *Timer) Reset() {
	t.Stop()
	t.mode = hal.Periodic
	t.load = 0
	t.count = 0
	t.div = 0
}

func (t *Timer) Running() bool { return t.running }

func (t *Timer) Mode() hal.TimerMode { return t.mode }

// Count returns the current countdown value.
func (t *Timer) Count() uint32 { return t.count }

func (t *Timer) tick() {
	if !t.running {
		return
	}
	t.div++
	if t.div < t.prescale {
		return
	}
	t.div = 0
	t.count--
	if t.count != 0 {
		return
	}
	t.intc.raise(irq.Timer)
	if t.mode == hal.Periodic {
		t.count = t.load
	} else {
		t.running = false
	}
}

func (t *Timer) ctrl() uint32 {
	var v uint32
	if t.running {
		v |= TimerCtrlRun
	}
	if t.mode == hal.OneShot {
		v |= TimerCtrlOneShot
	}
	return v
}

func (t *Timer) setCtrl(v uint32) {
	mode := hal.Periodic
	if v&TimerCtrlOneShot != 0 {
		mode = hal.OneShot
	}
	if v&TimerCtrlRun != 0 {
		t.Start(mode, t.load)
	} else {
		t.Stop()
		t.mode = mode
	}
}

// IntController holds the interrupt enable mask and pending sources.
type IntController struct {
	enabled irq.Source
	pending irq.Source

	// OnChange, if set, is called with the new mask after every change.
	OnChange func(enabled irq.Source)
}

func (c *IntController) Enable(s irq.Source) {
	c.set(c.enabled | s)
}

func (c *IntController) Disable(s irq.Source) irq.Source {
	prev := c.enabled
	c.set(c.enabled &^ s)
	return prev
}

func (c *IntController) Enabled() irq.Source { return c.enabled }

// Pending returns the raised but not yet serviced sources.
func (c *IntController) Pending() irq.Source { return c.pending }

func (c *IntController) set(s irq.Source) {
	if s == c.enabled {
		return
	}
	c.enabled = s
	if c.OnChange != nil {
		c.OnChange(s)
	}
}

func (c *IntController) raise(s irq.Source) { c.pending |= s }

func (c *IntController) clear(s irq.Source) { c.pending &^= s }

// active returns pending sources that are also enabled.
func (c *IntController) active() irq.Source { return c.pending & c.enabled }

// LED is the board status LED.
type LED struct {
	on      bool
	toggles int

	// OnChange, if set, is called on every transition.
	OnChange func(on bool)
}

func (l *LED) Set(on bool) {
	if on == l.on {
		return
	}
	l.on = on
	l.toggles++
	if l.OnChange != nil {
		l.OnChange(on)
	}
}

func (l *LED) On() bool { return l.on }

// Toggles returns the number of transitions so far.
func (l *LED) Toggles() int { return l.toggles }
