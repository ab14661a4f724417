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

// Package hal is the boundary between the firmware core and the hardware it
// runs on: memory, the countdown timer, the status indicator and the trap
// entry path.
package hal

import (
	"fmt"
	"io"
)

// Memory is byte addressable device memory. Offsets are absolute addresses.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// NumRegs is the size of the general purpose register file.
const NumRegs = 32

// TrapFrame is the machine state captured by the trap entry stub before any
// handler code runs.
type TrapFrame struct {
	X       [NumRegs]uint32
	PC      uint32
	IntMask uint32
	// Cycle is the retired instruction count at the time of the trap.
	Cycle uint64
}

// TrapAction tells the trap entry stub what to do after the handler returns.
type TrapAction int

const (
	// Resume continues the interrupted code.
	Resume TrapAction = iota
	// Abort abandons the current call; control goes back to whoever made it.
	Abort
)

// TrapHandler handles a timer interrupt. It must not block.
type TrapHandler func(tf *TrapFrame) TrapAction

// Exit says how a call into foreign code ended.
type Exit int

const (
	// Returned: the callee returned normally.
	Returned Exit = iota
	// Aborted: a trap handler abandoned the call.
	Aborted
)

func (e Exit) String() string {
	switch e {
	case Returned:
		return "returned"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("exit(%d)", int(e))
}

// TimerMode is the mode bit of the countdown timer control state.
type TimerMode int

const (
	// Periodic reloads and interrupts every period. This is the routine tick.
	Periodic TimerMode = iota
	// OneShot interrupts once and stops. The watchdog uses this mode.
	OneShot
)

// Timer is the hardware countdown timer.
type Timer interface {
	// Start runs the timer in the given mode, expiring after ticks.
	Start(mode TimerMode, ticks uint32)
	// Stop halts the countdown and clears any pending expiry.
	Stop()
	// Reset stops the timer and restores its power-on control state.
	Reset()
	Running() bool
	Mode() TimerMode
}

// Indicator is a visible single-bit status output, such as an LED.
type Indicator interface {
	Set(on bool)
}

// NopIndicator discards indicator updates.
type NopIndicator struct{}

func (NopIndicator) Set(bool) {}
