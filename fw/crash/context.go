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

// Package crash captures, reports and persists the machine state of a module
// that was stopped by the watchdog, and parks the device afterwards.
package crash

import (
	"time"

	"github.com/mongoose-os/fastload/fw/hal"
)

// Module identifies the module that was running.
type Module struct {
	Name     string `json:"name,omitempty"`
	Base     uint32 `json:"base"`
	Size     uint32 `json:"size"`
	Checksum uint32 `json:"crc"`
}

// Context is the snapshot taken when the watchdog fires. It has a single
// producer, the trap path, and a single consumer, the reporter.
type Context struct {
	Regs    [hal.NumRegs]uint32 `json:"regs"`
	PC      uint32              `json:"pc"`
	IntMask uint32              `json:"int_mask"`
	// Cycle is the retired instruction count at the time of the trap.
	Cycle    uint64    `json:"cycle"`
	Deadline uint32    `json:"deadline"`
	Module   Module    `json:"module"`
	Time     time.Time `json:"time"`
}

// Capture builds a Context from a trap frame. The frame itself was filled
// by the trap entry stub before any handler code ran.
func Capture(tf *hal.TrapFrame, m Module, deadline uint32) *Context {
	return &Context{
		Regs:     tf.X,
		PC:       tf.PC,
		IntMask:  tf.IntMask,
		Cycle:    tf.Cycle,
		Deadline: deadline,
		Module:   m,
		Time:     time.Now().UTC(),
	}
}

// InModule reports whether the captured PC is inside the module.
func (c *Context) InModule() bool {
	return c.PC >= c.Module.Base && c.PC-c.Module.Base < c.Module.Size
}

// SP returns the captured stack pointer.
func (c *Context) SP() uint32 { return c.Regs[2] }

// RegNames are the ABI names of the general purpose registers.
var RegNames = [hal.NumRegs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// regGroups orders registers by role for the report.
var regGroups = []struct {
	title string
	regs  []int
}{
	{"pointers", []int{1, 2, 3, 4}},
	{"saved", []int{8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27}},
	{"arguments", []int{10, 11, 12, 13, 14, 15, 16, 17}},
	{"temporaries", []int{5, 6, 7, 28, 29, 30, 31}},
}
