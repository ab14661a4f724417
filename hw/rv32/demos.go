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
	"sort"
)

// Demo modules, used for smoke testing a board and by mkmod.
var demos = map[string]func() []byte{
	"return": DemoReturn,
	"spin":   DemoSpin,
	"blink":  func() []byte { return DemoBlink(8) },
	"timer":  DemoTimer,
	"hello":  func() []byte { return DemoHello("hello from module\n") },
}

// Demo returns the named demo module, or nil.
func Demo(name string) []byte {
	if f, ok := demos[name]; ok {
		return f()
	}
	return nil
}

// DemoNames returns the names of the demo modules, sorted.
func DemoNames() []string {
	var names []string
	for n := range demos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DemoReturn returns immediately.
func DemoReturn() []byte {
	return new(Program).RET().Bytes()
}

// DemoSpin never returns.
func DemoSpin() []byte {
	return new(Program).J(0).Bytes()
}

// DemoBlink toggles the LED n times and returns.
func DemoBlink(n int) []byte {
	p := new(Program)
	p.LI(T0, RegLED)
	p.LI(T1, uint32(n))
	p.ADDI(T2, Zero, 0)
	p.XORI(T2, T2, 1)
	p.SW(T2, T0, 0)
	p.ADDI(T1, T1, -1)
	p.BNE(T1, Zero, -12)
	p.RET()
	return p.Bytes()
}

// DemoTimer starts the timer in periodic mode for its own use, spins for a
// while, returns the countdown value in a0 and leaves the timer running.
func DemoTimer() []byte {
	p := new(Program)
	p.LI(T0, MMIOBase)
	p.LI(T1, 1000)
	p.SW(T1, T0, RegTimerLoad-MMIOBase)
	p.ADDI(T1, Zero, TimerCtrlRun)
	p.SW(T1, T0, RegTimerCtrl-MMIOBase)
	p.ADDI(T2, Zero, 100)
	p.ADDI(T2, T2, -1)
	p.BNE(T2, Zero, -4)
	p.LW(A0, T0, RegTimerCount-MMIOBase)
	p.RET()
	return p.Bytes()
}

// DemoHello writes s to the UART and returns.
func DemoHello(s string) []byte {
	p := new(Program)
	p.LI(T0, MMIOBase)
	for i := 0; i < len(s); i++ {
		p.ADDI(T1, Zero, int32(s[i]))
		p.SW(T1, T0, RegUARTTx-MMIOBase)
	}
	p.RET()
	return p.Bytes()
}
