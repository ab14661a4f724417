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
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/fastload/fw/hal"
	"github.com/mongoose-os/fastload/fw/irq"
)

const testBase = 0x1000

func load(t *testing.T, m *Machine, code []byte) {
	t.Helper()
	_, err := m.Memory().WriteAt(code, testBase)
	require.NoError(t, err)
}

func TestReturn(t *testing.T) {
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, DemoReturn())
	exit, err := m.Call(context.Background(), testBase, nil)
	require.NoError(t, err)
	assert.Equal(t, hal.Returned, exit)
	assert.Equal(t, uint64(1), m.Cycles())
}

func TestArithmetic(t *testing.T) {
	p := new(Program)
	p.LI(A0, 0x12345678)
	p.LI(A1, 0xFFFFF800)
	p.ADD(A2, A0, A1)
	p.SUB(A3, A0, A1)
	p.SRAI(A4, A1, 4)
	p.SRLI(A5, A1, 4)
	p.SLLI(A6, A0, 4)
	p.SLTU(A7, A0, A1)
	p.RET()
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, p.Bytes())
	_, err := m.Call(context.Background(), testBase, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), m.X[A0])
	assert.Equal(t, uint32(0xFFFFF800), m.X[A1])
	assert.Equal(t, uint32(0x12344E78), m.X[A2])
	assert.Equal(t, uint32(0x12345E78), m.X[A3])
	assert.Equal(t, uint32(0xFFFFFF80), m.X[A4])
	assert.Equal(t, uint32(0x0FFFFF80), m.X[A5])
	assert.Equal(t, uint32(0x23456780), m.X[A6])
	assert.Equal(t, uint32(1), m.X[A7])
}

func TestLoadStore(t *testing.T) {
	p := new(Program)
	p.LI(T0, 0x8000)
	p.LI(T1, 0x80FF)
	p.SW(T1, T0, 0)
	p.LB(A0, T0, 0)
	p.LBU(A1, T0, 0)
	p.LW(A2, T0, 0)
	p.SB(T1, T0, 5)
	p.LW(A3, T0, 4)
	p.RET()
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, p.Bytes())
	_, err := m.Call(context.Background(), testBase, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), m.X[A0])
	assert.Equal(t, uint32(0xFF), m.X[A1])
	assert.Equal(t, uint32(0x80FF), m.X[A2])
	assert.Equal(t, uint32(0xFF00), m.X[A3])
}

func TestBranchesAndCalls(t *testing.T) {
	// sum 1..10 in a subroutine
	p := new(Program)
	p.ADDI(S0, RA, 0)
	p.JAL(RA, 12)
	p.ADDI(RA, S0, 0)
	p.RET()
	// sum:
	p.ADDI(A0, Zero, 0)
	p.ADDI(T0, Zero, 10)
	p.ADD(A0, A0, T0)
	p.ADDI(T0, T0, -1)
	p.BNE(T0, Zero, -8)
	p.RET()
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, p.Bytes())
	exit, err := m.Call(context.Background(), testBase, nil)
	require.NoError(t, err)
	assert.Equal(t, hal.Returned, exit)
	assert.Equal(t, uint32(55), m.X[A0])
}

func TestFaults(t *testing.T) {
	for i, c := range []struct {
		code  []byte
		cause error
	}{
		{new(Program).ECALL().Bytes(), ErrEnvCall},
		{new(Program).Word(0xFFFFFFFF).Bytes(), ErrIllegalInstruction},
		{new(Program).LI(T0, 0x20000000).LW(A0, T0, 0).Bytes(), ErrBus},
		{new(Program).J(2).Bytes(), ErrMisaligned},
	} {
		m := New(Config{RAMSize: 64 * 1024})
		load(t, m, c.code)
		_, err := m.Call(context.Background(), testBase, nil)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, c.cause, errors.Cause(err), "case %d: %s", i, err)
	}
}

func TestTimerTrapAborts(t *testing.T) {
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, DemoSpin())
	m.IRQ().Enable(irq.Timer)
	m.Timer().Start(hal.OneShot, 100)
	var tf *hal.TrapFrame
	exit, err := m.Call(context.Background(), testBase, func(f *hal.TrapFrame) hal.TrapAction {
		tf = f
		return hal.Abort
	})
	require.NoError(t, err)
	assert.Equal(t, hal.Aborted, exit)
	require.NotNil(t, tf)
	assert.Equal(t, uint32(testBase), tf.PC)
	assert.Equal(t, uint64(100), tf.Cycle)
	assert.Equal(t, uint32(irq.Timer), tf.IntMask)
	assert.Equal(t, uint32(ReturnAddr), tf.X[RA])
	assert.False(t, m.Timer().Running())
	assert.Equal(t, hal.OneShot, m.Timer().Mode())
}

func TestTimerMaskedDoesNotTrap(t *testing.T) {
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, DemoBlink(4))
	m.Timer().Start(hal.Periodic, 2)
	traps := 0
	_, err := m.Call(context.Background(), testBase, func(*hal.TrapFrame) hal.TrapAction {
		traps++
		return hal.Resume
	})
	require.NoError(t, err)
	assert.Equal(t, 0, traps)
	assert.Equal(t, 4, m.LED().Toggles())

	m.IRQ().Enable(irq.Timer)
	m.Timer().Start(hal.Periodic, 2)
	_, err = m.Call(context.Background(), testBase, func(*hal.TrapFrame) hal.TrapAction {
		traps++
		return hal.Resume
	})
	require.NoError(t, err)
	assert.True(t, traps > 3, "traps: %d", traps)
}

func TestModuleUsesTimer(t *testing.T) {
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, DemoTimer())
	_, err := m.Call(context.Background(), testBase, nil)
	require.NoError(t, err)
	assert.True(t, m.Timer().Running())
	assert.Equal(t, hal.Periodic, m.Timer().Mode())
	assert.True(t, m.X[A0] < 1000 && m.X[A0] > 700, "count %d", m.X[A0])
}

func TestUART(t *testing.T) {
	var out bytes.Buffer
	m := New(Config{RAMSize: 64 * 1024, Console: &out})
	load(t, m, DemoHello("hi!"))
	_, err := m.Call(context.Background(), testBase, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi!", out.String())
}

func TestCallCancel(t *testing.T) {
	m := New(Config{RAMSize: 64 * 1024})
	load(t, m, DemoSpin())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	exit, err := m.Call(ctx, testBase, nil)
	assert.Equal(t, hal.Aborted, exit)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
}

func TestMemoryBounds(t *testing.T) {
	m := New(Config{RAMSize: 1024})
	buf := make([]byte, 16)
	_, err := m.Memory().ReadAt(buf, 1020)
	assert.Error(t, err)
	_, err = m.Memory().WriteAt(buf, 1020)
	assert.Error(t, err)
	_, err = m.Memory().WriteAt(buf, 1008)
	assert.NoError(t, err)
}

func TestMappedRAM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ram.img")
	r, err := MapRAM(path, 64*1024)
	require.NoError(t, err)
	m := New(Config{RAM: r.Bytes()})
	load(t, m, DemoBlink(2))
	require.NoError(t, r.Close())

	r, err = MapRAM(path, 64*1024)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, DemoBlink(2), r.Bytes()[testBase:testBase+len(DemoBlink(2))])
}
