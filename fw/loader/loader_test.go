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
package loader

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/catalog"
	"github.com/mongoose-os/fastload/fw/hal"
	"github.com/mongoose-os/fastload/hw/rv32"
)

var testWindow = Window{Base: 0x4000, Size: 0x1000}

func newLoader() (*Loader, hal.Memory) {
	m := rv32.New(rv32.Config{RAMSize: 64 * 1024})
	return New(m.Memory(), testWindow), m.Memory()
}

// stuckBit memory forces bit 0 of one address to 1.
type stuckBit struct {
	hal.Memory
	addr int64
}

func (s stuckBit) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.Memory.ReadAt(p, off)
	if s.addr >= off && s.addr < off+int64(n) {
		p[s.addr-off] |= 1
	}
	return n, err
}

func TestLoad(t *testing.T) {
	l, mem := newLoader()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	h, err := l.Load(data, 0x7C9CA35A)
	require.NoError(t, err)
	assert.Equal(t, &Handle{Entry: 0x4000, Size: 4, Checksum: 0x7C9CA35A}, h)
	assert.Equal(t, h, l.Current())
	buf := make([]byte, 4)
	_, err = mem.ReadAt(buf, 0x4000)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func TestLoadFullWindow(t *testing.T) {
	l, _ := newLoader()
	data := make([]byte, testWindow.Size)
	_, err := l.Load(data, integrity.Checksum(data))
	require.NoError(t, err)

	_, err = l.Load(make([]byte, testWindow.Size+1), 0)
	require.Error(t, err)
	assert.Equal(t, fault.Loader, fault.KindOf(err))
	_, err = l.Load(nil, 0)
	assert.Equal(t, fault.Loader, fault.KindOf(err))
}

func TestLoadSupersedes(t *testing.T) {
	l, mem := newLoader()
	a := []byte("module A is the longer of the two")
	b := []byte("module B")
	_, err := l.Load(a, integrity.Checksum(a))
	require.NoError(t, err)
	h, err := l.Load(b, integrity.Checksum(b))
	require.NoError(t, err)
	sum, err := integrity.ChecksumAt(mem, int64(h.Entry), int64(h.Size))
	require.NoError(t, err)
	assert.Equal(t, integrity.Checksum(b), sum)
	assert.Equal(t, h, l.Current())
}

func TestLoadResidentMismatch(t *testing.T) {
	m := rv32.New(rv32.Config{RAMSize: 64 * 1024})
	l := New(stuckBit{Memory: m.Memory(), addr: 0x4002}, testWindow)
	data := []byte{0, 0, 0, 0}
	_, err := l.Load(data, integrity.Checksum(data))
	require.Error(t, err)
	assert.Equal(t, fault.Loader, fault.KindOf(err))
	assert.Nil(t, l.Current())

	// Wrong recorded checksum.
	l = New(m.Memory(), testWindow)
	_, err = l.Load(data, 1)
	assert.Equal(t, fault.Loader, fault.KindOf(err))
}

func TestLoadOutsideMemory(t *testing.T) {
	m := rv32.New(rv32.Config{RAMSize: 0x4800})
	l := New(m.Memory(), testWindow)
	_, err := l.Load(make([]byte, 0x1000), 0)
	require.Error(t, err)
	assert.Equal(t, fault.Loader, fault.KindOf(err))
}

func TestLoadNamed(t *testing.T) {
	c := catalog.New(catalog.NewMemFS(), nil)
	_, err := c.Store("dead", []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	l, _ := newLoader()
	h, err := l.LoadNamed(c, "dead")
	require.NoError(t, err)
	assert.Equal(t, "dead", h.Name)
	assert.Equal(t, uint32(0x7C9CA35A), h.Checksum)

	_, err = l.LoadNamed(c, "missing")
	require.Error(t, err)
	assert.Equal(t, fault.Storage, fault.KindOf(err))
	assert.NotNil(t, errors.Cause(err))
}

func TestLoadStoredCorrupted(t *testing.T) {
	fs := catalog.NewMemFS()
	c := catalog.New(fs, nil)
	data := []byte("stored module")
	_, err := c.Store("m", data)
	require.NoError(t, err)
	l, _ := newLoader()
	_, err = l.LoadStored(c, "m", integrity.Checksum(data))
	require.NoError(t, err)

	// Bit rot after storing.
	require.NoError(t, fs.WriteFile("modules/m.mod", []byte("stored modulE")))
	_, err = l.LoadStored(c, "m", integrity.Checksum(data))
	require.Error(t, err)
	assert.Equal(t, fault.Loader, fault.KindOf(err))
}

func TestWindow(t *testing.T) {
	for _, c := range []struct {
		addr uint32
		in   bool
	}{
		{0x3FFF, false}, {0x4000, true}, {0x4FFF, true}, {0x5000, false}, {0, false},
	} {
		if got := testWindow.Contains(c.addr); got != c.in {
			t.Errorf("0x%x: got: %t, want: %t", c.addr, got, c.in)
		}
	}
}
