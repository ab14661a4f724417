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

// Package loader places verified modules into the execution window.
//
// The window is a single fixed region of device memory. Loading a module
// supersedes whatever was there; there is only ever one resident module.
// Modules are flat binaries entered at offset 0 with no arguments.
package loader

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/hal"
)

// Window is the fixed execution region.
type Window struct {
	Base uint32
	Size uint32
}

func (w Window) String() string {
	return fmt.Sprintf("0x%08x-0x%08x", w.Base, w.Base+w.Size)
}

// Contains reports whether addr lies inside the window.
func (w Window) Contains(addr uint32) bool {
	return addr >= w.Base && addr-w.Base < w.Size
}

// Handle is a resident module.
type Handle struct {
	Name     string
	Entry    uint32
	Size     uint32
	Checksum uint32
}

func (h *Handle) String() string {
	name := h.Name
	if name == "" {
		name = "<upload>"
	}
	return fmt.Sprintf("%s @ 0x%08x, %d bytes, crc 0x%08x", name, h.Entry, h.Size, h.Checksum)
}

// Source provides stored modules by name.
type Source interface {
	Open(name string) ([]byte, error)
}

type Loader struct {
	mem hal.Memory
	win Window
	// current is the resident module, nil until the first successful load.
	current *Handle
}

func New(mem hal.Memory, win Window) *Loader {
	return &Loader{mem: mem, win: win}
}

func (l *Loader) Window() Window { return l.win }

// Current returns the resident module, or nil.
func (l *Loader) Current() *Handle { return l.current }

// Load copies data into the window and checks the resident copy against
// sum, the checksum recorded when data was verified.
func (l *Loader) Load(data []byte, sum uint32) (*Handle, error) {
	return l.load("", data, sum)
}

// LoadNamed loads a stored module. Its checksum is taken from the content
// as read.
func (l *Loader) LoadNamed(src Source, name string) (*Handle, error) {
	data, err := src.Open(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return l.load(name, data, integrity.Checksum(data))
}

// LoadStored loads a stored module and checks the resident copy against
// sum, the checksum the module had when it was verified on upload. This
// catches corruption between storing and loading.
func (l *Loader) LoadStored(src Source, name string, sum uint32) (*Handle, error) {
	data, err := src.Open(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return l.load(name, data, sum)
}

func (l *Loader) load(name string, data []byte, sum uint32) (*Handle, error) {
	if len(data) == 0 {
		return nil, fault.Errorf(fault.Loader, "empty module")
	}
	if uint64(len(data)) > uint64(l.win.Size) {
		return nil, fault.Errorf(fault.Loader, "module is %d bytes, window %s holds %d", len(data), l.win, l.win.Size)
	}
	// Whatever was resident is gone from here on.
	l.current = nil
	if _, err := l.mem.WriteAt(data, int64(l.win.Base)); err != nil {
		return nil, fault.Wrap(fault.Loader, err, "failed to copy module to %s", l.win)
	}
	got, err := integrity.ChecksumAt(l.mem, int64(l.win.Base), int64(len(data)))
	if err != nil {
		return nil, fault.Wrap(fault.Loader, err, "failed to read back module")
	}
	if got != sum {
		return nil, fault.Errorf(fault.Loader, "resident copy crc 0x%08x, expected 0x%08x", got, sum)
	}
	h := &Handle{Name: name, Entry: l.win.Base, Size: uint32(len(data)), Checksum: sum}
	l.current = h
	glog.Infof("loaded %s", h)
	return h, nil
}
