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

// Package irq models the interrupt enable mask and the masking discipline
// around storage operations.
package irq

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// Source is a set of maskable interrupt sources.
type Source uint32

const (
	Timer Source = 1 << iota
	UART
	Storage
	External

	None Source = 0
	All         = Timer | UART | Storage | External

	// StorageUnsafe are the sources that must not preempt a storage
	// operation. Block transfers are timing sensitive, so this is all of them.
	StorageUnsafe = All
)

func (s Source) String() string {
	if s == None {
		return "none"
	}
	var names []string
	for _, n := range []struct {
		s    Source
		name string
	}{{Timer, "timer"}, {UART, "uart"}, {Storage, "storage"}, {External, "ext"}} {
		if s&n.s != 0 {
			names = append(names, n.name)
			s &^= n.s
		}
	}
	if s != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(s)))
	}
	return strings.Join(names, "|")
}

// Controller enables and disables interrupt sources.
type Controller interface {
	// Enable unmasks the given sources.
	Enable(s Source)
	// Disable masks the given sources and returns the set that was enabled
	// before the call.
	Disable(s Source) Source
	// Enabled returns the currently unmasked sources.
	Enabled() Source
}

// Masked runs fn with the sources in s masked and restores the previous
// mask afterwards, even if fn panics. Storage code runs only through here.
func Masked(c Controller, s Source, fn func() error) error {
	prev := c.Disable(s)
	if prev&s != 0 {
		glog.V(3).Infof("irq: masked %s for storage op", prev&s)
	}
	defer c.Enable(prev & s)
	return fn()
}

// Discard is a Controller for hosts without interrupts. It only tracks the mask.
type Discard struct {
	mask Source
}

func (d *Discard) Enable(s Source) { d.mask |= s }

func (d *Discard) Disable(s Source) Source {
	prev := d.mask
	d.mask &^= s
	return prev
}

func (d *Discard) Enabled() Source { return d.mask }
