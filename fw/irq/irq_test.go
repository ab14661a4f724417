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
package irq

import (
	"testing"

	"github.com/juju/errors"
)

func TestMaskedRestores(t *testing.T) {
	for i, initial := range []Source{None, Timer, All, Timer | UART} {
		c := &Discard{}
		c.Enable(initial)
		var inside Source
		err := Masked(c, StorageUnsafe, func() error {
			inside = c.Enabled()
			return errors.Errorf("boom")
		})
		if err == nil || err.Error() != "boom" {
			t.Errorf("%d: error not propagated: %v", i, err)
		}
		if inside&StorageUnsafe != 0 {
			t.Errorf("%d: %s enabled inside storage op", i, inside)
		}
		if got, want := c.Enabled(), initial; got != want {
			t.Errorf("%d: got: %s, want: %s", i, got, want)
		}
	}
}

func TestMaskedRestoresOnPanic(t *testing.T) {
	c := &Discard{}
	c.Enable(Timer)
	func() {
		defer func() { recover() }()
		Masked(c, All, func() error { panic("x") })
	}()
	if got, want := c.Enabled(), Timer; got != want {
		t.Errorf("got: %s, want: %s", got, want)
	}
}

func TestSourceString(t *testing.T) {
	for _, c := range []struct {
		s    Source
		want string
	}{
		{None, "none"},
		{Timer, "timer"},
		{All, "timer|uart|storage|ext"},
		{Timer | 0x100, "timer|0x100"},
	} {
		if got := c.s.String(); got != c.want {
			t.Errorf("got: %q, want: %q", got, c.want)
		}
	}
}
