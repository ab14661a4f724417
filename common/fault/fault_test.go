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
package fault

import (
	"io"
	"testing"

	"github.com/juju/errors"
)

func TestKindOf(t *testing.T) {
	base := Errorf(Integrity, "checksum 0x%08x != 0x%08x", 1, 2)
	for i, c := range []struct {
		err  error
		kind Kind
	}{
		{nil, OK},
		{base, Integrity},
		{errors.Trace(base), Integrity},
		{errors.Annotatef(errors.Trace(base), "upload"), Integrity},
		{Wrap(Storage, io.ErrShortWrite, "write %q", "a.mod"), Storage},
		{errors.Trace(Wrap(Transport, io.EOF, "read")), Transport},
		{io.EOF, Unknown},
		{errors.Errorf("plain"), Unknown},
	} {
		if got, want := KindOf(c.err), c.kind; got != want {
			t.Errorf("%d: got: %s, want: %s", i, got, want)
		}
	}
}

func TestMessages(t *testing.T) {
	err := Wrap(Storage, io.ErrShortWrite, "write %q", "a.mod")
	if got, want := err.Error(), `write "a.mod": short write`; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	err = errors.Annotatef(Errorf(InvalidSize, "size %d", 0), "upload")
	if got, want := err.Error(), "upload: size 0"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if !Is(err, InvalidSize) || Is(err, Protocol) {
		t.Errorf("Is misclassified %v", err)
	}
}
