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
package integrity

import (
	"bytes"
	"testing"
)

func TestChecksumVectors(t *testing.T) {
	for i, c := range []struct {
		data string
		sum  uint32
	}{
		{"", 0},
		{"123456789", 0xCBF43926},
		{"\xde\xad\xbe\xef", 0x7C9CA35A},
		{"a", 0xE8B7BE43},
		{"The quick brown fox jumps over the lazy dog", 0x414FA339},
	} {
		if got, want := Checksum([]byte(c.data)), c.sum; got != want {
			t.Errorf("%d %q: got: 0x%08x, want: 0x%08x", i, c.data, got, want)
		}
	}
}

func TestUpdateIsIncremental(t *testing.T) {
	data := []byte("123456789")
	for split := 0; split <= len(data); split++ {
		sum := Update(Update(0, data[:split]), data[split:])
		if sum != 0xCBF43926 {
			t.Errorf("split %d: got: 0x%08x", split, sum)
		}
	}
}

func TestChecksumAt(t *testing.T) {
	data := make([]byte, 3*readChunk+17)
	for i := range data {
		data[i] = byte(i * 7)
	}
	r := bytes.NewReader(data)
	for _, c := range []struct{ off, n int64 }{
		{0, int64(len(data))},
		{5, 100},
		{readChunk - 1, readChunk + 2},
		{int64(len(data)), 0},
	} {
		got, err := ChecksumAt(r, c.off, c.n)
		if err != nil {
			t.Fatalf("%d/%d: %s", c.off, c.n, err)
		}
		if want := Checksum(data[c.off : c.off+c.n]); got != want {
			t.Errorf("%d/%d: got: 0x%08x, want: 0x%08x", c.off, c.n, got, want)
		}
	}
	if _, err := ChecksumAt(r, int64(len(data))-1, 2); err == nil {
		t.Errorf("short read must fail")
	}
}
