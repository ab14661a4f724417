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

// Package integrity computes the 32-bit CRC used end to end to confirm that
// a module survived the serial link and storage unmodified.
//
// The checksum is the reflected CRC-32 with polynomial 0xEDB88320, initial
// accumulator 0xFFFFFFFF and a final one's complement. The 256-entry table is
// built on first use and shared by every caller.
package integrity

import (
	"hash/crc32"
	"io"
	"sync"

	"github.com/juju/errors"
)

const (
	Polynomial = 0xEDB88320

	// chunk used when checksumming through a ReaderAt.
	readChunk = 4096
)

var (
	tableOnce sync.Once
	table     *crc32.Table
)

func crcTable() *crc32.Table {
	tableOnce.Do(func() {
		table = crc32.MakeTable(Polynomial)
	})
	return table
}

// Checksum returns the checksum of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable())
}

// Update continues a running checksum. Update(0, a) followed by Update(sum, b)
// equals Checksum(a+b).
func Update(sum uint32, data []byte) uint32 {
	return crc32.Update(sum, crcTable(), data)
}

// ChecksumAt computes the checksum of n bytes of r starting at off, reading
// in fixed chunks. It is used to verify data that lives in device memory or
// storage rather than in a Go slice.
func ChecksumAt(r io.ReaderAt, off int64, n int64) (uint32, error) {
	var sum uint32
	buf := make([]byte, readChunk)
	for n > 0 {
		l := int64(len(buf))
		if l > n {
			l = n
		}
		rn, err := r.ReadAt(buf[:l], off)
		if int64(rn) != l {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return 0, errors.Annotatef(err, "read %d @ 0x%x", l, off)
		}
		sum = Update(sum, buf[:l])
		off += l
		n -= l
	}
	return sum, nil
}
