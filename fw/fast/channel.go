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
package fast

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
)

// Channel is a byte-at-a-time serial link. Reads block until a byte arrives;
// there is no timeout at this level.
type Channel interface {
	ReadByte() (byte, error)
	WriteByte(b byte) error
}

// Resetter is implemented by channels that can discard everything in
// flight, returning the link to a known idle state.
type Resetter interface {
	ResetTransport() error
}

// Quieter suppresses diagnostic output that shares the wire with the
// transport. Quiet returns a function that ends the quiet period.
type Quieter interface {
	Quiet() (release func())
}

type rwChannel struct {
	rw  io.ReadWriter
	buf [1]byte
}

// NewChannel returns a Channel on top of rw. Zero-length reads are retried,
// matching a busy-wait on a receive-ready flag.
func NewChannel(rw io.ReadWriter) Channel {
	return &rwChannel{rw: rw}
}

func (c *rwChannel) ReadByte() (byte, error) {
	for {
		n, err := c.rw.Read(c.buf[:])
		if n == 1 {
			return c.buf[0], nil
		}
		if err != nil {
			return 0, errors.Trace(err)
		}
	}
}

func (c *rwChannel) WriteByte(b byte) error {
	c.buf[0] = b
	n, err := c.rw.Write(c.buf[:])
	if err == nil && n != 1 {
		err = io.ErrShortWrite
	}
	return errors.Trace(err)
}

// ResetTransport reads and discards input until the line has been idle for
// quietPeriod, if the underlying link reports idleness as a zero-length read
// (serial ports opened with an inter-character timeout do). For other links
// it is a no-op.
func (c *rwChannel) ResetTransport() error {
	if r, ok := c.rw.(Resetter); ok {
		return errors.Trace(r.ResetTransport())
	}
	return nil
}

// DrainIdle reads from r until a read returns no data, discarding it.
// It returns the number of bytes discarded.
func DrainIdle(ctx context.Context, r io.Reader, quietPeriod time.Duration) (int, error) {
	buf := make([]byte, 256)
	total := 0
	idleSince := time.Now()
	for time.Since(idleSince) < quietPeriod {
		select {
		case <-ctx.Done():
			return total, errors.Trace(ctx.Err())
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			total += n
			idleSince = time.Now()
			continue
		}
		if err != nil && err != io.EOF {
			return total, errors.Trace(err)
		}
	}
	return total, nil
}
