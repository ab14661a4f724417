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
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
)

const sendChunk = 256

// Sender is the host side of the protocol.
type Sender struct {
	rw io.ReadWriter
	// Progress, if set, is called after every chunk of payload is written.
	Progress func(sent, total int)
}

func NewSender(rw io.ReadWriter) *Sender {
	return &Sender{rw: rw}
}

// Send uploads data and returns the checksum the device computed. If it
// differs from the local one, the error is a fault.Integrity error.
// Bytes that arrive while an ack is expected are skipped, since the device
// may still be printing status when the session starts. If the link is a
// Resetter, whatever it already holds is discarded first, so that earlier
// console output is not taken for an ack.
func (s *Sender) Send(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, fault.Errorf(fault.InvalidSize, "nothing to send")
	}
	sum := integrity.Checksum(data)
	glog.V(1).Infof("sending %d bytes, crc 0x%08x", len(data), sum)

	if rs, ok := s.rw.(Resetter); ok {
		if err := rs.ResetTransport(); err != nil {
			return 0, fault.Wrap(fault.Transport, err, "failed to drain the link")
		}
	}

	if err := s.write(ctx, []byte{CmdReady}); err != nil {
		return 0, err
	}
	if err := s.expect(ctx, AckHandshake, true); err != nil {
		return 0, errors.Annotatef(err, "handshake")
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], uint32(len(data)))
	if err := s.write(ctx, w[:]); err != nil {
		return 0, err
	}
	if err := s.expect(ctx, AckSize, false); err != nil {
		return 0, errors.Annotatef(err, "size")
	}
	for off := 0; off < len(data); off += sendChunk {
		end := off + sendChunk
		if end > len(data) {
			end = len(data)
		}
		if err := s.write(ctx, data[off:end]); err != nil {
			return 0, err
		}
		if s.Progress != nil {
			s.Progress(end, len(data))
		}
	}
	msg := []byte{CmdChecksum, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(msg[1:], sum)
	if err := s.write(ctx, msg); err != nil {
		return 0, err
	}
	if err := s.expect(ctx, ReplyChecksum, false); err != nil {
		return 0, errors.Annotatef(err, "checksum")
	}
	if err := s.read(ctx, w[:]); err != nil {
		return 0, err
	}
	devSum := binary.LittleEndian.Uint32(w[:])
	if devSum != sum {
		return devSum, fault.Errorf(fault.Integrity, "checksum mismatch: host 0x%08x, device 0x%08x", sum, devSum)
	}
	return devSum, nil
}

func (s *Sender) write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	n, err := s.rw.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fault.Wrap(fault.Transport, err, "write")
	}
	return nil
}

// read fills b. Zero-length reads and io.EOF (how serial ports with a read
// timeout report an idle line) are retried until ctx is done.
func (s *Sender) read(ctx context.Context, b []byte) error {
	for got := 0; got < len(b); {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		n, err := s.rw.Read(b[got:])
		got += n
		if err != nil && (err != io.EOF || n == 0 && isClosed(s.rw)) {
			return fault.Wrap(fault.Transport, err, "read")
		}
	}
	return nil
}

func (s *Sender) expect(ctx context.Context, want byte, skip bool) error {
	var b [1]byte
	for {
		if err := s.read(ctx, b[:]); err != nil {
			return err
		}
		if b[0] == want {
			return nil
		}
		if !skip {
			return fault.Errorf(fault.Protocol, "expected 0x%02x, got 0x%02x", want, b[0])
		}
		glog.V(3).Infof("skipping 0x%02x", b[0])
	}
}

// closedReporter is implemented by links that can tell a timeout from a
// closed stream.
type closedReporter interface {
	Closed() bool
}

func isClosed(rw io.ReadWriter) bool {
	if c, ok := rw.(closedReporter); ok {
		return c.Closed()
	}
	return true
}
