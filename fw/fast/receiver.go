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

// Package fast implements the FAST upload protocol: a compact, in-order,
// single-module transfer over a byte-oriented serial link, with a CRC-32
// checksum exchange at the end.
//
// Host to device:
//
//	'R' | 'r'               ready
//	size   uint32 LE        after 'A'
//	payload [size]byte      after 'B'
//	'C' crc uint32 LE       host checksum
//
// Device to host:
//
//	'A'                     handshake ack
//	'B'                     size ack
//	'C' crc uint32 LE       device checksum, always sent in reply
package fast

import (
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/hal"
)

const (
	CmdReady      = 'R'
	CmdReadyAlt   = 'r'
	CmdChecksum   = 'C'
	AckHandshake  = 'A'
	AckSize       = 'B'
	ReplyChecksum = 'C'

	DefaultProgressEvery = 1024
)

// State is the progress of an upload session.
type State int

const (
	AwaitingHandshake State = iota
	AwaitingSize
	Streaming
	AwaitingChecksum
	Complete
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingHandshake:
		return "awaiting handshake"
	case AwaitingSize:
		return "awaiting size"
	case Streaming:
		return "streaming"
	case AwaitingChecksum:
		return "awaiting checksum"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Blob is a received module image and the checksum computed over it.
type Blob struct {
	Data     []byte
	Checksum uint32
}

func (b *Blob) Size() int { return len(b.Data) }

type ReceiverOpts struct {
	// MaxSize is the largest accepted declared size. Required.
	MaxSize uint32
	// Indicator is toggled as payload bytes arrive. Optional.
	Indicator hal.Indicator
	// ProgressEvery is the number of payload bytes per indicator toggle.
	ProgressEvery int
	// Quiet, if set, is held for the whole session.
	Quiet Quieter
	// Alloc obtains the receive buffer. Defaults to make.
	Alloc func(n int) ([]byte, error)
}

// Receiver is the device side of the protocol.
type Receiver struct {
	ch    Channel
	opts  ReceiverOpts
	state State
}

func NewReceiver(ch Channel, opts ReceiverOpts) *Receiver {
	if opts.Indicator == nil {
		opts.Indicator = hal.NopIndicator{}
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Alloc == nil {
		opts.Alloc = func(n int) ([]byte, error) { return make([]byte, n), nil }
	}
	return &Receiver{ch: ch, opts: opts}
}

// State returns the state the last session reached.
func (r *Receiver) State() State { return r.state }

// Receive runs one upload session. Nothing but protocol bytes is written to
// the channel between the ready command and the checksum reply; status is
// only logged once the session is over.
func (r *Receiver) Receive() (*Blob, error) {
	r.state = AwaitingHandshake
	buf, err := r.opts.Alloc(int(r.opts.MaxSize))
	if err != nil || len(buf) < int(r.opts.MaxSize) {
		r.state = Aborted
		if err == nil {
			err = errors.Errorf("short buffer: %d", len(buf))
		}
		return nil, fault.Wrap(fault.Resource, err, "no receive buffer for %d bytes", r.opts.MaxSize)
	}
	var blob *Blob
	func() {
		if r.opts.Quiet != nil {
			release := r.opts.Quiet.Quiet()
			defer release()
		}
		blob, err = r.session(buf)
	}()
	if err != nil {
		r.state = Aborted
		glog.Errorf("upload aborted: %s", err)
		return nil, err
	}
	r.state = Complete
	glog.V(1).Infof("received %d bytes, crc 0x%08x", blob.Size(), blob.Checksum)
	return blob, nil
}

func (r *Receiver) session(buf []byte) (*Blob, error) {
	for {
		b, err := r.ch.ReadByte()
		if err != nil {
			return nil, transportErr(err)
		}
		if b == CmdReady || b == CmdReadyAlt {
			break
		}
	}
	if err := r.ch.WriteByte(AckHandshake); err != nil {
		return nil, transportErr(err)
	}

	r.state = AwaitingSize
	size, err := r.readWord()
	if err != nil {
		return nil, err
	}
	if err := r.ch.WriteByte(AckSize); err != nil {
		return nil, transportErr(err)
	}
	if size == 0 || size > r.opts.MaxSize {
		return nil, fault.Errorf(fault.InvalidSize, "declared size %d, max %d", size, r.opts.MaxSize)
	}

	r.state = Streaming
	data := buf[:size]
	led := false
	for i := range data {
		b, err := r.ch.ReadByte()
		if err != nil {
			return nil, transportErr(err)
		}
		data[i] = b
		if (i+1)%r.opts.ProgressEvery == 0 {
			led = !led
			r.opts.Indicator.Set(led)
		}
	}
	sum := integrity.Checksum(data)

	r.state = AwaitingChecksum
	cmd, err := r.ch.ReadByte()
	if err != nil {
		return nil, transportErr(err)
	}
	if cmd != CmdChecksum {
		return nil, fault.Errorf(fault.Protocol, "expected checksum command, got 0x%02x", cmd)
	}
	declared, err := r.readWord()
	if err != nil {
		return nil, err
	}
	if err := r.writeReply(sum); err != nil {
		return nil, err
	}
	if declared != sum {
		return nil, fault.Errorf(fault.Integrity, "checksum mismatch: host 0x%08x, device 0x%08x", declared, sum)
	}
	return &Blob{Data: data, Checksum: sum}, nil
}

func (r *Receiver) readWord() (uint32, error) {
	var w [4]byte
	for i := range w {
		b, err := r.ch.ReadByte()
		if err != nil {
			return 0, transportErr(err)
		}
		w[i] = b
	}
	return binary.LittleEndian.Uint32(w[:]), nil
}

func (r *Receiver) writeReply(sum uint32) error {
	var w [5]byte
	w[0] = ReplyChecksum
	binary.LittleEndian.PutUint32(w[1:], sum)
	for _, b := range w {
		if err := r.ch.WriteByte(b); err != nil {
			return transportErr(err)
		}
	}
	return nil
}

func transportErr(err error) error {
	return fault.Wrap(fault.Transport, err, "link error")
}
