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
package main

import (
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/cli/flags"
	"github.com/mongoose-os/fastload/fw/fast"
)

const (
	tcpPrefix = "tcp://"

	interCharacterTimeout = 100 * time.Millisecond
	// drainQuietPeriod is how long the line has to stay silent before a
	// reset is complete.
	drainQuietPeriod = 3 * interCharacterTimeout
)

// link is the byte stream between the host and the device.
type link interface {
	io.ReadWriteCloser
	fast.Resetter
	String() string
}

// openLink opens the link named by port: a serial port, or tcp://host:port.
// With listen set, a TCP link waits for the peer to connect instead of
// dialing it.
func openLink(ctx context.Context, port string, listen bool) (link, error) {
	if port == "" {
		return nil, errors.Errorf("--port is required")
	}
	if strings.HasPrefix(port, tcpPrefix) {
		addr := strings.TrimPrefix(port, tcpPrefix)
		if listen {
			return listenTCP(ctx, addr)
		}
		return dialTCP(ctx, addr)
	}
	return openSerial(port, *flags.BaudRate, *flags.HWFC)
}

type serialLink struct {
	name   string
	s      serial.Serial
	closed int32
}

func openSerial(name string, baudRate int, hwfc bool) (*serialLink, error) {
	glog.Infof("Opening %s...", name)
	oo := serial.OpenOptions{
		PortName:              name,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		HardwareFlowControl:   hwfc,
		InterCharacterTimeout: uint(interCharacterTimeout / time.Millisecond),
		MinimumReadSize:       0,
	}
	s, err := serial.Open(oo)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", name)
	}
	s.SetDTR(false)
	s.SetRTS(false)
	// Flush any data that might be not yet read
	s.Flush()
	return &serialLink{name: name, s: s}, nil
}

// Read returns no data and no error when the inter-character timeout
// expires with nothing received.
func (l *serialLink) Read(b []byte) (int, error) {
	n, err := l.s.Read(b)
	if err == io.EOF && !l.Closed() {
		return n, nil
	}
	return n, err
}

func (l *serialLink) Write(b []byte) (int, error) {
	return l.s.Write(b)
}

func (l *serialLink) Close() error {
	atomic.StoreInt32(&l.closed, 1)
	return l.s.Close()
}

func (l *serialLink) Closed() bool {
	return atomic.LoadInt32(&l.closed) != 0
}

// ResetTransport discards input until the line goes quiet.
func (l *serialLink) ResetTransport() error {
	n, err := fast.DrainIdle(context.Background(), l, drainQuietPeriod)
	glog.V(1).Infof("%s: discarded %d bytes", l.name, n)
	l.s.Flush()
	return errors.Trace(err)
}

func (l *serialLink) String() string { return l.name }

type tcpLink struct {
	net.Conn
	// deadline is the read deadline outside of resets.
	deadline time.Time
}

func (l *tcpLink) SetDeadline(t time.Time) error {
	l.deadline = t
	return l.Conn.SetDeadline(t)
}

func (l *tcpLink) SetReadDeadline(t time.Time) error {
	l.deadline = t
	return l.Conn.SetReadDeadline(t)
}

func dialTCP(ctx context.Context, addr string) (*tcpLink, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.Infof("connected to %s", c.RemoteAddr())
	return &tcpLink{Conn: c}, nil
}

// listenTCP accepts a single connection on addr.
func listenTCP(ctx context.Context, addr string) (*tcpLink, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer l.Close()
	glog.Infof("waiting for a connection on %s", l.Addr())
	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Trace(r.err)
		}
		glog.Infof("connection from %s", r.c.RemoteAddr())
		return &tcpLink{Conn: r.c}, nil
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

// idleReader turns a read timeout into an empty read.
type idleReader struct {
	c net.Conn
}

func (r idleReader) Read(b []byte) (int, error) {
	r.c.SetReadDeadline(time.Now().Add(interCharacterTimeout))
	n, err := r.c.Read(b)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (l *tcpLink) ResetTransport() error {
	defer l.Conn.SetReadDeadline(l.deadline)
	n, err := fast.DrainIdle(context.Background(), idleReader{l.Conn}, drainQuietPeriod)
	glog.V(1).Infof("%s: discarded %d bytes", l, n)
	return errors.Trace(err)
}

func (l *tcpLink) String() string {
	return tcpPrefix + l.RemoteAddr().String()
}
