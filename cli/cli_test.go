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
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mongoose-os/fastload/cli/config"
	"github.com/mongoose-os/fastload/cli/ourutil"
	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/fw/catalog"
	"github.com/mongoose-os/fastload/fw/device"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/hw/rv32"
)

func TestTCPLinkReset(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	l := &tcpLink{Conn: dev}
	defer l.Close()

	dl := time.Now().Add(time.Minute)
	require.NoError(t, l.SetReadDeadline(dl))
	reset := make(chan struct{})
	go func() {
		host.Write([]byte("rest of a rejected upload"))
		<-reset
		host.Write([]byte("R"))
	}()
	require.NoError(t, l.ResetTransport())
	close(reset)
	assert.Equal(t, dl, l.deadline)

	// Reads block again once the line is drained.
	b := make([]byte, 1)
	n, err := l.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "R", string(b[:n]))
}

func TestServeStoreRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"))
	dir, err := ioutil.TempDir("", "fastload")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	cfg := config.Default()
	cfg.StorageDir = dir
	cfg.Deadline = 100000

	host, dev := net.Pipe()
	var console bytes.Buffer
	d, err := newDevice(cfg, fast.NewChannel(&tcpLink{Conn: dev}), &console, ourutil.NewOperator("blink", true))
	require.NoError(t, err)
	defer d.Close()

	done := make(chan error, 1)
	go func() { done <- d.runner.Serve(context.Background(), device.ModeStoreRun) }()

	module := rv32.DemoBlink(3)
	_, err = fast.NewSender(host).Send(context.Background(), module)
	require.NoError(t, err)
	host.Close()
	err = <-done
	assert.Equal(t, fault.Transport, fault.KindOf(err))

	items, err := d.cat.List()
	require.NoError(t, err)
	assert.Equal(t, []catalog.Item{{Name: "blink.mod", Size: int64(len(module))}}, items)
	assert.Equal(t, 3, d.m.LED().Toggles())

	// Another process sees the module in the same directory.
	fs, err := catalog.NewDirFS(dir)
	require.NoError(t, err)
	data, err := catalog.New(fs, nil).Open("blink")
	require.NoError(t, err)
	assert.Equal(t, module, data)
}
