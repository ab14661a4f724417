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
package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/catalog"
	"github.com/mongoose-os/fastload/fw/crash"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/fw/loader"
	"github.com/mongoose-os/fastload/fw/supervisor"
	"github.com/mongoose-os/fastload/hw/rv32"
)

type testOperator struct {
	mu       sync.Mutex
	nameErr  error
	names    []string
	confirms []bool
	status   []string
}

func (o *testOperator) Name(string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.nameErr != nil {
		return "", o.nameErr
	}
	if len(o.names) == 0 {
		return "", io.EOF
	}
	n := o.names[0]
	o.names = o.names[1:]
	return n, nil
}

func (o *testOperator) Confirm(string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.confirms) == 0 {
		return false, io.EOF
	}
	c := o.confirms[0]
	o.confirms = o.confirms[1:]
	return c, nil
}

func (o *testOperator) Status(format string, args ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = append(o.status, fmt.Sprintf(format, args...))
}

func (o *testOperator) saw(prefix string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.status {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type sinkFunc func(d *crash.Dump) error

func (f sinkFunc) Publish(d *crash.Dump) error { return f(d) }

var testConfig = Config{
	MaxSize: 128 * 1024,
	Window:  loader.Window{Base: 0x40000, Size: 0x20000},
	Run:     supervisor.Options{Watchdog: true, Deadline: 5000},
}

type fixture struct {
	m       *rv32.Machine
	cat     *catalog.Catalog
	op      *testOperator
	console bytes.Buffer
}

func newRunner(t *testing.T, cfg Config, ch fast.Channel) (*Runner, *fixture) {
	f := &fixture{
		m:   rv32.New(rv32.Config{}),
		op:  &testOperator{},
		cat: catalog.New(catalog.NewMemFS(), nil),
	}
	r := NewRunner(cfg, ch, f.m, f.m.LED(), f.cat, f.op, NewConsole(&f.console))
	return r, f
}

// session is what a host sends for one upload.
func session(payload []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('R')
	binary.Write(&b, binary.LittleEndian, uint32(len(payload)))
	b.Write(payload)
	b.WriteByte('C')
	binary.Write(&b, binary.LittleEndian, integrity.Checksum(payload))
	return b.Bytes()
}

type scriptedLink struct {
	in     *bytes.Reader
	out    bytes.Buffer
	resets int
}

func (s *scriptedLink) Read(b []byte) (int, error)  { return s.in.Read(b) }
func (s *scriptedLink) Write(b []byte) (int, error) { return s.out.Write(b) }
func (s *scriptedLink) ResetTransport() error {
	s.resets++
	return nil
}

func TestUploadStoreScenario(t *testing.T) {
	host, dev := net.Pipe()
	r, f := newRunner(t, testConfig, fast.NewChannel(dev))
	f.op.names = []string{"dead"}
	done := make(chan error, 1)
	go func() { done <- r.Serve(context.Background(), ModeStore) }()

	sum, err := fast.NewSender(host).Send(context.Background(), []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7C9CA35A), sum)
	host.Close()
	err = <-done
	assert.Equal(t, fault.Transport, fault.KindOf(err))

	data, err := f.cat.Open("dead")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data)
	assert.True(t, f.op.saw("stored dead.mod, 4 bytes"))
	assert.Nil(t, r.Loader().Current())
}

func TestUploadRejectedResetsTransport(t *testing.T) {
	link := &scriptedLink{in: bytes.NewReader(append([]byte("R"), 0, 0, 0, 0))}
	r, f := newRunner(t, testConfig, fast.NewChannel(link))
	_, err := r.Upload()
	require.Error(t, err)
	assert.Equal(t, fault.InvalidSize, fault.KindOf(err))
	assert.Equal(t, 1, link.resets)
	assert.True(t, f.op.saw("upload failed"))

	// A truncated session is a link failure, not a rejection.
	link = &scriptedLink{in: bytes.NewReader([]byte("R\x04\x00"))}
	r, _ = newRunner(t, testConfig, fast.NewChannel(link))
	_, err = r.Upload()
	assert.Equal(t, fault.Transport, fault.KindOf(err))
	assert.Equal(t, 0, link.resets)
}

func TestWindowExclusivity(t *testing.T) {
	a := rv32.DemoBlink(3)
	b := rv32.DemoReturn()
	link := &scriptedLink{in: bytes.NewReader(append(session(a), session(b)...))}
	r, f := newRunner(t, testConfig, fast.NewChannel(link))
	ctx := context.Background()

	blob, err := r.Upload()
	require.NoError(t, err)
	h, err := r.LoadBlob(blob)
	require.NoError(t, err)
	out, err := r.Run(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, supervisor.Returned, out.Result)
	assert.Equal(t, 3, f.m.LED().Toggles())

	blob, err = r.Upload()
	require.NoError(t, err)
	h, err = r.LoadBlob(blob)
	require.NoError(t, err)
	sum, err := integrity.ChecksumAt(f.m.Memory(), int64(h.Entry), int64(h.Size))
	require.NoError(t, err)
	assert.Equal(t, integrity.Checksum(b), sum)
	assert.Equal(t, h, r.Loader().Current())
}

func TestStoreAsksBeforeReplacing(t *testing.T) {
	r, f := newRunner(t, testConfig, nil)
	_, err := f.cat.Store("m", []byte("old"))
	require.NoError(t, err)

	f.op.confirms = []bool{false}
	_, err = r.Store("m", &fast.Blob{Data: []byte("new")})
	require.Error(t, err)
	assert.True(t, f.op.saw("store failed: kept existing m.mod"), "%q", f.op.status)
	data, _ := f.cat.Open("m")
	assert.Equal(t, "old", string(data))

	f.op.confirms = []bool{true}
	_, err = r.Store("m", &fast.Blob{Data: []byte("new")})
	require.NoError(t, err)
	data, _ = f.cat.Open("m")
	assert.Equal(t, "new", string(data))

	_, err = r.Store("a/b", &fast.Blob{Data: []byte("x")})
	assert.Equal(t, fault.Storage, fault.KindOf(err))
}

func TestStoreWithoutNameIsReported(t *testing.T) {
	link := &scriptedLink{in: bytes.NewReader(session([]byte("module")))}
	r, f := newRunner(t, testConfig, fast.NewChannel(link))
	f.op.nameErr = errors.New("module name: not a terminal")
	err := r.Serve(context.Background(), ModeStore)
	assert.Equal(t, fault.Transport, fault.KindOf(err))
	assert.True(t, f.op.saw("store failed: module name: not a terminal"), "%q", f.op.status)
	items, err := f.cat.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStoreRunMode(t *testing.T) {
	link := &scriptedLink{in: bytes.NewReader(session(rv32.DemoBlink(2)))}
	r, f := newRunner(t, testConfig, fast.NewChannel(link))
	f.op.names = []string{"blink"}
	err := r.Serve(context.Background(), ModeStoreRun)
	assert.Equal(t, fault.Transport, fault.KindOf(err))
	assert.Equal(t, io.EOF, errors.Cause(err))
	assert.True(t, f.op.saw("blink.mod returned"), "%q", f.op.status)
	assert.Equal(t, 2, f.m.LED().Toggles())
	items, err := f.cat.List()
	require.NoError(t, err)
	assert.Equal(t, []catalog.Item{{Name: "blink.mod", Size: int64(len(rv32.DemoBlink(2)))}}, items)
}

func TestWatchdogHalts(t *testing.T) {
	dir, err := ioutil.TempDir("", "device")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	cfg := testConfig
	cfg.Run = supervisor.Options{Watchdog: true, Deadline: 2000}
	cfg.CrashDir = dir
	cfg.ParkPeriod = time.Millisecond

	link := &scriptedLink{in: bytes.NewReader(append(session(rv32.DemoSpin()), session(rv32.DemoReturn())...))}
	r, f := newRunner(t, cfg, fast.NewChannel(link))
	var published []*crash.Dump
	r.AddCrashSink(sinkFunc(func(d *crash.Dump) error {
		published = append(published, d)
		return nil
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = r.Serve(ctx, ModeRun)
	assert.Equal(t, supervisor.ErrHalted, errors.Cause(err))

	// The second module was never received.
	assert.True(t, link.in.Len() > 0)
	assert.True(t, f.m.LED().Toggles() > 2)

	report := f.console.String()
	assert.Contains(t, report, crash.DumpStart)
	assert.Contains(t, report, crash.DumpEnd)
	require.Len(t, published, 1)
	assert.True(t, cfg.Window.Contains(published[0].PC))

	// The console log alone is enough to report the crash again.
	logged, err := crash.ParseDump(f.console.Bytes())
	require.NoError(t, err)
	assert.Equal(t, published[0].PC, logged.PC)
	assert.Equal(t, published[0].Regs, logged.Regs)
	var again bytes.Buffer
	require.NoError(t, crash.Report(&again, &logged.Context, logged.Memory()))
	assert.Contains(t, again.String(), "> 0x")

	fn := crash.FindLatest(dir)
	require.NotEqual(t, "", fn)
	d, err := crash.LoadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, published[0].PC, d.PC)
}

func TestRunModuleOwnsTimer(t *testing.T) {
	cfg := testConfig
	cfg.Run = supervisor.Options{}
	link := &scriptedLink{in: bytes.NewReader(session(rv32.DemoTimer()))}
	r, f := newRunner(t, cfg, fast.NewChannel(link))
	blob, err := r.Upload()
	require.NoError(t, err)
	h, err := r.LoadBlob(blob)
	require.NoError(t, err)
	out, err := r.Run(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, supervisor.Returned, out.Result)
	assert.False(t, f.m.Timer().Running())
	assert.True(t, f.op.saw("running <upload>"))
}

func TestConsoleQuiet(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	c.Printf("before")
	release := c.Quiet()
	c.Printf("during")
	inner := c.Quiet()
	inner()
	assert.Equal(t, "before\r\n", out.String())
	release()
	release()
	assert.Equal(t, "before\r\nduring\r\n", out.String())
	c.Printf("after")
	assert.Equal(t, "before\r\nduring\r\nafter\r\n", out.String())
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeStore, ModeRun, ModeStoreRun} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("flash")
	assert.Error(t, err)
}
