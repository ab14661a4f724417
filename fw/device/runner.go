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

// Package device is the firmware main flow: receive a module, keep it in
// the catalog and/or load it, run it under the supervisor and, when the
// watchdog fires, report and halt.
package device

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/fw/catalog"
	"github.com/mongoose-os/fastload/fw/crash"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/fw/hal"
	"github.com/mongoose-os/fastload/fw/loader"
	"github.com/mongoose-os/fastload/fw/supervisor"
)

// Operator is what the firmware needs from whoever drives it.
type Operator interface {
	// Name asks for a module name.
	Name(prompt string) (string, error)
	// Confirm asks a yes/no question.
	Confirm(prompt string) (bool, error)
	// Status shows a line of status.
	Status(format string, args ...interface{})
}

// CrashSink receives watchdog dumps in addition to the console.
type CrashSink interface {
	Publish(d *crash.Dump) error
}

// Board is the hardware the runner works on.
type Board interface {
	supervisor.Platform
	Memory() hal.Memory
}

type Config struct {
	// MaxSize is the largest module the transport accepts.
	MaxSize       uint32
	Window        loader.Window
	Run           supervisor.Options
	ProgressEvery int
	// CrashDir, if set, is where watchdog dumps are saved.
	CrashDir   string
	ParkPeriod time.Duration
}

type Runner struct {
	cfg     Config
	ch      fast.Channel
	board   Board
	led     hal.Indicator
	op      Operator
	console *Console
	cat     *catalog.Catalog
	ld      *loader.Loader
	sup     *supervisor.Supervisor
	sinks   []CrashSink
}

func NewRunner(cfg Config, ch fast.Channel, board Board, led hal.Indicator, cat *catalog.Catalog, op Operator, console *Console) *Runner {
	if led == nil {
		led = hal.NopIndicator{}
	}
	return &Runner{
		cfg:     cfg,
		ch:      ch,
		board:   board,
		led:     led,
		op:      op,
		console: console,
		cat:     cat,
		ld:      loader.New(board.Memory(), cfg.Window),
		sup:     supervisor.New(board),
	}
}

func (r *Runner) AddCrashSink(s CrashSink) {
	r.sinks = append(r.sinks, s)
}

func (r *Runner) Catalog() *catalog.Catalog { return r.cat }

func (r *Runner) Loader() *loader.Loader { return r.ld }

// Upload receives one module. After a rejected session the transport is
// reset, so that the rest of the rejected transfer is not taken for the
// start of the next one.
func (r *Runner) Upload() (*fast.Blob, error) {
	rcv := fast.NewReceiver(r.ch, fast.ReceiverOpts{
		MaxSize:       r.cfg.MaxSize,
		Indicator:     r.led,
		ProgressEvery: r.cfg.ProgressEvery,
		Quiet:         r.console,
	})
	blob, err := rcv.Receive()
	r.led.Set(false)
	if err != nil {
		r.op.Status("upload failed: %s", err)
		switch fault.KindOf(err) {
		case fault.InvalidSize, fault.Protocol, fault.Integrity:
			if rs, ok := r.ch.(fast.Resetter); ok {
				if rerr := rs.ResetTransport(); rerr != nil {
					glog.Errorf("transport reset failed: %s", rerr)
				}
			}
		}
		return nil, errors.Trace(err)
	}
	r.op.Status("received %d bytes, crc 0x%08x", blob.Size(), blob.Checksum)
	return blob, nil
}

// Store keeps a verified module in the catalog, asking before replacing an
// existing one.
func (r *Runner) Store(name string, blob *fast.Blob) (*catalog.Item, error) {
	norm, err := catalog.NormalizeName(name)
	if err != nil {
		r.op.Status("store failed: %s", err)
		return nil, errors.Trace(err)
	}
	items, err := r.cat.List()
	if err != nil {
		r.op.Status("store failed: %s", err)
		return nil, errors.Trace(err)
	}
	for _, it := range items {
		if it.Name != norm {
			continue
		}
		ok, err := r.op.Confirm(fmt.Sprintf("replace %s (%d bytes)?", it.Name, it.Size))
		if err != nil {
			r.op.Status("store failed: %s", err)
			return nil, errors.Trace(err)
		}
		if !ok {
			r.op.Status("store failed: kept existing %s", it.Name)
			return nil, errors.Errorf("not replacing %s", it.Name)
		}
	}
	item, err := r.cat.Store(norm, blob.Data)
	if err != nil {
		r.op.Status("store failed: %s", err)
		return nil, errors.Trace(err)
	}
	r.op.Status("stored %s, %d bytes", item.Name, item.Size)
	return item, nil
}

// LoadBlob puts a freshly received module into the window.
func (r *Runner) LoadBlob(blob *fast.Blob) (*loader.Handle, error) {
	h, err := r.ld.Load(blob.Data, blob.Checksum)
	if err != nil {
		r.op.Status("load failed: %s", err)
		return nil, errors.Trace(err)
	}
	return h, nil
}

// LoadNamed puts a stored module into the window.
func (r *Runner) LoadNamed(name string) (*loader.Handle, error) {
	h, err := r.ld.LoadNamed(r.cat, name)
	if err != nil {
		r.op.Status("load failed: %s", err)
		return nil, errors.Trace(err)
	}
	return h, nil
}

// Run invokes a loaded module with the configured watchdog policy. If the
// watchdog fires, the dump is reported and Run parks the board until ctx is
// done, then returns supervisor.ErrHalted.
func (r *Runner) Run(ctx context.Context, h *loader.Handle) (*supervisor.Outcome, error) {
	if r.cfg.Run.Watchdog {
		r.op.Status("running %s, watchdog %d ticks", h, r.cfg.Run.Deadline)
	} else {
		r.op.Status("running %s, no watchdog", h)
	}
	out, err := r.sup.Invoke(ctx, h, r.cfg.Run)
	if err != nil {
		r.op.Status("run failed: %s", err)
		return nil, errors.Trace(err)
	}
	if out.Result == supervisor.Returned {
		r.op.Status("%s returned", h.Name)
		return out, nil
	}
	r.reportCrash(out.Crash)
	crash.Park(ctx, r.led, r.cfg.ParkPeriod)
	return out, errors.Trace(supervisor.ErrHalted)
}

func (r *Runner) reportCrash(c *crash.Context) {
	mem := r.board.Memory()
	if err := crash.Report(r.console, c, mem); err != nil {
		glog.Errorf("crash report: %s", err)
	}
	// The machine readable dump follows the report, so that a captured
	// console log can be reported again on the host.
	d := crash.NewDump(c, mem)
	if err := d.Write(r.console); err != nil {
		glog.Errorf("crash dump: %s", err)
	}
	if r.cfg.CrashDir != "" {
		if fn, err := crash.Save(r.cfg.CrashDir, c, mem); err != nil {
			glog.Errorf("%s", err)
		} else {
			r.op.Status("dump saved to %s", fn)
		}
	}
	for _, s := range r.sinks {
		if err := s.Publish(d); err != nil {
			glog.Errorf("%s", err)
		}
	}
}

// Mode is what Serve does with every received module.
type Mode int

const (
	// ModeStore keeps modules in the catalog.
	ModeStore Mode = iota
	// ModeRun loads and runs modules without keeping them.
	ModeRun
	// ModeStoreRun keeps modules and then runs them.
	ModeStoreRun
)

func (m Mode) String() string {
	switch m {
	case ModeStore:
		return "store"
	case ModeRun:
		return "run"
	case ModeStoreRun:
		return "store+run"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeStore, ModeRun, ModeStoreRun} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown mode %q", s)
}

// Serve receives modules one after another until the transport fails, ctx
// is done or the watchdog halts the board. Rejected uploads are reported
// and the next one is awaited.
func (r *Runner) Serve(ctx context.Context, mode Mode) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		r.op.Status("ready (%s, max %d bytes)", mode, r.cfg.MaxSize)
		blob, err := r.Upload()
		if err != nil {
			if fault.Is(err, fault.Transport) || fault.Is(err, fault.Resource) {
				return errors.Trace(err)
			}
			continue
		}
		if err := r.handle(ctx, mode, blob); err != nil {
			if errors.Cause(err) == supervisor.ErrHalted || errors.Cause(err) == io.EOF {
				return errors.Trace(err)
			}
			glog.Warningf("%s", err)
		}
	}
}

func (r *Runner) handle(ctx context.Context, mode Mode, blob *fast.Blob) error {
	var h *loader.Handle
	if mode == ModeStore || mode == ModeStoreRun {
		name, err := r.op.Name("module name")
		if err != nil {
			r.op.Status("store failed: %s", err)
			return errors.Trace(err)
		}
		item, err := r.Store(name, blob)
		if err != nil {
			return errors.Trace(err)
		}
		if mode == ModeStore {
			return nil
		}
		if h, err = r.ld.LoadStored(r.cat, item.Name, blob.Checksum); err != nil {
			r.op.Status("load failed: %s", err)
			return errors.Trace(err)
		}
	} else {
		var err error
		if h, err = r.LoadBlob(blob); err != nil {
			return errors.Trace(err)
		}
	}
	_, err := r.Run(ctx, h)
	return errors.Trace(err)
}
