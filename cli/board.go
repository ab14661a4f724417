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
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/cli/config"
	"github.com/mongoose-os/fastload/cli/ourutil"
	"github.com/mongoose-os/fastload/fw/catalog"
	"github.com/mongoose-os/fastload/fw/crash"
	"github.com/mongoose-os/fastload/fw/device"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/hw/rv32"
	"github.com/mongoose-os/fastload/version"
)

// emulatedDevice is everything the firmware runs on, plus what to release when
// it is done.
type emulatedDevice struct {
	m       *rv32.Machine
	cat     *catalog.Catalog
	console *device.Console
	runner  *device.Runner

	closers []func()
}

// newDevice builds the emulated board and the firmware on top of it. ch may
// be nil if nothing is to be uploaded.
func newDevice(cfg *config.Config, ch fast.Channel, consoleOut io.Writer, op device.Operator) (*emulatedDevice, error) {
	d := &emulatedDevice{console: device.NewConsole(consoleOut)}
	mc := cfg.Machine()
	mc.Console = d.console
	if cfg.RAMFile != "" {
		ram, err := rv32.MapRAM(cfg.RAMFile, cfg.RAMSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		d.onClose(func() {
			if err := ram.Close(); err != nil {
				glog.Errorf("%s: %s", cfg.RAMFile, err)
			}
		})
		mc.RAM = ram.Bytes()
	}
	d.m = rv32.New(mc)

	fs, err := catalog.NewDirFS(cfg.StorageDir)
	if err != nil {
		d.Close()
		return nil, errors.Annotatef(err, "storage")
	}
	d.cat = catalog.New(fs, d.m.IRQ())
	d.runner = device.NewRunner(cfg.Device(), ch, d.m, d.m.LED(), d.cat, op, d.console)

	if cfg.CrashURL != "" {
		sink, err := crash.NewMQTTSink(cfg.CrashURL, version.GetClientID("device"))
		if err != nil {
			d.Close()
			return nil, errors.Annotatef(err, "crash sink")
		}
		d.onClose(sink.Close)
		d.runner.AddCrashSink(sink)
		ourutil.Reportf("watchdog dumps go to %s", sink)
	}
	return d, nil
}

func (d *emulatedDevice) onClose(f func()) {
	d.closers = append(d.closers, f)
}

func (d *emulatedDevice) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
