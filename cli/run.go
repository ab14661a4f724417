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
	"io/ioutil"
	"os"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/fastload/cli/flags"
	"github.com/mongoose-os/fastload/cli/ourutil"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/crash"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/fw/loader"
)

// runModule runs a module on the emulated board without any upload: a demo,
// a file on the host, or a module from the catalog.
func runModule(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	op := ourutil.NewOperator(*flags.Name, *flags.Yes)
	d, err := newDevice(cfg, nil, os.Stdout, op)
	if err != nil {
		return errors.Trace(err)
	}
	defer d.Close()

	var h *loader.Handle
	arg := flag.Arg(1)
	if fi, serr := os.Stat(arg); *flags.Demo != "" || serr == nil && fi.Mode().IsRegular() {
		_, data, err := moduleData()
		if err != nil {
			return errors.Trace(err)
		}
		h, err = d.runner.LoadBlob(&fast.Blob{Data: data, Checksum: integrity.Checksum(data)})
		if err != nil {
			return errors.Trace(err)
		}
	} else if arg != "" {
		if h, err = d.runner.LoadNamed(arg); err != nil {
			return errors.Trace(err)
		}
	} else {
		return errors.Errorf("module name, file or --demo is required")
	}

	out, err := d.runner.Run(ctx, h)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("%s returned after %d timer ticks, %d cycles", h, out.Ticks, d.m.Cycles())
	return nil
}

// dump shows a saved watchdog dump as the device reported it. The file may
// also be a captured console log.
func dump(ctx context.Context) error {
	fn := flag.Arg(1)
	if fn == "" {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Trace(err)
		}
		dir := cfg.CrashDir
		if dir == "" {
			dir = "."
		}
		if fn = crash.FindLatest(dir); fn == "" {
			return errors.Errorf("no dumps in %s", dir)
		}
	}
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return errors.Trace(err)
	}
	dd, err := crash.ParseDump(data)
	if err != nil {
		return errors.Annotatef(err, "%s", fn)
	}
	ourutil.Reportf("%s:", fn)
	return errors.Trace(crash.Report(os.Stdout, &dd.Context, dd.Memory()))
}
