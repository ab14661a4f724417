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
	"os"

	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/cli/flags"
	"github.com/mongoose-os/fastload/cli/ourutil"
	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/fw/device"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/fw/supervisor"
)

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	mode, err := device.ParseMode(cfg.Mode)
	if err != nil {
		return errors.Trace(err)
	}
	l, err := openLink(ctx, *flags.Port, true /* listen */)
	if err != nil {
		return errors.Trace(err)
	}
	defer l.Close()
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	// Diagnostics share the wire with uploads, and are shown locally too.
	op := ourutil.NewOperator(*flags.Name, *flags.Yes)
	d, err := newDevice(cfg, fast.NewChannel(l), io.MultiWriter(os.Stdout, l), op)
	if err != nil {
		return errors.Trace(err)
	}
	defer d.Close()

	ourutil.Reportf("serving on %s, window %s, storage %s", l, cfg.Window(), cfg.StorageDir)
	err = d.runner.Serve(ctx, mode)
	switch {
	case errors.Cause(err) == supervisor.ErrHalted:
		ourutil.Warnf("board halted by the watchdog")
		return errors.Trace(err)
	case ctx.Err() != nil:
		return nil
	case fault.Is(err, fault.Transport) && errors.Cause(err) == io.EOF:
		ourutil.Reportf("%s closed", l)
		return nil
	}
	return errors.Trace(err)
}
