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
	"net"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/fastload/cli/flags"
	"github.com/mongoose-os/fastload/cli/ourutil"
	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/fast"
	"github.com/mongoose-os/fastload/hw/rv32"
)

// moduleData returns the module named by --demo or the file given as the
// first argument.
func moduleData() (string, []byte, error) {
	if *flags.Demo != "" {
		data := rv32.Demo(*flags.Demo)
		if data == nil {
			return "", nil, errors.Errorf("unknown demo %q, known: %v", *flags.Demo, rv32.DemoNames())
		}
		return "demo " + *flags.Demo, data, nil
	}
	if flag.NArg() < 2 {
		return "", nil, errors.Errorf("module file is required")
	}
	fn := flag.Arg(1)
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	return fn, data, nil
}

func upload(ctx context.Context) error {
	what, data, err := moduleData()
	if err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := context.WithTimeout(ctx, *flags.Timeout)
	defer cancel()
	l, err := openLink(ctx, *flags.Port, false /* listen */)
	if err != nil {
		return errors.Trace(err)
	}
	defer l.Close()
	if c, ok := l.(net.Conn); ok {
		// Reads from a socket do not look at ctx.
		if dl, ok := ctx.Deadline(); ok {
			c.SetDeadline(dl)
		}
	}

	s := fast.NewSender(l)
	last := -10
	s.Progress = func(sent, total int) {
		if pct := sent * 100 / total; pct/10 != last/10 || sent == total {
			last = pct
			ourutil.Reportf("  %d of %d bytes (%d%%)", sent, total, pct)
		}
	}
	ourutil.Reportf("Uploading %s (%d bytes) to %s...", what, len(data), l)
	sum, err := s.Send(ctx, data)
	if err != nil {
		if fault.Is(err, fault.Integrity) {
			ourutil.Warnf("device reports crc 0x%08x, module has 0x%08x", sum, integrity.Checksum(data))
		}
		return errors.Trace(err)
	}
	ourutil.Reportf("Done, crc 0x%08x", sum)
	return nil
}
