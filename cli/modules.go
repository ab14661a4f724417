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
	"fmt"
	"io/ioutil"
	"os"
	"text/tabwriter"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/fastload/cli/flags"
	"github.com/mongoose-os/fastload/cli/ourutil"
	"github.com/mongoose-os/fastload/fw/catalog"
	"github.com/mongoose-os/fastload/hw/rv32"
)

// openCatalog opens the catalog in --storage-dir. Nothing else runs on the
// host catalog, so no interrupt controller is involved.
func openCatalog() (*catalog.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	fs, err := catalog.NewDirFS(cfg.StorageDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return catalog.New(fs, nil), nil
}

func ls(ctx context.Context) error {
	cat, err := openCatalog()
	if err != nil {
		return errors.Trace(err)
	}
	items, err := cat.List()
	if err != nil {
		return errors.Trace(err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, it := range items {
		fmt.Fprintf(w, "%d\t %s\n", it.Size, it.Name)
	}
	w.Flush()
	if len(items) == 0 {
		ourutil.Reportf("no modules")
	}
	return nil
}

func crc(ctx context.Context) error {
	names := flag.Args()[1:]
	if len(names) == 0 {
		return errors.Errorf("module name is required")
	}
	cat, err := openCatalog()
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range names {
		sum, err := cat.Checksum(name)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("%08x  %s\n", sum, name)
	}
	return nil
}

func mkmod(ctx context.Context) error {
	data := rv32.Demo(*flags.Demo)
	if data == nil {
		return errors.Errorf("unknown demo %q, known: %v", *flags.Demo, rv32.DemoNames())
	}
	if err := ioutil.WriteFile(*flags.Output, data, 0644); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Wrote %s, %d bytes", *flags.Output, len(data))
	return nil
}
