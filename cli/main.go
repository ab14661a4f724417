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
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/fastload/cli/config"
	"github.com/mongoose-os/fastload/cli/flags"
	"github.com/mongoose-os/fastload/version"
)

const (
	envPrefix = "FASTLOAD_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var deviceFlags = []string{
	"config", "mode", "max-size", "window-base", "window-size", "ram-size", "ram-file",
	"prescale", "storage-dir", "watchdog", "deadline", "park-period", "crash-dir", "crash-url",
}

var (
	// put all commands here
	commands = []command{
		{"serve", serve, `Act as the device: receive modules on --port, store and/or run them`, "",
			[]string{"port"}, append([]string{"name", "yes", "baud-rate", "hw-flow-control"}, deviceFlags...)},
		{"upload", upload, `Upload a module to the device`, "[FILE]",
			[]string{"port"}, []string{"demo", "timeout", "baud-rate", "hw-flow-control"}},
		{"ls", ls, `List modules in the catalog`, "",
			nil, []string{"config", "storage-dir"}},
		{"crc", crc, `Show CRC-32 of stored modules`, "NAME...",
			nil, []string{"config", "storage-dir"}},
		{"run", runModule, `Run a stored module, a file or a demo on the emulated board`, "[NAME|FILE]",
			nil, append([]string{"demo"}, deviceFlags...)},
		{"mkmod", mkmod, `Write a demo module to a file`, "",
			[]string{"demo", "output"}, nil},
		{"dump", dump, `Show a saved watchdog dump, the latest one by default`, "[FILE]",
			nil, []string{"config", "crash-dir"}},
		{"version", showVersion, `Show version`, "",
			nil, nil},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	args     string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func run(ctx context.Context) error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			if err := c.handler(ctx); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	usage()
	return nil
}

func showVersion(ctx context.Context) error {
	fmt.Printf(
		"%s\nVersion: %s\nBuild ID: %s\nUser-Agent: %s\n",
		"The fastload module upload tool", version.Version, version.BuildId, version.GetUserAgent(),
	)
	return nil
}

// loadConfig returns the device settings from --config, the environment
// and the command line.
func loadConfig() (*config.Config, error) {
	return config.Load(*flags.Config, flag.CommandLine)
}

func main() {
	initFlags()
	flag.Parse()
	if err := config.ApplyEnv(flag.CommandLine, envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *flags.Verbose {
		flag.Set("logtostderr", "true")
		flag.Set("v", "1")
	}

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		showVersion(context.Background())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	glog.Flush()
	if err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
