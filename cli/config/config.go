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

// Package config assembles the device settings of the fastload tool from
// built-in defaults, an optional YAML file, the environment and the
// command line, in increasing order of precedence.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/fastload/common/multierror"
	"github.com/mongoose-os/fastload/fw/device"
	"github.com/mongoose-os/fastload/fw/loader"
	"github.com/mongoose-os/fastload/fw/supervisor"
	"github.com/mongoose-os/fastload/hw/rv32"
)

const (
	DefaultMaxSize  = 128 * 1024
	DefaultDeadline = 10000000
)

type Config struct {
	Mode       string        `yaml:"mode"`
	MaxSize    uint32        `yaml:"max_size"`
	WindowBase uint32        `yaml:"window_base"`
	WindowSize uint32        `yaml:"window_size"`
	RAMSize    int           `yaml:"ram_size"`
	RAMFile    string        `yaml:"ram_file,omitempty"`
	Prescale   uint32        `yaml:"prescale"`
	StorageDir string        `yaml:"storage_dir"`
	Watchdog   bool          `yaml:"watchdog"`
	Deadline   uint32        `yaml:"deadline"`
	ParkPeriod time.Duration `yaml:"park_period"`
	CrashDir   string        `yaml:"crash_dir,omitempty"`
	CrashURL   string        `yaml:"crash_url,omitempty"`
}

func Default() *Config {
	return &Config{
		Mode:       device.ModeStore.String(),
		MaxSize:    DefaultMaxSize,
		WindowBase: 0x40000,
		WindowSize: 0x20000,
		RAMSize:    rv32.DefaultRAMSize,
		Prescale:   1,
		StorageDir: "fastload-storage",
		Watchdog:   true,
		Deadline:   DefaultDeadline,
		ParkPeriod: 150 * time.Millisecond,
	}
}

// Load returns the effective configuration: defaults, then the file at
// path (if not empty), then every flag of fs that was set.
func Load(path string, fs *flag.FlagSet) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to read config")
		}
		if err := yaml.UnmarshalStrict(data, c); err != nil {
			return nil, errors.Annotatef(err, "%s", path)
		}
		glog.V(1).Infof("loaded config from %s", path)
	}
	if fs != nil {
		if err := c.Overlay(fs); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

// Key returns the config file key that corresponds to a flag name.
func Key(flagName string) string {
	return strings.Replace(flagName, "-", "_", -1)
}

// keys returns the keys of the config file.
func keys() map[string]bool {
	ks := map[string]bool{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		k := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		ks[k] = true
	}
	return ks
}

// Overlay sets every setting whose flag was changed in fs.
func (c *Config) Overlay(fs *flag.FlagSet) error {
	ks := keys()
	m := map[string]interface{}{}
	var errs error
	fs.VisitAll(func(f *flag.Flag) {
		k := Key(f.Name)
		if !f.Changed || !ks[k] {
			return
		}
		v, err := yamlValue(f)
		if err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "--%s", f.Name))
			return
		}
		m[k] = v
	})
	if errs != nil {
		return errs
	}
	if len(m) == 0 {
		return nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Trace(err)
	}
	glog.V(2).Infof("flag overrides:\n%s", data)
	return errors.Trace(yaml.UnmarshalStrict(data, c))
}

func yamlValue(f *flag.Flag) (interface{}, error) {
	s := f.Value.String()
	switch f.Value.Type() {
	case "bool":
		return strconv.ParseBool(s)
	case "int":
		return strconv.ParseInt(s, 0, 64)
	case "uint32":
		return strconv.ParseUint(s, 0, 32)
	}
	return s, nil
}

// ApplyEnv looks up every flag of fs that was not set on the command line
// in the environment, as envPrefix followed by the upper-cased flag name
// with dashes turned to underscores, and sets it from there.
func ApplyEnv(fs *flag.FlagSet, envPrefix string) error {
	var errs error
	fs.VisitAll(func(f *flag.Flag) {
		if f.Changed {
			return
		}
		name := EnvName(f.Name, envPrefix)
		v := os.Getenv(name)
		if v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s", name))
		}
	})
	return errs
}

func EnvName(flagName, envPrefix string) string {
	return fmt.Sprint(envPrefix, strings.ToUpper(Key(flagName)))
}

func (c *Config) Validate() error {
	var errs error
	if _, err := device.ParseMode(c.Mode); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.MaxSize == 0 {
		errs = multierror.Append(errs, errors.Errorf("max_size must be positive"))
	}
	if c.WindowSize == 0 {
		errs = multierror.Append(errs, errors.Errorf("window_size must be positive"))
	}
	if c.RAMSize <= 0 {
		errs = multierror.Append(errs, errors.Errorf("ram_size must be positive"))
	} else if uint64(c.WindowBase)+uint64(c.WindowSize) > uint64(c.RAMSize) {
		errs = multierror.Append(errs, errors.Errorf("window %s does not fit in %d bytes of RAM", c.Window(), c.RAMSize))
	}
	if c.Prescale == 0 {
		errs = multierror.Append(errs, errors.Errorf("prescale must be positive"))
	}
	if c.Watchdog && c.Deadline == 0 {
		errs = multierror.Append(errs, errors.Errorf("watchdog needs a deadline"))
	}
	if c.MaxSize > c.WindowSize {
		glog.Warningf("modules of up to %d bytes are accepted but only %d fit the window", c.MaxSize, c.WindowSize)
	}
	return errs
}

func (c *Config) Window() loader.Window {
	return loader.Window{Base: c.WindowBase, Size: c.WindowSize}
}

func (c *Config) RunOptions() supervisor.Options {
	return supervisor.Options{Watchdog: c.Watchdog, Deadline: c.Deadline}
}

// Device returns the settings of the device runner.
func (c *Config) Device() device.Config {
	return device.Config{
		MaxSize:    c.MaxSize,
		Window:     c.Window(),
		Run:        c.RunOptions(),
		CrashDir:   c.CrashDir,
		ParkPeriod: c.ParkPeriod,
	}
}

func (c *Config) Machine() rv32.Config {
	return rv32.Config{RAMSize: c.RAMSize, Prescale: c.Prescale}
}
