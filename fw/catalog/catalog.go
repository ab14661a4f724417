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

// Package catalog persists verified modules under a name and enumerates
// them. Only the name and size are kept; checksums are always recomputed
// from content so that storage corruption shows up.
//
// Storage transfers are timing sensitive, so every catalog operation runs
// with the storage-unsafe interrupt sources masked.
package catalog

import (
	"path"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/fastload/common/fault"
	"github.com/mongoose-os/fastload/common/integrity"
	"github.com/mongoose-os/fastload/fw/irq"
)

const (
	Container = "modules"
	Suffix    = ".mod"
)

// Item is a catalog entry.
type Item struct {
	Name string
	Size int64
}

type Catalog struct {
	fs  FS
	irq irq.Controller
}

func New(fs FS, ctl irq.Controller) *Catalog {
	if ctl == nil {
		ctl = &irq.Discard{}
	}
	return &Catalog{fs: fs, irq: ctl}
}

// NormalizeName validates a module name and appends Suffix if it is missing.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == Suffix {
		return "", fault.Errorf(fault.Storage, "empty module name")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fault.Errorf(fault.Storage, "invalid module name %q", name)
	}
	if !strings.HasSuffix(name, Suffix) {
		name += Suffix
	}
	return name, nil
}

func (c *Catalog) masked(f func() error) error {
	return irq.Masked(c.irq, irq.StorageUnsafe, f)
}

// Store writes data under name, creating the container if needed and
// replacing any previous module of that name. The written content is read
// back and its checksum compared with that of data.
func (c *Catalog) Store(name string, data []byte) (*Item, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	want := integrity.Checksum(data)
	err = c.masked(func() error {
		if err := c.fs.MkdirAll(Container); err != nil {
			return fault.Wrap(fault.Storage, err, "failed to create %s", Container)
		}
		entries, err := c.fs.ReadDir(Container)
		if err != nil {
			return fault.Wrap(fault.Storage, err, "failed to list %s", Container)
		}
		for _, e := range entries {
			if e.Name == name && e.IsDir {
				return fault.Errorf(fault.Storage, "%s exists and is a directory", name)
			}
		}
		p := path.Join(Container, name)
		if err := c.fs.WriteFile(p, data); err != nil {
			return fault.Wrap(fault.Storage, err, "failed to write %s", name)
		}
		rb, err := c.fs.ReadFile(p)
		if err != nil {
			return fault.Wrap(fault.Storage, err, "failed to read back %s", name)
		}
		if got := integrity.Checksum(rb); got != want || len(rb) != len(data) {
			return fault.Errorf(fault.Storage, "%s: read back %d bytes crc 0x%08x, wrote %d bytes crc 0x%08x",
				name, len(rb), got, len(data), want)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	glog.Infof("stored %s: %d bytes, crc 0x%08x", name, len(data), want)
	return &Item{Name: name, Size: int64(len(data))}, nil
}

// List returns the modules in the catalog, sorted by name. Entries without
// the module suffix are ignored.
func (c *Catalog) List() ([]Item, error) {
	var items []Item
	err := c.masked(func() error {
		if err := c.fs.MkdirAll(Container); err != nil {
			return fault.Wrap(fault.Storage, err, "failed to create %s", Container)
		}
		entries, err := c.fs.ReadDir(Container)
		if err != nil {
			return fault.Wrap(fault.Storage, err, "failed to list %s", Container)
		}
		for _, e := range entries {
			if e.IsDir || !strings.HasSuffix(e.Name, Suffix) || e.Name == Suffix {
				continue
			}
			items = append(items, Item{Name: e.Name, Size: e.Size})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Open returns the content of the named module.
func (c *Catalog) Open(name string) ([]byte, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var data []byte
	err = c.masked(func() error {
		var err error
		data, err = c.fs.ReadFile(path.Join(Container, name))
		if err != nil {
			return fault.Wrap(fault.Storage, err, "failed to read %s", name)
		}
		return nil
	})
	return data, err
}

// Checksum recomputes the checksum of the named module from its content.
func (c *Catalog) Checksum(name string) (uint32, error) {
	data, err := c.Open(name)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return integrity.Checksum(data), nil
}
