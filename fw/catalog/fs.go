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
package catalog

import (
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flock "github.com/theckman/go-flock"
)

// Entry is a directory entry as reported by an FS.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// FS is the persistent storage the catalog lives on. Paths are slash
// separated and relative to the root of the FS.
type FS interface {
	MkdirAll(dir string) error
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	ReadDir(dir string) ([]Entry, error)
}

// DirFS is an FS rooted at a host directory. Every operation holds an
// advisory file lock so that several processes can share one catalog.
type DirFS struct {
	root string
	fl   *flock.Flock
}

func NewDirFS(root string) (*DirFS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Trace(err)
	}
	return &DirFS{
		root: root,
		fl:   flock.NewFlock(filepath.Join(root, ".fastload-lock")),
	}, nil
}

func (d *DirFS) Root() string { return d.root }

func (d *DirFS) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(path.Clean("/" + name)))
}

func (d *DirFS) locked(f func() error) error {
	if err := d.fl.Lock(); err != nil {
		return errors.Annotatef(err, "failed to lock %s", d.root)
	}
	defer d.fl.Unlock()
	return f()
}

func (d *DirFS) MkdirAll(dir string) error {
	return d.locked(func() error {
		return errors.Trace(os.MkdirAll(d.path(dir), 0755))
	})
}

// WriteFile replaces name atomically: data goes to a temporary file which
// is then renamed over the target.
func (d *DirFS) WriteFile(name string, data []byte) error {
	return d.locked(func() error {
		p := d.path(name)
		tmp := p + ".tmp"
		if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
			return errors.Trace(err)
		}
		if err := os.Rename(tmp, p); err != nil {
			os.Remove(tmp)
			return errors.Trace(err)
		}
		glog.V(2).Infof("wrote %s (%d)", p, len(data))
		return nil
	})
}

func (d *DirFS) ReadFile(name string) (data []byte, err error) {
	err = d.locked(func() error {
		data, err = ioutil.ReadFile(d.path(name))
		return errors.Trace(err)
	})
	return
}

func (d *DirFS) ReadDir(dir string) (entries []Entry, err error) {
	err = d.locked(func() error {
		infos, err := ioutil.ReadDir(d.path(dir))
		if err != nil {
			return errors.Trace(err)
		}
		for _, fi := range infos {
			entries = append(entries, Entry{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir()})
		}
		return nil
	})
	return
}

// MemFS is an in-memory FS, used when no persistent storage is attached.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func NewMemFS() *MemFS {
	return &MemFS{files: map[string][]byte{}, dirs: map[string]bool{".": true}}
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (m *MemFS) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := clean(dir); d != "" && d != "."; d = path.Dir(d) {
		if _, ok := m.files[d]; ok {
			return errors.AlreadyExistsf("%s: not a directory", d)
		}
		m.dirs[d] = true
	}
	return nil
}

func (m *MemFS) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if m.dirs[name] {
		return errors.AlreadyExistsf("%s: is a directory", name)
	}
	if dir := path.Dir(name); dir != "." && !m.dirs[dir] {
		return errors.NotFoundf("%s", dir)
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemFS) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(name)]
	if !ok {
		return nil, errors.NotFoundf("%s", name)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemFS) ReadDir(dir string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = clean(dir)
	if dir == "" {
		dir = "."
	}
	if !m.dirs[dir] {
		return nil, errors.NotFoundf("%s", dir)
	}
	var res []Entry
	for name, data := range m.files {
		if path.Dir(name) == dir {
			res = append(res, Entry{Name: path.Base(name), Size: int64(len(data))})
		}
	}
	for d := range m.dirs {
		if d != dir && path.Dir(d) == dir {
			res = append(res, Entry{Name: path.Base(d), IsDir: true})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}
