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
package crash

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Dump is the machine readable form of a watchdog dump: the context plus
// the memory regions shown in the report, hex encoded.
type Dump struct {
	Context
	CodeAddr  uint32 `json:"code_addr"`
	Code      string `json:"code"`
	EntryCode string `json:"entry_code"`
	Stack     string `json:"stack"`
}

func readHex(mem io.ReaderAt, addr uint32, n int) string {
	buf := make([]byte, n)
	got, _ := mem.ReadAt(buf, int64(addr))
	return hex.EncodeToString(buf[:got])
}

// NewDump collects the memory regions of c from mem.
func NewDump(c *Context, mem io.ReaderAt) *Dump {
	start := codeStart(c.PC)
	return &Dump{
		Context:   *c,
		CodeAddr:  start,
		Code:      readHex(mem, start, CodeDumpLen),
		EntryCode: readHex(mem, c.Module.Base, EntryDumpLen),
		Stack:     readHex(mem, c.SP(), StackWords*4),
	}
}

// Write writes d as a single JSON line between DumpStart and DumpEnd.
func (d *Dump) Write(w io.Writer) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = fmt.Fprintf(w, "%s\n%s\n%s\n", DumpStart, data, DumpEnd)
	return errors.Trace(err)
}

// ParseDump extracts the last dump from data, which may be a console log
// with other output around the dump.
func ParseDump(data []byte) (*Dump, error) {
	cs := bytes.LastIndex(data, []byte(DumpStart))
	if cs < 0 {
		return nil, errors.NotFoundf("watchdog dump")
	}
	data = data[cs+len(DumpStart):]
	if ce := bytes.Index(data, []byte(DumpEnd)); ce >= 0 {
		data = data[:ce]
	}
	// The human readable report shares the markers; the JSON line is the
	// one starting with a brace.
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if !strings.HasPrefix(l, "{") {
			continue
		}
		var d Dump
		if err := json.Unmarshal([]byte(l), &d); err != nil {
			return nil, errors.Annotatef(err, "watchdog dump is not a valid JSON object")
		}
		return &d, nil
	}
	return nil, errors.NotFoundf("watchdog dump JSON")
}

// CoreFileName is the name a dump of c is saved under.
func CoreFileName(c *Context) string {
	name := strings.TrimSuffix(c.Module.Name, filepath.Ext(c.Module.Name))
	if name == "" {
		name = "upload"
	}
	return fmt.Sprintf("core-%s-%s", name, c.Time.Format("20060102-150405"))
}

// Save writes the dump of c to a core file in dir and returns its path.
func Save(dir string, c *Context, mem io.ReaderAt) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Trace(err)
	}
	var buf bytes.Buffer
	if err := NewDump(c, mem).Write(&buf); err != nil {
		return "", errors.Trace(err)
	}
	fn := filepath.Join(dir, CoreFileName(c))
	if err := ioutil.WriteFile(fn, buf.Bytes(), 0644); err != nil {
		return "", errors.Annotatef(err, "failed to save core file")
	}
	glog.Infof("saved %s", fn)
	return fn, nil
}

// LoadFile reads a dump from a core file or console log.
func LoadFile(fn string) (*Dump, error) {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, errors.Annotatef(err, "error reading file")
	}
	return ParseDump(data)
}

type coreFileInfo []os.FileInfo

func (pp coreFileInfo) Len() int      { return len(pp) }
func (pp coreFileInfo) Swap(i, j int) { pp[i], pp[j] = pp[j], pp[i] }
func (pp coreFileInfo) Less(i, j int) bool {
	// Newest first.
	return pp[i].ModTime().UnixNano() > pp[j].ModTime().UnixNano()
}

// FindLatest returns the path of the most recent core file in dir, or "".
func FindLatest(dir string) string {
	fileNames, err := filepath.Glob(filepath.Join(dir, "core-?*-*-*"))
	if err != nil {
		return ""
	}
	var cfi coreFileInfo
	for _, fn := range fileNames {
		if fi, err := os.Stat(fn); err == nil {
			cfi = append(cfi, fi)
		}
	}
	if len(cfi) == 0 {
		return ""
	}
	sort.Sort(cfi)
	return filepath.Join(dir, cfi[0].Name())
}

// Memory returns a ReaderAt over the regions saved in d, so that a saved
// dump can be reported again. Addresses outside them are unreadable.
func (d *Dump) Memory() io.ReaderAt {
	var rs regions
	for _, r := range []struct {
		addr uint32
		data string
	}{{d.CodeAddr, d.Code}, {d.Module.Base, d.EntryCode}, {d.SP(), d.Stack}} {
		b, err := hex.DecodeString(r.data)
		if err == nil && len(b) > 0 {
			rs = append(rs, region{addr: r.addr, data: b})
		}
	}
	return rs
}

type region struct {
	addr uint32
	data []byte
}

type regions []region

func (rs regions) ReadAt(p []byte, off int64) (int, error) {
	for _, r := range rs {
		if off >= int64(r.addr) && off < int64(r.addr)+int64(len(r.data)) {
			n := copy(p, r.data[off-int64(r.addr):])
			if n < len(p) {
				return n, io.EOF
			}
			return n, nil
		}
	}
	return 0, io.EOF
}
