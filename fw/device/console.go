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
package device

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Console is the diagnostic output of the device. It usually shares the
// wire with the upload transport, so while a transfer is in progress it
// holds output back and writes it out once the transfer is over.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	quiet int
	held  bytes.Buffer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quiet > 0 {
		return c.held.Write(p)
	}
	return c.w.Write(p)
}

// Printf writes a status line.
func (c *Console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c, format+"\r\n", args...)
}

// Quiet holds back output until the returned function is called. Quiet
// periods nest.
func (c *Console) Quiet() func() {
	c.mu.Lock()
	c.quiet++
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.quiet--
			if c.quiet == 0 && c.held.Len() > 0 {
				c.w.Write(c.held.Bytes())
				c.held.Reset()
			}
		})
	}
}
