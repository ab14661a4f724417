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
package ourutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/term"
)

// Operator answers the device's questions from the controlling terminal.
type Operator struct {
	// FixedName, if set, is used for every module without asking.
	FixedName string
	// Yes answers every question with yes.
	Yes bool

	in *os.File
}

func NewOperator(name string, yes bool) *Operator {
	return &Operator{FixedName: name, Yes: yes, in: os.Stdin}
}

func (o *Operator) interactive() bool {
	return term.IsTerminal(int(o.in.Fd()))
}

func (o *Operator) Name(prompt string) (string, error) {
	if o.FixedName != "" {
		return o.FixedName, nil
	}
	if !o.interactive() {
		return "", errors.Errorf("%s: not a terminal, use --name", prompt)
	}
	for {
		if name := Prompt(prompt + ":"); name != "" {
			return name, nil
		}
	}
}

// Confirm reads a single key, y or n, with the terminal in raw mode.
func (o *Operator) Confirm(prompt string) (bool, error) {
	if o.Yes {
		return true, nil
	}
	if !o.interactive() {
		return false, errors.Errorf("%s: not a terminal, use --yes", prompt)
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	fd := int(o.in.Fd())
	st, err := term.MakeRaw(fd)
	if err != nil {
		return false, errors.Annotatef(err, "failed to read answer")
	}
	b := make([]byte, 1)
	_, err = o.in.Read(b)
	term.Restore(fd, st)
	if err != nil {
		return false, errors.Trace(err)
	}
	yes := strings.ToLower(string(b)) == "y"
	if yes {
		fmt.Fprintf(os.Stderr, "y\n")
	} else {
		fmt.Fprintf(os.Stderr, "n\n")
	}
	return yes, nil
}

func (o *Operator) Status(format string, args ...interface{}) {
	if strings.Contains(format, "failed") {
		Warnf(format, args...)
		return
	}
	Reportf(format, args...)
}
