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

// Package multierror collects several problems into one error, so that a
// user sees all of them at once.
package multierror

import (
	"bytes"
	"fmt"
)

type Error struct {
	errs []error
}

func (e *Error) Error() string {
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "%d problems:", len(e.errs))
	for _, err := range e.errs {
		fmt.Fprintf(buf, "\n  %s", err)
	}
	return buf.String()
}

// Errors returns the collected errors in the order they were added.
func (e *Error) Errors() []error {
	return e.errs
}

// Append adds errs to err. err may be nil, a plain error or an *Error;
// nil entries of errs are skipped, and nil is returned if nothing is left.
func Append(err error, errs ...error) error {
	var all []error
	switch e := err.(type) {
	case nil:
	case *Error:
		all = e.errs
	default:
		all = []error{err}
	}
	for _, e := range errs {
		if e != nil {
			all = append(all, e)
		}
	}
	if len(all) == 0 {
		return nil
	}
	if me, ok := err.(*Error); ok {
		me.errs = all
		return me
	}
	return &Error{errs: all}
}
