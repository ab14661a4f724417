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

// Package fault is the closed set of result kinds returned by the transport,
// store and loader. Errors carry their kind through any number of
// errors.Trace / errors.Annotate layers.
package fault

import (
	"github.com/juju/errors"
)

type Kind int

const (
	// OK is the kind of a nil error.
	OK Kind = iota
	// InvalidSize: declared payload length is zero or above the maximum.
	InvalidSize
	// Protocol: unexpected command byte on the wire.
	Protocol
	// Integrity: checksum mismatch after a full transfer.
	Integrity
	// Storage: container create, write, read-back or name collision failure.
	Storage
	// Loader: module does not fit the window or the resident copy differs.
	Loader
	// Resource: receive buffer could not be obtained.
	Resource
	// Transport: the byte channel itself failed.
	Transport
	// Unknown is the kind of any error that did not originate here.
	Unknown
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case InvalidSize:
		return "invalid size"
	case Protocol:
		return "protocol error"
	case Integrity:
		return "checksum mismatch"
	case Storage:
		return "storage error"
	case Loader:
		return "load error"
	case Resource:
		return "out of memory"
	case Transport:
		return "transport error"
	}
	return "unknown error"
}

// Error is an error of a particular Kind.
type Error struct {
	errors.Err
	kind Kind
}

func (e *Error) Kind() Kind { return e.kind }

// Errorf returns a new error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	e := &Error{Err: errors.NewErr(format, args...), kind: kind}
	e.SetLocation(1)
	return e
}

// Wrap marks an existing error as being of the given kind, keeping the
// original as its underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	e := &Error{Err: errors.NewErrWithCause(err, format, args...), kind: kind}
	e.SetLocation(1)
	return e
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	for err != nil {
		if fe, ok := err.(*Error); ok {
			return fe.kind
		}
		w, ok := err.(interface{ Underlying() error })
		if !ok {
			break
		}
		err = w.Underlying()
	}
	return Unknown
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
