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
package version

import (
	"testing"
)

func TestGetBuildIDParts(t *testing.T) {
	for _, c := range []struct {
		id, version, hash string
	}{
		{"1.2+0a1b2c3", "1.2", "0a1b2c3"},
		{"1.2+0a1b2c3~dirty", "1.2", "0a1b2c3"},
		{"20261016-101500+deadbeef", "20261016-101500", "deadbeef"},
	} {
		parts := GetBuildIDParts(c.id)
		if parts == nil {
			t.Errorf("%q: no match", c.id)
			continue
		}
		if got, want := parts["version"], c.version; got != want {
			t.Errorf("%q: got: %q, want: %q", c.id, got, want)
		}
		if got, want := parts["hash"], c.hash; got != want {
			t.Errorf("%q: got: %q, want: %q", c.id, got, want)
		}
	}
	if parts := GetBuildIDParts("latest"); parts != nil {
		t.Errorf("got: %v, want: nil", parts)
	}
}

func TestGetVersion(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()
	Version = "1.7"
	if got, want := GetVersion(), "1.7"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	Version = "20261016-101500"
	if got, want := GetVersion(), LatestVersionName; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}
