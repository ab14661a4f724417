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
	"fmt"
	"regexp"
	"runtime"

	"github.com/mongoose-os/fastload/cli/ourutil"
)

// Set at link time: -ldflags "-X github.com/mongoose-os/fastload/version.Version=..."
var (
	Version = "latest"
	BuildId = ""
)

const (
	LatestVersionName = "latest"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
	regexpBuildId       = regexp.MustCompile(`^(?P<version>[^+]+)\+(?P<hash>[0-9a-f]+)(?P<dirty>~dirty)?$`)
)

// GetVersion returns this binary's version, or "latest" if it's not a release build.
func GetVersion() string {
	if LooksLikeVersionNumber(Version) {
		return Version
	}
	return LatestVersionName
}

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// GetBuildIDParts splits a build id like "1.2+0a1b2c3~dirty" into version,
// hash and dirty. Returns nil if the id does not look like that.
func GetBuildIDParts(buildId string) map[string]string {
	return ourutil.FindNamedSubmatches(regexpBuildId, buildId)
}

// GetClientID returns a client id for brokers that fastload talks to.
func GetClientID(role string) string {
	hash := "dev"
	if parts := GetBuildIDParts(BuildId); parts != nil {
		hash = parts["hash"]
	}
	return fmt.Sprintf("fastload-%s-%s", role, hash)
}

func GetUserAgent() string {
	return fmt.Sprintf("fastload/%s %s (%s; %s)", Version, BuildId, runtime.GOOS, runtime.GOARCH)
}
