// Copyright The OpenTelemetry Authors
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

package version // import "github.com/lightstep/otel-runtime-bridge/internal/version"

import (
	"runtime/debug"
	"sync"
)

const (
	// ModulePath is looked up in the binary's build information.
	ModulePath = "github.com/lightstep/otel-runtime-bridge"

	// Unknown is reported when no version can be read.
	Unknown = "unknown"
)

var (
	once    sync.Once
	version string
)

// Version returns this module's version as recorded in the running
// binary, or Unknown.  The lookup happens once.
func Version() string {
	once.Do(func() {
		info, ok := debug.ReadBuildInfo()
		version = fromBuildInfo(info, ok)
	})
	return version
}

func fromBuildInfo(info *debug.BuildInfo, ok bool) string {
	if !ok || info == nil {
		return Unknown
	}
	mod := &info.Main
	if mod.Path != ModulePath {
		mod = nil
		for _, dep := range info.Deps {
			if dep.Path == ModulePath {
				mod = dep
				break
			}
		}
	}
	if mod == nil {
		return Unknown
	}
	if mod.Replace != nil && mod.Replace.Version != "" {
		return mod.Replace.Version
	}
	switch mod.Version {
	case "", "(devel)":
		return Unknown
	}
	return mod.Version
}
