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

package bridge

import "github.com/lightstep/otel-runtime-bridge/event"

// Platform is a runtime whose events the bridge consumes.
type Platform interface {
	// Supported reports whether the runtime can deliver events at
	// all.  It is consulted once, by Start.
	Supported() bool

	// Namespace prefixes every metric name, e.g.,
	// "process.runtime.go".
	Namespace() string

	// Collectors returns one source per garbage collector, named
	// after it.  Unknown names are ignored.
	Collectors() []event.Source

	// Events returns the source of every other event type, or nil
	// when the runtime has none.
	Events() event.Source
}
