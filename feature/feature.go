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

// Package feature names the groups of runtime metrics that can be
// switched on and off independently.
package feature // import "github.com/lightstep/otel-runtime-bridge/feature"

import (
	"fmt"
	"strings"
)

// Feature is a group of related handlers.
type Feature int

const (
	BufferMetrics Feature = iota
	ClassLoadMetrics
	ContextSwitchMetrics
	CPUCountMetrics
	CPUUtilizationMetrics
	GCDurationMetrics
	LockMetrics
	MemoryAllocationMetrics
	MemoryPoolMetrics
	NetworkIOMetrics
	ThreadMetrics

	numFeatures
)

var names = [numFeatures]string{
	BufferMetrics:           "buffer_metrics",
	ClassLoadMetrics:        "class_load_metrics",
	ContextSwitchMetrics:    "context_switch_metrics",
	CPUCountMetrics:         "cpu_count_metrics",
	CPUUtilizationMetrics:   "cpu_utilization_metrics",
	GCDurationMetrics:       "gc_duration_metrics",
	LockMetrics:             "lock_metrics",
	MemoryAllocationMetrics: "memory_allocation_metrics",
	MemoryPoolMetrics:       "memory_pool_metrics",
	NetworkIOMetrics:        "network_io_metrics",
	ThreadMetrics:           "thread_metrics",
}

// Features that overlap with what callers usually collect by polling
// are off unless asked for.
var defaults = [numFeatures]bool{
	ContextSwitchMetrics:    true,
	CPUCountMetrics:         true,
	LockMetrics:             true,
	MemoryAllocationMetrics: true,
	NetworkIOMetrics:        true,
}

func (f Feature) String() string {
	if f < 0 || f >= numFeatures {
		return fmt.Sprintf("Feature(%d)", int(f))
	}
	return names[f]
}

// DefaultEnabled reports whether f is on when nothing is configured.
func (f Feature) DefaultEnabled() bool {
	if f < 0 || f >= numFeatures {
		return false
	}
	return defaults[f]
}

// All lists every feature in declaration order.
func All() []Feature {
	all := make([]Feature, numFeatures)
	for i := range all {
		all[i] = Feature(i)
	}
	return all
}

// Parse resolves a feature name.  Matching ignores case, and the
// "_metrics" suffix may be omitted.
func Parse(s string) (Feature, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if n == name || n+"_metrics" == name {
			return Feature(i), nil
		}
	}
	return 0, fmt.Errorf("unknown runtime feature: %q", s)
}

// Predicate decides whether handlers of a feature are kept.  It is
// evaluated once per handler, when handlers are built.
type Predicate func(Feature) bool

// Defaults keeps the features that are on by default.
func Defaults(f Feature) bool { return f.DefaultEnabled() }

// Everything keeps every feature.
func Everything(Feature) bool { return true }

// Nothing keeps no feature.
func Nothing(Feature) bool { return false }
