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

package handler

import (
	"math"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys.
const (
	GCKey          = attribute.Key("gc")
	ActionKey      = attribute.Key("action")
	TypeKey        = attribute.Key("type")
	PoolKey        = attribute.Key("pool")
	ThreadGroupKey = attribute.Key("thread.group")
	ArenaKey       = attribute.Key("arena")
	DirectionKey   = attribute.Key("direction")
	DaemonKey      = attribute.Key("daemon")
)

// Attribute values.
const (
	ActionMinorGC = "end of minor GC"
	ActionMajorGC = "end of major GC"
	ActionGCCycle = "end of GC cycle"

	TypeHeap    = "heap"
	TypeNonHeap = "non_heap"

	ArenaTLAB = "TLAB"
	ArenaMain = "Main"

	DirectionRead  = "read"
	DirectionWrite = "write"
)

// Units.
const (
	unitSeconds   = "s"
	unitBytes     = "By"
	unitHertz     = "Hz"
	unitRatio     = "1"
	unitCPUs      = "{cpus}"
	unitThreads   = "{threads}"
	unitClasses   = "{classes}"
	unitBuffers   = "{buffers}"
	millisPerSec  = 1000.0
	afterGCMarker = "After GC"
)

// Metric name suffixes, relative to the platform namespace.
const (
	MetricGCDuration        = "gc.duration"
	MetricMemoryUsage       = "memory.usage"
	MetricMemoryCommitted   = "memory.committed"
	MetricMemoryLimit       = "memory.limit"
	MetricMemoryAfterGC     = "memory.usage_after_last_gc"
	MetricMemoryAllocation  = "memory.allocation"
	MetricNetworkIO         = "network.io"
	MetricNetworkTime       = "network.time"
	MetricContextSwitch     = "cpu.context_switch"
	MetricCPUUtilization    = "cpu.utilization"
	MetricSystemUtilization = "system.cpu.utilization"
	MetricCPULimit          = "cpu.limit"
	MetricLongLock          = "cpu.longlock"
	MetricThreadCount       = "threads.count"
	MetricClassesLoaded     = "classes.loaded"
	MetricClassesUnloaded   = "classes.unloaded"
	MetricClassesCurrent    = "classes.current_loaded"
	MetricBufferUsage       = "buffer.usage"
	MetricBufferLimit       = "buffer.limit"
	MetricBufferCount       = "buffer.count"
)

func attrs(kvs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(kvs...))
}

// lastFloat holds the latest value reported by an event for an
// asynchronous instrument.
type lastFloat struct {
	bits atomic.Uint64
	set  atomic.Bool
}

func (l *lastFloat) store(v float64) {
	l.bits.Store(math.Float64bits(v))
	l.set.Store(true)
}

func (l *lastFloat) load() (float64, bool) {
	if !l.set.Load() {
		return 0, false
	}
	return math.Float64frombits(l.bits.Load()), true
}

// lastInt is lastFloat for int64 values.
type lastInt struct {
	v   atomic.Int64
	set atomic.Bool
}

func (l *lastInt) store(v int64) {
	l.v.Store(v)
	l.set.Store(true)
}

func (l *lastInt) load() (int64, bool) {
	if !l.set.Load() {
		return 0, false
	}
	return l.v.Load(), true
}
