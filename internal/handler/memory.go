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
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
)

const (
	poolUsed = iota
	poolCommitted
	poolLimit
	numPoolMetrics
)

var poolMetrics = [numPoolMetrics]struct{ suffix, desc string }{
	poolUsed:      {MetricMemoryUsage, "Measure of memory used"},
	poolCommitted: {MetricMemoryCommitted, "Measure of memory committed"},
	poolLimit:     {MetricMemoryLimit, "Measure of max obtainable memory"},
}

const descMemoryAfterGC = "Measure of memory used after the most recent garbage collection event"

// poolSpec names the payload fields reporting one memory pool.  An
// empty field is not reported.
type poolSpec struct {
	name   string
	fields [numPoolMetrics]string

	// optional pools are skipped, rather than failing the event,
	// when a field is missing.
	optional bool
}

type memoryPools struct {
	base

	gauges  [numPoolMetrics]metric.Int64Gauge
	afterGC metric.Int64Gauge
	pools   []poolSpec
	attrs   []metric.MeasurementOption
}

func newMemoryPools(cfg Config, name, eventType, kind string, trackAfterGC bool, pools ...poolSpec) *memoryPools {
	h := &memoryPools{
		base:  base{info: newInfo(cfg, name, feature.MemoryPoolMetrics, eventType)},
		pools: pools,
	}
	for _, p := range pools {
		h.attrs = append(h.attrs, attrs(TypeKey.String(kind), PoolKey.String(p.name)))
		for i, field := range p.fields {
			if field != "" && h.gauges[i] == nil {
				h.gauges[i] = cfg.Facade.Int64Gauge(poolMetrics[i].suffix, unitBytes, poolMetrics[i].desc)
			}
		}
	}
	if trackAfterGC {
		h.afterGC = cfg.Facade.Int64Gauge(MetricMemoryAfterGC, unitBytes, descMemoryAfterGC)
	}
	return h
}

// NewG1HeapSummary records G1 heap pools.
func NewG1HeapSummary(cfg Config) Handler {
	return newMemoryPools(cfg, "g1-heap-summary", event.TypeG1HeapSummary, TypeHeap, true,
		poolSpec{name: "G1 Eden Space", fields: [numPoolMetrics]string{
			poolUsed:      "edenUsedSize",
			poolCommitted: "edenTotalSize",
		}},
		poolSpec{name: "G1 Survivor Space", fields: [numPoolMetrics]string{
			poolUsed: "survivorUsedSize",
		}},
		poolSpec{name: "G1 Old Gen", optional: true, fields: [numPoolMetrics]string{
			poolUsed: "oldGenUsedSize",
		}},
	)
}

// NewParallelHeapSummary records parallel collector heap pools.
func NewParallelHeapSummary(cfg Config) Handler {
	return newMemoryPools(cfg, "parallel-heap-summary", event.TypePSHeapSummary, TypeHeap, true,
		poolSpec{name: "PS Eden Space", fields: [numPoolMetrics]string{
			poolUsed:      "edenSpace.used",
			poolCommitted: "edenSpace.size",
		}},
		poolSpec{name: "PS Survivor Space", fields: [numPoolMetrics]string{
			poolUsed:      "fromSpace.used",
			poolCommitted: "fromSpace.size",
		}},
		poolSpec{name: "PS Old Gen", fields: [numPoolMetrics]string{
			poolUsed:      "oldObjectSpace.used",
			poolCommitted: "oldSpace.committedSize",
		}},
	)
}

// NewGoHeapSummary records the Go heap as a single pool.
func NewGoHeapSummary(cfg Config) Handler {
	return newMemoryPools(cfg, "go-heap-summary", event.TypeGCHeapSummary, TypeHeap, true,
		poolSpec{name: "Go heap", fields: [numPoolMetrics]string{
			poolUsed:      "heapUsed",
			poolCommitted: "heapCommitted",
		}},
	)
}

// NewMetaspaceSummary records class metadata pools.
func NewMetaspaceSummary(cfg Config) Handler {
	return newMemoryPools(cfg, "metaspace-summary", event.TypeMetaspaceSummary, TypeNonHeap, false,
		poolSpec{name: "Metaspace", fields: [numPoolMetrics]string{
			poolUsed:      "metaspace.used",
			poolCommitted: "metaspace.committed",
			poolLimit:     "metaspace.reserved",
		}},
		poolSpec{name: "Compressed Class Space", optional: true, fields: [numPoolMetrics]string{
			poolUsed:      "classSpace.used",
			poolCommitted: "classSpace.committed",
			poolLimit:     "classSpace.reserved",
		}},
	)
}

// NewCodeCacheConfiguration records the reserved code cache size.
func NewCodeCacheConfiguration(cfg Config) Handler {
	return newMemoryPools(cfg, "code-cache-configuration", event.TypeCodeCacheConfiguration, TypeNonHeap, false,
		poolSpec{name: "CodeCache", fields: [numPoolMetrics]string{
			poolLimit: "reservedSize",
		}},
	)
}

func (h *memoryPools) Handle(e event.Event) {
	if !h.active() {
		return
	}

	values := make([][numPoolMetrics]int64, len(h.pools))
	skip := make([]bool, len(h.pools))
	for i, p := range h.pools {
		for m, field := range p.fields {
			if field == "" {
				continue
			}
			v, ok := e.Int64(field)
			if ok {
				values[i][m] = v
				continue
			}
			if !p.optional {
				h.malformed(e, field)
				return
			}
			skip[i] = true
		}
	}

	ctx := context.Background()
	when, _ := e.String("when")
	afterGC := h.afterGC != nil && when == afterGCMarker

	for i, p := range h.pools {
		if skip[i] {
			continue
		}
		for m, field := range p.fields {
			if field != "" {
				h.gauges[m].Record(ctx, values[i][m], h.attrs[i])
			}
		}
		if afterGC && p.fields[poolUsed] != "" {
			h.afterGC.Record(ctx, values[i][poolUsed], h.attrs[i])
		}
	}
}
