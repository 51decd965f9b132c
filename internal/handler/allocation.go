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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
)

const descAllocation = "Measure of memory allocated"

type allocation struct {
	base

	hist    metric.Float64Histogram
	grouper *ThreadGrouper
	field   string
	arena   attribute.KeyValue
}

func newAllocation(cfg Config, name, eventType, field, arena string) *allocation {
	return &allocation{
		base:    base{info: newInfo(cfg, name, feature.MemoryAllocationMetrics, eventType)},
		hist:    cfg.Facade.Histogram(MetricMemoryAllocation, unitBytes, descAllocation, nil),
		grouper: cfg.grouper(),
		field:   field,
		arena:   ArenaKey.String(arena),
	}
}

// NewAllocationInNewTLAB records allocations that opened a new
// thread-local allocation buffer.
func NewAllocationInNewTLAB(cfg Config) Handler {
	return newAllocation(cfg, "allocation-in-new-tlab", event.TypeObjectAllocationInNewTLAB, "tlabSize", ArenaTLAB)
}

// NewAllocationOutsideTLAB records allocations made directly in the
// shared heap.
func NewAllocationOutsideTLAB(cfg Config) Handler {
	return newAllocation(cfg, "allocation-outside-tlab", event.TypeObjectAllocationOutsideTLAB, "allocationSize", ArenaMain)
}

func (h *allocation) Handle(e event.Event) {
	if !h.active() {
		return
	}
	size, ok := e.Int64(h.field)
	if !ok || size < 0 {
		h.malformed(e, h.field)
		return
	}
	kvs := []attribute.KeyValue{h.arena}
	if group, ok := h.grouper.threadGroup(e); ok {
		kvs = append(kvs, ThreadGroupKey.String(group))
	}
	h.hist.Record(context.Background(), float64(size), metric.WithAttributes(kvs...))
}
