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

const directPool = "direct"

type directBuffer struct {
	base

	usage metric.Int64Gauge
	limit metric.Int64Gauge
	count metric.Int64Gauge
	attrs metric.MeasurementOption
}

// NewDirectBufferStatistics records direct buffer pool usage.
func NewDirectBufferStatistics(cfg Config) Handler {
	return &directBuffer{
		base:  base{info: newInfo(cfg, "direct-buffer-statistics", feature.BufferMetrics, event.TypeDirectBufferStatistics)},
		usage: cfg.Facade.Int64Gauge(MetricBufferUsage, unitBytes, "Measure of memory used by buffers"),
		limit: cfg.Facade.Int64Gauge(MetricBufferLimit, unitBytes, "Measure of total memory capacity of buffers"),
		count: cfg.Facade.Int64Gauge(MetricBufferCount, unitBuffers, "Number of buffers in the pool"),
		attrs: attrs(PoolKey.String(directPool)),
	}
}

func (h *directBuffer) Handle(e event.Event) {
	if !h.active() {
		return
	}
	used, ok := e.Int64("memoryUsed")
	if !ok {
		h.malformed(e, "memoryUsed")
		return
	}
	capacity, ok := e.Int64("totalCapacity")
	if !ok {
		h.malformed(e, "totalCapacity")
		return
	}
	count, ok := e.Int64("count")
	if !ok {
		h.malformed(e, "count")
		return
	}

	ctx := context.Background()
	h.usage.Record(ctx, used, h.attrs)
	h.limit.Record(ctx, capacity, h.attrs)
	h.count.Record(ctx, count, h.attrs)
}
