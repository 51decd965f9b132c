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
	"github.com/lightstep/otel-runtime-bridge/internal/facade"
)

const (
	descNetworkIO   = "Bytes read or written per socket operation"
	descNetworkTime = "Time spent in socket operations"
)

type network struct {
	base

	bytes     metric.Float64Histogram
	time      metric.Float64Histogram
	grouper   *ThreadGrouper
	field     string
	direction attribute.KeyValue
}

func newNetwork(cfg Config, name, eventType, field, direction string) *network {
	return &network{
		base:      base{info: newInfo(cfg, name, feature.NetworkIOMetrics, eventType)},
		bytes:     cfg.Facade.Histogram(MetricNetworkIO, unitBytes, descNetworkIO, nil),
		time:      cfg.Facade.Histogram(MetricNetworkTime, unitSeconds, descNetworkTime, facade.DefaultBuckets),
		grouper:   cfg.grouper(),
		field:     field,
		direction: DirectionKey.String(direction),
	}
}

// NewNetworkRead records socket reads.
func NewNetworkRead(cfg Config) Handler {
	return newNetwork(cfg, "network-read", event.TypeSocketRead, "bytesRead", DirectionRead)
}

// NewNetworkWrite records socket writes.
func NewNetworkWrite(cfg Config) Handler {
	return newNetwork(cfg, "network-write", event.TypeSocketWrite, "bytesWritten", DirectionWrite)
}

func (h *network) Handle(e event.Event) {
	if !h.active() {
		return
	}
	n, ok := e.Int64(h.field)
	if !ok || n < 0 {
		h.malformed(e, h.field)
		return
	}
	ms, ok := e.Millis("duration")
	if !ok || ms < 0 {
		h.malformed(e, "duration")
		return
	}
	kvs := []attribute.KeyValue{h.direction}
	if group, ok := h.grouper.threadGroup(e); ok {
		kvs = append(kvs, ThreadGroupKey.String(group))
	}
	opt := metric.WithAttributes(kvs...)

	ctx := context.Background()
	h.bytes.Record(ctx, float64(n), opt)
	h.time.Record(ctx, ms/millisPerSec, opt)
}
