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
	"github.com/lightstep/otel-runtime-bridge/internal/facade"
)

const descGCDuration = "Duration of runtime garbage collection actions"

type gcDuration struct {
	base

	hist   metric.Float64Histogram
	gc     string
	action string
	attrs  metric.MeasurementOption

	// fromEvent reads the collector name and action from the
	// payload, keeping gc and action as fallbacks.
	fromEvent bool
}

func newGCDuration(cfg Config, name, eventType, gc, action string) *gcDuration {
	return &gcDuration{
		base:   base{info: newInfo(cfg, name, feature.GCDurationMetrics, eventType)},
		hist:   cfg.Facade.Histogram(MetricGCDuration, unitSeconds, descGCDuration, facade.DefaultBuckets),
		gc:     gc,
		action: action,
		attrs:  attrs(GCKey.String(gc), ActionKey.String(action)),
	}
}

// NewG1GarbageCollection records G1 young collection pauses.
func NewG1GarbageCollection(cfg Config) Handler {
	return newGCDuration(cfg, "g1-gc-duration", event.TypeG1GarbageCollection, event.CollectorG1Young, ActionMinorGC)
}

// NewYoungGarbageCollection records young collections of the named
// collector.
func NewYoungGarbageCollection(cfg Config, collector string) Handler {
	return newGCDuration(cfg, "young-gc-duration", event.TypeYoungGarbageCollection, collector, ActionMinorGC)
}

// NewOldGarbageCollection records old collections of the named
// collector.
func NewOldGarbageCollection(cfg Config, collector string) Handler {
	return newGCDuration(cfg, "old-gc-duration", event.TypeOldGarbageCollection, collector, ActionMajorGC)
}

// NewGarbageCollection records collections whose payload names the
// collector and action, as the Go runtime platform reports them.
func NewGarbageCollection(cfg Config, collector string) Handler {
	h := newGCDuration(cfg, "gc-duration", event.TypeGarbageCollection, collector, ActionGCCycle)
	h.fromEvent = true
	return h
}

func (h *gcDuration) Handle(e event.Event) {
	if !h.active() {
		return
	}
	ms, ok := e.Millis("duration")
	if !ok || ms < 0 {
		h.malformed(e, "duration")
		return
	}
	opt := h.attrs
	if h.fromEvent {
		gc, action := h.gc, h.action
		if s, ok := e.String("name"); ok && s != "" {
			gc = s
		}
		if s, ok := e.String("action"); ok && s != "" {
			action = s
		}
		if gc != h.gc || action != h.action {
			opt = attrs(GCKey.String(gc), ActionKey.String(action))
		}
	}
	h.hist.Record(context.Background(), ms/millisPerSec, opt)
}
