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
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
)

const descThreadCount = "Number of executing threads"

var (
	daemonAttrs    = attrs(DaemonKey.Bool(true))
	nonDaemonAttrs = attrs(DaemonKey.Bool(false))
)

type threadSample struct {
	total, daemon int64
}

type threadCount struct {
	base

	last atomic.Pointer[threadSample]
}

// NewThreadCount reports live threads split by daemon status.
func NewThreadCount(cfg Config) Handler {
	h := &threadCount{
		base: base{info: newInfo(cfg, "thread-count", feature.ThreadMetrics, event.TypeThreadStatistics)},
	}
	count := cfg.Facade.Int64ObservableUpDownCounter(MetricThreadCount, unitThreads, descThreadCount)
	h.register(cfg.Facade.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		if s := h.last.Load(); s != nil {
			obs.ObserveInt64(count, s.daemon, daemonAttrs)
			obs.ObserveInt64(count, s.total-s.daemon, nonDaemonAttrs)
		}
		return nil
	}, count))
	return h
}

func (h *threadCount) Handle(e event.Event) {
	if !h.active() {
		return
	}
	active, ok := e.Int64("activeCount")
	if !ok || active < 0 {
		h.malformed(e, "activeCount")
		return
	}
	daemon, ok := e.Int64("daemonCount")
	if !ok || daemon < 0 || daemon > active {
		h.malformed(e, "daemonCount")
		return
	}
	h.last.Store(&threadSample{total: active, daemon: daemon})
}
