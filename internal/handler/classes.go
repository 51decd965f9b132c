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

const (
	descClassesLoaded   = "Number of classes loaded since the runtime started"
	descClassesUnloaded = "Number of classes unloaded since the runtime started"
	descClassesCurrent  = "Number of classes currently loaded"
)

type classSample struct {
	loaded, unloaded int64
}

type classesLoaded struct {
	base

	last atomic.Pointer[classSample]
}

// NewClassesLoaded reports class loading totals.
func NewClassesLoaded(cfg Config) Handler {
	h := &classesLoaded{
		base: base{info: newInfo(cfg, "classes-loaded", feature.ClassLoadMetrics, event.TypeClassLoadingStatistics)},
	}
	loaded := cfg.Facade.Int64ObservableCounter(MetricClassesLoaded, unitClasses, descClassesLoaded)
	unloaded := cfg.Facade.Int64ObservableCounter(MetricClassesUnloaded, unitClasses, descClassesUnloaded)
	current := cfg.Facade.Int64ObservableUpDownCounter(MetricClassesCurrent, unitClasses, descClassesCurrent)
	h.register(cfg.Facade.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		if s := h.last.Load(); s != nil {
			obs.ObserveInt64(loaded, s.loaded)
			obs.ObserveInt64(unloaded, s.unloaded)
			obs.ObserveInt64(current, s.loaded-s.unloaded)
		}
		return nil
	}, loaded, unloaded, current))
	return h
}

func (h *classesLoaded) Handle(e event.Event) {
	if !h.active() {
		return
	}
	loaded, ok := e.Int64("loadedClassCount")
	if !ok || loaded < 0 {
		h.malformed(e, "loadedClassCount")
		return
	}
	unloaded, ok := e.Int64("unloadedClassCount")
	if !ok || unloaded < 0 {
		h.malformed(e, "unloadedClassCount")
		return
	}
	h.last.Store(&classSample{loaded: loaded, unloaded: unloaded})
}
