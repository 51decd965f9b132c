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

import (
	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
	"github.com/lightstep/otel-runtime-bridge/internal/handler"
)

// collectorHandler builds a handler for the named collector.
type collectorHandler func(cfg handler.Config, collector string) handler.Handler

func ignoreName(f func(handler.Config) handler.Handler) collectorHandler {
	return func(cfg handler.Config, _ string) handler.Handler {
		return f(cfg)
	}
}

// collectorHandlers maps garbage collector names to the handlers
// their presence enables.
var collectorHandlers = map[string][]collectorHandler{
	event.CollectorG1Young: {
		ignoreName(handler.NewG1HeapSummary),
		ignoreName(handler.NewG1GarbageCollection),
	},
	event.CollectorCopy: {
		handler.NewYoungGarbageCollection,
	},
	event.CollectorPSScavenge: {
		handler.NewYoungGarbageCollection,
		ignoreName(handler.NewParallelHeapSummary),
	},
	event.CollectorG1Old: {
		handler.NewOldGarbageCollection,
	},
	event.CollectorPSMarkSweep: {
		handler.NewOldGarbageCollection,
	},
	event.CollectorMarkSweepCompact: {
		handler.NewOldGarbageCollection,
	},
	event.CollectorGo: {
		ignoreName(handler.NewGoHeapSummary),
		handler.NewGarbageCollection,
	},
}

// platformHandlers are bound to the platform's event source
// whichever collectors are present.
var platformHandlers = []func(handler.Config) handler.Handler{
	handler.NewAllocationInNewTLAB,
	handler.NewAllocationOutsideTLAB,
	handler.NewNetworkRead,
	handler.NewNetworkWrite,
	handler.NewContextSwitchRate,
	handler.NewOverallCPULoad,
	handler.NewContainerConfiguration,
	handler.NewLongLock,
	handler.NewThreadCount,
	handler.NewClassesLoaded,
	handler.NewMetaspaceSummary,
	handler.NewCodeCacheConfiguration,
	handler.NewDirectBufferStatistics,
}

// binding is a handler and the source it reads from.
type binding struct {
	handler handler.Handler
	source  event.Source
}

// buildHandlers returns the handlers enabled for p.  Handlers the
// predicate rejects are closed before returning.
func buildHandlers(cfg handler.Config, p Platform, enabled feature.Predicate) []binding {
	var all []binding
	for _, src := range p.Collectors() {
		if src == nil || src.Kind() != event.KindCollector {
			continue
		}
		for _, newHandler := range collectorHandlers[src.Name()] {
			all = append(all, binding{
				handler: newHandler(cfg, src.Name()),
				source:  src,
			})
		}
	}

	if events := p.Events(); events != nil {
		if cfg.Grouper == nil {
			cfg.Grouper = handler.NewThreadGrouper()
		}
		for _, newHandler := range platformHandlers {
			all = append(all, binding{
				handler: newHandler(cfg),
				source:  events,
			})
		}
	}

	kept := all[:0]
	for _, b := range all {
		if enabled(b.handler.Feature()) {
			kept = append(kept, b)
			continue
		}
		if err := b.handler.Close(); err != nil {
			cfg.Logger.V(1).Info("closing disabled runtime handler", "handler", b.handler.Name(), "error", err)
		}
	}
	return kept
}
