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

const descCPULimit = "Number of processors available to the runtime"

type containerConfig struct {
	base

	cpus lastInt
}

// NewContainerConfiguration reports the effective processor count.
func NewContainerConfiguration(cfg Config) Handler {
	h := &containerConfig{
		base: base{info: newInfo(cfg, "container-configuration", feature.CPUCountMetrics, event.TypeContainerConfiguration)},
	}
	limit := cfg.Facade.Int64ObservableUpDownCounter(MetricCPULimit, unitCPUs, descCPULimit)
	h.register(cfg.Facade.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		if v, ok := h.cpus.load(); ok {
			obs.ObserveInt64(limit, v)
		}
		return nil
	}, limit))
	return h
}

func (h *containerConfig) Handle(e event.Event) {
	if !h.active() {
		return
	}
	n, ok := e.Int64("effectiveCpuCount")
	if !ok || n < 0 {
		h.malformed(e, "effectiveCpuCount")
		return
	}
	h.cpus.store(n)
}
