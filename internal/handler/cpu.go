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
	descContextSwitch     = "Number of context switches per second"
	descCPUUtilization    = "Recent CPU utilization for the process"
	descSystemUtilization = "Recent CPU utilization for the whole system"
	descLongLock          = "Long lock times"
)

type contextSwitch struct {
	base

	rate lastFloat
}

// NewContextSwitchRate reports the latest thread context switch rate.
func NewContextSwitchRate(cfg Config) Handler {
	h := &contextSwitch{
		base: base{info: newInfo(cfg, "context-switch-rate", feature.ContextSwitchMetrics, event.TypeThreadContextSwitchRate)},
	}
	gauge := cfg.Facade.Float64ObservableGauge(MetricContextSwitch, unitHertz, descContextSwitch)
	h.register(cfg.Facade.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		if v, ok := h.rate.load(); ok {
			obs.ObserveFloat64(gauge, v)
		}
		return nil
	}, gauge))
	return h
}

func (h *contextSwitch) Handle(e event.Event) {
	if !h.active() {
		return
	}
	v, ok := e.Float64("switchRate")
	if !ok || v < 0 {
		h.malformed(e, "switchRate")
		return
	}
	h.rate.store(v)
}

type cpuLoad struct {
	base

	process lastFloat
	machine lastFloat
}

// NewOverallCPULoad reports process and machine CPU utilization.
func NewOverallCPULoad(cfg Config) Handler {
	h := &cpuLoad{
		base: base{info: newInfo(cfg, "overall-cpu-load", feature.CPUUtilizationMetrics, event.TypeCPULoad)},
	}
	process := cfg.Facade.Float64ObservableGauge(MetricCPUUtilization, unitRatio, descCPUUtilization)
	machine := cfg.Facade.Float64ObservableGauge(MetricSystemUtilization, unitRatio, descSystemUtilization)
	h.register(cfg.Facade.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		if v, ok := h.process.load(); ok {
			obs.ObserveFloat64(process, v)
		}
		if v, ok := h.machine.load(); ok {
			obs.ObserveFloat64(machine, v)
		}
		return nil
	}, process, machine))
	return h
}

func (h *cpuLoad) Handle(e event.Event) {
	if !h.active() {
		return
	}
	user, ok := e.Float64("jvmUser")
	if !ok {
		h.malformed(e, "jvmUser")
		return
	}
	system, ok := e.Float64("jvmSystem")
	if !ok {
		h.malformed(e, "jvmSystem")
		return
	}
	total, ok := e.Float64("machineTotal")
	if !ok {
		h.malformed(e, "machineTotal")
		return
	}
	h.process.store(user + system)
	h.machine.store(total)
}

type longLock struct {
	base

	hist    metric.Float64Histogram
	grouper *ThreadGrouper
}

// NewLongLock records monitor waits.
func NewLongLock(cfg Config) Handler {
	return &longLock{
		base:    base{info: newInfo(cfg, "long-lock", feature.LockMetrics, event.TypeMonitorWait)},
		hist:    cfg.Facade.Histogram(MetricLongLock, unitSeconds, descLongLock, facade.DefaultBuckets),
		grouper: cfg.grouper(),
	}
}

func (h *longLock) Handle(e event.Event) {
	if !h.active() {
		return
	}
	ms, ok := e.Millis("duration")
	if !ok || ms < 0 {
		h.malformed(e, "duration")
		return
	}
	var kvs []attribute.KeyValue
	if group, ok := h.grouper.threadGroup(e); ok {
		kvs = append(kvs, ThreadGroupKey.String(group))
	}
	h.hist.Record(context.Background(), ms/millisPerSec, metric.WithAttributes(kvs...))
}
