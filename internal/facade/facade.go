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

// Package facade creates the instruments handlers record into.  Every
// instrument is created once per name and shared by all callers.
package facade // import "github.com/lightstep/otel-runtime-bridge/internal/facade"

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Advice carries histogram bucket boundaries.  Empty boundaries
// defer the choice to the pipeline's default aggregation.
type Advice struct {
	Boundaries []float64
}

// DefaultBuckets is advice with no explicit boundaries.
var DefaultBuckets = &Advice{}

// Facade wraps a metric.Meter under a metric name namespace.
type Facade struct {
	meter     metric.Meter
	namespace string

	// lock protects the instrument caches.
	lock           sync.Mutex
	histograms     map[string]metric.Float64Histogram
	gauges         map[string]metric.Int64Gauge
	floatObsGauges map[string]metric.Float64ObservableGauge
	intObsCounters map[string]metric.Int64ObservableCounter
	intObsUpDowns  map[string]metric.Int64ObservableUpDownCounter
	created        int
}

// New returns a Facade that prefixes every metric name with
// namespace and a dot.  An empty namespace adds no prefix.
func New(meter metric.Meter, namespace string) *Facade {
	return &Facade{
		meter:          meter,
		namespace:      namespace,
		histograms:     map[string]metric.Float64Histogram{},
		gauges:         map[string]metric.Int64Gauge{},
		floatObsGauges: map[string]metric.Float64ObservableGauge{},
		intObsCounters: map[string]metric.Int64ObservableCounter{},
		intObsUpDowns:  map[string]metric.Int64ObservableUpDownCounter{},
	}
}

// Name returns the full metric name for a suffix.
func (f *Facade) Name(suffix string) string {
	if f.namespace == "" {
		return suffix
	}
	return f.namespace + "." + suffix
}

// Namespace returns the configured metric name prefix.
func (f *Facade) Namespace() string {
	return f.namespace
}

// Created returns how many distinct instruments the Facade has asked
// the meter for.
func (f *Facade) Created() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.created
}

func handle(name string, err error) {
	if err != nil {
		otel.Handle(fmt.Errorf("runtime instrument %q: %w", name, err))
	}
}

// Histogram returns the float64 histogram for suffix.  A nil advice
// adds no bucket option, leaving the SDK's built-in boundaries.
func (f *Facade) Histogram(suffix, unit, desc string, advice *Advice) metric.Float64Histogram {
	name := f.Name(suffix)

	f.lock.Lock()
	defer f.lock.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}
	opts := []metric.Float64HistogramOption{
		metric.WithUnit(unit),
		metric.WithDescription(desc),
	}
	if advice != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(advice.Boundaries...))
	}
	h, err := f.meter.Float64Histogram(name, opts...)
	handle(name, err)
	if h == nil {
		h = noop.Float64Histogram{}
	}
	f.histograms[name] = h
	f.created++
	return h
}

// Int64Gauge returns the synchronous gauge for suffix.
func (f *Facade) Int64Gauge(suffix, unit, desc string) metric.Int64Gauge {
	name := f.Name(suffix)

	f.lock.Lock()
	defer f.lock.Unlock()

	if g, ok := f.gauges[name]; ok {
		return g
	}
	g, err := f.meter.Int64Gauge(name, metric.WithUnit(unit), metric.WithDescription(desc))
	handle(name, err)
	if g == nil {
		g = noop.Int64Gauge{}
	}
	f.gauges[name] = g
	f.created++
	return g
}

// Float64ObservableGauge returns the asynchronous gauge for suffix.
func (f *Facade) Float64ObservableGauge(suffix, unit, desc string) metric.Float64ObservableGauge {
	name := f.Name(suffix)

	f.lock.Lock()
	defer f.lock.Unlock()

	if g, ok := f.floatObsGauges[name]; ok {
		return g
	}
	g, err := f.meter.Float64ObservableGauge(name, metric.WithUnit(unit), metric.WithDescription(desc))
	handle(name, err)
	if g == nil {
		g = noop.Float64ObservableGauge{}
	}
	f.floatObsGauges[name] = g
	f.created++
	return g
}

// Int64ObservableCounter returns the asynchronous counter for suffix.
func (f *Facade) Int64ObservableCounter(suffix, unit, desc string) metric.Int64ObservableCounter {
	name := f.Name(suffix)

	f.lock.Lock()
	defer f.lock.Unlock()

	if c, ok := f.intObsCounters[name]; ok {
		return c
	}
	c, err := f.meter.Int64ObservableCounter(name, metric.WithUnit(unit), metric.WithDescription(desc))
	handle(name, err)
	if c == nil {
		c = noop.Int64ObservableCounter{}
	}
	f.intObsCounters[name] = c
	f.created++
	return c
}

// Int64ObservableUpDownCounter returns the asynchronous up-down
// counter for suffix.
func (f *Facade) Int64ObservableUpDownCounter(suffix, unit, desc string) metric.Int64ObservableUpDownCounter {
	name := f.Name(suffix)

	f.lock.Lock()
	defer f.lock.Unlock()

	if c, ok := f.intObsUpDowns[name]; ok {
		return c
	}
	c, err := f.meter.Int64ObservableUpDownCounter(name, metric.WithUnit(unit), metric.WithDescription(desc))
	handle(name, err)
	if c == nil {
		c = noop.Int64ObservableUpDownCounter{}
	}
	f.intObsUpDowns[name] = c
	f.created++
	return c
}

// RegisterCallback registers cb for the observables.  The returned
// Registration is nil when registration failed; the error has
// already been reported to otel.Handle.
func (f *Facade) RegisterCallback(cb metric.Callback, obs ...metric.Observable) metric.Registration {
	reg, err := f.meter.RegisterCallback(cb, obs...)
	if err != nil {
		otel.Handle(fmt.Errorf("runtime callback: %w", err))
		return nil
	}
	return reg
}
