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

// Package metrictest holds helpers shared by the tests of this
// module.
package metrictest // import "github.com/lightstep/otel-runtime-bridge/internal/metrictest"

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// NewProvider returns an SDK MeterProvider backed by a ManualReader.
func NewProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// Collect reads every metric from reader, across all scopes.
func Collect(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.Metrics {
	t.Helper()
	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))

	var out []metricdata.Metrics
	for _, sm := range data.ScopeMetrics {
		out = append(out, sm.Metrics...)
	}
	return out
}

// Find returns the metric named name.
func Find(ms []metricdata.Metrics, name string) (metricdata.Metrics, bool) {
	for _, m := range ms {
		if m.Name == name {
			return m, true
		}
	}
	return metricdata.Metrics{}, false
}

// Names returns the metric names in ms.
func Names(ms []metricdata.Metrics) []string {
	var names []string
	for _, m := range ms {
		names = append(names, m.Name)
	}
	return names
}

// HistogramPoints returns the data points of a float64 histogram.
func HistogramPoints(t *testing.T, ms []metricdata.Metrics, name string) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	m, ok := Find(ms, name)
	require.True(t, ok, "metric %s not found in %v", name, Names(ms))
	h, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is %T", name, m.Data)
	return h.DataPoints
}

// Value returns the value of the int64 or float64 gauge or sum point
// of the named metric whose attributes equal attrs.
func Value(t *testing.T, ms []metricdata.Metrics, name string, attrs ...attribute.KeyValue) float64 {
	t.Helper()
	m, ok := Find(ms, name)
	require.True(t, ok, "metric %s not found in %v", name, Names(ms))

	want := attribute.NewSet(attrs...)
	switch dt := m.Data.(type) {
	case metricdata.Gauge[int64]:
		for _, p := range dt.DataPoints {
			if p.Attributes.Equals(&want) {
				return float64(p.Value)
			}
		}
	case metricdata.Gauge[float64]:
		for _, p := range dt.DataPoints {
			if p.Attributes.Equals(&want) {
				return p.Value
			}
		}
	case metricdata.Sum[int64]:
		for _, p := range dt.DataPoints {
			if p.Attributes.Equals(&want) {
				return float64(p.Value)
			}
		}
	case metricdata.Sum[float64]:
		for _, p := range dt.DataPoints {
			if p.Attributes.Equals(&want) {
				return p.Value
			}
		}
	default:
		t.Fatalf("invalid aggregation type for %s: %T", name, dt)
	}
	t.Fatalf("no point of %s with attributes %v", name, want.ToSlice())
	return 0
}

// OTelErrors captures errors passed to otel.Handle until the test
// ends.
func OTelErrors(t *testing.T) func() []error {
	var (
		lock   sync.Mutex
		errors []error
	)
	prev := otel.GetErrorHandler()
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		lock.Lock()
		defer lock.Unlock()
		errors = append(errors, err)
	}))
	t.Cleanup(func() { otel.SetErrorHandler(prev) })
	return func() []error {
		lock.Lock()
		defer lock.Unlock()
		return append([]error(nil), errors...)
	}
}
