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
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
	"github.com/lightstep/otel-runtime-bridge/internal/handler"
	"github.com/lightstep/otel-runtime-bridge/internal/metrictest"
)

const testNamespace = "process.runtime.jvm"

type fakeSub struct {
	filter event.Filter
	cb     event.Callback
	closed atomic.Bool
}

func (s *fakeSub) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeSource delivers events synchronously on the caller's goroutine.
type fakeSource struct {
	name string
	kind event.Kind
	err  error

	lock sync.Mutex
	subs []*fakeSub
}

func newCollector(name string) *fakeSource {
	return &fakeSource{name: name, kind: event.KindCollector}
}

func (s *fakeSource) Name() string     { return s.name }
func (s *fakeSource) Kind() event.Kind { return s.kind }

func (s *fakeSource) Subscribe(filter event.Filter, cb event.Callback) (event.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	sub := &fakeSub{filter: filter, cb: cb}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeSource) Emit(e event.Event) {
	s.lock.Lock()
	subs := append([]*fakeSub(nil), s.subs...)
	s.lock.Unlock()
	for _, sub := range subs {
		if !sub.closed.Load() && (sub.filter == nil || sub.filter(e)) {
			sub.cb(e)
		}
	}
}

func (s *fakeSource) live() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, sub := range s.subs {
		if !sub.closed.Load() {
			n++
		}
	}
	return n
}

type fakePlatform struct {
	unsupported bool
	collectors  []event.Source
	events      event.Source
}

func (p *fakePlatform) Supported() bool            { return !p.unsupported }
func (p *fakePlatform) Namespace() string          { return testNamespace }
func (p *fakePlatform) Collectors() []event.Source { return p.collectors }
func (p *fakePlatform) Events() event.Source       { return p.events }

func newPlatform(collectors ...string) (*fakePlatform, *fakeSource) {
	events := &fakeSource{name: "events", kind: event.KindStream}
	p := &fakePlatform{events: events}
	for _, c := range collectors {
		p.collectors = append(p.collectors, newCollector(c))
	}
	return p, events
}

var platformHandlerNames = []string{
	"allocation-in-new-tlab",
	"allocation-outside-tlab",
	"network-read",
	"network-write",
	"context-switch-rate",
	"overall-cpu-load",
	"container-configuration",
	"long-lock",
	"thread-count",
	"classes-loaded",
	"metaspace-summary",
	"code-cache-configuration",
	"direct-buffer-statistics",
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func start(t *testing.T, p Platform, opts ...Option) *Bridge {
	t.Helper()
	opts = append([]Option{WithLogger(logr.Discard())}, opts...)
	b, err := Start(p, opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestCollectorDispatch(t *testing.T) {
	for _, tc := range []struct {
		collectors []string
		want       []string
	}{
		{[]string{"G1 Young Generation", "G1 Old Generation"}, []string{"g1-heap-summary", "g1-gc-duration", "old-gc-duration"}},
		{[]string{"Copy", "MarkSweepCompact"}, []string{"young-gc-duration", "old-gc-duration"}},
		{[]string{"PS Scavenge", "PS MarkSweep"}, []string{"young-gc-duration", "parallel-heap-summary", "old-gc-duration"}},
		{[]string{"Go Concurrent Mark Sweep"}, []string{"go-heap-summary", "gc-duration"}},
		{[]string{"Shenandoah Cycles", "ZGC Pauses"}, nil},
		{nil, nil},
	} {
		p, _ := newPlatform(tc.collectors...)
		b := start(t, p, WithFeaturePredicate(feature.Everything))

		want := append(append([]string(nil), tc.want...), platformHandlerNames...)
		if diff := cmp.Diff(sorted(want), sorted(b.Handlers())); diff != "" {
			t.Errorf("collectors %v: handlers mismatch (-want +got):\n%s", tc.collectors, diff)
		}
	}
}

func TestCollectorsMustBeCollectorKind(t *testing.T) {
	p, _ := newPlatform("G1 Old Generation")
	stray := &fakeSource{name: "G1 Young Generation", kind: event.KindStream}
	p.collectors = append(p.collectors, stray)

	b := start(t, p, WithFeaturePredicate(feature.Everything))

	want := append([]string{"old-gc-duration"}, platformHandlerNames...)
	if diff := cmp.Diff(sorted(want), sorted(b.Handlers())); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 0, stray.live())
}

func TestParallelCollectorsEndToEnd(t *testing.T) {
	provider, reader := metrictest.NewProvider()
	p, _ := newPlatform("PS Scavenge", "PS MarkSweep")
	b := start(t, p,
		WithFeaturePredicate(feature.Everything),
		WithMeterProvider(provider),
	)
	require.Len(t, b.Handlers(), 3+13)

	scavenge := p.collectors[0].(*fakeSource)
	markSweep := p.collectors[1].(*fakeSource)
	require.Equal(t, 2, scavenge.live())
	require.Equal(t, 1, markSweep.live())

	markSweep.Emit(event.Event{
		Type:   event.TypeOldGarbageCollection,
		Fields: map[string]any{"duration": 1500.0},
	})
	scavenge.Emit(event.Event{
		Type:   event.TypeYoungGarbageCollection,
		Fields: map[string]any{"duration": 20.0},
	})
	// Routed by type: the young collector's source ignores old
	// collection events.
	scavenge.Emit(event.Event{
		Type:   event.TypeOldGarbageCollection,
		Fields: map[string]any{"duration": 99.0},
	})

	ms := metrictest.Collect(t, reader)
	pts := metrictest.HistogramPoints(t, ms, testNamespace+".gc.duration")
	require.Len(t, pts, 2)

	got := map[string]float64{}
	for _, pt := range pts {
		gc, _ := pt.Attributes.Value(handler.GCKey)
		action, _ := pt.Attributes.Value(handler.ActionKey)
		got[gc.AsString()+"/"+action.AsString()] = pt.Sum
	}
	require.Equal(t, map[string]float64{
		"PS MarkSweep/end of major GC": 1.5,
		"PS Scavenge/end of minor GC":  0.02,
	}, got)
}

func TestScope(t *testing.T) {
	provider, reader := metrictest.NewProvider()
	p, events := newPlatform()
	start(t, p, WithFeaturePredicate(feature.Everything), WithMeterProvider(provider))

	events.Emit(event.Event{
		Type:   event.TypeMonitorWait,
		Fields: map[string]any{"duration": 25.0},
	})

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))
	require.Len(t, data.ScopeMetrics, 1)
	require.Equal(t, ScopeName, data.ScopeMetrics[0].Scope.Name)
	require.NotEmpty(t, data.ScopeMetrics[0].Scope.Version)
}

// countingProvider counts callback registrations and their removal.
type countingProvider struct {
	metric.MeterProvider

	registered   atomic.Int32
	unregistered atomic.Int32
}

type countingMeter struct {
	metric.Meter
	p *countingProvider
}

type countingRegistration struct {
	metric.Registration
	p *countingProvider
}

func (p *countingProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return countingMeter{Meter: p.MeterProvider.Meter(name, opts...), p: p}
}

func (m countingMeter) RegisterCallback(cb metric.Callback, obs ...metric.Observable) (metric.Registration, error) {
	reg, err := m.Meter.RegisterCallback(cb, obs...)
	if err != nil {
		return nil, err
	}
	m.p.registered.Add(1)
	return countingRegistration{Registration: reg, p: m.p}, nil
}

func (r countingRegistration) Unregister() error {
	r.p.unregistered.Add(1)
	return r.Registration.Unregister()
}

func TestDisabledHandlersClosed(t *testing.T) {
	sdk, _ := metrictest.NewProvider()
	provider := &countingProvider{MeterProvider: sdk}
	p, events := newPlatform("G1 Young Generation", "G1 Old Generation")

	b := start(t, p, WithFeaturePredicate(feature.Nothing), WithMeterProvider(provider))

	require.Empty(t, b.Handlers())
	require.Equal(t, 0, events.live())
	for _, c := range p.collectors {
		require.Equal(t, 0, c.(*fakeSource).live())
	}

	// Five handlers report asynchronously; each was closed once.
	require.Equal(t, int32(5), provider.registered.Load())
	require.Equal(t, int32(5), provider.unregistered.Load())

	b.Close()
	require.Equal(t, int32(5), provider.unregistered.Load())
}

func TestDefaultFeatures(t *testing.T) {
	p, events := newPlatform("G1 Young Generation", "G1 Old Generation")
	b := start(t, p, WithFeaturePredicate(feature.Defaults))

	want := []string{
		"allocation-in-new-tlab",
		"allocation-outside-tlab",
		"network-read",
		"network-write",
		"context-switch-rate",
		"container-configuration",
		"long-lock",
	}
	if diff := cmp.Diff(want, b.Handlers()); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, len(want), events.live())
	for _, c := range p.collectors {
		require.Equal(t, 0, c.(*fakeSource).live())
	}
}

func TestFeaturesFromEnv(t *testing.T) {
	t.Setenv("OTEL_RUNTIME_BRIDGE_ENABLE_ALL", "false")
	t.Setenv("OTEL_RUNTIME_BRIDGE_ENABLE", "gc_duration_metrics,bogus")
	t.Setenv("OTEL_RUNTIME_BRIDGE_DISABLE", "network_io,memory_allocation_metrics,context_switch_metrics,cpu_count_metrics")

	p, _ := newPlatform("Copy")
	b := start(t, p)

	if diff := cmp.Diff([]string{"young-gc-duration", "long-lock"}, b.Handlers()); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeFailure(t *testing.T) {
	p, events := newPlatform("Copy")
	p.collectors[0].(*fakeSource).err = errors.New("no such collector")

	b := start(t, p, WithFeaturePredicate(feature.Everything))

	require.ElementsMatch(t, platformHandlerNames, b.Handlers())
	require.Equal(t, len(platformHandlerNames), events.live())
}

func TestUnsupportedPlatform(t *testing.T) {
	p, events := newPlatform("G1 Young Generation")
	p.unsupported = true

	b := start(t, p, WithFeaturePredicate(feature.Everything))
	require.Empty(t, b.Handlers())
	require.Equal(t, 0, events.live())
}

func TestNilPlatform(t *testing.T) {
	_, err := Start(nil)
	require.Error(t, err)
}

func TestNilEventSource(t *testing.T) {
	p, _ := newPlatform("Copy")
	p.events = nil

	b := start(t, p, WithFeaturePredicate(feature.Everything))
	require.Equal(t, []string{"young-gc-duration"}, b.Handlers())
}

func TestClose(t *testing.T) {
	provider, reader := metrictest.NewProvider()
	p, events := newPlatform("Copy")
	b := start(t, p, WithFeaturePredicate(feature.Everything), WithMeterProvider(provider))

	events.Emit(event.Event{
		Type:   event.TypeThreadStatistics,
		Fields: map[string]any{"activeCount": 8, "daemonCount": 2},
	})
	ms := metrictest.Collect(t, reader)
	require.Equal(t, 2.0, metrictest.Value(t, ms, testNamespace+".threads.count", attribute.Bool("daemon", true)))

	b.Close()
	b.Close()
	require.Equal(t, 0, events.live())
	require.Equal(t, 0, p.collectors[0].(*fakeSource).live())

	events.Emit(event.Event{
		Type:   event.TypeMonitorWait,
		Fields: map[string]any{"duration": 25.0},
	})
	require.Empty(t, metrictest.Collect(t, reader))
}

func TestConcurrentSources(t *testing.T) {
	provider, reader := metrictest.NewProvider()

	young := event.NewDispatcher("PS Scavenge", event.KindCollector)
	old := event.NewDispatcher("PS MarkSweep", event.KindCollector)
	events := event.NewDispatcher("events", event.KindStream)
	t.Cleanup(func() {
		_ = young.Close()
		_ = old.Close()
		_ = events.Close()
	})
	p := &fakePlatform{
		collectors: []event.Source{young, old},
		events:     events,
	}
	start(t, p, WithFeaturePredicate(feature.Everything), WithMeterProvider(provider))

	const n = 100
	var wg sync.WaitGroup
	publish := func(d *event.Dispatcher, eventType string) {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !d.Publish(event.Event{Type: eventType, Fields: map[string]any{"duration": 1.0}}) {
				time.Sleep(time.Millisecond)
			}
		}
	}
	wg.Add(3)
	go publish(young, event.TypeYoungGarbageCollection)
	go publish(old, event.TypeOldGarbageCollection)
	go publish(events, event.TypeMonitorWait)
	wg.Wait()

	count := func(name string) uint64 {
		ms := metrictest.Collect(t, reader)
		if _, ok := metrictest.Find(ms, name); !ok {
			return 0
		}
		var total uint64
		for _, pt := range metrictest.HistogramPoints(t, ms, name) {
			total += pt.Count
		}
		return total
	}
	require.Eventually(t, func() bool {
		return count(testNamespace+".gc.duration") == 2*n && count(testNamespace+".cpu.longlock") == n
	}, 5*time.Second, 10*time.Millisecond)
}
