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

package goruntime

import (
	"context"
	"errors"
	"runtime"
	"runtime/metrics"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/require"

	"github.com/lightstep/otel-runtime-bridge/bridge"
	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
	"github.com/lightstep/otel-runtime-bridge/internal/doevery"
	"github.com/lightstep/otel-runtime-bridge/internal/metrictest"
)

type recorder struct {
	lock   sync.Mutex
	events []event.Event
}

func (r *recorder) record(e event.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) byType(eventType string) []event.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.events)
}

type fakeProcess struct {
	lock     sync.Mutex
	user     float64
	system   float64
	switches int64
	threads  int32
	err      error
}

func (p *fakeProcess) TimesWithContext(context.Context) (*cpu.TimesStat, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &cpu.TimesStat{User: p.user, System: p.system}, nil
}

func (p *fakeProcess) NumCtxSwitchesWithContext(context.Context) (*process.NumCtxSwitchesStat, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &process.NumCtxSwitchesStat{Voluntary: p.switches, Involuntary: p.switches}, nil
}

func (p *fakeProcess) NumThreadsWithContext(context.Context) (int32, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.threads, nil
}

type fakeHost struct {
	utilization float64
	total       uint64
}

func (h fakeHost) cpuUtilization(context.Context) (float64, error) { return h.utilization, nil }
func (h fakeHost) totalMemory(context.Context) (uint64, error)     { return h.total, nil }

func newDispatcher(t *testing.T, rec *recorder) *event.Dispatcher {
	d := event.NewDispatcher("test", event.KindStream, event.WithBuffer(1024))
	t.Cleanup(func() { _ = d.Close() })
	_, err := d.Subscribe(nil, rec.record)
	require.NoError(t, err)
	return d
}

func TestSupported(t *testing.T) {
	cfg, err := newConfig()
	require.NoError(t, err)

	p := newPlatform(cfg, &fakeProcess{}, metrics.All, metrics.Read)
	t.Cleanup(func() { _ = p.Close() })
	require.True(t, p.Supported())
	require.Equal(t, Namespace, p.Namespace())
	require.Len(t, p.Collectors(), 1)
	require.Equal(t, event.CollectorGo, p.Collectors()[0].Name())
	require.Equal(t, event.KindCollector, p.Collectors()[0].Kind())

	missing := newPlatform(cfg, &fakeProcess{}, func() []metrics.Description {
		return []metrics.Description{{Name: gomaxprocsMetric}}
	}, metrics.Read)
	t.Cleanup(func() { _ = missing.Close() })
	require.False(t, missing.Supported())
}

func TestSamplePeriodFromEnv(t *testing.T) {
	t.Setenv("OTEL_RUNTIME_BRIDGE_SAMPLE_PERIOD", "250ms")
	cfg, err := newConfig()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.SamplePeriod)

	cfg, err = newConfig(WithSamplePeriod(time.Second))
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.SamplePeriod)

	t.Setenv("OTEL_RUNTIME_BRIDGE_SAMPLE_PERIOD", "often")
	_, err = newConfig()
	require.Error(t, err)

	t.Setenv("OTEL_RUNTIME_BRIDGE_SAMPLE_PERIOD", "-1s")
	_, err = newConfig()
	require.Error(t, err)
}

func TestGCNotifierPublish(t *testing.T) {
	rec := &recorder{}
	n := newGCNotifier(newDispatcher(t, rec))

	var ms runtime.MemStats
	ms.NumGC = 3
	ms.NumForcedGC = 1
	ms.PauseNs[1] = uint64(2 * time.Millisecond)
	ms.PauseNs[2] = uint64(3 * time.Millisecond)
	ms.HeapAlloc = 100
	ms.HeapSys = 400
	ms.HeapReleased = 100
	n.readMemStats = func(out *runtime.MemStats) { *out = ms }
	n.lastNumGC = 1

	n.publish()
	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, time.Millisecond)

	gcs := rec.byType(event.TypeGarbageCollection)
	require.Len(t, gcs, 2)

	id, _ := gcs[0].Int64("gcId")
	require.Equal(t, int64(2), id)
	d, _ := gcs[0].Millis("duration")
	require.Equal(t, 2.0, d)
	action, _ := gcs[0].String("action")
	require.Equal(t, actionCycle, action)

	id, _ = gcs[1].Int64("gcId")
	require.Equal(t, int64(3), id)
	d, _ = gcs[1].Millis("duration")
	require.Equal(t, 3.0, d)
	action, _ = gcs[1].String("action")
	require.Equal(t, actionForced, action)

	heaps := rec.byType(event.TypeGCHeapSummary)
	require.Len(t, heaps, 1)
	used, _ := heaps[0].Int64("heapUsed")
	committed, _ := heaps[0].Int64("heapCommitted")
	require.Equal(t, int64(100), used)
	require.Equal(t, int64(300), committed)

	// Nothing new.
	n.publish()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 3, rec.len())
}

func TestGCNotifierRingOverflow(t *testing.T) {
	rec := &recorder{}
	n := newGCNotifier(newDispatcher(t, rec))

	var ms runtime.MemStats
	ms.NumGC = 1000
	n.readMemStats = func(out *runtime.MemStats) { *out = ms }

	n.publish()
	require.Eventually(t, func() bool { return rec.len() == pauseRing+1 }, time.Second, time.Millisecond)

	gcs := rec.byType(event.TypeGarbageCollection)
	first, _ := gcs[0].Int64("gcId")
	last, _ := gcs[len(gcs)-1].Int64("gcId")
	require.Equal(t, int64(1000-pauseRing+1), first)
	require.Equal(t, int64(1000), last)
}

func TestGCNotification(t *testing.T) {
	cfg, err := newConfig()
	require.NoError(t, err)
	p := newPlatform(cfg, &fakeProcess{}, metrics.All, metrics.Read)
	t.Cleanup(func() { _ = p.Close() })

	rec := &recorder{}
	_, err = p.Collectors()[0].Subscribe(nil, rec.record)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runtime.GC()
		return len(rec.byType(event.TypeGarbageCollection)) > 0 &&
			len(rec.byType(event.TypeGCHeapSummary)) > 0
	}, 5*time.Second, 10*time.Millisecond)

	e := rec.byType(event.TypeGarbageCollection)[0]
	name, _ := e.String("name")
	require.Equal(t, event.CollectorGo, name)
	_, ok := e.Millis("duration")
	require.True(t, ok)
	require.Equal(t, event.CollectorGo, e.Source)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.Collectors()[0].Subscribe(nil, rec.record)
	require.ErrorIs(t, err, event.ErrClosed)
}

func newTestSampler(t *testing.T, proc processStats, rec *recorder) *sampler {
	return &sampler{
		d:        newDispatcher(t, rec),
		proc:     proc,
		host:     fakeHost{utilization: 0.5, total: 1 << 30},
		readFunc: metrics.Read,
		period:   time.Second,
		logger:   logr.Discard(),
		limiter:  doevery.New(time.Minute),
	}
}

func TestSampler(t *testing.T) {
	rec := &recorder{}
	proc := &fakeProcess{user: 10, system: 5, switches: 100, threads: 7}
	s := newTestSampler(t, proc, rec)

	t0 := time.Now()
	s.sample(t0)

	proc.lock.Lock()
	proc.user += 0.5
	proc.system += 0.25
	proc.switches += 50
	proc.lock.Unlock()
	s.sample(t0.Add(time.Second))

	require.Eventually(t, func() bool { return rec.len() == 6 }, time.Second, time.Millisecond)

	loads := rec.byType(event.TypeCPULoad)
	require.Len(t, loads, 1)
	cpus := float64(runtime.NumCPU())
	user, _ := loads[0].Float64("jvmUser")
	system, _ := loads[0].Float64("jvmSystem")
	machine, _ := loads[0].Float64("machineTotal")
	require.InDelta(t, 0.5/cpus, user, 1e-9)
	require.InDelta(t, 0.25/cpus, system, 1e-9)
	require.Equal(t, 0.5, machine)

	rates := rec.byType(event.TypeThreadContextSwitchRate)
	require.Len(t, rates, 1)
	rate, _ := rates[0].Float64("switchRate")
	require.Equal(t, 100.0, rate)

	threads := rec.byType(event.TypeThreadStatistics)
	require.Len(t, threads, 2)
	active, _ := threads[1].Int64("activeCount")
	require.Equal(t, int64(7), active)

	containers := rec.byType(event.TypeContainerConfiguration)
	require.Len(t, containers, 2)
	cpuCount, _ := containers[0].Int64("effectiveCpuCount")
	require.Equal(t, int64(runtime.GOMAXPROCS(0)), cpuCount)
	total, _ := containers[0].Int64("hostTotalMemory")
	require.Equal(t, int64(1<<30), total)
	_, ok := containers[0].Int64("memoryLimit")
	require.True(t, ok)
}

func TestSamplerErrors(t *testing.T) {
	rec := &recorder{}
	s := newTestSampler(t, &fakeProcess{err: errors.New("no such process")}, rec)

	t0 := time.Now()
	s.sample(t0)
	s.sample(t0.Add(time.Second))

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, time.Millisecond)
	require.Len(t, rec.byType(event.TypeContainerConfiguration), 2)
}

func TestBridge(t *testing.T) {
	p, err := New(WithSamplePeriod(10 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	provider, reader := metrictest.NewProvider()
	b, err := bridge.Start(p,
		bridge.WithMeterProvider(provider),
		bridge.WithFeaturePredicate(feature.Everything),
		bridge.WithLogger(logr.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.Contains(t, b.Handlers(), "gc-duration")
	require.Contains(t, b.Handlers(), "go-heap-summary")

	require.Eventually(t, func() bool {
		runtime.GC()
		ms := metrictest.Collect(t, reader)
		for _, name := range []string{
			Namespace + ".gc.duration",
			Namespace + ".memory.usage",
			Namespace + ".cpu.limit",
			Namespace + ".threads.count",
		} {
			if _, ok := metrictest.Find(ms, name); !ok {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)
}
