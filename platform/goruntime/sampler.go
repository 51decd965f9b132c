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
	"runtime"
	"runtime/metrics"
	"time"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/internal/doevery"
)

// processStats is the subset of *process.Process the sampler reads.
type processStats interface {
	TimesWithContext(ctx context.Context) (*cpu.TimesStat, error)
	NumCtxSwitchesWithContext(ctx context.Context) (*process.NumCtxSwitchesStat, error)
	NumThreadsWithContext(ctx context.Context) (int32, error)
}

// hostStats reads machine-wide values.
type hostStats interface {
	cpuUtilization(ctx context.Context) (float64, error)
	totalMemory(ctx context.Context) (uint64, error)
}

type gopsutilHost struct{}

// cpuUtilization returns the machine's busy fraction since the
// previous call.
func (gopsutilHost) cpuUtilization(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) != 1 {
		return 0, errSummaryCount
	}
	return pct[0] / 100, nil
}

func (gopsutilHost) totalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

type sampler struct {
	d        *event.Dispatcher
	proc     processStats
	host     hostStats
	readFunc readFunc
	period   time.Duration
	logger   logr.Logger
	limiter  *doevery.Limiter

	// Owned by the run goroutine.
	last     time.Time
	lastCPU  *cpu.TimesStat
	lastCtx  int64
	haveCtx  bool
	memLimit []metrics.Sample
}

func (s *sampler) run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.sample(time.Now())
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.sample(now)
		}
	}
}

func (s *sampler) failed(what string, err error) {
	s.limiter.Do(what, func() {
		s.logger.V(1).Info("skipping runtime sample", "sample", what, "error", err)
	})
}

func (s *sampler) publish(eventType string, now time.Time, fields map[string]any) {
	s.d.Publish(event.Event{Type: eventType, Time: now, Fields: fields})
}

func (s *sampler) sample(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.period)
	defer cancel()

	var elapsed float64
	if !s.last.IsZero() {
		elapsed = now.Sub(s.last).Seconds()
	}
	s.last = now

	s.sampleCPU(ctx, now, elapsed)
	s.sampleContextSwitches(ctx, now, elapsed)
	s.sampleThreads(ctx, now)
	s.sampleContainer(ctx, now)
}

// sampleCPU reports process CPU time as a fraction of the wall time
// of every logical CPU.
func (s *sampler) sampleCPU(ctx context.Context, now time.Time, elapsed float64) {
	times, err := s.proc.TimesWithContext(ctx)
	if err != nil {
		s.failed("cpu", err)
		return
	}
	prev := s.lastCPU
	s.lastCPU = times
	if prev == nil || elapsed <= 0 {
		return
	}
	machine, err := s.host.cpuUtilization(ctx)
	if err != nil {
		s.failed("cpu", err)
		return
	}

	capacity := elapsed * float64(runtime.NumCPU())
	s.publish(event.TypeCPULoad, now, map[string]any{
		"jvmUser":      clampRatio((times.User - prev.User) / capacity),
		"jvmSystem":    clampRatio((times.System - prev.System) / capacity),
		"machineTotal": clampRatio(machine),
	})
}

func (s *sampler) sampleContextSwitches(ctx context.Context, now time.Time, elapsed float64) {
	cs, err := s.proc.NumCtxSwitchesWithContext(ctx)
	if err != nil {
		s.failed("context switches", err)
		return
	}
	total := cs.Voluntary + cs.Involuntary
	prev, havePrev := s.lastCtx, s.haveCtx
	s.lastCtx, s.haveCtx = total, true
	if !havePrev || elapsed <= 0 || total < prev {
		return
	}
	s.publish(event.TypeThreadContextSwitchRate, now, map[string]any{
		"switchRate": float64(total-prev) / elapsed,
	})
}

// sampleThreads reports OS threads.  Go has no daemon threads.
func (s *sampler) sampleThreads(ctx context.Context, now time.Time) {
	n, err := s.proc.NumThreadsWithContext(ctx)
	if err != nil {
		s.failed("threads", err)
		return
	}
	s.publish(event.TypeThreadStatistics, now, map[string]any{
		"activeCount": int64(n),
		"daemonCount": int64(0),
		"goroutines":  int64(runtime.NumGoroutine()),
	})
}

func (s *sampler) sampleContainer(ctx context.Context, now time.Time) {
	fields := map[string]any{
		"effectiveCpuCount":    int64(runtime.GOMAXPROCS(0)),
		"activeProcessorCount": int64(runtime.NumCPU()),
	}
	if limit, ok := s.memoryLimit(); ok {
		fields["memoryLimit"] = limit
	}
	if total, err := s.host.totalMemory(ctx); err != nil {
		s.failed("memory", err)
	} else {
		fields["hostTotalMemory"] = total
	}
	s.publish(event.TypeContainerConfiguration, now, fields)
}

func (s *sampler) memoryLimit() (uint64, bool) {
	if s.memLimit == nil {
		s.memLimit = []metrics.Sample{{Name: memLimitMetric}}
	}
	s.readFunc(s.memLimit)
	v := s.memLimit[0].Value
	if v.Kind() != metrics.KindUint64 {
		return 0, false
	}
	return v.Uint64(), true
}

func clampRatio(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
