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

// Package goruntime is the bridge platform for the Go runtime
// itself.
//
// Its collector source, named "Go Concurrent Mark Sweep", publishes a
// GarbageCollection event for every completed GC cycle and a
// GCHeapSummary after each batch of cycles.  Completion is noticed by
// a finalizer on a sentinel object that is re-armed after every
// collection, so no polling is involved.  The event source samples
// the process on a fixed period and publishes CPULoad,
// ThreadContextSwitchRate, ThreadStatistics and
// ContainerConfiguration events.
//
// Neither goroutine starts until something subscribes.
package goruntime // import "github.com/lightstep/otel-runtime-bridge/platform/goruntime"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sethvargo/go-envconfig"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lightstep/otel-runtime-bridge/bridge"
	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/internal/doevery"
)

// Namespace is the metric name prefix for Go runtime metrics.
const Namespace = "process.runtime.go"

// EventsSource names the sampler's event source.
const EventsSource = "Go runtime"

const (
	gomaxprocsMetric = "/sched/gomaxprocs:threads"
	gcCyclesMetric   = "/gc/cycles/total:gc-cycles"
	memLimitMetric   = "/gc/gomemlimit:bytes"
)

var errSummaryCount = errors.New("incorrect summary count")

type allFunc = func() []metrics.Description
type readFunc = func([]metrics.Sample)

// settings are read from the environment.
type settings struct {
	// SamplePeriod is how often the event source samples the
	// process.
	SamplePeriod time.Duration `env:"OTEL_RUNTIME_BRIDGE_SAMPLE_PERIOD,default=10s"`
}

// config contains optional settings for the platform.
type config struct {
	settings

	logger logr.Logger
}

// Option supports configuring optional settings for the platform.
type Option interface {
	apply(*config)
}

// WithSamplePeriod overrides OTEL_RUNTIME_BRIDGE_SAMPLE_PERIOD.
func WithSamplePeriod(d time.Duration) Option {
	return samplePeriodOption(d)
}

type samplePeriodOption time.Duration

func (o samplePeriodOption) apply(c *config) {
	if o > 0 {
		c.SamplePeriod = time.Duration(o)
	}
}

// WithLogger sets the logger for sampling failures.
func WithLogger(l logr.Logger) Option {
	return loggerOption{l}
}

type loggerOption struct{ logr.Logger }

func (o loggerOption) apply(c *config) {
	c.logger = o.Logger
}

func newConfig(opts ...Option) (config, error) {
	c := config{logger: logr.Discard()}
	if err := envconfig.Process(context.Background(), &c.settings); err != nil {
		return c, fmt.Errorf("go runtime platform settings: %w", err)
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	if c.SamplePeriod <= 0 {
		return c, fmt.Errorf("go runtime platform: invalid sample period %v", c.SamplePeriod)
	}
	return c, nil
}

// Platform reports events of the running Go process.
type Platform struct {
	cfg      config
	allFunc  allFunc
	readFunc readFunc

	gc      *event.Dispatcher
	events  *event.Dispatcher
	sampler *sampler
	notify  *gcNotifier

	// lock protects closed and the start of goroutines tracked
	// by wg.
	lock   sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

var _ bridge.Platform = (*Platform)(nil)

// New returns a Platform for the current process.  Close must be
// called to stop it.
func New(opts ...Option) (*Platform, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("go runtime platform: %w", err)
	}
	return newPlatform(cfg, proc, metrics.All, metrics.Read), nil
}

func newPlatform(cfg config, proc processStats, af allFunc, rf readFunc) *Platform {
	p := &Platform{
		cfg:      cfg,
		allFunc:  af,
		readFunc: rf,
		stop:     make(chan struct{}),
	}
	limiter := doevery.New(time.Minute)
	p.gc = event.NewDispatcher(event.CollectorGo, event.KindCollector,
		event.WithLogger(cfg.logger),
		event.WithStartHook(func() { p.start(p.notify.run) }),
	)
	p.events = event.NewDispatcher(EventsSource, event.KindStream,
		event.WithLogger(cfg.logger),
		event.WithStartHook(func() { p.start(p.sampler.run) }),
	)
	p.notify = newGCNotifier(p.gc)
	p.sampler = &sampler{
		d:        p.events,
		proc:     proc,
		host:     gopsutilHost{},
		readFunc: rf,
		period:   cfg.SamplePeriod,
		logger:   cfg.logger,
		limiter:  limiter,
	}
	return p
}

// Supported reports whether runtime/metrics describes the values
// the platform depends on.
func (p *Platform) Supported() bool {
	found := map[string]bool{}
	for _, d := range p.allFunc() {
		switch d.Name {
		case gomaxprocsMetric, gcCyclesMetric:
			found[d.Name] = true
		}
	}
	return len(found) == 2
}

// Namespace implements bridge.Platform.
func (p *Platform) Namespace() string { return Namespace }

// Collectors implements bridge.Platform.
func (p *Platform) Collectors() []event.Source {
	return []event.Source{p.gc}
}

// Events implements bridge.Platform.
func (p *Platform) Events() event.Source { return p.events }

func (p *Platform) start(run func(stop <-chan struct{})) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		run(p.stop)
	}()
}

// Close stops the platform's goroutines and closes its sources.  It
// is idempotent.
func (p *Platform) Close() error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.lock.Unlock()

	p.notify.shutdown()
	p.wg.Wait()

	_ = p.gc.Close()
	_ = p.events.Close()
	return nil
}
