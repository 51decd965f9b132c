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

// Package stream is a bridge platform fed by a stream of recorded
// runtime events, one JSON object per line:
//
//	{"type":"jdk.G1GarbageCollection","startTime":"2024-05-01T10:00:00.1Z","duration":12.5,"values":{"gcId":7}}
//
// Event types are normalized to the bridge's vocabulary: a "jdk."
// prefix is removed and JavaMonitorWait and JavaThreadStatistics
// lose their "Java" prefix.  A record's top-level duration and
// eventThread are copied into the fields unless the values carry
// their own.
//
// The stream does not say which garbage collectors the runtime
// uses, so they are configured with WithCollectors or
// OTEL_RUNTIME_BRIDGE_COLLECTORS.
package stream // import "github.com/lightstep/otel-runtime-bridge/platform/stream"

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/sethvargo/go-envconfig"

	"github.com/lightstep/otel-runtime-bridge/bridge"
	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/internal/doevery"
)

// DefaultNamespace prefixes metric names unless WithNamespace is
// used.
const DefaultNamespace = "process.runtime.jvm"

// SourceName names the shared event source.
const SourceName = "event stream"

// maxLine bounds a single record.
const maxLine = 1 << 20

// settings are read from the environment.
type settings struct {
	Collectors []string `env:"OTEL_RUNTIME_BRIDGE_COLLECTORS"`
}

// config contains optional settings for the platform.
type config struct {
	settings

	namespace string
	buffer    int
	logger    logr.Logger
}

// Option supports configuring optional settings for the platform.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithCollectors names the runtime's garbage collectors, e.g.,
// "G1 Young Generation" and "G1 Old Generation".  It overrides
// OTEL_RUNTIME_BRIDGE_COLLECTORS.
func WithCollectors(names ...string) Option {
	return optionFunc(func(c *config) {
		c.Collectors = names
	})
}

// WithNamespace sets the metric name prefix.
func WithNamespace(ns string) Option {
	return optionFunc(func(c *config) {
		c.namespace = ns
	})
}

// WithBuffer sets how many decoded events may wait for delivery
// before reading pauses.
func WithBuffer(n int) Option {
	return optionFunc(func(c *config) {
		c.buffer = n
	})
}

// WithLogger sets the logger for undecodable records.
func WithLogger(l logr.Logger) Option {
	return optionFunc(func(c *config) {
		c.logger = l
	})
}

func newConfig(opts ...Option) (config, error) {
	c := config{
		namespace: DefaultNamespace,
		buffer:    event.DefaultBuffer,
		logger:    logr.Discard(),
	}
	if err := envconfig.Process(context.Background(), &c.settings); err != nil {
		return c, fmt.Errorf("stream platform settings: %w", err)
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	return c, nil
}

// Platform publishes the events decoded from a reader.
type Platform struct {
	cfg        config
	r          io.Reader
	d          *event.Dispatcher
	collectors []event.Source
	limiter    *doevery.Limiter

	skipped atomic.Uint64
}

var _ bridge.Platform = (*Platform)(nil)

// New returns a Platform reading r.  Nothing is read until Run.
func New(r io.Reader, opts ...Option) (*Platform, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	p := &Platform{
		cfg:     cfg,
		r:       r,
		limiter: doevery.New(time.Minute),
		d: event.NewDispatcher(SourceName, event.KindStream,
			event.WithBuffer(cfg.buffer),
			event.WithLogger(cfg.logger),
		),
	}
	for _, name := range cfg.Collectors {
		if name != "" {
			p.collectors = append(p.collectors, collectorView{name: name, d: p.d})
		}
	}
	return p, nil
}

// Supported reports whether there is anything to read.
func (p *Platform) Supported() bool { return p.r != nil }

// Namespace implements bridge.Platform.
func (p *Platform) Namespace() string { return p.cfg.namespace }

// Collectors implements bridge.Platform.
func (p *Platform) Collectors() []event.Source { return p.collectors }

// Events implements bridge.Platform.
func (p *Platform) Events() event.Source { return p.d }

// Skipped returns how many lines could not be decoded.
func (p *Platform) Skipped() uint64 { return p.skipped.Load() }

// Run decodes and publishes records until the reader is exhausted,
// fails, or ctx is done.  Reading pauses while delivery is behind, and
// at the end of the reader Run returns once every decoded event has
// been delivered.  If the reader is an io.Closer it is closed when ctx
// is done, to interrupt a blocked read.  Reaching the end of the
// reader is not an error.
func (p *Platform) Run(ctx context.Context) error {
	if p.r == nil {
		return nil
	}
	if c, ok := p.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	scanner := bufio.NewScanner(p.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := decode(line)
		if err != nil {
			p.skipped.Add(1)
			p.limiter.Do("decode", func() {
				p.cfg.logger.V(1).Info("skipping undecodable runtime event", "error", err)
			})
			continue
		}
		if err := p.d.PublishContext(ctx, e); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading runtime events: %w", err)
	}
	return p.d.Drain(ctx)
}

// Close stops delivery.  Events not yet delivered are discarded.
func (p *Platform) Close() error {
	return p.d.Close()
}

// collectorView is the shared source under a collector's name.
type collectorView struct {
	name string
	d    *event.Dispatcher
}

func (v collectorView) Name() string     { return v.name }
func (v collectorView) Kind() event.Kind { return event.KindCollector }

func (v collectorView) Subscribe(filter event.Filter, cb event.Callback) (event.Subscription, error) {
	return v.d.Subscribe(filter, cb)
}
