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

// Package handler converts runtime events into metric observations.
//
// Each handler is bound to one event type.  Handle runs on a source's
// delivery goroutine, so it never blocks and never panics on bad
// input: a payload missing a required field is dropped and logged at
// V(1), rate limited per handler.  Handlers that report through
// asynchronous instruments keep the latest value in atomics and
// unregister their callback in Close.
package handler // import "github.com/lightstep/otel-runtime-bridge/internal/handler"

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/feature"
	"github.com/lightstep/otel-runtime-bridge/internal/doevery"
	"github.com/lightstep/otel-runtime-bridge/internal/facade"
)

// Handler turns events of one type into observations.
type Handler interface {
	// Name identifies the handler variant, e.g., "g1-gc-duration".
	Name() string

	// Feature is the feature the handler belongs to.
	Feature() feature.Feature

	// EventType is the event type the handler consumes.
	EventType() string

	// Handle records the observations for one event.  It is safe
	// for concurrent use.
	Handle(event.Event)

	// Close releases callback registrations.  It is idempotent,
	// and Handle records nothing after Close.
	Close() error
}

// Config carries what handler constructors share.
type Config struct {
	Facade  *facade.Facade
	Grouper *ThreadGrouper
	Logger  logr.Logger

	// Limiter rate-limits malformed-payload logs.  Nil means one
	// log line per handler per minute.
	Limiter *doevery.Limiter
}

func (c Config) limiter() *doevery.Limiter {
	if c.Limiter != nil {
		return c.Limiter
	}
	return doevery.New(time.Minute)
}

// info is the immutable part of a handler.
type info struct {
	name      string
	feature   feature.Feature
	eventType string
	logger    logr.Logger
	limiter   *doevery.Limiter
}

func newInfo(cfg Config, name string, f feature.Feature, eventType string) info {
	return info{
		name:      name,
		feature:   f,
		eventType: eventType,
		logger:    cfg.Logger.WithValues("handler", name),
		limiter:   cfg.limiter(),
	}
}

type base struct {
	info

	regs []metric.Registration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (b *base) Name() string             { return b.name }
func (b *base) Feature() feature.Feature { return b.feature }
func (b *base) EventType() string        { return b.eventType }

func (b *base) register(reg metric.Registration) {
	if reg != nil {
		b.regs = append(b.regs, reg)
	}
}

func (b *base) active() bool {
	return !b.closed.Load()
}

// malformed reports a dropped event.
func (b *base) malformed(e event.Event, field string) {
	b.limiter.Do(b.name, func() {
		b.logger.V(1).Info("dropping malformed runtime event",
			"type", e.Type,
			"source", e.Source,
			"field", field,
		)
	})
}

func (b *base) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		for _, reg := range b.regs {
			b.closeErr = multierr.Append(b.closeErr, reg.Unregister())
		}
		b.regs = nil
	})
	return b.closeErr
}
