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
	"errors"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/lightstep/otel-runtime-bridge/event"
	"github.com/lightstep/otel-runtime-bridge/internal/facade"
	"github.com/lightstep/otel-runtime-bridge/internal/handler"
	"github.com/lightstep/otel-runtime-bridge/internal/version"
)

// ScopeName is the instrumentation scope name of the bridge's meter.
const ScopeName = "otel-runtime-bridge"

var errNoPlatform = errors.New("runtime bridge: nil platform")

// Bridge is a running set of handlers subscribed to a platform's
// event sources.
type Bridge struct {
	logger   logr.Logger
	handlers []handler.Handler
	subs     []event.Subscription

	closeOnce sync.Once
}

// Start builds the handlers enabled for p and subscribes them.  When
// the platform is unsupported Start returns an inert Bridge.
func Start(p Platform, opts ...Option) (*Bridge, error) {
	if p == nil {
		return nil, errNoPlatform
	}
	c, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	b := &Bridge{logger: c.Logger}

	if !p.Supported() {
		c.Logger.V(1).Info("runtime events are not supported, runtime bridge is inert")
		return b, nil
	}

	meter := c.MeterProvider.Meter(
		ScopeName,
		metric.WithInstrumentationVersion(version.Version()),
	)
	cfg := handler.Config{
		Facade: facade.New(meter, p.Namespace()),
		Logger: c.Logger,
	}

	for _, bind := range buildHandlers(cfg, p, c.Predicate) {
		h := bind.handler
		sub, err := bind.source.Subscribe(event.TypeFilter(h.EventType()), h.Handle)
		if err != nil {
			c.Logger.V(1).Info("dropping runtime handler",
				"handler", h.Name(),
				"source", bind.source.Name(),
				"error", err,
			)
			_ = h.Close()
			continue
		}
		b.handlers = append(b.handlers, h)
		b.subs = append(b.subs, sub)
	}
	return b, nil
}

// Handlers returns the names of the active handlers, in
// subscription order.
func (b *Bridge) Handlers() []string {
	names := make([]string, 0, len(b.handlers))
	for _, h := range b.handlers {
		names = append(names, h.Name())
	}
	return names
}

// Close unsubscribes and closes every handler.  It is safe to call
// more than once; failures are logged, not returned.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		var err error
		for _, sub := range b.subs {
			err = multierr.Append(err, sub.Close())
		}
		for _, h := range b.handlers {
			err = multierr.Append(err, h.Close())
		}
		if err != nil {
			b.logger.V(1).Info("closing runtime bridge", "error", err)
		}
	})
}
