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
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/otel-runtime-bridge/feature"
)

// config contains optional settings for the bridge.
type config struct {
	// MeterProvider sets the metric.MeterProvider.  If nil, the
	// global Provider will be used.
	MeterProvider metric.MeterProvider

	// Predicate decides which features are enabled.  If nil, the
	// predicate is read from the environment.
	Predicate feature.Predicate

	Logger logr.Logger
}

// Option supports configuring optional settings for the bridge.
type Option interface {
	apply(*config)
}

// WithMeterProvider sets the Metric implementation to use for
// reporting.  If this option is not used, the global
// metric.MeterProvider will be used.  `provider` must be non-nil.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return metricProviderOption{provider}
}

type metricProviderOption struct{ metric.MeterProvider }

func (o metricProviderOption) apply(c *config) {
	if o.MeterProvider != nil {
		c.MeterProvider = o.MeterProvider
	}
}

// WithFeaturePredicate replaces the environment-driven feature
// policy.
func WithFeaturePredicate(p feature.Predicate) Option {
	return predicateOption(p)
}

type predicateOption feature.Predicate

func (o predicateOption) apply(c *config) {
	if o != nil {
		c.Predicate = feature.Predicate(o)
	}
}

// WithLogger sets the logger for the bridge and its handlers.  The
// default writes to standard error.
func WithLogger(l logr.Logger) Option {
	return loggerOption{l}
}

type loggerOption struct{ logr.Logger }

func (o loggerOption) apply(c *config) {
	c.Logger = o.Logger
}

// newConfig computes a config from the supplied Options.
func newConfig(opts ...Option) (config, error) {
	c := config{
		Logger: stdr.New(log.New(os.Stderr, "", log.LstdFlags)),
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
	if c.Predicate == nil {
		settings, err := feature.SettingsFromEnv(context.Background())
		if err != nil {
			return c, fmt.Errorf("runtime bridge feature settings: %w", err)
		}
		pred, err := settings.Predicate()
		if err != nil {
			c.Logger.Error(err, "ignoring unknown runtime bridge features")
		}
		c.Predicate = pred
	}
	return c, nil
}
