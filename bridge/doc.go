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

// Package bridge turns runtime events into OpenTelemetry metrics.
//
// A Platform supplies event sources: one per garbage collector and
// one for everything else.  Start builds a handler for each event
// type the platform's collectors and the enabled features call for,
// subscribes it to the right source, and returns a Bridge.  Events
// are handled on the sources' own goroutines; the Bridge itself owns
// none.
//
//	p := goruntime.New()
//	defer p.Close()
//
//	b, err := bridge.Start(p, bridge.WithMeterProvider(provider))
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
// Features are read from the environment unless WithFeaturePredicate
// is used:
//
//	OTEL_RUNTIME_BRIDGE_ENABLE_ALL=true
//	OTEL_RUNTIME_BRIDGE_ENABLE=gc_duration_metrics,memory_pool_metrics
//	OTEL_RUNTIME_BRIDGE_DISABLE=network_io_metrics
//
// The handler set is fixed at Start.  To change it, Close the Bridge
// and Start another.
package bridge // import "github.com/lightstep/otel-runtime-bridge/bridge"
