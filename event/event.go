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

package event // import "github.com/lightstep/otel-runtime-bridge/event"

import (
	"math"
	"strings"
	"time"
)

// Event is one runtime notification.  Field sets vary by event type
// and by platform, so Fields is a loosely-typed bag that handlers
// destructure through the accessors below.  An Event is only valid
// for the duration of the callback it is delivered to.
type Event struct {
	// Type names the event kind, e.g., "G1GarbageCollection".
	Type string

	// Source is the name of the source that emitted the event.
	Source string

	// Time is when the platform emitted the event, if known.
	Time time.Time

	// Fields holds the payload.  Nested objects are map[string]any.
	Fields map[string]any
}

// lookup resolves a dotted path such as "oldSpace.committedSize".
// An exact key match wins over path traversal, since some platforms
// flatten nested names.
func (e Event) lookup(path string) (any, bool) {
	if e.Fields == nil {
		return nil, false
	}
	if v, ok := e.Fields[path]; ok {
		return v, v != nil
	}
	cur := e.Fields
	for {
		head, rest, more := strings.Cut(path, ".")
		v, ok := cur[head]
		if !ok || v == nil {
			return nil, false
		}
		if !more {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, path = next, rest
	}
}

// Float64 returns a numeric field as a float64.
func (e Event) Float64(path string) (float64, bool) {
	v, ok := e.lookup(path)
	if !ok {
		return 0, false
	}
	return toFloat64(v)
}

// Int64 returns a numeric field as an int64.  Fractional values are
// truncated; values outside the int64 range are rejected.
func (e Event) Int64(path string) (int64, bool) {
	v, ok := e.lookup(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	f, ok := toFloat64(v)
	if !ok || math.IsNaN(f) || f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(f), true
}

// String returns a string field.
func (e Event) String(path string) (string, bool) {
	v, ok := e.lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns a boolean field.
func (e Event) Bool(path string) (bool, bool) {
	v, ok := e.lookup(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Millis returns a duration field in milliseconds.  Plain numbers
// are taken to be milliseconds already; time.Duration values and
// duration strings ("12.5ms", "PT0.0125S") are converted.
func (e Event) Millis(path string) (float64, bool) {
	v, ok := e.lookup(path)
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return float64(d) / float64(time.Millisecond), true
	case string:
		pd, err := parseDuration(d)
		if err != nil {
			return 0, false
		}
		return float64(pd) / float64(time.Millisecond), true
	}
	return toFloat64(v)
}

type float64er interface {
	Float64() (float64, error)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64er:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// parseDuration accepts Go duration syntax and the time-only subset
// of ISO-8601 ("PT1M2.5S").
func parseDuration(s string) (time.Duration, error) {
	if iso, ok := strings.CutPrefix(s, "PT"); ok {
		s = strings.ToLower(iso)
	}
	return time.ParseDuration(s)
}
