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

// package doevery provides per-key rate-limiting, used to keep
// repeated log lines from event delivery goroutines in check.
package doevery

import (
	"fmt"
	"sync"
	"time"
)

// Limiter runs a function at most once per period for each key.
//
// Limiter is safe for concurrent use.
type Limiter struct {
	period time.Duration
	now    func() time.Time

	// mu protects last.
	mu   sync.Mutex
	last map[string]time.Time
}

// New returns a Limiter.  A zero period never suppresses.
func New(period time.Duration) *Limiter {
	if period < 0 {
		panic(fmt.Sprintf("negative duration unsupported: %v", period))
	}
	return &Limiter{
		period: period,
		now:    time.Now,
		last:   map[string]time.Time{},
	}
}

// Do invokes f unless it already ran for key within the period.  It
// reports whether f ran.
//
// Example usage:
//
//	lim := doevery.New(time.Minute)
//	lim.Do(handlerName, func() {
//		logger.V(1).Info("dropping malformed event")
//	})
func (l *Limiter) Do(key string, f func()) bool {
	if !l.allow(key) {
		return false
	}
	f()
	return true
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	prev, ok := l.last[key]
	if ok && now.Sub(prev) < l.period {
		return false
	}
	l.last[key] = now
	return true
}

var defaultLimiter = New(time.Minute)

// TimePeriod rate-limits f on key with the package's one-minute
// limiter.
func TimePeriod(key string, f func()) bool {
	return defaultLimiter.Do(key, f)
}
