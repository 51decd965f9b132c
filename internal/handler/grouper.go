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

package handler

import (
	"strings"
	"sync"
	"unicode"

	"github.com/dgryski/go-farm"

	"github.com/lightstep/otel-runtime-bridge/event"
)

const (
	grouperShards   = 16
	grouperShardCap = 1024
)

// ThreadGrouper maps thread names to low-cardinality group names by
// trimming trailing digits and separators, so "pool-1-thread-7"
// becomes "pool-1-thread".  It is safe for concurrent use.
type ThreadGrouper struct {
	shards [grouperShards]grouperShard
}

type grouperShard struct {
	lock   sync.RWMutex
	groups map[string]string
}

// NewThreadGrouper returns an empty ThreadGrouper.
func NewThreadGrouper() *ThreadGrouper {
	g := &ThreadGrouper{}
	for i := range g.shards {
		g.shards[i].groups = map[string]string{}
	}
	return g
}

// Group returns the group for a thread name.  Names that are nothing
// but digits and separators are returned unchanged.
func (g *ThreadGrouper) Group(name string) string {
	s := &g.shards[farm.Fingerprint64([]byte(name))%grouperShards]

	s.lock.RLock()
	group, ok := s.groups[name]
	s.lock.RUnlock()
	if ok {
		return group
	}

	group = trimThreadName(name)

	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.groups) >= grouperShardCap {
		s.groups = map[string]string{}
	}
	s.groups[name] = group
	return group
}

func trimThreadName(name string) string {
	trimmed := strings.TrimRightFunc(name, func(r rune) bool {
		return unicode.IsDigit(r) || isThreadSeparator(r)
	})
	if trimmed == "" {
		return name
	}
	return trimmed
}

func isThreadSeparator(r rune) bool {
	switch r {
	case '-', '_', '#', '.', ':', ' ', '/':
		return true
	}
	return false
}

var threadFields = []string{"eventThread.javaName", "eventThread.osName", "eventThread"}

// threadGroup returns the group of the thread that emitted e.
func (g *ThreadGrouper) threadGroup(e event.Event) (string, bool) {
	for _, path := range threadFields {
		if name, ok := e.String(path); ok && name != "" {
			return g.Group(name), true
		}
	}
	return "", false
}

func (c Config) grouper() *ThreadGrouper {
	if c.Grouper != nil {
		return c.Grouper
	}
	return NewThreadGrouper()
}
