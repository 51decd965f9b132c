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

package event

import "errors"

// ErrClosed is returned when subscribing to a closed source.
var ErrClosed = errors.New("event source closed")

// Kind distinguishes collector sources, whose names are looked up in
// the bridge's collector table, from platform-wide event streams.  A
// platform listing a stream among its collectors has it ignored.
type Kind int

const (
	KindStream Kind = iota
	KindCollector
)

func (k Kind) String() string {
	switch k {
	case KindCollector:
		return "collector"
	case KindStream:
		return "stream"
	}
	return "unknown"
}

// Filter decides cheaply whether an event is passed to a callback.
// A nil Filter accepts every event.
type Filter func(Event) bool

// Callback receives one event on the source's delivery goroutine.
type Callback func(Event)

// Subscription is returned by Source.Subscribe.  Close detaches the
// callback; it is safe to call more than once.
type Subscription interface {
	Close() error
}

// Source is one platform notification channel.  Callbacks run
// asynchronously on a goroutine owned by the source, one event at a
// time and in emission order.
type Source interface {
	Name() string
	Kind() Kind
	Subscribe(Filter, Callback) (Subscription, error)
}

// TypeFilter returns a Filter that keeps events of a single type.
func TypeFilter(eventType string) Filter {
	return func(e Event) bool {
		return e.Type == eventType
	}
}

// Event types understood by the bridge.
const (
	TypeGarbageCollection           = "GarbageCollection"
	TypeG1GarbageCollection         = "G1GarbageCollection"
	TypeYoungGarbageCollection      = "YoungGarbageCollection"
	TypeOldGarbageCollection        = "OldGarbageCollection"
	TypeGCHeapSummary               = "GCHeapSummary"
	TypeG1HeapSummary               = "G1HeapSummary"
	TypePSHeapSummary               = "PSHeapSummary"
	TypeObjectAllocationInNewTLAB   = "ObjectAllocationInNewTLAB"
	TypeObjectAllocationOutsideTLAB = "ObjectAllocationOutsideTLAB"
	TypeSocketRead                  = "SocketRead"
	TypeSocketWrite                 = "SocketWrite"
	TypeThreadContextSwitchRate     = "ThreadContextSwitchRate"
	TypeCPULoad                     = "CPULoad"
	TypeContainerConfiguration      = "ContainerConfiguration"
	TypeMonitorWait                 = "MonitorWait"
	TypeThreadStatistics            = "ThreadStatistics"
	TypeClassLoadingStatistics      = "ClassLoadingStatistics"
	TypeMetaspaceSummary            = "MetaspaceSummary"
	TypeCodeCacheConfiguration      = "CodeCacheConfiguration"
	TypeDirectBufferStatistics      = "DirectBufferStatistics"
)

// Collector names with dedicated handlers.
const (
	CollectorG1Young          = "G1 Young Generation"
	CollectorG1Old            = "G1 Old Generation"
	CollectorCopy             = "Copy"
	CollectorPSScavenge       = "PS Scavenge"
	CollectorPSMarkSweep      = "PS MarkSweep"
	CollectorMarkSweepCompact = "MarkSweepCompact"
	CollectorGo               = "Go Concurrent Mark Sweep"
)
