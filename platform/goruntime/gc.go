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

package goruntime

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/lightstep/otel-runtime-bridge/event"
)

// pauseRing is the length of runtime.MemStats.PauseNs.
const pauseRing = 256

const (
	actionCycle  = "end of GC cycle"
	actionForced = "end of forced GC"
	causeAuto    = "automatic"
	causeForced  = "forced"
)

// gcNotifier publishes one event per completed GC cycle.
type gcNotifier struct {
	d            *event.Dispatcher
	readMemStats func(*runtime.MemStats)

	// notify is signaled, without blocking, by the sentinel
	// finalizer.
	notify  chan struct{}
	stopped atomic.Bool

	// Owned by the run goroutine.
	lastNumGC  uint32
	lastForced uint32
}

func newGCNotifier(d *event.Dispatcher) *gcNotifier {
	return &gcNotifier{
		d:            d,
		readMemStats: runtime.ReadMemStats,
		notify:       make(chan struct{}, 1),
	}
}

// sentinel is garbage as soon as it is armed; its finalizer runs
// once the next collection has swept it.
type sentinel struct {
	n *gcNotifier
}

func (n *gcNotifier) arm() {
	runtime.SetFinalizer(&sentinel{n: n}, func(s *sentinel) {
		if s.n.stopped.Load() {
			return
		}
		select {
		case s.n.notify <- struct{}{}:
		default:
		}
		s.n.arm()
	})
}

func (n *gcNotifier) run(stop <-chan struct{}) {
	var ms runtime.MemStats
	n.readMemStats(&ms)
	n.lastNumGC, n.lastForced = ms.NumGC, ms.NumForcedGC

	n.arm()
	for {
		select {
		case <-stop:
			return
		case <-n.notify:
			n.publish()
		}
	}
}

// shutdown keeps the next finalizer from re-arming.
func (n *gcNotifier) shutdown() {
	n.stopped.Store(true)
}

func (n *gcNotifier) publish() {
	var ms runtime.MemStats
	n.readMemStats(&ms)

	cycles := ms.NumGC - n.lastNumGC
	if cycles == 0 {
		return
	}
	first := n.lastNumGC + 1
	if cycles > pauseRing {
		first = ms.NumGC - pauseRing + 1
	}
	// The runtime does not say which cycles were forced; the most
	// recent ones are attributed.
	forced := ms.NumForcedGC - n.lastForced

	for id := first; id <= ms.NumGC; id++ {
		i := (id + pauseRing - 1) % pauseRing
		action, cause := actionCycle, causeAuto
		if ms.NumGC-id < forced {
			action, cause = actionForced, causeForced
		}
		n.d.Publish(event.Event{
			Type: event.TypeGarbageCollection,
			Time: time.Unix(0, int64(ms.PauseEnd[i])),
			Fields: map[string]any{
				"name":     event.CollectorGo,
				"action":   action,
				"cause":    cause,
				"gcId":     int64(id),
				"duration": time.Duration(ms.PauseNs[i]),
			},
		})
	}

	n.d.Publish(event.Event{
		Type: event.TypeGCHeapSummary,
		Time: time.Unix(0, int64(ms.LastGC)),
		Fields: map[string]any{
			"when":          "After GC",
			"gcId":          int64(ms.NumGC),
			"heapUsed":      ms.HeapAlloc,
			"heapCommitted": ms.HeapSys - ms.HeapReleased,
			"heapObjects":   ms.HeapObjects,
			"nextGC":        ms.NextGC,
		},
	})

	n.lastNumGC, n.lastForced = ms.NumGC, ms.NumForcedGC
}
