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

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/lightstep/otel-runtime-bridge/internal/doevery"
)

// DefaultBuffer is the number of undelivered events a Dispatcher
// holds before it starts dropping.
const DefaultBuffer = 256

type dispatcherConfig struct {
	buffer  int
	logger  logr.Logger
	onStart func()
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithBuffer sets the delivery buffer size.  Values below one are
// ignored.
func WithBuffer(n int) DispatcherOption {
	return func(c *dispatcherConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithLogger sets the logger used to report recovered callback
// panics.
func WithLogger(l logr.Logger) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.logger = l
	}
}

// WithStartHook registers a function called once, on the first
// Subscribe.  Platforms use it to start producing events lazily.
func WithStartHook(f func()) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.onStart = f
	}
}

// Dispatcher is the Source implementation shared by platforms.  The
// producer calls Publish or PublishContext from any goroutine; a
// single delivery goroutine, started on first use, hands each event to
// the subscribed callbacks in order.
type Dispatcher struct {
	name   string
	kind   Kind
	cfg    dispatcherConfig
	events chan envelope

	started sync.Once
	running sync.Once

	// lock protects subs and closed.  subs is copy-on-write so the
	// delivery loop can iterate without holding the lock.
	lock   sync.RWMutex
	subs   []*subscription
	closed bool

	done    chan struct{}
	stopped chan struct{}
}

// envelope is an event or, when flushed is set, a Drain marker.
type envelope struct {
	event   Event
	flushed chan struct{}
}

var _ Source = (*Dispatcher)(nil)

// NewDispatcher returns a Dispatcher.  Close must be called to stop
// its delivery goroutine.
func NewDispatcher(name string, kind Kind, opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{
		buffer: DefaultBuffer,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		name:    name,
		kind:    kind,
		cfg:     cfg,
		events:  make(chan envelope, cfg.buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (d *Dispatcher) Name() string { return d.name }
func (d *Dispatcher) Kind() Kind   { return d.kind }

func (d *Dispatcher) start() {
	d.running.Do(func() { go d.run() })
}

// Subscribe implements Source.
func (d *Dispatcher) Subscribe(filter Filter, cb Callback) (Subscription, error) {
	s := &subscription{
		d:      d,
		filter: filter,
		cb:     cb,
	}

	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return nil, ErrClosed
	}
	d.subs = append(slices.Clone(d.subs), s)
	d.lock.Unlock()

	d.start()
	if d.cfg.onStart != nil {
		d.started.Do(d.cfg.onStart)
	}
	return s, nil
}

func (d *Dispatcher) stamp(e Event) envelope {
	if e.Source == "" {
		e.Source = d.name
	}
	return envelope{event: e}
}

// Publish queues an event for delivery without blocking.  It
// returns false when the event was dropped, either because the
// buffer is full or because the dispatcher is closed.
func (d *Dispatcher) Publish(e Event) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	d.start()
	select {
	case d.events <- d.stamp(e):
		return true
	default:
		return false
	}
}

// PublishContext queues an event for delivery, waiting for buffer
// space until ctx is done.  It returns ErrClosed once the dispatcher
// is closed.
func (d *Dispatcher) PublishContext(ctx context.Context, e Event) error {
	return d.send(ctx, d.stamp(e))
}

func (d *Dispatcher) send(ctx context.Context, env envelope) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}
	d.start()
	select {
	case d.events <- env:
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits until every event queued before the call has been
// handed to the subscribers.
func (d *Dispatcher) Drain(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := d.send(ctx, envelope{flushed: flushed}); err != nil {
		return err
	}
	select {
	case <-flushed:
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns the number of live subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.subs)
}

// Close detaches every subscriber and stops delivery.  Events still
// buffered are discarded; use Drain first to deliver them.  Close does
// not wait for an in-flight callback, so it is safe to call from one.
func (d *Dispatcher) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, s := range d.subs {
		s.closed.Store(true)
	}
	d.subs = nil
	close(d.done)
	d.start()
	return nil
}

// Done is closed when the delivery goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		case env := <-d.events:
			if env.flushed != nil {
				close(env.flushed)
				continue
			}
			d.lock.RLock()
			subs, closed := d.subs, d.closed
			d.lock.RUnlock()
			if closed {
				return
			}
			for _, s := range subs {
				d.deliver(s, env.event)
			}
		}
	}
}

func (d *Dispatcher) deliver(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			doevery.TimePeriod("panic/"+d.name, func() {
				d.cfg.logger.V(1).Info("recovered from event callback panic",
					"source", d.name,
					"type", e.Type,
					"panic", r,
				)
			})
		}
	}()
	if s.closed.Load() {
		return
	}
	if s.filter != nil && !s.filter(e) {
		return
	}
	s.cb(e)
}

func (d *Dispatcher) remove(s *subscription) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.subs = slices.DeleteFunc(slices.Clone(d.subs), func(x *subscription) bool {
		return x == s
	})
}

type subscription struct {
	d      *Dispatcher
	filter Filter
	cb     Callback
	closed atomic.Bool
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.d.remove(s)
	})
	return nil
}
