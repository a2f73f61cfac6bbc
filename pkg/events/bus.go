// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"sync"
	"time"

	"github.com/tapestry-labs/tapestry/internal/log"
)

// Listener receives bus events. Listeners run synchronously on the emitting
// goroutine and should return quickly.
type Listener func(Event)

// Subscription detaches a listener when released. Unsubscribe is idempotent.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe removes the listener from the bus.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

type subscriber struct {
	id       uint64
	listener Listener
	// filter is nil for all-events subscriptions.
	filter map[Type]struct{}
}

// Bus fans events out to subscribed listeners in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
	logger *log.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: log.L()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for every event type.
func (b *Bus) Subscribe(listener Listener) *Subscription {
	return b.subscribe(listener, nil)
}

// SubscribeTo registers a listener for the given event types only.
func (b *Bus) SubscribeTo(listener Listener, types ...Type) *Subscription {
	filter := make(map[Type]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return b.subscribe(listener, filter)
}

func (b *Bus) subscribe(listener Listener, filter map[Type]struct{}) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscriber{id: b.nextID, listener: listener, filter: filter})
	return &Subscription{bus: b, id: b.nextID}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of attached listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit delivers the event to every matching listener, in subscription order,
// on the caller's goroutine. The timestamp is stamped here if unset. No bus
// lock is held while listeners run.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != nil {
			if _, ok := sub.filter[ev.Type]; !ok {
				continue
			}
		}
		b.dispatch(sub, ev)
	}
}

// dispatch invokes one listener, containing any panic so emission continues.
func (b *Bus) dispatch(sub subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked", map[string]any{
				"event_type": string(ev.Type),
				"session_id": ev.SessionID,
				"panic":      r,
			})
		}
	}()
	sub.listener(ev)
}
