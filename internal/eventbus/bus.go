package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brulejr/autohome/internal/metrics"
)

// Logger defines the logging interface for the bus.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// subscription is a handler that reports whether it accepted the event.
// Observers see every event but do not count towards delivery.
type subscription struct {
	id       uint64
	observer bool
	deliver  func(event any) bool
}

// Bus dispatches events to subscribed handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger Logger

	published   atomic.Uint64
	undelivered atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{logger: noopLogger{}}
}

// SetLogger sets the logger used to report handler panics.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Publish delivers event to every handler whose type matches.
func (b *Bus) Publish(event any) {
	b.Deliver(event)
}

// Deliver is Publish returning the number of typed handlers that received
// event. SubscribeAll handlers still run but are not counted, so an event
// only observers saw is recorded as undelivered.
func (b *Bus) Deliver(event any) int {
	b.mu.RLock()
	subs := b.subs
	logger := b.logger
	b.mu.RUnlock()

	b.published.Add(1)

	delivered := 0
	for _, s := range subs {
		if b.dispatch(s, event, logger) && !s.observer {
			delivered++
		}
	}
	if delivered == 0 {
		b.undelivered.Add(1)
		metrics.BusUndelivered.Inc()
	}
	return delivered
}

func (b *Bus) dispatch(s subscription, event any, logger Logger) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			accepted = true
			logger.Error("event handler panic",
				"subscription", s.id,
				"event_type", fmt.Sprintf("%T", event),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	return s.deliver(event)
}

func (b *Bus) add(observer bool, deliver func(any) bool) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	// Copy on write so Deliver can iterate a snapshot without holding the lock.
	subs := make([]subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, subscription{id: id, observer: observer, deliver: deliver})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	b.subs = subs
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of events published since New.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Undelivered returns how many published events no typed handler accepted.
func (b *Bus) Undelivered() uint64 {
	return b.undelivered.Load()
}

// Subscribe registers handler for events of type T and returns a function
// that removes it. The returned function is safe to call more than once.
func Subscribe[T any](b *Bus, handler func(T)) func() {
	return b.add(false, func(event any) bool {
		v, ok := event.(T)
		if !ok {
			return false
		}
		handler(v)
		return true
	})
}

// SubscribeAll registers an observer for every event. Observers such as
// mirrors and feeds do not make an event count as delivered.
func SubscribeAll(b *Bus, handler func(any)) func() {
	return b.add(true, func(event any) bool {
		handler(event)
		return true
	})
}
