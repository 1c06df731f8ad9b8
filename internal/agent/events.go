package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emachat/ema/pkg/models"
)

// Subscription identifies one registered listener on an Emitter.
type Subscription uint64

// Emitter is a typed publish/subscribe bus for agent events. Delivery
// is synchronous and in registration order; a panicking subscriber is
// logged and never blocks the others. Every emitted event is retained
// so late consumers can replay the full sequence.
type Emitter struct {
	mu       sync.Mutex
	nextID   Subscription
	sequence uint64
	subs     []subscriber
	log      []models.AgentEvent
	logger   *slog.Logger
}

type subscriber struct {
	id   Subscription
	fn   func(models.AgentEvent)
	once bool
}

// NewEmitter creates an emitter. A nil logger falls back to
// slog.Default.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers a listener for every subsequent event.
func (e *Emitter) Subscribe(fn func(models.AgentEvent)) Subscription {
	return e.add(fn, false)
}

// SubscribeOnce registers a listener removed after its first delivery.
func (e *Emitter) SubscribeOnce(fn func(models.AgentEvent)) Subscription {
	return e.add(fn, true)
}

func (e *Emitter) add(fn func(models.AgentEvent), once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscriber{id: id, fn: fn, once: once})
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (e *Emitter) Unsubscribe(id Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit stamps the event with time and sequence, records it, and
// delivers it to all current subscribers in registration order.
func (e *Emitter) Emit(event models.AgentEvent) {
	e.mu.Lock()
	e.sequence++
	event.Sequence = e.sequence
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	e.log = append(e.log, event)

	targets := make([]subscriber, len(e.subs))
	copy(targets, e.subs)

	remaining := e.subs[:0]
	for _, s := range e.subs {
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	e.subs = remaining
	e.mu.Unlock()

	for _, s := range targets {
		e.deliver(s, event)
	}
}

func (e *Emitter) deliver(s subscriber, event models.AgentEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("event subscriber panicked",
				"event_type", event.Type,
				"panic", rec,
			)
		}
	}()
	s.fn(event)
}

// Events returns a copy of every event emitted so far.
func (e *Emitter) Events() []models.AgentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.AgentEvent, len(e.log))
	copy(out, e.log)
	return out
}
