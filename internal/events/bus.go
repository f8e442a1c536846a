// Package events is a small typed event bus. The sync engine publishes an
// [Updated] event after every completed refresh cycle so any number of
// independent observers can re-query the store, and listens for
// [RefreshTransactionsRequested] from outside triggers such as push
// notifications.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/njoerd114/finsync/internal/model"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	EventID() uuid.UUID
}

// Op says what kind of cycle produced an Updated event.
type Op string

const (
	OpRefresh  Op = "refresh"
	OpBackfill Op = "backfill"
	OpMutate   Op = "mutate"
)

// Updated reports that rows of one entity type were committed.
type Updated struct {
	ID    uuid.UUID
	Type  model.EntityType
	Op    Op
	Count int
}

func (e Updated) EventID() uuid.UUID { return e.ID }

// RefreshTransactionsRequested asks the engine to refresh the given
// transactions by ID.
type RefreshTransactionsRequested struct {
	ID  uuid.UUID
	IDs []int64
}

func (e RefreshTransactionsRequested) EventID() uuid.UUID { return e.ID }

// NewUpdated builds an Updated event with a fresh ID.
func NewUpdated(t model.EntityType, op Op, count int) Updated {
	return Updated{ID: uuid.New(), Type: t, Op: op, Count: count}
}

// NewRefreshTransactionsRequested builds a request event with a fresh ID.
func NewRefreshTransactionsRequested(ids []int64) RefreshTransactionsRequested {
	return RefreshTransactionsRequested{ID: uuid.New(), IDs: ids}
}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine, in subscription order; a slow handler should hand
// work off to its own goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
	order  []int
	log    *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[int]Handler), log: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, o := range b.order {
				if o == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event", fmt.Sprintf("%T", e), "panic", r)
		}
	}()
	h(e)
}
