package events

import (
	"context"
	"sync"
)

// Handler consumes one event. Handlers must tolerate concurrent invocation.
type Handler func(ctx context.Context, event Event)

// Bus is an in-memory, fire-and-forget event bus for single-process
// deployments.
//
// Publish never blocks workflow progress: events fan out to subscribers on
// their own goroutines and handler panics are swallowed after recovery. A
// nil *Bus is valid and drops everything, so components can treat event
// emission as optional.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for an event kind.
func (b *Bus) Subscribe(kind string, handler Handler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
}

// Publish fans the event out to all subscribers of its kind.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	handlers := b.subscribers[event.Kind()]
	handlersCopy := make([]Handler, len(handlers))
	copy(handlersCopy, handlers)
	b.mu.RUnlock()

	for _, handler := range handlersCopy {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				// A persistence subscriber must never take the workflow down.
				_ = recover()
			}()
			h(ctx, event)
		}(handler)
	}
}

// Close waits for all in-flight handlers to finish.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.wg.Wait()
}
