package events

import (
	"sync"

	"github.com/entrhq/stockpilot/pkg/types"
)

// DefaultBusBuffer is the queue length of a Bus.
const DefaultBusBuffer = 256

// Bus decouples producers from slow consumers. Emit enqueues; one dispatcher
// goroutine hands events to every handler in registration order.
//
// Emit blocks when the queue is full rather than dropping. Events emitted
// after Close are discarded.
type Bus struct {
	mu       sync.RWMutex
	queue    chan *types.RunEvent
	handlers []func(*types.RunEvent)
	closed   bool
	done     chan struct{}
}

// NewBus starts a bus delivering to handlers.
func NewBus(buffer int, handlers ...func(*types.RunEvent)) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	b := &Bus{
		queue:    make(chan *types.RunEvent, buffer),
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.queue {
		for _, h := range b.handlers {
			h(e)
		}
	}
}

// Emit enqueues an event.
func (b *Bus) Emit(e *types.RunEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.queue <- e
}

// Close stops accepting events, delivers everything queued and waits for the
// dispatcher to exit. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}
