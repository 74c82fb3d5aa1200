// Package bus fans delivery lifecycle events out to in-process observers such as the
// status endpoint and the delivery counters.
package bus

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

type MessageBus struct {
	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	// dropped counts events discarded because a subscriber buffer was full.
	dropped atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// Dropped returns how many events slow subscribers missed.
func (mb *MessageBus) Dropped() uint64 {
	return mb.dropped.Load()
}

func (mb *MessageBus) Subscribers() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.eventSubscribers)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
