package bus

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Tally keeps running counts of lifecycle events per type.
type Tally struct {
	mu     sync.Mutex
	counts map[EventType]uint64
	last   time.Time
	state  string
}

// TallySnapshot is a point-in-time copy of a Tally.
type TallySnapshot struct {
	Counts          map[EventType]uint64 `json:"counts"`
	LastDelivery    time.Time            `json:"last_delivery,omitzero"`
	ConnectionState string               `json:"connection_state,omitempty"`
}

func NewTally() *Tally {
	return &Tally{counts: make(map[EventType]uint64)}
}

// Run subscribes to mb and records events until ctx ends or the bus closes.
func (t *Tally) Run(ctx context.Context, mb *MessageBus) {
	events, unsubscribe := mb.SubscribeEvents(ctx, defaultBufferSize)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			t.Record(event)
		}
	}
}

func (t *Tally) Record(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[event.Type]++
	switch event.Type {
	case EventDeliveryReceived:
		t.last = event.At
	case EventConnectionChanged:
		t.state = event.State
	}
}

func (t *Tally) Count(eventType EventType) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[eventType]
}

func (t *Tally) Snapshot() TallySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TallySnapshot{
		Counts:          maps.Clone(t.counts),
		LastDelivery:    t.last,
		ConnectionState: t.state,
	}
}
