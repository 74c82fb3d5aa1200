package webhook

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Handler reacts to one normalized event. Returned errors and panics are contained by
// the dispatcher and never affect sibling handlers.
type Handler func(ctx context.Context, ev Event) error

// Selector chooses which categories a handler receives.
type Selector string

// SelectAnyText matches every text-bearing message regardless of its wire shape.
const SelectAnyText Selector = "any_text"

// Select returns the selector for exactly one category.
func Select(category Category) Selector {
	return Selector(category)
}

// Matches reports whether a delivery of the given category should reach the selector.
func (s Selector) Matches(category Category) bool {
	if s == SelectAnyText {
		return category == CategoryText
	}
	return Category(s) == category
}

func (s Selector) valid() bool {
	switch Category(s) {
	case CategoryText, CategoryAudio, CategoryImage, CategoryVideo, CategoryDocument,
		CategorySticker, CategoryReaction, CategoryConnectionUpdate, CategoryUnknown:
		return true
	}
	return s == SelectAnyText
}

func (s Selector) family() string {
	if s == SelectAnyText {
		return EventMessagesUpsert
	}
	return Category(s).Family()
}

// Registration is one handler bound to a selector.
type Registration struct {
	Selector Selector
	Name     string
	Handler  Handler
}

// Registry holds handlers in registration order. Registration normally happens once at
// startup; lookups are safe from any number of goroutines.
type Registry struct {
	mu            sync.RWMutex
	registrations []Registration
	families      map[string]int
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]int)}
}

// Register binds handler to selector. It panics on a nil handler or an unknown selector,
// both of which are wiring mistakes.
func (r *Registry) Register(selector Selector, name string, handler Handler) {
	if handler == nil {
		panic("webhook: nil handler")
	}
	if !selector.valid() {
		panic(fmt.Sprintf("webhook: unknown selector %q", selector))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s#%d", selector, len(r.registrations)+1)
	}
	r.registrations = append(r.registrations, Registration{Selector: selector, Name: name, Handler: handler})
	r.families[selector.family()]++
}

// Lookup returns the handlers for a category in registration order. Selectors that
// overlap on the same category each contribute their handlers.
func (r *Registry) Lookup(category Category) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Registration
	for _, registration := range r.registrations {
		if registration.Selector.Matches(category) {
			matched = append(matched, registration)
		}
	}
	return matched
}

// Knows reports whether any handler could receive deliveries of the event family.
func (r *Registry) Knows(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.families[NormalizeEventType(eventType)] > 0
}

// Registrations returns a snapshot of every registration.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.registrations)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registrations)
}
