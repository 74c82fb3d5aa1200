package webhook

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func noop(context.Context, Event) error { return nil }

func TestRegistryLookupPreservesRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Select(CategoryText), "first", noop)
	registry.Register(Select(CategoryAudio), "audio", noop)
	registry.Register(SelectAnyText, "second", noop)
	registry.Register(Select(CategoryText), "third", noop)

	var names []string
	for _, registration := range registry.Lookup(CategoryText) {
		names = append(names, registration.Name)
	}
	require.Equal(t, []string{"first", "second", "third"}, names)

	audio := registry.Lookup(CategoryAudio)
	require.Len(t, audio, 1)
	require.Equal(t, "audio", audio[0].Name)

	require.Empty(t, registry.Lookup(CategoryVideo))
}

func TestSelectAnyTextMatchesOnlyText(t *testing.T) {
	require.True(t, SelectAnyText.Matches(CategoryText))
	for _, category := range []Category{CategoryAudio, CategoryReaction, CategoryUnknown, CategoryConnectionUpdate} {
		require.False(t, SelectAnyText.Matches(category), category)
	}
}

func TestRegistryKnows(t *testing.T) {
	registry := NewRegistry()
	require.False(t, registry.Knows(EventMessagesUpsert))
	require.False(t, registry.Knows(EventConnectionUpdate))

	registry.Register(SelectAnyText, "text", noop)
	require.True(t, registry.Knows(EventMessagesUpsert))
	require.True(t, registry.Knows("messages-upsert"))
	require.False(t, registry.Knows(EventConnectionUpdate))
	require.False(t, registry.Knows("messages.update"))

	registry.Register(Select(CategoryConnectionUpdate), "connection", noop)
	require.True(t, registry.Knows("CONNECTION_UPDATE"))
}

func TestRegistryDefaultsName(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Select(CategoryImage), "", noop)

	registrations := registry.Registrations()
	require.Len(t, registrations, 1)
	require.Equal(t, "image#1", registrations[0].Name)
}

func TestRegistryRejectsWiringMistakes(t *testing.T) {
	registry := NewRegistry()
	require.Panics(t, func() { registry.Register(SelectAnyText, "nil", nil) })
	require.Panics(t, func() { registry.Register(Selector("gif"), "gif", noop) })
	require.Zero(t, registry.Len())
}

func TestRegistrationsReturnsSnapshot(t *testing.T) {
	registry := NewRegistry()
	registry.Register(SelectAnyText, "one", noop)

	snapshot := registry.Registrations()
	snapshot[0].Name = "mutated"

	require.Equal(t, "one", registry.Registrations()[0].Name)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Register(SelectAnyText, "", noop)
		}()
		go func() {
			defer wg.Done()
			_ = registry.Lookup(CategoryText)
			_ = registry.Knows(EventMessagesUpsert)
		}()
	}
	wg.Wait()

	require.Len(t, registry.Lookup(CategoryText), 8)
}
