package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wakit/pkg/bus"
)

type callLog struct {
	mu     sync.Mutex
	calls  []string
	events []Event
}

func (c *callLog) handler(name string) Handler {
	return func(_ context.Context, ev Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls = append(c.calls, name)
		c.events = append(c.events, ev)
		return nil
	}
}

func (c *callLog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func newTestDispatcher(registry *Registry, opts Options) (*Dispatcher, *recordingPublisher) {
	events := &recordingPublisher{}
	opts.Events = events
	return NewDispatcher(registry, opts, nil), events
}

func TestDispatchRoutesTextToMatchingHandlers(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(Select(CategoryText), "text", calls.handler("text"))
	registry.Register(SelectAnyText, "any-text", calls.handler("any-text"))
	registry.Register(Select(CategoryAudio), "audio", calls.handler("audio"))

	dispatcher, events := newTestDispatcher(registry, Options{})
	res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))

	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.Equal(t, CategoryText, res.Category)
	require.Equal(t, "ABC123", res.MessageID)
	require.Equal(t, 2, res.Handlers)
	require.Zero(t, res.Failed)
	require.NotEmpty(t, res.DeliveryID)
	require.Equal(t, []string{"text", "any-text"}, calls.names())
	require.Equal(t, []bus.EventType{bus.EventDeliveryReceived, bus.EventDeliveryProcessed}, events.types())

	for _, event := range events.snapshot() {
		require.Equal(t, res.DeliveryID, event.DeliveryID)
	}
}

func TestDispatchIgnoresUnhandledFamilies(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(SelectAnyText, "text", calls.handler("text"))

	dispatcher, events := newTestDispatcher(registry, Options{})

	res := dispatcher.Dispatch(context.Background(), "messages-update", []byte(textUpsert))
	require.Equal(t, OutcomeIgnored, res.Outcome)

	res = dispatcher.Dispatch(context.Background(), "connection-update", []byte(connectionDelivery))
	require.Equal(t, OutcomeIgnored, res.Outcome)

	require.Empty(t, calls.names())
	require.Contains(t, events.types(), bus.EventDeliveryIgnored)
}

func TestDispatchIgnoresUnknownFamilyBeforeParsing(t *testing.T) {
	dispatcher, _ := newTestDispatcher(NewRegistry(), Options{})

	res := dispatcher.Dispatch(context.Background(), "presence-update", []byte("not json"))
	require.Equal(t, OutcomeIgnored, res.Outcome)
	require.NoError(t, res.Err)
}

func TestDispatchIgnoresWhenEnvelopeNamesUnhandledFamily(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(SelectAnyText, "text", calls.handler("text"))

	dispatcher, _ := newTestDispatcher(registry, Options{})
	body := delivery(t, textUpsert, set("event", "connection.update"))

	res := dispatcher.Dispatch(context.Background(), "messages-upsert", body)
	require.Equal(t, OutcomeIgnored, res.Outcome)
	require.Empty(t, calls.names())
}

func TestDispatchDropsMalformedBodies(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(SelectAnyText, "text", calls.handler("text"))
	dispatcher, events := newTestDispatcher(registry, Options{})

	for _, body := range []string{"", "not json", "[1,2,3]", `{"event": "messages.upsert", "data": "oops"}`} {
		res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(body))
		require.Equal(t, OutcomeDropped, res.Outcome, body)
		require.Equal(t, ErrorMalformedEnvelope, KindOf(res.Err), body)
	}

	require.Empty(t, calls.names())
	require.Contains(t, events.types(), bus.EventDeliveryDropped)
}

func TestDispatchDropsInvalidPayloads(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(SelectAnyText, "text", calls.handler("text"))
	dispatcher, _ := newTestDispatcher(registry, Options{})

	res := dispatcher.Dispatch(context.Background(), "messages-upsert", delivery(t, textUpsert, set("data.messageTimestamp", "later")))
	require.Equal(t, OutcomeDropped, res.Outcome)
	require.Equal(t, ErrorValidation, KindOf(res.Err))
	require.Equal(t, "ABC123", res.MessageID)
	require.Empty(t, calls.names())
}

func TestDispatchFromMePolicy(t *testing.T) {
	inbound := delivery(t, textUpsert, set("data.key.fromMe", false))

	t.Run("filters messages from others", func(t *testing.T) {
		calls := &callLog{}
		registry := NewRegistry()
		registry.Register(SelectAnyText, "text", calls.handler("text"))
		dispatcher, events := newTestDispatcher(registry, Options{FromMeOnly: true})

		res := dispatcher.Dispatch(context.Background(), "messages-upsert", inbound)
		require.Equal(t, OutcomeFiltered, res.Outcome)
		require.Empty(t, calls.names())
		require.Contains(t, events.types(), bus.EventDeliveryFiltered)

		res = dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))
		require.Equal(t, OutcomeProcessed, res.Outcome)
		require.Equal(t, []string{"text"}, calls.names())
	})

	t.Run("accepts everything when disabled", func(t *testing.T) {
		calls := &callLog{}
		registry := NewRegistry()
		registry.Register(SelectAnyText, "text", calls.handler("text"))
		dispatcher, _ := newTestDispatcher(registry, Options{FromMeOnly: false})

		res := dispatcher.Dispatch(context.Background(), "messages-upsert", inbound)
		require.Equal(t, OutcomeProcessed, res.Outcome)
		require.Equal(t, []string{"text"}, calls.names())
	})

	t.Run("connection updates always pass", func(t *testing.T) {
		calls := &callLog{}
		registry := NewRegistry()
		registry.Register(Select(CategoryConnectionUpdate), "connection", calls.handler("connection"))
		dispatcher, events := newTestDispatcher(registry, Options{FromMeOnly: true})

		res := dispatcher.Dispatch(context.Background(), "connection-update", []byte(connectionDelivery))
		require.Equal(t, OutcomeProcessed, res.Outcome)
		require.Equal(t, CategoryConnectionUpdate, res.Category)
		require.Equal(t, []string{"connection"}, calls.names())
		require.Contains(t, events.types(), bus.EventConnectionChanged)
	})
}

func TestDispatchProcessesCategoriesWithoutHandlers(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Select(CategoryAudio), "audio", noop)
	dispatcher, _ := newTestDispatcher(registry, Options{})

	res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))
	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.Zero(t, res.Handlers)
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		calls := &callLog{}
		registry := NewRegistry()
		registry.Register(SelectAnyText, "fails", func(context.Context, Event) error {
			return errors.New("gateway unavailable")
		})
		registry.Register(SelectAnyText, "panics", func(context.Context, Event) error {
			panic("nil map write")
		})
		registry.Register(SelectAnyText, "works", calls.handler("works"))

		dispatcher, events := newTestDispatcher(registry, Options{Concurrent: concurrent})
		res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))

		require.Equal(t, OutcomeProcessed, res.Outcome)
		require.Equal(t, 3, res.Handlers)
		require.Equal(t, 2, res.Failed)
		require.Equal(t, []string{"works"}, calls.names())

		var failed []string
		for _, event := range events.snapshot() {
			if event.Type == bus.EventHandlerFailed {
				failed = append(failed, event.Handler)
				require.Equal(t, "ABC123", event.MessageID)
				require.NotEmpty(t, event.Error)
			}
		}
		require.ElementsMatch(t, []string{"fails", "panics"}, failed)
	}
}

func TestDispatchTimesOutAndCancelsHandlers(t *testing.T) {
	canceled := make(chan struct{})
	registry := NewRegistry()
	registry.Register(SelectAnyText, "slow", func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})

	dispatcher, events := newTestDispatcher(registry, Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))

	require.Equal(t, OutcomeTimedOut, res.Outcome)
	require.Error(t, res.Err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Contains(t, events.types(), bus.EventDeliveryTimedOut)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("abandoned handler did not observe cancellation")
	}
}

func TestDispatchTimeoutWhileHandlersStillRun(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		release := make(chan struct{})
		done := make(chan struct{}, 2)
		registry := NewRegistry()
		for _, name := range []string{"first", "second"} {
			registry.Register(SelectAnyText, name, func(_ context.Context, ev Event) error {
				defer func() { done <- struct{}{} }()
				<-release
				if ev.MessageID == "" {
					return errors.New("missing message id")
				}
				return nil
			})
		}

		dispatcher, _ := newTestDispatcher(registry, Options{Timeout: 10 * time.Millisecond, Concurrent: concurrent})
		res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))
		require.Equal(t, OutcomeTimedOut, res.Outcome)
		require.ErrorIs(t, res.Err, context.DeadlineExceeded)
		require.Equal(t, 2, res.Handlers)

		close(release)
		<-done
		if concurrent {
			<-done
		}
	}
}

func TestDispatchSurvivesCallerCancellation(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(SelectAnyText, "text", calls.handler("text"))
	dispatcher, _ := newTestDispatcher(registry, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := dispatcher.Dispatch(ctx, "messages-upsert", []byte(textUpsert))
	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.Equal(t, []string{"text"}, calls.names())
}

func TestDispatchConcurrentHandlersRunInParallel(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	rendezvous := func(ctx context.Context, _ Event) error {
		started.Done()
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	registry := NewRegistry()
	registry.Register(SelectAnyText, "a", rendezvous)
	registry.Register(SelectAnyText, "b", rendezvous)

	dispatcher, _ := newTestDispatcher(registry, Options{Concurrent: true, Concurrency: 2, Timeout: 2 * time.Second})
	res := dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))

	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.Zero(t, res.Failed)
}

func TestDispatchAppliesDefaultAPIKey(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(SelectAnyText, "text", calls.handler("text"))
	dispatcher, _ := newTestDispatcher(registry, Options{DefaultAPIKey: "fallback-key"})

	dispatcher.Dispatch(context.Background(), "messages-upsert", delivery(t, textUpsert, del("apikey")))
	dispatcher.Dispatch(context.Background(), "messages-upsert", []byte(textUpsert))

	require.Len(t, calls.events, 2)
	require.Equal(t, "fallback-key", calls.events[0].APIKey)
	require.Equal(t, "instance-key", calls.events[1].APIKey)
}

func TestDispatchHandlersSeeNormalizedEvent(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(Select(CategoryReaction), "reaction", calls.handler("reaction"))
	dispatcher, _ := newTestDispatcher(registry, Options{})

	body := delivery(t, textUpsert, setRaw("data.message", `{"reactionMessage": {"text": "🐛", "key": {"id": "TARGET1"}}}`))
	res := dispatcher.Dispatch(context.Background(), "messages-upsert", body)

	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.Len(t, calls.events, 1)
	require.True(t, calls.events[0].IsReaction)
	require.Equal(t, "TARGET1", calls.events[0].ReactionTargetID)
}

func TestDispatchEventRoutesPrebuiltEvents(t *testing.T) {
	calls := &callLog{}
	registry := NewRegistry()
	registry.Register(Select(CategoryAudio), "audio", calls.handler("audio"))
	dispatcher, _ := newTestDispatcher(registry, Options{})

	res := dispatcher.DispatchEvent(context.Background(), Event{
		EventType: EventMessagesUpsert,
		MessageID: "STORED1",
		FromMe:    true,
		Kind:      KindAudio,
	})

	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.Equal(t, CategoryAudio, res.Category)
	require.Equal(t, []string{"audio"}, calls.names())
}
