package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wakit/pkg/bus"
)

const defaultDispatchTimeout = 20 * time.Second

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	// OutcomeProcessed means the event reached every matching handler (possibly none).
	OutcomeProcessed Outcome = "processed"
	// OutcomeIgnored means no handler is registered for the event family.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDropped means the body could not be parsed or normalized.
	OutcomeDropped Outcome = "dropped"
	// OutcomeFiltered means the inbound policy rejected the message.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeTimedOut means handlers were still running when the deadline passed.
	OutcomeTimedOut Outcome = "timed_out"
)

// Result summarizes a delivery for logging and the HTTP acknowledgment.
type Result struct {
	DeliveryID string
	Outcome    Outcome
	EventType  string
	Category   Category
	MessageID  string
	Handlers   int
	Failed     int
	Err        error
}

// EventPublisher receives delivery lifecycle events. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Options tune dispatch behavior.
type Options struct {
	// DefaultAPIKey fills Event.APIKey when the envelope carries none.
	DefaultAPIKey string
	// FromMeOnly drops message deliveries not sent by the connected account.
	// Connection updates always pass.
	FromMeOnly bool
	// Timeout bounds the wait for handlers; zero uses 20s.
	Timeout time.Duration
	// Concurrent runs matching handlers in parallel instead of in registration order.
	Concurrent bool
	// Concurrency caps parallel handlers when Concurrent is set; zero or less is unbounded.
	Concurrency int
	Events      EventPublisher
}

// Dispatcher runs the full delivery pipeline against a Registry.
type Dispatcher struct {
	registry *Registry
	opts     Options
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, opts Options, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		log:      log.With("component", "webhook.dispatcher"),
	}
}

// Dispatch handles one raw delivery. It never fails: every problem is logged and
// reflected in the returned Result.
func (d *Dispatcher) Dispatch(ctx context.Context, pathEventType string, body []byte) Result {
	res := Result{
		DeliveryID: uuid.NewString(),
		EventType:  NormalizeEventType(pathEventType),
	}
	log := d.log.With("delivery_id", res.DeliveryID, "event_type", res.EventType)
	d.publish(ctx, bus.EventDeliveryReceived, res, "", nil)

	if !d.registry.Knows(res.EventType) {
		log.Debug("Ignoring delivery without handlers")
		return d.finish(ctx, res, OutcomeIgnored)
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		res.Err = err
		log.Warn("Dropping malformed delivery", "error", err, "bytes", len(body))
		return d.finish(ctx, res, OutcomeDropped)
	}

	ev, err := Normalize(env, res.EventType)
	if err != nil {
		res.Err = err
		res.MessageID = ev.MessageID
		log.Error("Dropping delivery that failed normalization",
			"error", err,
			"error_kind", KindOf(err),
			"instance", ev.InstanceID,
			"remote_jid", ev.RemoteJID,
			"message_id", ev.MessageID,
		)
		return d.finish(ctx, res, OutcomeDropped)
	}

	return d.dispatch(ctx, ev, res, log)
}

// DispatchEvent routes an already normalized event, as produced by re-fetching a
// stored message from the gateway.
func (d *Dispatcher) DispatchEvent(ctx context.Context, ev Event) Result {
	res := Result{
		DeliveryID: uuid.NewString(),
		EventType:  NormalizeEventType(ev.EventType),
	}
	log := d.log.With("delivery_id", res.DeliveryID, "event_type", res.EventType)
	d.publish(ctx, bus.EventDeliveryReceived, res, "", nil)
	return d.dispatch(ctx, ev, res, log)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event, res Result, log *slog.Logger) Result {
	if ev.APIKey == "" {
		ev.APIKey = d.opts.DefaultAPIKey
	}

	res.EventType = ev.EventType
	res.Category = ev.Category()
	res.MessageID = ev.MessageID
	log = log.With("category", res.Category, "message_id", ev.MessageID)

	if !d.registry.Knows(ev.EventType) {
		log.Debug("Ignoring delivery whose envelope names an unhandled event")
		return d.finish(ctx, res, OutcomeIgnored)
	}

	if ev.Connection != nil && d.opts.Events != nil {
		d.opts.Events.PublishEvent(context.WithoutCancel(ctx), bus.Event{
			Type:       bus.EventConnectionChanged,
			DeliveryID: res.DeliveryID,
			Instance:   ev.Connection.Instance,
			State:      ev.Connection.State,
		})
	}

	if d.opts.FromMeOnly && res.Category != CategoryConnectionUpdate && !ev.FromMe {
		log.Debug("Filtered message not sent by the connected account", "remote_jid", ev.RemoteJID)
		return d.finish(ctx, res, OutcomeFiltered)
	}

	registrations := d.registry.Lookup(res.Category)
	res.Handlers = len(registrations)
	if len(registrations) == 0 {
		log.Debug("No handlers for category")
		return d.finish(ctx, res, OutcomeProcessed)
	}

	// Handlers outlive the caller's cancellation but not the dispatch deadline.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.Timeout)
	defer cancel()

	settled := make(chan int, 1)
	go func(ev Event, res Result) {
		settled <- d.invokeAll(runCtx, registrations, ev, res, log)
	}(ev, res)

	select {
	case failed := <-settled:
		res.Failed = failed
		log.Info("Delivery dispatched",
			"handlers", res.Handlers,
			"failed", res.Failed,
			"remote_jid", ev.RemoteJID,
			"from_me", ev.FromMe,
		)
		return d.finish(ctx, res, OutcomeProcessed)
	case <-runCtx.Done():
		res.Err = fmt.Errorf("handlers still running after %s: %w", d.opts.Timeout, runCtx.Err())
		log.Warn("Abandoning handlers after dispatch timeout", "timeout", d.opts.Timeout, "handlers", res.Handlers)
		return d.finish(ctx, res, OutcomeTimedOut)
	}
}

func (d *Dispatcher) invokeAll(ctx context.Context, registrations []Registration, ev Event, res Result, log *slog.Logger) int {
	var failed atomic.Int64

	run := func(registration Registration) {
		err := invoke(ctx, registration, ev)
		if err == nil {
			return
		}
		failed.Add(1)
		log.Error("Handler failed", "handler", registration.Name, "error", err)
		d.publish(ctx, bus.EventHandlerFailed, res, registration.Name, err)
	}

	if !d.opts.Concurrent || len(registrations) == 1 {
		for _, registration := range registrations {
			if ctx.Err() != nil {
				break
			}
			run(registration)
		}
		return int(failed.Load())
	}

	var group errgroup.Group
	if d.opts.Concurrency > 0 {
		group.SetLimit(d.opts.Concurrency)
	}
	for _, registration := range registrations {
		group.Go(func() error {
			run(registration)
			return nil
		})
	}
	_ = group.Wait()
	return int(failed.Load())
}

// invoke calls one handler, converting both errors and panics into handler errors.
func invoke(ctx context.Context, registration Registration, ev Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = handlerError(registration.Name, fmt.Errorf("panic: %v", recovered))
		}
	}()

	if herr := registration.Handler(ctx, ev); herr != nil {
		return handlerError(registration.Name, herr)
	}
	return nil
}

func (d *Dispatcher) finish(ctx context.Context, res Result, outcome Outcome) Result {
	res.Outcome = outcome
	d.publish(ctx, outcomeEvents[outcome], res, "", res.Err)
	return res
}

var outcomeEvents = map[Outcome]bus.EventType{
	OutcomeProcessed: bus.EventDeliveryProcessed,
	OutcomeIgnored:   bus.EventDeliveryIgnored,
	OutcomeDropped:   bus.EventDeliveryDropped,
	OutcomeFiltered:  bus.EventDeliveryFiltered,
	OutcomeTimedOut:  bus.EventDeliveryTimedOut,
}

func (d *Dispatcher) publish(ctx context.Context, eventType bus.EventType, res Result, handler string, err error) {
	if d.opts.Events == nil {
		return
	}

	event := bus.Event{
		Type:       eventType,
		DeliveryID: res.DeliveryID,
		Family:     res.EventType,
		Category:   string(res.Category),
		MessageID:  res.MessageID,
		Handler:    handler,
	}
	if err != nil {
		event.Error = err.Error()
	}
	d.opts.Events.PublishEvent(context.WithoutCancel(ctx), event)
}
