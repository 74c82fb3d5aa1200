// Package gateway exposes the webhook endpoint and health surface of the Evolution API
// integration.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"wakit/pkg/bus"
	"wakit/pkg/config"
	"wakit/pkg/roster"
	"wakit/pkg/webhook"
)

const (
	defaultHost         = "0.0.0.0"
	defaultPort         = 8000
	defaultMaxBodyBytes = 5 << 20

	connectionCheckInterval = 30 * time.Second
	stateOpen               = "open"
)

// Dispatcher runs one delivery through the webhook pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, body []byte) webhook.Result
}

// ConnectionChecker reports the gateway-side state of the configured instance.
type ConnectionChecker interface {
	ConnectionState(ctx context.Context) (string, error)
}

// GroupSource serves the group roster, normally through roster.Cache.
type GroupSource interface {
	Get(ctx context.Context, withParticipants bool) (*roster.Groups, error)
}

// Deps are the collaborators of the service. Checker, Events and Groups are optional.
type Deps struct {
	Dispatcher Dispatcher
	Registry   *webhook.Registry
	Checker    ConnectionChecker
	Events     *bus.MessageBus
	Groups     GroupSource
}

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	dispatcher Dispatcher
	registry   *webhook.Registry
	checker    ConnectionChecker
	events     *bus.MessageBus
	groups     GroupSource
	tally      *bus.Tally

	mu                 sync.RWMutex
	startedAt          time.Time
	connectionState    string
	connectionLastOKAt time.Time
	connectionLastErr  string
}

type ackResponse struct {
	Status     string          `json:"status"`
	Outcome    webhook.Outcome `json:"outcome"`
	DeliveryID string          `json:"delivery_id,omitempty"`
}

type statusResponse struct {
	Status             string                   `json:"status"`
	UptimeSeconds      int64                    `json:"uptime_seconds"`
	Instance           string                   `json:"instance"`
	ConnectionState    string                   `json:"connection_state,omitempty"`
	ConnectionLastOKAt string                   `json:"connection_last_ok_at,omitempty"`
	ConnectionLastErr  string                   `json:"connection_last_error,omitempty"`
	Handlers           []string                 `json:"handlers"`
	Deliveries         map[bus.EventType]uint64 `json:"deliveries,omitempty"`
	LastDeliveryAt     string                   `json:"last_delivery_at,omitempty"`
	DroppedBusEvents   uint64                   `json:"dropped_bus_events"`
}

func NewService(cfg *config.Config, deps Deps, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Registry == nil {
		deps.Registry = webhook.NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:        cfg,
		log:        log.With("component", "gateway.service"),
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		checker:    deps.Checker,
		events:     deps.Events,
		groups:     deps.Groups,
		tally:      bus.NewTally(),
	}, nil
}

// Run serves HTTP until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.events != nil {
		go s.tally.Run(ctx, s.events)
		go s.watchConnection(ctx)
	}

	if s.checker != nil {
		if err := s.checkConnection(ctx); err != nil {
			s.log.Warn("Initial connection check failed", "error", err)
		}

		go func() {
			ticker := time.NewTicker(connectionCheckInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = s.checkConnection(ctx)
				}
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go s.runServer(ctx, serverErrors)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	}
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(s.logRequests)

	router.Post("/evolution/webhook", s.handleWebhook)
	router.Post("/evolution/webhook/{event_type}", s.handleWebhook)
	router.Get("/healthz", s.handleHealth)
	router.Get("/readyz", s.handleReady)
	router.Get("/status", s.handleStatus)
	if s.groups != nil {
		router.Get("/groups", s.handleGroups)
	}

	return router
}

func (s *Service) runServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Webhook.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Webhook.Port
	if port <= 0 {
		port = defaultPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Webhook.DispatchTimeoutSeconds)*time.Second + 10*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Webhook server started", "address", addr, "handlers", s.registry.Len())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start webhook server: %w", err)
	}
}

// handleWebhook acknowledges every delivery with 200 so the gateway never retries;
// the outcome field tells operators what happened.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Webhook.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}

	eventType := chi.URLParam(r, "event_type")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		s.log.Warn("Failed to read webhook body", "event_type", eventType, "error", err)
		s.respondJSON(w, http.StatusOK, ackResponse{Status: "ack", Outcome: webhook.OutcomeDropped})
		return
	}

	if eventType == "" {
		eventType = gjson.GetBytes(body, "event").String()
	}

	result := s.dispatch(r.Context(), eventType, body)
	s.respondJSON(w, http.StatusOK, ackResponse{
		Status:     "ack",
		Outcome:    result.Outcome,
		DeliveryID: result.DeliveryID,
	})
}

func (s *Service) dispatch(ctx context.Context, eventType string, body []byte) (result webhook.Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.log.Error("Dispatcher panicked", "event_type", eventType, "panic", fmt.Sprint(recovered))
			result = webhook.Result{Outcome: webhook.OutcomeDropped, EventType: eventType}
		}
	}()
	return s.dispatcher.Dispatch(ctx, eventType, body)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondJSON(w, statusCode, s.currentStatus(status))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := "ready"
	if !s.isReady() {
		status = "not_ready"
	}
	s.respondJSON(w, http.StatusOK, s.currentStatus(status))
}

type groupSummary struct {
	ID           string      `json:"id"`
	Subject      string      `json:"subject"`
	Kind         roster.Kind `json:"kind"`
	Size         int64       `json:"size"`
	Participants int         `json:"participants,omitempty"`
}

type groupsResponse struct {
	Counts map[roster.Kind]int `json:"counts"`
	Failed int                 `json:"failed"`
	Groups []groupSummary      `json:"groups"`
}

// handleGroups lists the roster, optionally ranked by ?q= and capped by ?limit=.
func (s *Service) handleGroups(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	withParticipants, _ := strconv.ParseBool(query.Get("participants"))

	groups, err := s.groups.Get(r.Context(), withParticipants)
	if err != nil {
		s.log.Error("Failed to load groups", "error", err)
		s.respondJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	selected := groups.Groups
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		limit, _ := strconv.Atoi(query.Get("limit"))
		selected = groups.Search(q, limit)
	}

	response := groupsResponse{
		Counts: groups.CountByKind(),
		Failed: len(groups.Failures),
		Groups: make([]groupSummary, 0, len(selected)),
	}
	for _, group := range selected {
		response.Groups = append(response.Groups, groupSummary{
			ID:           group.ID,
			Subject:      group.Subject,
			Kind:         group.Kind(),
			Size:         group.Size,
			Participants: len(group.Participants),
		})
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Service) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Service) currentStatus(status string) statusResponse {
	snapshot := s.tally.Snapshot()

	handlers := make([]string, 0, s.registry.Len())
	for _, registration := range s.registry.Registrations() {
		handlers = append(handlers, string(registration.Selector)+":"+registration.Name)
	}

	var dropped uint64
	if s.events != nil {
		dropped = s.events.Dropped()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	connectionLastOK := ""
	if !s.connectionLastOKAt.IsZero() {
		connectionLastOK = s.connectionLastOKAt.Format(time.RFC3339)
	}

	lastDelivery := ""
	if !snapshot.LastDelivery.IsZero() {
		lastDelivery = snapshot.LastDelivery.Format(time.RFC3339)
	}

	return statusResponse{
		Status:             status,
		UptimeSeconds:      uptime,
		Instance:           s.cfg.Evolution.Instance,
		ConnectionState:    s.connectionState,
		ConnectionLastOKAt: connectionLastOK,
		ConnectionLastErr:  s.connectionLastErr,
		Handlers:           handlers,
		Deliveries:         snapshot.Counts,
		LastDeliveryAt:     lastDelivery,
		DroppedBusEvents:   dropped,
	}
}

// isReady requires a running server and, when a checker is configured, an open instance.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.startedAt.IsZero() {
		return false
	}
	if s.checker == nil {
		return true
	}
	if s.connectionLastErr != "" {
		return false
	}
	return s.connectionState == stateOpen
}

func (s *Service) checkConnection(ctx context.Context) error {
	state, err := s.checker.ConnectionState(ctx)
	if err != nil {
		s.mu.Lock()
		s.connectionLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("connection state check failed: %w", err)
	}

	s.mu.Lock()
	s.connectionState = state
	s.connectionLastErr = ""
	s.connectionLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	if state != stateOpen {
		s.log.Warn("Instance is not connected", "instance", s.cfg.Evolution.Instance, "state", state)
	}
	return nil
}

// watchConnection applies connection.update deliveries for this instance between polls.
func (s *Service) watchConnection(ctx context.Context) {
	events, unsubscribe := s.events.SubscribeEvents(ctx, 16)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != bus.EventConnectionChanged || event.State == "" {
				continue
			}
			if event.Instance != "" && s.cfg.Evolution.Instance != "" && event.Instance != s.cfg.Evolution.Instance {
				continue
			}

			s.mu.Lock()
			s.connectionState = event.State
			s.mu.Unlock()
			s.log.Info("Connection state changed", "instance", event.Instance, "state", event.State)
		}
	}
}
