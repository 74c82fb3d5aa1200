// Package evolution is a client for the Evolution API REST surface: instance lifecycle,
// outbound messages, stored message lookup, media download and group listing.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"wakit/pkg/config"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRetryWait     = 500 * time.Millisecond
	defaultRetryMaxWait  = 3 * time.Second
	breakerFailures      = 5
	breakerOpenTimeout   = 30 * time.Second
	instancePathParamKey = "instance"
)

// Connection states reported by the gateway. StateNotFound is synthesized from a 404.
const (
	StateOpen       = "open"
	StateConnecting = "connecting"
	StateClose      = "close"
	StateNotFound   = "not_found"
)

var (
	ErrMissingInstance = errors.New("evolution instance name is required")
	ErrMissingNumber   = errors.New("recipient number is required")
	ErrMessageNotFound = errors.New("message not found")
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client talks to one gateway instance. Copies made with For share the transport
// and the circuit breaker.
type Client struct {
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker
	log      *slog.Logger
	instance string
	apiKey   string
}

func New(cfg config.EvolutionConfig, log *slog.Logger) (*Client, error) {
	serverURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if serverURL == "" {
		return nil, errors.New("evolution server url is required")
	}
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, ErrMissingInstance
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "evolution.client")

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(serverURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryWaitTime(defaultRetryWait).
		SetRetryMaxWaitTime(defaultRetryMaxWait).
		AddRetryCondition(retryable)
	if cfg.RetryCount > 0 {
		httpClient.SetRetryCount(cfg.RetryCount)
	}
	httpClient.OnError(func(req *resty.Request, err error) {
		log.Debug("Gateway request failed", "method", req.Method, "url", req.URL, "error", err)
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "evolution",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			// A 4xx still means the gateway answered.
			status := StatusCode(err)
			return err == nil || (status > 0 && status < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:     httpClient,
		breaker:  breaker,
		log:      log,
		instance: strings.TrimSpace(cfg.Instance),
		apiKey:   strings.TrimSpace(cfg.APIKey),
	}, nil
}

// Instance is the instance name every call is scoped to.
func (c *Client) Instance() string {
	return c.instance
}

// For returns a client bound to another instance and key. Empty values keep the current ones.
func (c *Client) For(instance, apiKey string) *Client {
	next := *c
	if instance = strings.TrimSpace(instance); instance != "" {
		next.instance = instance
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		next.apiKey = apiKey
	}
	return &next
}

// retryable retries transport failures and gateway-side unavailability only.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type request struct {
	method string
	path   string
	body   any
	query  map[string]string
}

// do executes req through the breaker and returns the response body on 2xx.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if c.instance == "" && strings.Contains(req.path, "{"+instancePathParamKey+"}") {
		return nil, ErrMissingInstance
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		r := c.http.R().
			SetContext(ctx).
			SetHeader("apikey", c.apiKey).
			SetPathParam(instancePathParamKey, c.instance)
		if req.body != nil {
			r.SetBody(req.body)
		}
		if len(req.query) > 0 {
			r.SetQueryParams(req.query)
		}

		resp, err := r.Execute(req.method, req.path)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
		}
		if resp.IsError() {
			return nil, &APIError{
				Method:     req.method,
				Path:       req.path,
				StatusCode: resp.StatusCode(),
				Body:       resp.String(),
			}
		}
		return resp.Body(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s %s: gateway unavailable: %w", req.method, req.path, err)
		}
		return nil, err
	}

	body, _ := result.([]byte)
	return body, nil
}
