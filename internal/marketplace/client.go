// Package marketplace is the HTTP client for the authoritative marketplace backend.
// It never retries: every call is made once and its failure is classified for the caller.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/pkg/logging"
)

var marketplaceTracer = otel.Tracer("carebook.internal.marketplace")

// errUndecodable marks a 2xx response whose body could not be parsed.
var errUndecodable = errors.New("undecodable response")

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 300
)

// LatencyObserver receives per-call timings.
type LatencyObserver interface {
	ObserveBackendLatency(operation, outcome string, seconds float64)
}

// Client talks to the marketplace REST API on behalf of a patient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	observer   LatencyObserver
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every call. There is no retry after the deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLatencyObserver records call latency, typically into prometheus.
func WithLatencyObserver(o LatencyObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a marketplace client.
func NewClient(baseURL string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	op             string
	method         string
	path           string
	accessToken    string
	idempotencyKey string
	body           any
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	ctx, span := marketplaceTracer.Start(ctx, "marketplace."+r.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", r.method),
		attribute.String("carebook.marketplace.path", r.path),
	)
	op := "marketplace." + r.op

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marketplace: marshal %s: %w", r.op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("marketplace: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.accessToken)
	}
	if r.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(r.op, "transport_error", start)
		span.RecordError(err)
		c.logger.Warn("marketplace request failed", "op", r.op, "error", err)
		return apperr.New(apperr.KindNetwork, op, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(r.op, "transport_error", start)
		span.RecordError(err)
		return apperr.New(apperr.KindNetwork, op, "", fmt.Errorf("read response: %w", err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 300 {
		c.observe(r.op, fmt.Sprintf("%dxx", resp.StatusCode/100), start)
		classified := classify(op, resp.StatusCode, respBody)
		span.RecordError(classified)
		return classified
	}
	c.observe(r.op, "ok", start)

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.New(apperr.KindServer, op, "", fmt.Errorf("%w: %v", errUndecodable, err))
	}
	return nil
}

func (c *Client) observe(op, outcome string, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveBackendLatency(op, outcome, time.Since(start).Seconds())
}

// classify maps a non-2xx response onto the error taxonomy. Validation messages
// are passed through verbatim so the patient can correct their input.
func classify(op string, status int, body []byte) error {
	msg := errorMessage(body)
	cause := fmt.Errorf("status %d: %s", status, truncate(string(body), maxErrorBody))
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperr.New(apperr.KindValidation, op, msg, cause)
	case status == http.StatusUnauthorized:
		return apperr.New(apperr.KindAuthExpired, op, "", cause)
	case status == http.StatusForbidden || status == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, op, "", cause)
	case status == http.StatusConflict:
		return apperr.New(apperr.KindConflict, op, "", cause)
	default:
		return apperr.New(apperr.KindServer, op, "", cause)
	}
}

func errorMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		for _, m := range []string{env.Message, env.Error, env.Detail} {
			if strings.TrimSpace(m) != "" {
				return strings.TrimSpace(m)
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
