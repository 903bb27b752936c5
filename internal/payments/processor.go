package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/pkg/logging"
)

var processorTracer = otel.Tracer("carebook.internal.payments.processor")

// HostedProcessor drives the processor's hosted payment-session API, which
// backs the drop-in widget shown to the patient.
type HostedProcessor struct {
	baseURL    string
	publicKey  string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewHostedProcessor(baseURL, publicKey string, logger *logging.Logger) *HostedProcessor {
	if logger == nil {
		logger = logging.Default()
	}
	return &HostedProcessor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

// WithTimeout bounds each processor call.
func (p *HostedProcessor) WithTimeout(d time.Duration) *HostedProcessor {
	if d > 0 {
		p.httpClient.Timeout = d
	}
	return p
}

// Mount creates a hosted session bound to the client token.
func (p *HostedProcessor) Mount(ctx context.Context, authorization, containerRegion string) (Widget, error) {
	ctx, span := processorTracer.Start(ctx, "processor.mount")
	defer span.End()
	span.SetAttributes(attribute.String("carebook.payment.container", containerRegion))

	if strings.TrimSpace(authorization) == "" {
		return nil, fmt.Errorf("payments: mount: missing authorization")
	}
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"authorization": authorization, "container": containerRegion}
	if err := p.call(ctx, http.MethodPost, "/v1/hosted_sessions", body, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: mount: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("payments: mount: processor returned no session id")
	}
	return &hostedWidget{processor: p, sessionID: out.ID}, nil
}

func (p *HostedProcessor) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.publicKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.publicKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type hostedWidget struct {
	processor *HostedProcessor
	sessionID string
}

func (w *hostedWidget) RequestPaymentMethod(ctx context.Context) (string, error) {
	ctx, span := processorTracer.Start(ctx, "processor.request_payment_method")
	defer span.End()

	var out struct {
		Nonce string `json:"nonce"`
	}
	path := "/v1/hosted_sessions/" + url.PathEscape(w.sessionID) + "/payment_methods"
	if err := w.processor.call(ctx, http.MethodPost, path, nil, &out); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("payments: request payment method: %w", err)
	}
	if out.Nonce == "" {
		return "", fmt.Errorf("payments: request payment method: empty nonce")
	}
	return out.Nonce, nil
}

func (w *hostedWidget) Teardown(ctx context.Context) error {
	path := "/v1/hosted_sessions/" + url.PathEscape(w.sessionID)
	if err := w.processor.call(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("payments: teardown hosted session: %w", err)
	}
	return nil
}

var _ WidgetFactory = (*HostedProcessor)(nil)
