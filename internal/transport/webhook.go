package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/pkg/circuitbreaker"
	"github.com/jwalitptl/grc-events/pkg/logger"
)

const (
	signatureHeader = "X-GRC-Signature"
	maxResponseBody = 2000
)

// WebhookTransport POSTs the event envelope to the subscription's endpoint.
// 2xx is success; everything else, including timeouts and transport errors,
// is a failure with the status code and truncated body captured for the
// delivery log.
type WebhookTransport struct {
	client *http.Client
	logger *logger.Logger

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewWebhookTransport(client *http.Client, logger *logger.Logger) *WebhookTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookTransport{
		client:   client,
		logger:   logger,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// breakerFor returns the endpoint's circuit breaker, creating it on first
// use. One breaker per endpoint so a dead subscriber cannot block
// deliveries to healthy ones.
func (t *WebhookTransport) breakerFor(endpoint string) *circuitbreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()

	cb, ok := t.breakers[endpoint]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        endpoint,
			MaxRequests: 10,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
		})
		t.breakers[endpoint] = cb
	}
	return cb
}

func (t *WebhookTransport) Deliver(ctx context.Context, sub *model.EventSubscription, event *model.DomainEvent, payload json.RawMessage) Result {
	endpoint := sub.Endpoint()
	if endpoint == "" {
		t.logger.Warn("webhook endpoint not configured", "subscription_code", sub.SubscriptionCode)
		return failure("webhook delivery endpoint not configured", 0)
	}

	envelope := Envelope{
		EventID:       event.ID,
		EventType:     event.EventType,
		ObjectType:    event.ObjectType,
		ObjectID:      event.ObjectID,
		Payload:       payload,
		OccurredAt:    event.OccurredAt,
		SchemaVersion: event.SchemaVersion,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return failure(fmt.Sprintf("failed to marshal webhook envelope: %v", err), 0)
	}

	callCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	start := time.Now()
	var resp *http.Response
	err = t.breakerFor(endpoint).Execute(func() error {
		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if sub.Secret != nil && *sub.Secret != "" {
			req.Header.Set(signatureHeader, sign(body, *sub.Secret))
		}

		resp, reqErr = t.client.Do(req)
		return reqErr
	})
	latency := time.Since(start)

	if err != nil {
		return failure(fmt.Sprintf("webhook request failed: %v", err), latency)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	bodyStr := string(respBody)
	statusCode := resp.StatusCode

	result := Result{
		HTTPStatusCode: &statusCode,
		ResponseBody:   &bodyStr,
		LatencyMs:      int(latency.Milliseconds()),
	}

	if statusCode >= 200 && statusCode < 300 {
		result.Success = true
		return result
	}

	errMsg := model.TruncateError(fmt.Sprintf("webhook returned status %d", statusCode))
	result.ErrorMessage = &errMsg
	return result
}

// sign computes the hex HMAC-SHA256 of the request body so subscribers can
// verify the payload came from us.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
