package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookTransport posts each message as JSON to an SMS gateway endpoint.
type WebhookTransport struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

type webhookRequest struct {
	JobID string `json:"jobId"`
	To    string `json:"to"`
	Body  string `json:"body"`
}

type webhookResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

func NewWebhookTransport(url, apiKey string, httpClient *http.Client, logger *logrus.Logger) *WebhookTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookTransport{
		url:        url,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (t *WebhookTransport) Name() string {
	return "webhook"
}

func (t *WebhookTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	payload, err := json.Marshal(webhookRequest{JobID: msg.JobID, To: msg.Recipient, Body: msg.Body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	var decoded webhookResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("failed to decode webhook response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"job_id": msg.JobID,
		}).Warn("SMS gateway rejected message")
		if decoded.Error != "" {
			return nil, fmt.Errorf("%w: gateway status %d: %s", ErrDeliveryFailed, resp.StatusCode, decoded.Error)
		}
		return nil, fmt.Errorf("%w: gateway status %d", ErrDeliveryFailed, resp.StatusCode)
	}

	return &Receipt{
		Provider:          t.Name(),
		ProviderMessageID: decoded.MessageID,
	}, nil
}
