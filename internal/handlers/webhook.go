package handlers

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
)

const (
	defaultWebhookTimeout  = 30 * time.Second
	maxWebhookResponseBody = 1 * 1024 * 1024 // 1MB
)

// WebhookAutomation triggers automations by POSTing to an HTTP endpoint.
// It is the default AutomationTrigger: the automation id becomes the final
// path segment of the configured base URL.
type WebhookAutomation struct {
	baseURL string
	client  *http.Client
}

// NewWebhookAutomation creates a webhook-backed automation trigger.
// An empty timeout falls back to 30 seconds.
func NewWebhookAutomation(baseURL string, timeout time.Duration) (*WebhookAutomation, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse automation base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("automation base URL must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookAutomation{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Trigger POSTs the params as JSON to <baseURL>/<automationID>.
func (w *WebhookAutomation) Trigger(ctx context.Context, automationID string, params map[string]any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal automation params: %w", err)
	}

	endpoint := w.baseURL + "/" + url.PathEscape(automationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build automation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger automation %s: %w", automationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBody))
		return fmt.Errorf("automation %s returned status %d: %s", automationID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
