// Package notify defines the event notification capability injected into
// components that announce new reports and status changes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event names published by the bot core.
const (
	EventReportCreated   = "report.created"
	EventTindakanUpdated = "tindakan.updated"
	EventModeChanged     = "mode.changed"
)

// Notifier announces events to interested observers (dashboards, webhooks).
// Implementations must be safe for concurrent use. Delivery is best-effort;
// the core never depends on a notification arriving.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}

// LogNotifier writes events to the structured log. Used when no webhook is
// configured and in tests.
type LogNotifier struct{}

// Notify logs the event.
func (LogNotifier) Notify(ctx context.Context, event string, payload interface{}) {
	slog.Info("Notifier event", "event", event, "payload", payload)
}

// WebhookNotifier POSTs events as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier targeting the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookEnvelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Time    int64       `json:"time"`
}

// Notify delivers the event in a fire-and-forget goroutine.
func (n *WebhookNotifier) Notify(ctx context.Context, event string, payload interface{}) {
	body, err := json.Marshal(webhookEnvelope{Event: event, Payload: payload, Time: time.Now().Unix()})
	if err != nil {
		slog.Error("WebhookNotifier marshal failed", "error", err, "event", event)
		return
	}
	go func() {
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			slog.Error("WebhookNotifier request build failed", "error", err, "event", event)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.client.Do(req)
		if err != nil {
			slog.Warn("WebhookNotifier delivery failed", "error", err, "event", event)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("WebhookNotifier non-success response", "event", event, "status", fmt.Sprintf("%d", resp.StatusCode))
		}
	}()
}
