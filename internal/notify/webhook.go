// Package notify posts a completion event to an operator-configured
// webhook. Notification failures are reported to the caller but are
// never fatal to a run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adergaoui/b2up/internal/logger"
)

// Event is the JSON document posted after a terminal success or
// failure.
type Event struct {
	Status     string `json:"status"` // "success" or "failure"
	Hostname   string `json:"hostname"`
	Repository string `json:"repository"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	DataAdded  int64  `json:"data_added,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Webhook posts events to a single URL.
type Webhook struct {
	url    string
	client *http.Client
	log    logger.Logger
}

// NewWebhook returns a notifier for url. An empty url disables it.
func NewWebhook(url string, log logger.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool { return w.url != "" }

// Send posts the event. Any non-2xx response is an error.
func (w *Webhook) Send(ctx context.Context, event Event) error {
	if !w.Enabled() {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.log.Debug("notification sent", "status", event.Status)
	return nil
}
