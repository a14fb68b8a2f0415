// Package alerts delivers status-transition notifications to webhook
// destinations. The scheduler detects transitions; this package only
// performs delivery.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/xbp-monitoring/xbp/internal/config"
	"github.com/xbp-monitoring/xbp/internal/probe"
)

const webhookTimeout = 5 * time.Second

// WebhookPayload is the JSON body POSTed to each alert webhook.
type WebhookPayload struct {
	Monitor        string    `json:"monitor"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Message        string    `json:"message,omitempty"`
}

// Dispatcher POSTs transition notifications to configured webhooks.
//
// Delivery is best-effort: failures are logged and never propagated to
// the scheduler, and a slow webhook cannot stall monitoring beyond the
// delivery timeout.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a webhook [Dispatcher].
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}
}

// Notify delivers the transition to every webhook in alerts.
func (d *Dispatcher) Notify(ctx context.Context, monitor string, previous, current probe.Status, alerts []config.Alert, message string) {
	payload := WebhookPayload{
		Monitor:        monitor,
		Status:         string(current),
		PreviousStatus: string(previous),
		Timestamp:      time.Now().UTC(),
		Message:        message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode alert payload", "monitor", monitor, "error", err)
		return
	}

	for _, alert := range alerts {
		if alert.URL == "" {
			continue
		}
		d.deliver(ctx, alert.URL, monitor, body)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, url, monitor string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("failed to create alert request", "monitor", monitor, "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("alert delivery failed", "monitor", monitor, "url", url, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		d.logger.Warn("alert webhook returned non-success status",
			"monitor", monitor,
			"url", url,
			"status_code", resp.StatusCode,
		)
		return
	}

	d.logger.Debug("alert delivered", "monitor", monitor, "url", url)
}
