package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Report
}

// Webhook posts the report as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Notify(ctx context.Context, r Report) error {
	payload, err := json.Marshal(webhookPayload{Subject: r.Subject(), Body: r.HTMLBody(), Report: r})
	if err != nil {
		return eris.Wrap(err, "notify: marshal report")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("notify: report sent", zap.String("channel", "webhook"), zap.Int("policies", r.Policies), zap.Int("alerts", r.Alerts))
	return nil
}
