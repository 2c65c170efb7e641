package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
)

// WebhookConfig configures a device display endpoint.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	Types   []db.NotificationType // empty means every type
}

// WebhookNotifier POSTs the display payload to a device endpoint that shows it.
type WebhookNotifier struct {
	client *http.Client
	cfg    WebhookConfig
	logger *zap.Logger
}

func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, d Display) error {
	if w.cfg.URL == "" {
		return fmt.Errorf("webhook notifier has no url")
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal display payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vigil/1.0")
	req.Header.Set("X-Vigil-Notification-ID", d.ID)
	if d.Tag != "" {
		req.Header.Set("X-Vigil-Tag", d.Tag)
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: device endpoint returned %d", ErrPermission, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	w.logger.Info("notification delivered to device endpoint",
		zap.String("notification_id", d.ID),
		zap.String("url", w.cfg.URL),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (w *WebhookNotifier) Supports(t db.NotificationType) bool {
	return typeSet(w.cfg.Types).has(t)
}
