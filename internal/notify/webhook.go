package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vigilsec/vigilsec/internal/config"
	"github.com/vigilsec/vigilsec/internal/metrics"
	"github.com/vigilsec/vigilsec/internal/ttlstore"
)

const (
	requestTimeout = 5 * time.Second
	recentKey      = "notifications:recent"
	recentMax      = 100
)

// Webhook posts notification requests to the configured channel endpoints
// and records a bounded recent-notifications list in the TTL store.
type Webhook struct {
	channels map[string]config.Channel
	client   *http.Client
	store    ttlstore.Store
	logger   *slog.Logger
}

// NewWebhook creates a notifier from the configured channels. Channels
// with unparsable URLs are logged and skipped.
func NewWebhook(channels []config.Channel, store ttlstore.Store, logger *slog.Logger) *Webhook {
	valid := make(map[string]config.Channel, len(channels))
	for _, ch := range channels {
		u, err := url.Parse(ch.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			logger.Warn("skipping invalid notification channel", "channel", ch.Name, "url", ch.URL)
			continue
		}
		valid[ch.Name] = ch
	}
	return &Webhook{
		channels: valid,
		client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 2 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		store:  store,
		logger: logger,
	}
}

// Request posts the notification to its channel. Unknown channels and
// filtered severities are silent no-ops; delivery failures are logged and
// dropped.
func (w *Webhook) Request(ctx context.Context, req Request) {
	metrics.NotificationsRequested.Inc()
	w.remember(ctx, req)

	ch, ok := w.channels[req.Channel]
	if !ok {
		w.logger.Debug("no endpoint for notification channel", "channel", req.Channel)
		return
	}
	if !severityWanted(ch, req.Severity) {
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		w.logger.Error("marshaling notification", "alert_id", req.AlertID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("building notification request", "channel", req.Channel, "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		w.logger.Warn("notification delivery failed", "channel", req.Channel, "alert_id", req.AlertID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		w.logger.Warn("notification rejected",
			"channel", req.Channel,
			"alert_id", req.AlertID,
			"status", resp.StatusCode,
		)
	}
}

// remember appends the request to the bounded recent-notifications list.
func (w *Webhook) remember(ctx context.Context, req Request) {
	entry, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := w.store.Push(ctx, recentKey, string(entry), recentMax); err != nil {
		if !errors.Is(err, ttlstore.ErrUnavailable) {
			w.logger.Debug("recording notification history failed", "error", err)
		}
	}
}

// Recent returns up to n recent notification requests, newest first.
func (w *Webhook) Recent(ctx context.Context, n int64) ([]Request, error) {
	raw, err := w.store.List(ctx, recentKey, n)
	if err != nil {
		return nil, fmt.Errorf("reading notification history: %w", err)
	}
	out := make([]Request, 0, len(raw))
	for _, r := range raw {
		var req Request
		if json.Unmarshal([]byte(r), &req) == nil {
			out = append(out, req)
		}
	}
	return out, nil
}

func severityWanted(ch config.Channel, severity string) bool {
	if len(ch.Events) == 0 {
		return true
	}
	for _, ev := range ch.Events {
		if ev == severity {
			return true
		}
	}
	return false
}
