// Package notify delivers audit notifications to channels outside the service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

type recipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type payload struct {
	EntryID    string      `json:"entry_id"`
	Action     string      `json:"action"`
	ActorID    string      `json:"actor_id"`
	Target     string      `json:"target"`
	RequestID  string      `json:"request_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Message    string      `json:"message"`
	Recipients []recipient `json:"recipients"`
}

// WebhookNotifier POSTs one JSON document per audit entry. Deliveries share a
// token bucket so a burst of mutations cannot flood the receiver.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhookNotifier(url string, perSecond float64, burst int, timeout time.Duration) *WebhookNotifier {
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (n *WebhookNotifier) Deliver(ctx context.Context, entry domain.AuditEntry, recipients []domain.Identity) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook throttle: %w", err)
	}
	body := payload{
		EntryID:    entry.ID,
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		Target:     entry.Target,
		RequestID:  entry.RequestID,
		Timestamp:  entry.Timestamp,
		Message:    entry.Message(),
		Recipients: make([]recipient, 0, len(recipients)),
	}
	for _, r := range recipients {
		body.Recipients = append(body.Recipients, recipient{ID: r.ID, Email: r.Email})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.ID)
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery: status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier is the channel used when no webhook is configured.
type LogNotifier struct {
	logger ports.Logger
}

func NewLogNotifier(logger ports.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(ctx context.Context, entry domain.AuditEntry, recipients []domain.Identity) error {
	n.logger.Info(ctx, "notification delivered",
		"entry_id", entry.ID,
		"action", entry.Action,
		"target", entry.Target,
		"recipients", len(recipients),
	)
	return nil
}
