package application

import (
	"context"
	"fmt"
	"time"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

// Enqueuer accepts audit entries for asynchronous notification.
type Enqueuer interface {
	Enqueue(ctx context.Context, entry domain.AuditEntry) error
}

// AuditLogger appends the authoritative audit entry synchronously and hands the
// notification side to an Enqueuer. A failed enqueue never fails the caller.
type AuditLogger struct {
	repo    ports.AuditRepository
	queue   Enqueuer
	logger  ports.Logger
	metrics ports.Metrics
	now     func() time.Time
}

func NewAuditLogger(repo ports.AuditRepository, queue Enqueuer, logger ports.Logger, metrics ports.Metrics) *AuditLogger {
	return &AuditLogger{
		repo:    repo,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuditLogger) Record(ctx context.Context, actorID, action, target string) (domain.AuditEntry, error) {
	if actorID == "" || action == "" || target == "" {
		return domain.AuditEntry{}, domain.ErrInvalidInput
	}
	at := a.now()
	entry := domain.AuditEntry{
		ID:        newULID(at),
		ActorID:   actorID,
		Action:    action,
		Target:    target,
		RequestID: domain.ScopeFrom(ctx).RequestID,
		Timestamp: at,
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	a.metrics.AuditRecorded(action)

	if a.queue != nil {
		if err := a.queue.Enqueue(ctx, entry); err != nil {
			a.logger.Warn(ctx, "notification enqueue failed", "entry_id", entry.ID, "action", action, "error", err)
		}
	}
	return entry, nil
}

func (a *AuditLogger) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return a.repo.List(ctx, clampLimit(limit))
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
