package ports

import (
	"context"
	"time"

	"carehub/internal/domain"
)

type IdentityRepository interface {
	Create(ctx context.Context, identity domain.Identity) error
	GetByID(ctx context.Context, id string) (domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (domain.Identity, error)
	SetRole(ctx context.Context, identityID, roleID string) error
	ListByRole(ctx context.Context, roleID string) ([]domain.Identity, error)
}

type RoleRepository interface {
	Create(ctx context.Context, role domain.Role) error
	Update(ctx context.Context, role domain.Role) error
	GetByID(ctx context.Context, roleID string) (domain.Role, error)
	// Revision reads only the stored revision of a role.
	Revision(ctx context.Context, roleID string) (int64, error)
	List(ctx context.Context) ([]domain.Role, error)
}

type SessionStore interface {
	Create(ctx context.Context, session domain.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// CodeSequence is a named, store-side atomic counter.
type CodeSequence interface {
	// Next increments the counter and returns the new value.
	Next(ctx context.Context, name string) (int64, error)
	// Current returns the last value handed out, or ErrNotFound when nothing was issued.
	Current(ctx context.Context, name string) (int64, error)
	// EnsureAtLeast raises the counter to floor; it never lowers it.
	EnsureAtLeast(ctx context.Context, name string, floor int64) error
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub domain.Subscription) error
	GetByCode(ctx context.Context, code string) (domain.Subscription, error)
	List(ctx context.Context, limit int) ([]domain.Subscription, error)
	// HighestCode returns the greatest stored code of the form <prefix><digits>,
	// or ErrNotFound. Codes of any other shape are skipped.
	HighestCode(ctx context.Context, prefix string) (string, error)
}

// AuditRepository is append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n domain.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) error
}

type NotificationJobRepository interface {
	Save(ctx context.Context, job domain.NotificationJob) error
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.NotificationJob, error)
}
