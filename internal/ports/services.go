package ports

import (
	"context"

	"carehub/internal/domain"
)

type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

// Notifier delivers a rendered notification to an external channel.
type Notifier interface {
	Deliver(ctx context.Context, entry domain.AuditEntry, recipients []domain.Identity) error
}

type Metrics interface {
	AuthDecision(outcome string)
	CodeIssued()
	AuditRecorded(action string)
	NotificationDelivery(result string)
}

type TokenManager interface {
	Issue(session domain.Session) (string, error)
	Parse(token string) (domain.TokenClaims, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare returns domain.ErrUnauthenticated on mismatch.
	Compare(hash, password string) error
}

// IdentityVerifier checks a token minted by an external identity provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (domain.FederatedIdentity, error)
}
