package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

type SignInResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  domain.Identity `json:"identity"`
}

type SessionService struct {
	identities ports.IdentityRepository
	roles      ports.RoleRepository
	sessions   ports.SessionStore
	tokens     ports.TokenManager
	passwords  ports.PasswordHasher
	federation ports.IdentityVerifier
	audit      *AuditLogger
	ttl        time.Duration
	now        func() time.Time
}

func NewSessionService(
	identities ports.IdentityRepository,
	roles ports.RoleRepository,
	sessions ports.SessionStore,
	tokens ports.TokenManager,
	passwords ports.PasswordHasher,
	audit *AuditLogger,
	ttl time.Duration,
) *SessionService {
	return &SessionService{
		identities: identities,
		roles:      roles,
		sessions:   sessions,
		tokens:     tokens,
		passwords:  passwords,
		audit:      audit,
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithFederation enables the external ID-token exchange.
func (s *SessionService) WithFederation(v ports.IdentityVerifier) *SessionService {
	s.federation = v
	return s
}

func (s *SessionService) TTL() time.Duration { return s.ttl }

var errBadCredentials = fmt.Errorf("%w: invalid email or password", domain.ErrUnauthenticated)

// SignIn checks credentials and opens a session. A non-empty portal restricts
// sign-in to identities of that portal. Every credential failure looks the same
// to the caller.
func (s *SessionService) SignIn(ctx context.Context, email, password, userAgent string, portal domain.Portal) (SignInResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return SignInResult{}, domain.ErrInvalidInput
	}
	identity, err := s.identities.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return SignInResult{}, errBadCredentials
	}
	if err != nil {
		return SignInResult{}, err
	}
	if err := s.passwords.Compare(identity.PasswordHash, password); err != nil {
		return SignInResult{}, errBadCredentials
	}
	if !identity.Active || (portal != "" && identity.Portal != portal) {
		return SignInResult{}, errBadCredentials
	}
	return s.open(ctx, identity, userAgent)
}

// Exchange trades a verified provider ID token for a platform session. Only
// provider portal identities already registered with the same email qualify.
func (s *SessionService) Exchange(ctx context.Context, idToken, userAgent string) (SignInResult, error) {
	if s.federation == nil {
		return SignInResult{}, fmt.Errorf("%w: identity federation is not configured", domain.ErrNotFound)
	}
	if strings.TrimSpace(idToken) == "" {
		return SignInResult{}, domain.ErrInvalidInput
	}
	fed, err := s.federation.Verify(ctx, idToken)
	if err != nil {
		return SignInResult{}, err
	}
	identity, err := s.identities.GetByEmail(ctx, fed.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return SignInResult{}, fmt.Errorf("%w: no provider account for this identity", domain.ErrUnauthenticated)
	}
	if err != nil {
		return SignInResult{}, err
	}
	if !identity.Active || identity.Portal != domain.PortalProvider {
		return SignInResult{}, fmt.Errorf("%w: no provider account for this identity", domain.ErrUnauthenticated)
	}
	return s.open(ctx, identity, userAgent)
}

func (s *SessionService) open(ctx context.Context, identity domain.Identity, userAgent string) (SignInResult, error) {
	now := s.now()
	session := domain.Session{
		ID:         newUUID(),
		IdentityID: identity.ID,
		Portal:     identity.Portal,
		Device:     deviceLabel(userAgent),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session, s.ttl); err != nil {
		return SignInResult{}, fmt.Errorf("store session: %w", err)
	}
	token, err := s.tokens.Issue(session)
	if err != nil {
		return SignInResult{}, err
	}
	if _, err := s.audit.Record(ctx, identity.ID, domain.ActionSessionCreated, "session:"+session.ID); err != nil {
		return SignInResult{}, err
	}
	return SignInResult{Token: token, ExpiresAt: session.ExpiresAt, Identity: identity}, nil
}

// Resolve turns a presented token into a Principal. Anything that makes the
// caller unknown is domain.ErrUnauthenticated; store outages are returned as is.
func (s *SessionService) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing session token", domain.ErrUnauthenticated)
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return domain.Principal{}, err
	}
	session, err := s.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, fmt.Errorf("%w: session ended", domain.ErrUnauthenticated)
	}
	if err != nil {
		return domain.Principal{}, err
	}
	if session.IdentityID != claims.IdentityID {
		return domain.Principal{}, fmt.Errorf("%w: session does not match token", domain.ErrUnauthenticated)
	}
	identity, err := s.identities.GetByID(ctx, session.IdentityID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, fmt.Errorf("%w: identity no longer exists", domain.ErrUnauthenticated)
	}
	if err != nil {
		return domain.Principal{}, err
	}
	var role domain.Role
	if identity.RoleID != "" {
		role, err = s.roles.GetByID(ctx, identity.RoleID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, err
		}
	}
	return domain.NewPrincipal(identity, session.ID, role), nil
}

func (s *SessionService) SignOut(ctx context.Context, principal domain.Principal) error {
	if err := s.sessions.Delete(ctx, principal.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	_, err := s.audit.Record(ctx, principal.Identity.ID, domain.ActionSessionRevoked, "session:"+principal.SessionID)
	return err
}

// deviceLabel renders "Browser on OS" for the session list.
func deviceLabel(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()
	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
