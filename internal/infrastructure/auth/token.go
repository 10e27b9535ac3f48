package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"carehub/internal/domain"
)

const tokenIssuer = "carehub"

// SessionClaims bind a signed token to a stored session; the token is only as
// valid as the session it names.
type SessionClaims struct {
	SessionID string        `json:"sid"`
	Portal    domain.Portal `json:"portal"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret []byte
	now    func() time.Time
}

func NewTokenManager(secret string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	return &TokenManager{secret: []byte(secret), now: time.Now}, nil
}

func (m *TokenManager) Issue(session domain.Session) (string, error) {
	claims := SessionClaims{
		SessionID: session.ID,
		Portal:    session.Portal,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   session.IdentityID,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and expiry. Every failure is reported as
// domain.ErrUnauthenticated.
func (m *TokenManager) Parse(token string) (domain.TokenClaims, error) {
	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return domain.TokenClaims{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return domain.TokenClaims{}, fmt.Errorf("%w: token without session", domain.ErrUnauthenticated)
	}
	return domain.TokenClaims{SessionID: claims.SessionID, IdentityID: claims.Subject, Portal: claims.Portal}, nil
}
