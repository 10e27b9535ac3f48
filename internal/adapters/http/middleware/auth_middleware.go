package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"carehub/internal/domain"
)

const (
	SessionCookie = "auth_token"
	SignInPath    = "/auth/signin"
)

// Resolver turns a presented session token into the caller.
type Resolver interface {
	Resolve(ctx context.Context, token string) (domain.Principal, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, principal domain.Principal, perm domain.Permission) domain.Decision
	Unauthenticated(ctx context.Context, cause error)
}

// TokenFrom reads the session token from the cookie, falling back to a bearer header.
func TokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get(echo.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate resolves the caller and attaches it to the request scope. Store
// outages pass through untouched so they surface as unavailable, not 401.
func Authenticate(resolver Resolver, authz Authorizer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			principal, err := resolver.Resolve(ctx, TokenFrom(c.Request()))
			if errors.Is(err, domain.ErrUnauthenticated) {
				authz.Unauthenticated(ctx, err)
				return unauthenticated(c)
			}
			if err != nil {
				return err
			}
			scope := domain.ScopeFrom(ctx).WithPrincipal(principal)
			c.SetRequest(c.Request().WithContext(domain.WithScope(ctx, scope)))
			return next(c)
		}
	}
}

// RequirePermission gates a route on perm. An empty perm admits any active
// authenticated caller.
func RequirePermission(authz Authorizer, perm domain.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			principal, ok := domain.PrincipalFrom(ctx)
			if !ok {
				authz.Unauthenticated(ctx, domain.ErrUnauthenticated)
				return unauthenticated(c)
			}
			decision := authz.Authorize(ctx, principal, perm)
			if !decision.Allowed {
				return &APIError{Status: http.StatusForbidden, Body: ErrorBody{
					Kind:    KindForbidden,
					Message: forbiddenMessage(decision),
					Reason:  string(decision.Reason),
				}}
			}
			return next(c)
		}
	}
}

// Protect is Authenticate followed by RequirePermission.
func Protect(resolver Resolver, authz Authorizer, perm domain.Permission) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{Authenticate(resolver, authz), RequirePermission(authz, perm)}
}

func unauthenticated(c echo.Context) error {
	return &APIError{Status: http.StatusUnauthorized, Body: ErrorBody{
		Kind:    KindUnauthenticated,
		Message: domain.ErrUnauthenticated.Error(),
		SignIn:  SignInPath + "?next=" + url.QueryEscape(c.Request().URL.RequestURI()),
	}}
}

func forbiddenMessage(d domain.Decision) string {
	switch d.Reason {
	case domain.ReasonInactiveIdentity:
		return "identity is inactive"
	case domain.ReasonNoRole:
		return "no role assigned"
	}
	return fmt.Sprintf("missing permission %q", d.Permission)
}
