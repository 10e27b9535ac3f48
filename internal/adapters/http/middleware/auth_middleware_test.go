package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carehub/internal/domain"
)

type resolverMock struct{ mock.Mock }

func (m *resolverMock) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.Principal), args.Error(1)
}

type recordingAuthorizer struct {
	unauthenticated int
	decisions       []domain.Decision
}

func (a *recordingAuthorizer) Authorize(_ context.Context, p domain.Principal, perm domain.Permission) domain.Decision {
	d := domain.Evaluate(p, perm)
	a.decisions = append(a.decisions, d)
	return d
}

func (a *recordingAuthorizer) Unauthenticated(context.Context, error) { a.unauthenticated++ }

func principal(active bool, perms ...domain.Permission) domain.Principal {
	return domain.NewPrincipal(domain.Identity{ID: "u1", Active: active}, "s1", domain.Role{ID: "ops", Permissions: perms})
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, Envelope) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func newProtectedEcho(resolver Resolver, authz Authorizer, perm domain.Permission, handled *bool) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(nopLogger{})
	e.GET("/roles", func(c echo.Context) error {
		*handled = true
		p, ok := domain.PrincipalFrom(c.Request().Context())
		if !ok {
			return fmt.Errorf("no principal")
		}
		return Success(c, http.StatusOK, p.Identity.ID)
	}, Protect(resolver, authz, perm)...)
	return e
}

func TestTokenFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFrom(req))

	req.Header.Set(echo.HeaderAuthorization, "Bearer abc")
	assert.Equal(t, "abc", TokenFrom(req))

	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-token"})
	assert.Equal(t, "cookie-token", TokenFrom(req), "cookie wins over header")

	basic := httptest.NewRequest(http.MethodGet, "/", nil)
	basic.Header.Set(echo.HeaderAuthorization, "Basic abc")
	assert.Empty(t, TokenFrom(basic))
}

func TestAuthenticate_MissingTokenIsUnauthenticated(t *testing.T) {
	resolver := new(resolverMock)
	resolver.On("Resolve", mock.Anything, "").Return(domain.Principal{}, fmt.Errorf("%w: missing session token", domain.ErrUnauthenticated))
	authz := &recordingAuthorizer{}
	handled := false
	e := newProtectedEcho(resolver, authz, domain.PermReadRoles, &handled)

	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/roles", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindUnauthenticated, env.Error.Kind)
	assert.Equal(t, "/auth/signin?next=%2Froles", env.Error.SignIn)
	assert.False(t, handled)
	assert.Equal(t, 1, authz.unauthenticated)
	assert.Empty(t, authz.decisions, "unauthenticated callers are never evaluated")
}

func TestAuthenticate_SignInKeepsQuery(t *testing.T) {
	resolver := new(resolverMock)
	resolver.On("Resolve", mock.Anything, "").Return(domain.Principal{}, domain.ErrUnauthenticated)
	handled := false
	e := newProtectedEcho(resolver, &recordingAuthorizer{}, domain.PermReadRoles, &handled)

	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/roles?limit=5&page=2", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "/auth/signin?next=%2Froles%3Flimit%3D5%26page%3D2", env.Error.SignIn)
}

func TestAuthenticate_StoreOutageIsUnavailable(t *testing.T) {
	resolver := new(resolverMock)
	resolver.On("Resolve", mock.Anything, "tok").Return(domain.Principal{}, fmt.Errorf("%w: redis down", domain.ErrUnavailable))
	handled := false
	e := newProtectedEcho(resolver, &recordingAuthorizer{}, domain.PermReadRoles, &handled)

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer tok")
	rec, env := serve(e, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, KindUnavailable, env.Error.Kind)
	assert.False(t, handled)
}

func TestRequirePermission_Forbidden(t *testing.T) {
	resolver := new(resolverMock)
	resolver.On("Resolve", mock.Anything, "tok").Return(principal(true, domain.PermReadRoles), nil)
	authz := &recordingAuthorizer{}
	handled := false
	e := newProtectedEcho(resolver, authz, domain.PermManageRoles, &handled)

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok"})
	rec, env := serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, KindForbidden, env.Error.Kind)
	assert.Equal(t, string(domain.ReasonMissingPermission), env.Error.Reason)
	assert.Empty(t, env.Error.SignIn)
	assert.False(t, handled)
}

func TestRequirePermission_InactiveIdentity(t *testing.T) {
	resolver := new(resolverMock)
	resolver.On("Resolve", mock.Anything, "tok").Return(principal(false, domain.PermReadRoles), nil)
	handled := false
	e := newProtectedEcho(resolver, &recordingAuthorizer{}, "", &handled)

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer tok")
	rec, env := serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(domain.ReasonInactiveIdentity), env.Error.Reason)
	assert.False(t, handled)
}

func TestRequirePermission_Allowed(t *testing.T) {
	resolver := new(resolverMock)
	resolver.On("Resolve", mock.Anything, "tok").Return(principal(true, domain.PermReadRoles), nil)
	authz := &recordingAuthorizer{}
	handled := false
	e := newProtectedEcho(resolver, authz, domain.PermReadRoles, &handled)

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer tok")
	rec, env := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "u1", env.Data)
	assert.True(t, handled)
	require.Len(t, authz.decisions, 1)
	assert.True(t, authz.decisions[0].Allowed)
}

func TestRequirePermission_WithoutAuthenticate(t *testing.T) {
	authz := &recordingAuthorizer{}
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(nopLogger{})
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, RequirePermission(authz, domain.PermReadRoles))

	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, KindUnauthenticated, env.Error.Kind)
	assert.Equal(t, 1, authz.unauthenticated)
}

func TestRequestScope_CarriesRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	c := e.NewContext(req, httptest.NewRecorder())

	var got domain.RequestScope
	h := RequestScope()(func(c echo.Context) error {
		got = domain.ScopeFrom(c.Request().Context())
		return nil
	})
	require.NoError(t, h(c))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Nil(t, got.Principal)
}
