package domain

import "context"

// RequestScope travels on the request context. Middleware stages replace it
// with an extended copy instead of mutating it.
type RequestScope struct {
	RequestID string
	Principal *Principal
}

func (s RequestScope) WithPrincipal(p Principal) RequestScope {
	s.Principal = &p
	return s
}

type scopeKey struct{}

func WithScope(ctx context.Context, scope RequestScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func ScopeFrom(ctx context.Context) RequestScope {
	scope, _ := ctx.Value(scopeKey{}).(RequestScope)
	return scope
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	scope := ScopeFrom(ctx)
	if scope.Principal == nil {
		return Principal{}, false
	}
	return *scope.Principal, true
}
