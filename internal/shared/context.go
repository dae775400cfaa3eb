package shared

import "context"

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID int64
	Email  string
	RoleID int64
	Role   string
	// TokenID is the JWT ID used for revocation.
	TokenID string
}

// HasRole reports whether the principal carries a resolvable role ID.
func (p *Principal) HasRole() bool {
	return p != nil && p.RoleID > 0
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
