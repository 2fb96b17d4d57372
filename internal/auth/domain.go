// Package auth validates bearer tokens issued by the managed auth provider and
// gates mutation endpoints by role or permission.
package auth

import (
	"context"
	"errors"
	"strings"
)

// Role is a staff role. Roles are ordered: staff < manager < superuser.
type Role string

const (
	RoleNone      Role = ""
	RoleStaff     Role = "staff"
	RoleManager   Role = "manager"
	RoleSuperuser Role = "superuser"
)

var roleRank = map[Role]int{
	RoleStaff:     1,
	RoleManager:   2,
	RoleSuperuser: 3,
}

// ParseRole normalises a stored role name; unknown names map to RoleNone.
func ParseRole(raw string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleRank[r]; ok {
		return r
	}
	return RoleNone
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	return have >= roleRank[min]
}

// Principal is the authenticated caller.
type Principal struct {
	UserID      string
	Email       string
	Role        Role
	Permissions []string
}

// HasAnyPermission reports whether the principal holds one of perms. Superusers hold all.
func (p Principal) HasAnyPermission(perms ...string) bool {
	if p.Role == RoleSuperuser {
		return true
	}
	for _, want := range perms {
		want = strings.ToLower(strings.TrimSpace(want))
		for _, have := range p.Permissions {
			if strings.ToLower(have) == want {
				return true
			}
		}
	}
	return false
}

// Grant is the stored role assignment of a user.
type Grant struct {
	Role        Role
	Permissions []string
}

// GrantStore loads role assignments.
type GrantStore interface {
	GrantFor(ctx context.Context, userID string) (Grant, error)
}

var (
	// ErrMissingToken indicates no bearer token was supplied.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrNoGrant indicates the user has no role assignment.
	ErrNoGrant = errors.New("auth: no role assigned")
)

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
