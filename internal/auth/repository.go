package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/shared"
)

// Repository reads role assignments from user_roles.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// GrantFor returns the role and permissions of a user.
func (r *Repository) GrantFor(ctx context.Context, userID string) (Grant, error) {
	var (
		role  string
		perms []string
	)
	err := r.db.QueryRow(ctx, `SELECT role, COALESCE(permissions, '{}') FROM user_roles WHERE user_id = $1`, userID).Scan(&role, &perms)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, ErrNoGrant
		}
		return Grant{}, fmt.Errorf("auth: load grant: %w", err)
	}
	return Grant{Role: ParseRole(role), Permissions: knownPermissions(perms)}, nil
}

// knownPermissions drops permission strings the storefront does not check.
func knownPermissions(perms []string) []string {
	scopes := shared.StorefrontScopes()
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if slices.Contains(scopes, p) {
			out = append(out, p)
		}
	}
	return out
}
