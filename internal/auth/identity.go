package auth

import (
	"context"

	"github.com/JonasLeetTheWay/campus-events/internal/models"
)

// Identity is the authenticated caller, resolved once per request and passed
// explicitly into every workflow operation.
type Identity struct {
	UserID uint
	Email  string
	Name   string
	Role   models.Role
}

func IdentityOf(u *models.User) Identity {
	return Identity{UserID: u.ID, Email: u.Email, Name: u.FullName, Role: u.Role}
}

func (i Identity) Is(role models.Role) bool {
	return i.Role == role
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
