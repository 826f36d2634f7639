package services

import (
	"context"

	"github.com/CrowderSoup/taskpro/database"
)

// CredentialResolver maps a bearer token to the user it was issued to
type CredentialResolver interface {
	Resolve(ctx context.Context, token string) (*database.User, error)
}

// Guard authorizes board requests: the caller must present a live session
// and may only reach boards they own.
type Guard struct {
	credentials CredentialResolver
	store       *database.Store
}

func NewGuard(credentials CredentialResolver, store *database.Store) *Guard {
	return &Guard{credentials: credentials, store: store}
}

// Principal returns the user behind token, or ErrNotAuthorized
func (g *Guard) Principal(ctx context.Context, token string) (*database.User, error) {
	return g.credentials.Resolve(ctx, token)
}

// Board returns the owner's board with the given slug. Boards of other
// users are reported as not found.
func (g *Guard) Board(ctx context.Context, owner *database.User, slug string) (*database.Dashboard, error) {
	d, err := g.store.FindDashboard(ctx, owner.ID, slug)
	if err != nil {
		return nil, storeError("Dashboard", err)
	}
	return d, nil
}
