// Package identity resolves the platform user behind an incoming websocket
// handshake. The chat hub only ever sees the Resolver interface; the concrete
// resolvers read the web application's session cookie or a bearer token and
// load the user record from the shared database.
package identity

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNoCredentials means the request carries nothing this resolver
	// understands; a Chain moves on to the next resolver.
	ErrNoCredentials = errors.New("identity: no credentials presented")
	// ErrUnauthenticated means no user is bound to the presented credentials.
	ErrUnauthenticated = errors.New("identity: authentication required")
	// ErrUserNotFound means the credentials name a user that is not stored.
	ErrUserNotFound = errors.New("identity: user not found")
)

// AnonymousName is shown for users without a display name.
const AnonymousName = "Anonymous"

// Identity is the resolved user bound to a connection.
type Identity struct {
	ID   int64
	Name string
}

// Resolver resolves the identity behind an upgrade request.
type Resolver interface {
	ResolveIdentity(ctx context.Context, r *http.Request) (Identity, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, r *http.Request) (Identity, error)

// ResolveIdentity calls f(ctx, r).
func (f ResolverFunc) ResolveIdentity(ctx context.Context, r *http.Request) (Identity, error) {
	return f(ctx, r)
}

// Reason returns the close reason sent to a client rejected with err.
func Reason(err error) string {
	if errors.Is(err, ErrUserNotFound) {
		return "User not found"
	}
	return "Authentication required"
}

// DisplayName returns name, or AnonymousName when it is blank.
func DisplayName(name string) string {
	if name == "" {
		return AnonymousName
	}
	return name
}

func lookupUser(ctx context.Context, users UserStore, id int64) (Identity, error) {
	user, err := users.GetUser(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	if user == nil {
		return Identity{}, ErrUserNotFound
	}
	return Identity{ID: user.ID, Name: DisplayName(user.Name)}, nil
}
