package identity

import (
	"context"
	"errors"
	"net/http"
)

// Chain tries each resolver in order until one recognises the request.
// An empty chain, or one where every resolver reports ErrNoCredentials,
// fails with ErrUnauthenticated.
type Chain []Resolver

// ResolveIdentity implements Resolver.
func (c Chain) ResolveIdentity(ctx context.Context, r *http.Request) (Identity, error) {
	for _, resolver := range c {
		id, err := resolver.ResolveIdentity(ctx, r)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return id, err
	}
	return Identity{}, ErrUnauthenticated
}
