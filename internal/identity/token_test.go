package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/civic-chat/internal/identity"
	"github.com/Tyrowin/civic-chat/internal/identity/mocks"
)

const jwtSecret = "test-jwt-secret"

func TestTokenResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves bearer token from header", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserStore(ctrl)
		resolver := identity.NewTokenResolver(jwtSecret, "civic", users)

		token, err := resolver.Issue(5, time.Hour)
		req.NoError(err)

		users.EXPECT().GetUser(gomock.Any(), int64(5)).Return(&identity.User{ID: 5, Username: "lin", Name: "Lin"}, nil).Times(1)

		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		id, err := resolver.ResolveIdentity(ctx, r)
		req.NoError(err)
		req.Equal(identity.Identity{ID: 5, Name: "Lin"}, id)
	})

	t.Run("resolves token from query string", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserStore(ctrl)
		resolver := identity.NewTokenResolver(jwtSecret, "", users)

		token, err := resolver.Issue(6, time.Hour)
		req.NoError(err)

		users.EXPECT().GetUser(gomock.Any(), int64(6)).Return(&identity.User{ID: 6, Username: "mo"}, nil)

		id, err := resolver.ResolveIdentity(ctx, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
		req.NoError(err)
		req.Equal(identity.AnonymousName, id.Name)
	})

	t.Run("reports absent token as no credentials", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		resolver := identity.NewTokenResolver(jwtSecret, "", mocks.NewMockUserStore(ctrl))

		_, err := resolver.ResolveIdentity(ctx, httptest.NewRequest(http.MethodGet, "/ws", nil))

		require.ErrorIs(t, err, identity.ErrNoCredentials)
	})

	t.Run("rejects invalid tokens", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserStore(ctrl)
		users.EXPECT().GetUser(gomock.Any(), gomock.Any()).Times(0)

		resolver := identity.NewTokenResolver(jwtSecret, "civic", users)
		other := identity.NewTokenResolver("another-secret", "civic", users)
		wrongIssuer := identity.NewTokenResolver(jwtSecret, "elsewhere", users)

		forged, err := other.Issue(5, time.Hour)
		req.NoError(err)
		expired, err := resolver.Issue(5, -time.Minute)
		req.NoError(err)
		foreign, err := wrongIssuer.Issue(5, time.Hour)
		req.NoError(err)
		noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "civic"},
		}).SignedString([]byte(jwtSecret))
		req.NoError(err)

		for name, token := range map[string]string{
			"forged":    forged,
			"expired":   expired,
			"issuer":    foreign,
			"no user":   noUser,
			"malformed": "not.a.jwt",
		} {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Header.Set("Authorization", "Bearer "+token)
			_, err := resolver.ResolveIdentity(ctx, r)
			req.ErrorIs(err, identity.ErrUnauthenticated, name)
		}
	})

	t.Run("refuses to issue tokens for non-positive ids", func(t *testing.T) {
		_, err := identity.NewTokenResolver(jwtSecret, "", nil).Issue(0, time.Hour)
		require.Error(t, err)
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	none := identity.ResolverFunc(func(context.Context, *http.Request) (identity.Identity, error) {
		return identity.Identity{}, identity.ErrNoCredentials
	})
	denied := identity.ResolverFunc(func(context.Context, *http.Request) (identity.Identity, error) {
		return identity.Identity{}, identity.ErrUserNotFound
	})
	ada := identity.ResolverFunc(func(context.Context, *http.Request) (identity.Identity, error) {
		return identity.Identity{ID: 1, Name: "Ada"}, nil
	})

	t.Run("falls through resolvers without credentials", func(t *testing.T) {
		id, err := identity.Chain{none, ada}.ResolveIdentity(ctx, r)
		require.NoError(t, err)
		require.Equal(t, int64(1), id.ID)
	})

	t.Run("stops at the first resolver that recognises the request", func(t *testing.T) {
		_, err := identity.Chain{denied, ada}.ResolveIdentity(ctx, r)
		require.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("fails when nothing resolves", func(t *testing.T) {
		_, err := identity.Chain{none}.ResolveIdentity(ctx, r)
		require.ErrorIs(t, err, identity.ErrUnauthenticated)

		_, err = identity.Chain{}.ResolveIdentity(ctx, r)
		require.ErrorIs(t, err, identity.ErrUnauthenticated)
	})
}
