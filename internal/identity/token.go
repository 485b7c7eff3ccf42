package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT claim set accepted by TokenResolver.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenResolver resolves identities from HS256 bearer tokens, taken from the
// Authorization header or the token query parameter.
type TokenResolver struct {
	secret []byte
	issuer string
	users  UserStore
}

// NewTokenResolver creates a resolver. An empty issuer disables the iss check.
func NewTokenResolver(secret, issuer string, users UserStore) *TokenResolver {
	return &TokenResolver{secret: []byte(secret), issuer: issuer, users: users}
}

// ResolveIdentity implements Resolver.
func (t *TokenResolver) ResolveIdentity(ctx context.Context, r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, ErrNoCredentials
	}

	claims, err := t.Validate(raw)
	if err != nil {
		return Identity{}, err
	}
	return lookupUser(ctx, t.users, claims.UserID)
}

// Validate parses and verifies a token string.
func (t *TokenResolver) Validate(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: token has no user", ErrUnauthenticated)
	}
	return claims, nil
}

// Issue signs a token for userID that expires after ttl.
func (t *TokenResolver) Issue(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", errors.New("identity: user id must be positive")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
