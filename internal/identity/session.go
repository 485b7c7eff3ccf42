package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const signedPrefix = "s:"

// SessionResolver resolves identities from the web application's signed
// session cookie.
type SessionResolver struct {
	cookieName string
	secrets    [][]byte
	sessions   SessionStore
	users      UserStore
}

// NewSessionResolver creates a resolver that verifies cookies against any of
// secrets; the first secret is the one the web application currently signs with.
func NewSessionResolver(cookieName string, secrets []string, sessions SessionStore, users UserStore) *SessionResolver {
	keys := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			keys = append(keys, []byte(s))
		}
	}
	return &SessionResolver{
		cookieName: cookieName,
		secrets:    keys,
		sessions:   sessions,
		users:      users,
	}
}

// ResolveIdentity implements Resolver.
func (s *SessionResolver) ResolveIdentity(ctx context.Context, r *http.Request) (Identity, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return Identity{}, ErrNoCredentials
	}

	sid, err := s.unsign(cookie.Value)
	if err != nil {
		return Identity{}, err
	}

	session, err := s.sessions.GetSession(ctx, sid)
	if err != nil {
		return Identity{}, err
	}
	userID, ok := session.UserID()
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return lookupUser(ctx, s.users, userID)
}

func (s *SessionResolver) unsign(raw string) (string, error) {
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed session cookie", ErrUnauthenticated)
	}
	if !strings.HasPrefix(value, signedPrefix) {
		return "", fmt.Errorf("%w: unsigned session cookie", ErrUnauthenticated)
	}
	value = strings.TrimPrefix(value, signedPrefix)

	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return "", fmt.Errorf("%w: malformed session cookie", ErrUnauthenticated)
	}
	sid, mac := value[:dot], value[dot+1:]

	for _, secret := range s.secrets {
		if hmac.Equal([]byte(mac), []byte(Sign(sid, secret))) {
			return sid, nil
		}
	}
	return "", errors.Join(ErrUnauthenticated, errors.New("session cookie signature mismatch"))
}

// Sign returns the cookie-signature MAC of value: base64 HMAC-SHA256 with the
// padding stripped.
func Sign(value string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(value))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(h.Sum(nil)), "=")
}

// SignedCookieValue returns the value the web application stores in its
// session cookie for sid.
func SignedCookieValue(sid, secret string) string {
	return url.PathEscape(signedPrefix + sid + "." + Sign(sid, []byte(secret)))
}
