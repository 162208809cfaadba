// Package auth turns bearer tokens into identities.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sessionchat/pkg/types"
)

// Claims is the payload of a sessionchat token. The subject is the identity id.
type Claims struct {
	Role    string `json:"role,omitempty"`
	Contact string `json:"contact,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 tokens signed with a shared secret.
// Issuance policy lives elsewhere; Issue exists for tooling and tests.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for secret. issuer may be empty
// to accept any issuer.
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, ErrWeakSecret
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Authenticate returns the identity carried by token.
// Every failure wraps ErrUnauthenticated.
func (a *Authenticator) Authenticate(token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return types.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, jwt.ErrSignatureInvalid)
	}
	if !types.IsValidUserID(claims.Subject) {
		return types.Identity{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}

	return types.Identity{ID: claims.Subject, Role: claims.Role, Contact: claims.Contact}, nil
}

// Issue signs a token for identity valid for ttl.
func (a *Authenticator) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	if !types.IsValidUserID(identity.ID) {
		return "", types.ErrInvalidUserID
	}
	now := a.now()
	claims := &Claims{
		Role:    identity.Role,
		Contact: identity.Contact,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenFromRequest looks for a token in the Authorization header, then the
// "token" query parameter, then the "session_token" cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie("session_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// IsUnauthenticated reports whether err is an authentication failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
