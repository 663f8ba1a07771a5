// Package token issues and verifies the signed bearer credentials used for
// sessions and for the OAuth anti-forgery state parameter.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alliancemanager/apiserver/types"
)

const (
	sessionTTL   = 7 * 24 * time.Hour
	stateTTL     = 10 * time.Minute
	stateSubject = "oauth-state"
)

// ErrInvalidToken covers every verification failure: bad signature,
// malformed token, or expiry. The kinds are deliberately not distinguished.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of a session token.
type Claims struct {
	Email    *string `json:"email,omitempty"`
	Username *string `json:"username,omitempty"`
	Verified bool    `json:"verified"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c Claims) UserID() string {
	return c.Subject
}

// Issuer signs and verifies HS256 tokens under a shared secret.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Issue mints a 7-day session token for the given user.
func (i *Issuer) Issue(user types.User) (string, error) {
	now := time.Now()
	username := user.DisplayName()
	claims := Claims{
		Email:    user.Email,
		Verified: user.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	if username != "" {
		claims.Username = &username
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify validates signature and expiry and returns the decoded claims.
func (i *Issuer) Verify(raw string) (Claims, error) {
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, i.keyFunc)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Subject == stateSubject {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueState mints the short-lived anti-forgery token embedded as the
// OAuth state parameter.
func (i *Issuer) IssueState() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   stateSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// VerifyState validates a state token produced by IssueState.
func (i *Issuer) VerifyState(raw string) error {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, i.keyFunc)
	if err != nil || !parsed.Valid || claims.Subject != stateSubject {
		return ErrInvalidToken
	}
	return nil
}

func (i *Issuer) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("invalid signing method")
	}
	return i.secret, nil
}
