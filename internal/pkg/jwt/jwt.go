// Package jwt verifies the HMAC-signed bearer tokens issued by the account
// service.
package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

// Claims is the token payload. Older tokens carry the user in uid, newer ones
// in sub.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	jwtlib.RegisteredClaims
}

// User returns the authenticated user id.
func (c *Claims) User() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

// Verifier checks signatures, expiry and, when configured, the issuer.
type Verifier struct {
	key    []byte
	issuer string
	parser *jwtlib.Parser
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(issuer))
	}
	return &Verifier{key: []byte(secret), issuer: issuer, parser: jwtlib.NewParser(opts...)}, nil
}

// Verify parses token and returns its claims if it is valid and names a user.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwtlib.Token) (interface{}, error) {
		return v.key, nil
	}); err != nil {
		return nil, err
	}
	if claims.User() == "" {
		return nil, errors.New("token names no user")
	}
	return claims, nil
}

// Issue signs a token for userID. The service never hands these out; it is
// used by tooling and tests that need a token the verifier accepts.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.key)
}
