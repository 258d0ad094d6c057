package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator checks the claims of a dashboard access token after its
// signature was verified.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// Algorithm pins the signing algorithm; empty accepts any.
	Algorithm jwa.SignatureAlgorithm
	// RequireSubject rejects tokens without sub. The audit trail keys on it.
	RequireSubject bool
}

// Validate checks the algorithm the token was signed with, then iss, aud,
// exp, nbf and iat against now within ClockSkew.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	switch {
	case tok == nil:
		return errors.New("auth: token is nil")
	case algorithm == "":
		return errors.New("auth: token missing algorithm")
	case v.Algorithm != "" && algorithm != v.Algorithm:
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}
	return jwt.Validate(tok, v.options(now)...)
}

func (v TokenValidator) options(now time.Time) []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(max(v.ClockSkew, 0)),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	if v.RequireSubject {
		opts = append(opts, jwt.WithRequiredClaim(jwt.SubjectKey))
	}
	return opts
}
