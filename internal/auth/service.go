// Package auth authenticates admin callers with a bearer JWT or an API key.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/esim-admin/internal/common"
)

// Config configures the auth service. At least one of Secret or APIKeys
// must be set.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// TokenTTL is the lifetime of tokens minted by IssueToken.
	TokenTTL time.Duration
	APIKeys  []APIKey
}

// Service verifies admin credentials and mints dashboard tokens.
type Service struct {
	secret    []byte
	ttl       time.Duration
	validator TokenValidator
	keys      *keyRing
	now       func() time.Time
}

// NewService applies defaults to cfg and returns a ready Service.
func NewService(cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" && len(cfg.APIKeys) == 0 {
		return nil, errors.New("auth: secret or api keys are required")
	}
	s := &Service{
		secret: []byte(secret),
		ttl:    cfg.TokenTTL,
		validator: TokenValidator{
			Issuer:         orDefault(cfg.Issuer, "esim-admin"),
			Audience:       orDefault(cfg.Audience, "esim-admin-dashboard"),
			ClockSkew:      max(cfg.ClockSkew, 0),
			Algorithm:      jwa.HS256,
			RequireSubject: true,
		},
		keys: newKeyRing(cfg.APIKeys),
		now:  time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 15 * time.Minute
	}
	return s, nil
}

// WithNow replaces the clock used for issuing and validating tokens.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func unauthorized(message string, err error) error {
	return common.NewAppError("UNAUTHORIZED", message, http.StatusUnauthorized, err)
}

// ParseAccessToken validates an HS256 access token and returns its subject.
func (s *Service) ParseAccessToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "", unauthorized("missing token", nil)
	case len(s.secret) == 0:
		return "", unauthorized("bearer tokens are not accepted", nil)
	}
	alg, err := signingAlgorithm(token)
	if err == nil && alg != s.validator.Algorithm {
		err = fmt.Errorf("auth: unexpected token algorithm %s", alg)
	}
	if err != nil {
		return "", unauthorized("invalid token", err)
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(alg, s.secret), jwt.WithValidate(false))
	if err == nil {
		err = s.validator.Validate(parsed, alg, s.now())
	}
	if err != nil {
		return "", unauthorized("invalid token", err)
	}
	return parsed.Subject(), nil
}

// IssueToken mints an HS256 access token for subject. adminctl uses it for
// local development against a dev secret.
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("auth: secret not configured")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	tok, err := jwt.NewBuilder().
		Subject(subject).
		Issuer(s.validator.Issuer).
		Audience([]string{s.validator.Audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.validator.ClockSkew)).
		Expiration(exp).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), exp, nil
}

// VerifyAPIKey returns the name of the configured key matching key.
func (s *Service) VerifyAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(s.keys.keys) == 0 {
		return "", unauthorized("invalid api key", ErrUnknownAPIKey)
	}
	name, err := s.keys.match(key)
	if errors.Is(err, ErrUnknownAPIKey) {
		return "", unauthorized("invalid api key", err)
	}
	return name, err
}

// signingAlgorithm reads the alg header of a compact JWS. Dashboard tokens
// carry exactly one signature and "none" is never accepted.
func signingAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 || sigs[0].ProtectedHeaders() == nil {
		return "", errors.New("auth: token must carry one signature")
	}
	switch alg := sigs[0].ProtectedHeaders().Algorithm(); alg {
	case "", jwa.NoSignature:
		return "", fmt.Errorf("auth: token algorithm %q not allowed", alg)
	default:
		return alg, nil
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
