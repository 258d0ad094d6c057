package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T, mutate func(b *jwt.Builder, now time.Time) *jwt.Builder, now time.Time) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer("esim-admin").
		Audience([]string{"dashboard"}).
		Subject("admin-1").
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute))
	if mutate != nil {
		b = mutate(b, now)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func TestTokenValidator(t *testing.T) {
	now := time.Now()
	base := TokenValidator{Issuer: "esim-admin", Audience: "dashboard", ClockSkew: time.Second, Algorithm: jwa.HS256, RequireSubject: true}

	cases := []struct {
		name    string
		mutate  func(b *jwt.Builder, now time.Time) *jwt.Builder
		alg     jwa.SignatureAlgorithm
		wantErr bool
	}{
		{name: "valid", alg: jwa.HS256},
		{name: "issuer mismatch", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder, _ time.Time) *jwt.Builder {
			return b.Issuer("someone-else")
		}},
		{name: "audience mismatch", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder, _ time.Time) *jwt.Builder {
			return b.Audience([]string{"storefront"})
		}},
		{name: "expired", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder, now time.Time) *jwt.Builder {
			return b.IssuedAt(now.Add(-2 * time.Hour)).NotBefore(now.Add(-2 * time.Hour)).Expiration(now.Add(-time.Minute))
		}},
		{name: "expiry within skew", alg: jwa.HS256, mutate: func(b *jwt.Builder, now time.Time) *jwt.Builder {
			return b.Expiration(now.Add(-500 * time.Millisecond))
		}},
		{name: "not yet valid", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder, now time.Time) *jwt.Builder {
			return b.NotBefore(now.Add(5 * time.Minute)).Expiration(now.Add(10 * time.Minute))
		}},
		{name: "algorithm mismatch", alg: jwa.RS256, wantErr: true},
		{name: "missing algorithm", alg: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := base.Validate(buildToken(t, tc.mutate, now), tc.alg, now)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTokenValidatorRequiresSubject(t *testing.T) {
	now := time.Now()
	tok, err := jwt.NewBuilder().Issuer("esim-admin").Audience([]string{"dashboard"}).Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)

	v := TokenValidator{Issuer: "esim-admin", Audience: "dashboard", Algorithm: jwa.HS256}
	require.NoError(t, v.Validate(tok, jwa.HS256, now))

	v.RequireSubject = true
	require.Error(t, v.Validate(tok, jwa.HS256, now))
	require.Error(t, v.Validate(nil, jwa.HS256, now))
}
