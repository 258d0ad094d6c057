package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/obs"
)

var testParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestService(t *testing.T, keys ...APIKey) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Secret:   "super-secret-key",
		Issuer:   "esim-admin",
		Audience: "dashboard",
		TokenTTL: time.Minute,
		APIKeys:  keys,
	})
	require.NoError(t, err)
	return svc
}

func hashKey(t *testing.T, key string) string {
	t.Helper()
	hash, err := argon2id.CreateHash(key, testParams)
	require.NoError(t, err)
	return hash
}

func TestNewServiceRequiresACredentialSource(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)

	_, err = NewService(Config{APIKeys: []APIKey{{Name: "ops", Hash: "$argon2id$x"}}})
	require.NoError(t, err)
}

func TestParseAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	fixed := time.Now()
	svc.WithNow(func() time.Time { return fixed })

	token, expires, err := svc.IssueToken("admin-1")
	require.NoError(t, err)
	require.Equal(t, fixed.Add(time.Minute), expires)

	subject, err := svc.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "admin-1", subject)

	svc.WithNow(func() time.Time { return fixed.Add(2 * time.Minute) })
	_, err = svc.ParseAccessToken(token)
	require.Error(t, err)
}

func TestParseAccessTokenRejectsForeignTokens(t *testing.T) {
	svc := newTestService(t)
	now := time.Now()
	built, err := jwt.NewBuilder().
		Subject("admin-1").
		Issuer(svc.validator.Issuer).
		Audience([]string{svc.validator.Audience}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)

	hs384, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, svc.secret))
	require.NoError(t, err)
	_, err = svc.ParseAccessToken(string(hs384))
	require.Error(t, err)

	otherKey, err := jwt.Sign(built, jwt.WithKey(jwa.HS256, []byte("another-secret")))
	require.NoError(t, err)
	_, err = svc.ParseAccessToken(string(otherKey))
	require.Error(t, err)

	_, err = svc.ParseAccessToken("not-a-jwt")
	require.True(t, common.IsAppError(err))
}

func TestParseAPIKeys(t *testing.T) {
	hash := hashKey(t, "k")
	keys, err := ParseAPIKeys([]string{"ops:" + hash, hash})
	require.NoError(t, err)
	require.Equal(t, []APIKey{{Name: "ops", Hash: hash}, {Name: "key2", Hash: hash}}, keys)

	_, err = ParseAPIKeys([]string{"ops:plaintext"})
	require.Error(t, err)
}

func TestVerifyAPIKey(t *testing.T) {
	svc := newTestService(t, APIKey{Name: "ops", Hash: hashKey(t, "ops-secret")}, APIKey{Name: "ci", Hash: hashKey(t, "ci-secret")})

	name, err := svc.VerifyAPIKey("ci-secret")
	require.NoError(t, err)
	require.Equal(t, "ci", name)

	name, err = svc.VerifyAPIKey("ci-secret")
	require.NoError(t, err)
	require.Equal(t, "ci", name)
	require.Len(t, svc.keys.known, 1)

	_, err = svc.VerifyAPIKey("wrong")
	require.ErrorIs(t, err, ErrUnknownAPIKey)
}

func TestHashAPIKeyVerifies(t *testing.T) {
	hash, err := HashAPIKey("generated")
	require.NoError(t, err)
	ok, err := argon2id.ComparePasswordAndHash("generated", hash)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = HashAPIKey("  ")
	require.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	svc := newTestService(t, APIKey{Name: "ops", Hash: hashKey(t, "ops-secret")})
	token, _, err := svc.IssueToken("admin-7")
	require.NoError(t, err)

	var gotUser, gotCred string
	var hasCred bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = common.UserID(r.Context())
		gotCred, hasCred = common.Credential(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware{Service: svc}.RequireAuth(next)

	serve := func(header, value string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "admin-7", gotUser)
	require.True(t, hasCred)
	require.Equal(t, token, gotCred)

	rec = serve(APIKeyHeader, "ops-secret")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, common.APIKeyPrincipalPrefix+"ops", gotUser)
	require.False(t, hasCred)

	require.Equal(t, http.StatusUnauthorized, serve("", "").Code)
	require.Equal(t, http.StatusUnauthorized, serve("Authorization", "Bearer garbage").Code)
	require.Equal(t, http.StatusUnauthorized, serve(APIKeyHeader, "nope").Code)
}

func TestAuthenticatePassesAnonymousRequests(t *testing.T) {
	svc := newTestService(t)
	authed := true
	h := Middleware{Service: svc}.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, authed = common.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, authed)
}

func TestAuthenticateFeedsAccessLog(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.IssueToken("admin-7")
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := Middleware{Service: svc}
	h := mw.Authenticate(obs.RequestLogger{Logger: zerolog.New(&buf)}.Middleware(
		mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})),
	))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, buf.String(), `"user_id":"admin-7"`)

	buf.Reset()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotContains(t, buf.String(), "user_id")
}

func TestBearerHeader(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":     "abc",
		"bearer   abc  ": "abc",
		"Basic abc":      "",
		"Bearer":         "",
		"Bearer ":        "",
	} {
		got, ok := bearer(header)
		require.Equal(t, want, got, header)
		require.Equal(t, want != "", ok, header)
	}
}
