package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/esim-admin/internal/common"
)

// APIKeyHeader carries service credentials.
const APIKeyHeader = "X-API-Key"

var (
	errNoCredential = errors.New("auth: no credential presented")
	errNoService    = errors.New("auth: service not configured")
)

// Middleware resolves the caller of admin routes.
type Middleware struct {
	Service *Service
}

// Authenticate attaches the caller when valid credentials are present and
// lets every other request through unchanged.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, err := m.identify(r); err == nil {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without a valid bearer token or API key.
// The bearer token is kept on the context so admin API calls are made with
// the caller's own credential.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.identify(r)
		if err == nil {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if common.IsAppError(err) {
			common.WriteError(w, err)
			return
		}
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
	})
}

// identify returns r's context carrying the caller id. Bearer tokens win
// over API keys when both are sent.
func (m Middleware) identify(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if m.Service == nil {
		return ctx, errNoService
	}
	if token, ok := bearer(r.Header.Get("Authorization")); ok {
		subject, err := m.Service.ParseAccessToken(token)
		if err != nil {
			return ctx, err
		}
		return common.WithCredential(common.WithUserID(ctx, subject), token), nil
	}
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		name, err := m.Service.VerifyAPIKey(key)
		if err != nil {
			return ctx, err
		}
		return common.WithUserID(ctx, common.APIKeyPrincipalPrefix+name), nil
	}
	return ctx, errNoCredential
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
