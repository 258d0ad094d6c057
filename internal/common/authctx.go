package common

import "context"

type ctxKey string

const (
	userIDKey     ctxKey = "auth/user-id"
	credentialKey ctxKey = "auth/credential"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithCredential stores the caller's raw bearer token so outbound calls can
// act on the caller's behalf.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey, token)
}

// Credential returns the bearer token stored by WithCredential.
func Credential(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(credentialKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// APIKeyPrincipalPrefix marks user ids derived from an API key.
const APIKeyPrincipalPrefix = "apikey:"
