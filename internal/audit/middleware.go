package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
)

// Recorder writes an audit entry for each admin mutation once the handler
// has responded.
type Recorder struct {
	Service *Service
	Logger  zerolog.Logger
}

// Mutation audits the wrapped route as action on resource. idParam names the
// chi URL parameter holding the target id, or is empty for collection routes.
// Requests rejected with 401 or 403 never reached the handler and are skipped.
func (rec Recorder) Mutation(action, resource, idParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec.Service == nil || !rec.Service.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return
			}
			m := Mutation{
				Actor:    ActorFromContext(r.Context()),
				Action:   action,
				Resource: resource,
				Request:  r,
				Status:   status,
				Metadata: mutationMeta(r),
			}
			if idParam != "" {
				m.ResourceID = chi.URLParam(r, idParam)
			}
			err := rec.Service.Record(r.Context(), m)
			if err != nil {
				rec.Logger.Warn().Err(err).Str("action", action).Msg("audit_record_failed")
			}
		})
	}
}

// ActorFromContext resolves the authenticated caller. JWT subjects are
// admins, API key principals are services.
func ActorFromContext(ctx context.Context) Actor {
	id, ok := common.UserID(ctx)
	switch {
	case !ok || id == "":
		return Actor{Kind: ActorKindAnonymous}
	case strings.HasPrefix(id, common.APIKeyPrincipalPrefix):
		return Actor{Kind: ActorKindService, ID: &id}
	default:
		return Actor{Kind: ActorKindAdmin, ID: &id}
	}
}

func mutationMeta(r *http.Request) []byte {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(map[string]string{"idempotencyKey": key})
	return raw
}
