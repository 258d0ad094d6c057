package user_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/events"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/user"
	"github.com/noah-isme/esim-admin/internal/view"
)

type fakeAPI struct {
	updated map[string]any
	active  *bool
	deleted string
	err     error
}

func (f *fakeAPI) UpdateUser(_ context.Context, id string, fields map[string]any) (view.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updated = fields
	rec := view.Record{"_id": id}
	for k, v := range fields {
		rec[k] = v
	}
	return rec, nil
}

func (f *fakeAPI) SetUserActive(_ context.Context, id string, active bool) error {
	if f.err != nil {
		return f.err
	}
	f.active = &active
	return nil
}

func (f *fakeAPI) DeleteUser(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = id
	return nil
}

type invalidations struct{ sources []upstream.Source }

func (i *invalidations) Invalidate(_ context.Context, s upstream.Source) {
	i.sources = append(i.sources, s)
}

type capture struct{ topics []string }

func (c *capture) Publish(_ context.Context, ev events.Event) error {
	c.topics = append(c.topics, ev.Topic)
	return nil
}

func newRouter(t *testing.T, api *fakeAPI) (http.Handler, *invalidations, *capture) {
	t.Helper()
	inv := &invalidations{}
	pub := &capture{}
	svc, err := user.NewService(user.ServiceConfig{API: api, Records: inv, Events: &events.Bus{Publishers: []events.Publisher{pub}}})
	require.NoError(t, err)
	h := &user.Handler{Service: svc}

	r := chi.NewRouter()
	r.Put("/users/{id}", h.Update)
	r.Patch("/users/{id}/status", h.SetStatus)
	r.Delete("/users/{id}", h.Delete)
	return r, inv, pub
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSetStatusKeepsUser(t *testing.T) {
	api := &fakeAPI{}
	h, inv, pub := newRouter(t, api)

	rec := do(h, http.MethodPatch, "/users/u1/status", `{"isActive":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, api.active)
	require.False(t, *api.active)
	require.Empty(t, api.deleted)
	require.Equal(t, []upstream.Source{upstream.SourceUsers}, inv.sources)
	require.Equal(t, []string{events.TopicUserStatusChanged}, pub.topics)

	rec = do(h, http.MethodPatch, "/users/u1/status", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}

func TestDeleteUser(t *testing.T) {
	api := &fakeAPI{}
	h, _, pub := newRouter(t, api)

	rec := do(h, http.MethodDelete, "/users/u7", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "u7", api.deleted)
	require.Nil(t, api.active)
	require.Equal(t, []string{events.TopicUserDeleted}, pub.topics)
}

func TestUpdateUser(t *testing.T) {
	api := &fakeAPI{}
	h, _, _ := newRouter(t, api)

	rec := do(h, http.MethodPut, "/users/u1", `{"firstName":" Ann ","email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"firstName": "Ann", "email": "ann@example.com"}, api.updated)

	rec = do(h, http.MethodPut, "/users/u1", `{"email":"not-an-email"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"email"`)

	rec = do(h, http.MethodPut, "/users/u1", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpstreamErrorsAreMapped(t *testing.T) {
	api := &fakeAPI{err: &upstream.Error{Op: "users.delete", Status: http.StatusNotFound, Message: "user not found"}}
	h, inv, _ := newRouter(t, api)

	rec := do(h, http.MethodDelete, "/users/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "user not found")
	require.Empty(t, inv.sources)
}
