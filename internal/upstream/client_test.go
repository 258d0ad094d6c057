package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/resilience"
	"github.com/noah-isme/esim-admin/internal/upstream"
)

type recorded struct {
	Method  string
	Path    string
	RawPath string
	Query   string
	Auth   string
	Body   map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]http.HandlerFunc
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, RawPath: r.URL.EscapedPath(), Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	f.mu.Unlock()
	if h, ok := f.handlers[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"success":false,"message":"route not found"}`))
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newClient(t *testing.T, api *fakeAPI, mutate func(*upstream.Config)) *upstream.Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg := upstream.Config{
		BaseURL:   srv.URL + "/api/v1",
		Tokens:    upstream.ContextToken(""),
		HTTP:      resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		PageLimit: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := upstream.New(cfg)
	require.NoError(t, err)
	return client
}

func authed() context.Context {
	return common.WithCredential(context.Background(), "caller-token")
}

func TestNewRejectsMalformedBaseURL(t *testing.T) {
	cases := []string{
		"",
		"https://SAHOOLAT APP.codistan.org",
		"ftp://example.com",
		"/relative/path",
		"https://",
	}
	for _, raw := range cases {
		_, err := upstream.New(upstream.Config{
			BaseURL: raw,
			Tokens:  upstream.StaticToken("t"),
			HTTP:    resilience.HTTPClient{Client: http.DefaultClient},
		})
		require.Error(t, err, raw)
	}

	client, err := upstream.New(upstream.Config{
		BaseURL: "https://admin.example.com/api/",
		Tokens:  upstream.StaticToken("t"),
		HTTP:    resilience.HTTPClient{Client: http.DefaultClient},
	})
	require.NoError(t, err)
	require.Equal(t, "https://admin.example.com/api", client.BaseURL())
}

func TestListUsersPagesAndForwardsCredential(t *testing.T) {
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"GET /api/v1/admin/users": func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("page") {
			case "1":
				writeJSON(w, 200, `{"success":true,"data":{"users":[{"_id":"1","firstName":"Ann"},{"_id":"2","firstName":"Bob"}],"total":3}}`)
			default:
				writeJSON(w, 200, `{"success":true,"data":{"users":[{"_id":"3","firstName":"Cy"}],"total":3}}`)
			}
		},
	}}
	client := newClient(t, api, nil)

	users, err := client.ListUsers(authed())
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, "3", users[2].ID())
	require.Equal(t, 2, api.count())
	require.Equal(t, "Bearer caller-token", api.last().Auth)
	require.Contains(t, api.last().Query, "limit=2")
}

func TestListStopsWhenServerIgnoresPaging(t *testing.T) {
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"GET /api/v1/payment/Bundlecatalogue": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"success":true,"data":[{"id":"a","price":1},{"id":"b","price":2}]}`)
		},
	}}
	client := newClient(t, api, nil)

	pkgs, err := client.ListPackages(authed(), nil)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	require.Equal(t, 2, api.count())
}

func TestListWithoutCredential(t *testing.T) {
	api := &fakeAPI{}
	client := newClient(t, api, nil)

	_, err := client.ListRefunds(context.Background())
	require.ErrorIs(t, err, upstream.ErrNoCredential)
	require.Equal(t, 0, api.count())

	appErr, ok := upstream.ToAppError(err).(*common.AppError)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestStaticFallbackToken(t *testing.T) {
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"GET /api/v1/admin/orders": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"success":true,"data":[]}`)
		},
	}}
	client := newClient(t, api, func(cfg *upstream.Config) {
		cfg.Tokens = upstream.ContextToken("service-token")
	})

	orders, err := client.List(context.Background(), upstream.SourceOrders)
	require.NoError(t, err)
	require.Empty(t, orders)
	require.NotNil(t, orders)
	require.Equal(t, "Bearer service-token", api.last().Auth)
}

func TestSetUserActiveAndDelete(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, `{"success":true}`) }
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"PATCH /api/v1/admin/users/u1/status": ok,
		"DELETE /api/v1/admin/users/u1":       ok,
	}}
	client := newClient(t, api, nil)

	require.NoError(t, client.SetUserActive(authed(), "u1", false))
	require.Equal(t, http.MethodPatch, api.last().Method)
	require.Equal(t, false, api.last().Body["isActive"])

	require.NoError(t, client.DeleteUser(authed(), "u1"))
	require.Equal(t, http.MethodDelete, api.last().Method)
	require.Nil(t, api.last().Body)

	require.Error(t, client.DeleteUser(authed(), "  "))
}

func TestIDsAreEscapedOnce(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, `{"success":true}`) }
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"PATCH /api/v1/admin/users/a/b c/status": ok,
		"DELETE /api/v1/admin/users/50%":         ok,
	}}
	client := newClient(t, api, nil)

	require.NoError(t, client.SetUserActive(authed(), "a/b c", true))
	require.Equal(t, "/api/v1/admin/users/a%2Fb%20c/status", api.last().RawPath)

	require.NoError(t, client.DeleteUser(authed(), "50%"))
	require.Equal(t, "/api/v1/admin/users/50%25", api.last().RawPath)
}

func TestLegacyStatusDelete(t *testing.T) {
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"DELETE /api/v1/admin/users/u1": func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, `{"success":true}`) },
	}}
	client := newClient(t, api, func(cfg *upstream.Config) { cfg.LegacyStatusDelete = true })

	require.NoError(t, client.SetUserActive(authed(), "u1", true))
	require.Equal(t, false, api.last().Body["isDeleted"])

	require.NoError(t, client.DeleteUser(authed(), "u1"))
	require.Equal(t, true, api.last().Body["permanent"])
}

func TestUpdateReturnsRecord(t *testing.T) {
	api := &fakeAPI{handlers: map[string]http.HandlerFunc{
		"PUT /api/v1/packages/p1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"success":true,"data":{"package":{"_id":"p1","price":12.5}}}`)
		},
		"PUT /api/v1/refunds/admin/r1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"success":true,"data":{"_id":"r1","status":"approved"}}`)
		},
	}}
	client := newClient(t, api, nil)

	pkg, err := client.UpdatePackage(authed(), "p1", map[string]any{"price": 12.5})
	require.NoError(t, err)
	price, _ := pkg.Number("price")
	require.Equal(t, 12.5, price)

	refund, err := client.UpdateRefundStatus(authed(), "r1", "approved", "ok")
	require.NoError(t, err)
	require.Equal(t, "approved", refund.String("status"))
	require.Equal(t, "ok", api.last().Body["adminNote"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   int
		code   string
	}{
		{name: "not found", status: 404, body: `{"message":"user not found"}`, want: 404, code: "NOT_FOUND"},
		{name: "forbidden", status: 403, body: `{"message":"nope"}`, want: 403, code: "UNAUTHORIZED"},
		{name: "validation", status: 400, body: `{"error":"bad price"}`, want: 400, code: "UPSTREAM_ERROR"},
		{name: "server", status: 500, body: `oops`, want: 502, code: "UPSTREAM_ERROR"},
		{name: "rejected envelope", status: 200, body: `{"success":false,"message":"denied"}`, want: 422, code: "UPSTREAM_ERROR"},
		{name: "invalid json", status: 200, body: `{not json`, want: 502, code: "UPSTREAM_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{handlers: map[string]http.HandlerFunc{
				"DELETE /api/v1/packages/p1": func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tc.status, tc.body) },
			}}
			client := newClient(t, api, nil)

			err := client.DeletePackage(authed(), "p1")
			require.Error(t, err)
			var appErr *common.AppError
			require.True(t, errors.As(upstream.ToAppError(err), &appErr))
			require.Equal(t, tc.want, appErr.HTTPStatus, strconv.Itoa(tc.status))
			require.Equal(t, tc.code, appErr.Code)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := upstream.New(upstream.Config{
		BaseURL: base,
		Tokens:  upstream.StaticToken("t"),
		HTTP:    resilience.HTTPClient{Client: http.DefaultClient},
	})
	require.NoError(t, err)

	_, err = client.ListUsers(context.Background())
	require.Error(t, err)
	var appErr *common.AppError
	require.True(t, errors.As(upstream.ToAppError(err), &appErr))
	require.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
}

func TestParseSource(t *testing.T) {
	src, err := upstream.ParseSource("refunds")
	require.NoError(t, err)
	require.Equal(t, upstream.SourceRefunds, src)

	_, err = upstream.ParseSource("invoices")
	require.Error(t, err)
}
