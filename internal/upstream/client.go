package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/obs"
)

// ErrNoCredential is returned when no bearer token is available for a call.
var ErrNoCredential = errors.New("upstream: no credential available")

const maxBodyBytes = 16 << 20

// Doer executes HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer credential for a call.
type TokenSource func(ctx context.Context) (string, error)

// ContextToken forwards the caller's credential stored on the context and
// falls back to a static service token, which the worker uses.
func ContextToken(fallback string) TokenSource {
	fallback = strings.TrimSpace(fallback)
	return func(ctx context.Context) (string, error) {
		if tok, ok := common.Credential(ctx); ok {
			return tok, nil
		}
		if fallback != "" {
			return fallback, nil
		}
		return "", ErrNoCredential
	}
}

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		if strings.TrimSpace(token) == "" {
			return "", ErrNoCredential
		}
		return token, nil
	}
}

// Paths lists the admin API resources.
type Paths struct {
	Users        string
	Catalogue    string
	Packages     string
	Refunds      string
	Applications string
	Orders       string
}

// DefaultPaths matches the production admin API.
var DefaultPaths = Paths{
	Users:        "/admin/users",
	Catalogue:    "/payment/Bundlecatalogue",
	Packages:     "/packages",
	Refunds:      "/refunds/admin",
	Applications: "/admin/applications",
	Orders:       "/admin/orders",
}

// Config groups Client dependencies.
type Config struct {
	BaseURL   string
	Tokens    TokenSource
	HTTP      Doer
	Paths     Paths
	PageLimit int
	// LegacyStatusDelete sends activation changes as DELETE with a body flag
	// for backends that have not split the endpoint yet.
	LegacyStatusDelete bool
	Logger             zerolog.Logger
}

// Client talks to the remote admin API.
type Client struct {
	base         *url.URL
	tokens       TokenSource
	http         Doer
	paths        Paths
	pageLimit    int
	legacyStatus bool
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("upstream: base url is required")
	}
	if strings.ContainsAny(raw, " \t\n") {
		return nil, fmt.Errorf("upstream: base url %q contains whitespace", raw)
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("upstream: base url %q must be absolute http(s)", raw)
	}
	if cfg.HTTP == nil {
		return nil, errors.New("upstream: http client is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("upstream: token source is required")
	}
	paths := cfg.Paths
	if paths == (Paths{}) {
		paths = DefaultPaths
	}
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = 100
	}
	return &Client{
		base:         base,
		tokens:       cfg.Tokens,
		http:         cfg.HTTP,
		paths:        paths,
		pageLimit:    limit,
		legacyStatus: cfg.LegacyStatusDelete,
		logger:       cfg.Logger,
		tracer:       otel.Tracer("upstream"),
	}, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.base.String() }

// endpoint joins the base URL and path. path is already escaped (ids go
// through escapeID), so it is kept as RawPath and not encoded again.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	raw := strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	if decoded, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = decoded, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call performs one request and returns the validated envelope body.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any) (res gjson.Result, err error) {
	ctx, span := c.tracer.Start(ctx, "upstream "+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		obs.CountUpstream(op, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("upstream.path", path))

	token, err := c.tokens(ctx)
	if err != nil {
		return gjson.Result{}, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("upstream %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("upstream %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return gjson.Result{}, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, &Error{Op: op, Status: resp.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return decodeEnvelope(op, resp.StatusCode, raw)
}

// decodeEnvelope validates {success, data, message} and returns the whole body.
func decodeEnvelope(op string, status int, raw []byte) (gjson.Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !gjson.ValidBytes(trimmed) {
		if status >= 200 && status < 300 {
			return gjson.Result{}, &Error{Op: op, Status: status, Message: "invalid json response"}
		}
		return gjson.Result{}, &Error{Op: op, Status: status, Message: http.StatusText(status)}
	}
	doc := gjson.ParseBytes(trimmed)
	message := doc.Get("message").String()
	if status < 200 || status >= 300 {
		if message == "" {
			message = doc.Get("error").String()
		}
		if message == "" {
			message = http.StatusText(status)
		}
		return gjson.Result{}, &Error{Op: op, Status: status, Message: message}
	}
	if success := doc.Get("success"); success.Exists() && !success.Bool() {
		if message == "" {
			message = "request rejected"
		}
		return gjson.Result{}, &Error{Op: op, Status: http.StatusUnprocessableEntity, Message: message}
	}
	return doc, nil
}
