// Package security holds transport hardening middleware for the admin API.
package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// baseline applies to every admin response. Admin payloads carry customer
// data and are never cached.
var baseline = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// Headers sets the baseline response headers and, for HTTPS requests,
// Strict-Transport-Security. TrustProxy treats X-Forwarded-Proto: https as
// HTTPS for deployments behind a TLS terminating load balancer.
type Headers struct {
	HSTS           bool
	HSTSMaxAge     time.Duration
	HSTSSubdomains bool
	TrustProxy     bool
}

func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := h.hstsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := w.Header()
		for _, kv := range baseline {
			out.Set(kv[0], kv[1])
		}
		if hsts != "" && h.secure(r) {
			out.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) hstsValue() string {
	if !h.HSTS {
		return ""
	}
	age := h.HSTSMaxAge
	if age <= 0 {
		age = 365 * 24 * time.Hour
	}
	v := fmt.Sprintf("max-age=%d", int64(age/time.Second))
	if h.HSTSSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

func (h Headers) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.TrustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
