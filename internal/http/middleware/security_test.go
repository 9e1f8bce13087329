package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// securityRequest runs one request through SecurityHeaders with an optional
// pre-middleware that seeds response headers first.
func securityRequest(t *testing.T, opt SecurityOptions, pre gin.HandlerFunc, mutate func(*http.Request)) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/boards", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boards", nil)
	if mutate != nil {
		mutate(req)
	}
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_BaselineOnly(t *testing.T) {
	h := securityRequest(t, SecurityOptions{}, nil, nil)

	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	for _, hdr := range []string{
		"Permissions-Policy", "X-Permitted-Cross-Domain-Policies",
		"Cache-Control", "Pragma", "Expires",
		"Strict-Transport-Security",
	} {
		if h.Get(hdr) != "" {
			t.Fatalf("optional header %s set without opt-in: %q", hdr, h.Get(hdr))
		}
	}
}

func TestSecurityHeaders_ExposeRequestID(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		want     string
	}{
		{"added when absent", "", "X-Request-ID"},
		{"appended to existing", "Foo", "Foo, X-Request-ID"},
		{"not duplicated", "X-Request-ID, Foo", "X-Request-ID, Foo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pre := func(c *gin.Context) {
				c.Header("X-Request-ID", "rid-123")
				if tc.existing != "" {
					c.Header("Access-Control-Expose-Headers", tc.existing)
				}
				c.Next()
			}
			h := securityRequest(t, SecurityOptions{}, pre, nil)
			if got := h.Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("Access-Control-Expose-Headers = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestSecurityHeaders_PolicyNoStoreAndHSTSOverTLS(t *testing.T) {
	opt := SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}
	h := securityRequest(t, opt, nil, func(req *http.Request) {
		req.TLS = &tls.ConnectionState{}
	})

	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("missing cache headers: %#v", h)
	}
	wantHSTS := "max-age=86400; includeSubDomains; preload"
	if h.Get("Strict-Transport-Security") != wantHSTS {
		t.Fatalf("HSTS = %q; want %q", h.Get("Strict-Transport-Security"), wantHSTS)
	}
}

func TestSecurityHeaders_HSTSBehindProxy(t *testing.T) {
	opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}

	// Proxy-terminated TLS announces itself via X-Forwarded-Proto.
	h := securityRequest(t, opt, nil, func(req *http.Request) {
		req.Header.Set("X-Forwarded-Proto", "https")
	})
	if got := h.Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=") {
		t.Fatalf("expected HSTS behind proxy, got %q", got)
	}

	// Plain HTTP never gets HSTS even when enabled.
	h = securityRequest(t, opt, nil, nil)
	if got := h.Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("unexpected HSTS on plain HTTP: %q", got)
	}
}

func Test_isHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(plain) {
		t.Fatalf("plain HTTP should not be https")
	}

	direct := httptest.NewRequest(http.MethodGet, "/", nil)
	direct.TLS = &tls.ConnectionState{}
	if !isHTTPS(direct) {
		t.Fatalf("TLS request should be https")
	}

	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(proxied) {
		t.Fatalf("X-Forwarded-Proto should be case-insensitive")
	}
}
