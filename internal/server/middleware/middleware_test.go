package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var echoID = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, RequestID(r.Context()))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth_KeyRotation(t *testing.T) {
	h := Auth("old-key, new-key", "/api/health")(echoID)

	tests := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{"missing", "/api/products", [2]string{}, http.StatusUnauthorized},
		{"wrong", "/api/products", [2]string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"old key", "/api/products", [2]string{"X-API-Key", "old-key"}, http.StatusOK},
		{"new key bearer", "/api/products", [2]string{"Authorization", "Bearer new-key"}, http.StatusOK},
		{"public path", "/api/health", [2]string{}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			rec := serve(h, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"kind":"unauthorized"`)
			}
		})
	}

	open := Auth("")(echoID)
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodGet, "/api/products", nil)).Code)
}

func TestLogging_RequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), "/api/health")(echoID)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	id := rec.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Equal(t, id, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "client-42")
	rec = serve(h, req)
	assert.Equal(t, "client-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "client-42", rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(echoID)

	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "https://APP.example")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://APP.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), BlockHeader)
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLedgerBlock(t *testing.T) {
	h := LedgerBlock(func() uint64 { return 17 })(echoID)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/chain", nil))
	assert.Equal(t, "17", rec.Header().Get(BlockHeader))
}

type countingLimiter struct {
	keys  []string
	allow bool
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, nil
}

func (l *countingLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit_BucketsAndRetryAfter(t *testing.T) {
	lim := &countingLimiter{allow: true}
	h := RateLimit(lim, 10, 30*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))(echoID)

	req := httptest.NewRequest(http.MethodPost, "/api/calls", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
	serve(h, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Equal(t, []string{"ratelimit:write:203.0.113.9", "ratelimit:read:192.0.2.1"}, lim.keys)

	lim.allow = false
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		remote string
		want   string
	}{
		{"forwarded", "X-Forwarded-For", "198.51.100.4, 10.0.0.1", "10.0.0.1:80", "198.51.100.4"},
		{"forwarded garbage", "X-Forwarded-For", "not-an-ip", "192.0.2.7:5000", "192.0.2.7"},
		{"real ip", "X-Real-IP", " 2001:db8::1 ", "10.0.0.1:80", "2001:db8::1"},
		{"mapped peer", "", "", "[::ffff:192.0.2.9]:443", "192.0.2.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
