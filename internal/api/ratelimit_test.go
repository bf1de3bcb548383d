package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reelshelf/reelshelf-server/internal/http/response"
)

func TestRateLimitMiddleware_MutatingRequests(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour, 1)
	t.Cleanup(limiter.Stop)

	ts := setupTestServer(t, withLimiter(limiter))
	ts.addItem(t, 1, "h264", "aac")

	assert.Equal(t, http.StatusOK, ts.api.Delete("/api/v1/items/1/conversion").Code)

	resp := ts.api.Delete("/api/v1/items/1/conversion")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, response.CodeRateLimited, decodeError(t, resp).Code)

	// Another client has its own bucket.
	resp = ts.api.Delete("/api/v1/items/1/conversion", "X-Forwarded-For: 10.0.0.9")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimitMiddleware_ReadsPassThrough(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour, 1)
	t.Cleanup(limiter.Stop)

	ts := setupTestServer(t, withLimiter(limiter))

	for range 5 {
		assert.Equal(t, http.StatusOK, ts.api.Get("/api/v1/conversions").Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:4000", want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.2 "}, remote: "10.0.0.1:4000", want: "198.51.100.2"},
		{name: "remote addr", remote: "192.0.2.10:51234", want: "192.0.2.10"},
		{name: "ipv6 remote addr", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote addr without port", remote: "192.0.2.11", want: "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}
