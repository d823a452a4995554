package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(3, time.Minute, logger)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))

	// Buckets are per client.
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_RefillsAfterWindow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(1, 50*time.Millisecond, logger)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RateLimitMiddleware(2, time.Minute, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
		req.RemoteAddr = "10.0.0.1:4567"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:   "remote addr only",
			remote: "10.0.0.1:4567",
			want:   "10.0.0.1:4567",
		},
		{
			name:    "x-forwarded-for single",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			remote:  "10.0.0.1:4567",
			want:    "203.0.113.5",
		},
		{
			name:    "x-forwarded-for chain uses first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 70.41.3.18"},
			remote:  "10.0.0.1:4567",
			want:    "203.0.113.5",
		},
		{
			name:    "x-real-ip fallback",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			remote:  "10.0.0.1:4567",
			want:    "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
