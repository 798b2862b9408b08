package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware(CORSConfig{
		AllowedOrigins: []string{"http://viewer.local"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"X-API-Key"},
		MaxAge:         600,
	})(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"same-origin group list", "GET", "", http.StatusOK, ""},
		{"allowed viewer", "GET", "http://viewer.local", http.StatusOK, "http://viewer.local"},
		{"foreign origin", "GET", "http://elsewhere.example", http.StatusOK, ""},
		{"seen preflight", "OPTIONS", "http://viewer.local", http.StatusNoContent, "http://viewer.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/groups", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORSPreflightHeaders(t *testing.T) {
	handler := CORSMiddleware(DefaultCORSConfig())(okHandler())

	req := httptest.NewRequest("OPTIONS", "/api/v1/groups/seen", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	want := map[string]string{
		"Access-Control-Allow-Origin":  "http://localhost:5173",
		"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers": "Accept, Authorization, Content-Type, X-API-Key",
		"Access-Control-Max-Age":       "86400",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("credentials header set without AllowCredentials: %q", got)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	defer rl.Close()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third request inside the burst window should be limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("second client shares no budget with the first")
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	// Keep the second client fresh, age the first past idleTTL.
	now := time.Now()
	rl.mu.Lock()
	rl.limiters["10.0.0.1"].lastSeen = now.Add(-idleTTL - time.Second)
	rl.limiters["10.0.0.2"].lastSeen = now
	rl.mu.Unlock()

	rl.evictIdle(now)

	rl.mu.Lock()
	_, stale := rl.limiters["10.0.0.1"]
	_, fresh := rl.limiters["10.0.0.2"]
	n := len(rl.limiters)
	rl.mu.Unlock()
	if stale {
		t.Error("idle limiter for 10.0.0.1 was not evicted")
	}
	if !fresh || n != 1 {
		t.Errorf("fresh limiter dropped: present=%v, len=%d", fresh, n)
	}

	// Everything goes once the clock moves past the TTL.
	rl.evictIdle(now.Add(idleTTL + time.Second))
	rl.mu.Lock()
	n = len(rl.limiters)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("limiters after full expiry = %d, want 0", n)
	}

	// An evicted client starts over with a full burst.
	if !rl.Allow("10.0.0.1") {
		t.Error("evicted client should get a fresh limiter")
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, 10)

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			rl.Close()
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	select {
	case <-rl.stop:
	default:
		t.Fatal("stop channel still open after Close")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	handler := RateLimitMiddleware(rl)(okHandler())

	send := func(remote, realIP string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/regroup", nil)
		req.RemoteAddr = remote
		if realIP != "" {
			req.Header.Set("X-Real-IP", realIP)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := send("127.0.0.1:1234", ""); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := send("127.0.0.1:5678", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same host, new port: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	if w := send("127.0.0.1:1234", "203.0.113.9"); w.Code != http.StatusOK {
		t.Errorf("X-Real-IP client should be keyed separately, status = %d", w.Code)
	}
}
