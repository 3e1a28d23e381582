package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            1,
		Burst:           burst,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newTestRateLimiter(t, 5)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !rl.Allow("192.0.2.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if rl.Allow("192.0.2.1") {
		t.Error("request over burst allowed")
	}
	if !rl.Allow("192.0.2.2") {
		t.Error("other client denied")
	}

	now = now.Add(time.Second)
	if !rl.Allow("192.0.2.1") {
		t.Error("request denied after refill")
	}
}

func TestRateLimiter_ForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            1,
		Burst:           1,
		CleanupInterval: 20 * time.Millisecond,
	})
	t.Cleanup(rl.Stop)

	rl.Allow("192.0.2.1")
	rl.Allow("192.0.2.2")
	if got := rl.Visitors(); got != 2 {
		t.Fatalf("visitors = %d, want 2", got)
	}

	time.Sleep(100 * time.Millisecond)
	rl.Allow("192.0.2.3")

	if got := rl.Visitors(); got != 1 {
		t.Errorf("visitors after idle period = %d, want 1", got)
	}
	// A forgotten client starts with a full bucket again.
	if !rl.Allow("192.0.2.1") {
		t.Error("returning client denied")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newTestRateLimiter(t, 2)
	h := rl.Middleware(okHandler)

	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		req.RemoteAddr = "192.0.2.1:12345"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		want := http.StatusOK
		if i == 3 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, want)
		}
		if i == 3 && rec.Header().Get("Retry-After") != "1" {
			t.Error("Retry-After not set")
		}
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := extractIP(req); got != tt.want {
			t.Errorf("extractIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestAuthFailureLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	afl := NewAuthFailureLimiter(AuthFailureLimiterConfig{
		MaxFailures:   3,
		Window:        time.Minute,
		LockoutPeriod: 10 * time.Minute,
	})
	afl.now = func() time.Time { return now }
	ip := "192.0.2.1"

	for i, want := range []int{2, 1, -1} {
		if got := afl.RecordFailure(ip); got != want {
			t.Fatalf("failure %d: remaining = %d, want %d", i+1, got, want)
		}
	}
	if !afl.IsLocked(ip) {
		t.Fatal("not locked after max failures")
	}
	if got := afl.LockoutSecondsRemaining(ip); got != 601 {
		t.Errorf("lockout seconds = %d, want 601", got)
	}

	now = now.Add(10 * time.Minute)
	if afl.IsLocked(ip) {
		t.Error("still locked after lockout period")
	}
	if got := afl.LockoutSecondsRemaining(ip); got != 0 {
		t.Errorf("lockout seconds = %d, want 0", got)
	}
}

func TestAuthFailureLimiter_WindowResets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	afl := NewAuthFailureLimiter(AuthFailureLimiterConfig{
		MaxFailures:   2,
		Window:        time.Minute,
		LockoutPeriod: time.Minute,
	})
	afl.now = func() time.Time { return now }

	afl.RecordFailure("a")
	now = now.Add(2 * time.Minute)
	if got := afl.RecordFailure("a"); got != 1 {
		t.Errorf("remaining after window = %d, want 1", got)
	}
}

func TestAuthFailureLimiter_SuccessClears(t *testing.T) {
	afl := NewAuthFailureLimiter(DefaultAuthFailureLimiterConfig())
	for i := 0; i < 3; i++ {
		afl.RecordFailure(fmt.Sprint("ip-", i%2))
	}
	afl.RecordSuccess("ip-0")
	if got := afl.RecordFailure("ip-0"); got != 4 {
		t.Errorf("remaining = %d, want 4", got)
	}
	if got := afl.RecordFailure("ip-1"); got != 3 {
		t.Errorf("ip-1 remaining = %d, want 3", got)
	}
}

func TestAuthFailureLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	afl := NewAuthFailureLimiter(AuthFailureLimiterConfig{
		MaxFailures:   3,
		Window:        time.Minute,
		LockoutPeriod: time.Minute,
	})
	afl.now = func() time.Time { return now }

	for i := 0; i < historyPruneSize; i++ {
		afl.RecordFailure(fmt.Sprint("idle-", i))
	}
	now = now.Add(2 * time.Minute)
	afl.RecordFailure("fresh")

	afl.mu.Lock()
	n := len(afl.clients)
	afl.mu.Unlock()
	if n != 1 {
		t.Errorf("tracked clients = %d, want 1", n)
	}
}
