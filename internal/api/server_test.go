package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/app"
)

type stubState struct{ result app.StateResult }

func (s stubState) GetCurrentState(ctx context.Context) app.StateResult { return s.result }

type stubStats struct {
	result *app.StatsResult
	err    error
}

func (s stubStats) GetBasicStats(ctx context.Context) (*app.StatsResult, error) {
	return s.result, s.err
}

type stubConfig struct {
	got    *app.ConfigUpdateRequest
	result app.ConfigUpdateResponse
	err    error
}

func (s *stubConfig) GetConfig(ctx context.Context) app.ConfigResponse {
	return app.ConfigResponse{Port: 8080, NotifyOnConnect: true}
}

func (s *stubConfig) UpdateConfig(ctx context.Context, req app.ConfigUpdateRequest) (app.ConfigUpdateResponse, error) {
	s.got = &req
	return s.result, s.err
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := NewServer(":0", app.HealthService{Version: "test-version", Mode: "watch"}).Handler()

	rec := serve(h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp app.HealthResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test-version" || resp.Mode != "watch" {
		t.Errorf("health = %+v", resp)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestHealthEndpointMethodNotAllowed(t *testing.T) {
	h := NewServer(":0", app.HealthService{}).Handler()

	if rec := serve(h, http.MethodPost, "/api/v1/health", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRoutesNotMountedWithoutUsecase(t *testing.T) {
	h := NewServer(":0", app.HealthService{}).Handler()

	for _, path := range []string{
		"/api/v1/events",
		"/api/v1/parse-failures",
		"/api/v1/now",
		"/api/v1/stats/basic",
		"/api/v1/config",
		"/api/v1/stream",
		"/metrics",
	} {
		if rec := serve(h, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestNowEndpoint(t *testing.T) {
	state := stubState{result: app.StateResult{
		Online: []app.OnlinePeer{{
			PeerID:     "76561198000000001",
			Character:  "Ragnar",
			ProfileURL: "https://steamcommunity.com/profiles/76561198000000001",
		}},
		PendingPeers:      []string{"76561198000000002"},
		PendingCharacters: []string{},
	}}
	h := NewServer(":0", app.HealthService{}, WithStateUsecase(state)).Handler()

	rec := serve(h, http.MethodGet, "/api/v1/now", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp app.StateResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Online) != 1 || resp.Online[0].Character != "Ragnar" {
		t.Errorf("online = %+v", resp.Online)
	}
	if len(resp.PendingPeers) != 1 || resp.PendingPeers[0] != "76561198000000002" {
		t.Errorf("pending peers = %v", resp.PendingPeers)
	}
}

func TestStatsEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		stats stubStats
		want  int
	}{
		{"ok", stubStats{result: &app.StatsResult{TodayConnects: 3, RecentCharacters: []string{"Ragnar"}}}, http.StatusOK},
		{"store failure", stubStats{err: errors.New("database is locked")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(":0", app.HealthService{}, WithStatsUsecase(tt.stats)).Handler()
			rec := serve(h, http.MethodGet, "/api/v1/stats/basic", "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				if strings.Contains(rec.Body.String(), "locked") {
					t.Error("internal error detail leaked to the client")
				}
				return
			}
			var resp app.StatsResult
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.TodayConnects != 3 {
				t.Errorf("today connects = %d", resp.TodayConnects)
			}
		})
	}
}

func TestConfigEndpoints(t *testing.T) {
	cfg := &stubConfig{result: app.ConfigUpdateResponse{Success: true, RestartRequired: true}}
	h := NewServer(":0", app.HealthService{}, WithConfigUsecase(cfg)).Handler()

	rec := serve(h, http.MethodGet, "/api/v1/config", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"notify_on_connect":true`) {
		t.Fatalf("GET config = %d %s", rec.Code, rec.Body)
	}

	rec = serve(h, http.MethodPut, "/api/v1/config", `{"notify_on_world_save":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT config = %d %s", rec.Code, rec.Body)
	}
	if cfg.got == nil || cfg.got.NotifyOnWorldSave == nil || !*cfg.got.NotifyOnWorldSave {
		t.Errorf("request not forwarded: %+v", cfg.got)
	}
}

func TestPutConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"unknown field", `{"webhook":"x"}`, nil, http.StatusBadRequest},
		{"malformed", `{`, nil, http.StatusBadRequest},
		{"rejected value", `{"port":0}`, fmt.Errorf("%w: port must be between 1 and 65535", app.ErrInvalidConfig), http.StatusBadRequest},
		{"write failure", `{"port":9000}`, errors.New("read-only file system"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &stubConfig{err: tt.err}
			h := NewServer(":0", app.HealthService{}, WithConfigUsecase(cfg)).Handler()
			rec := serve(h, http.MethodPut, "/api/v1/config", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestPutConfig_ForeignOrigin(t *testing.T) {
	cfg := &stubConfig{}
	h := NewServer(":0", app.HealthService{}, WithConfigUsecase(cfg)).Handler()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"port":9000}`))
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if cfg.got != nil {
		t.Error("update applied despite a foreign origin")
	}
}

func TestBasicAuthGuardsAllButHealth(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "valheim_watcher_lines_read_total 0")
	})
	h := NewServer(":0", app.HealthService{},
		WithEventsUsecase(&MockEventsService{}),
		WithStateUsecase(stubState{}),
		WithStatsUsecase(stubStats{result: &app.StatsResult{}}),
		WithConfigUsecase(&stubConfig{}),
		WithMetricsHandler(metrics),
		WithBasicAuth("valheim", "secret"),
	).Handler()

	if rec := serve(h, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200 without credentials", rec.Code)
	}

	for _, path := range []string{
		"/api/v1/events",
		"/api/v1/parse-failures",
		"/api/v1/now",
		"/api/v1/stats/basic",
		"/api/v1/config",
		"/metrics",
	} {
		if rec := serve(h, http.MethodGet, path, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without credentials = %d, want 401", path, rec.Code)
		}

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("valheim", "secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s with credentials = %d, want 200", path, rec.Code)
		}
	}
}

func TestWithBasicAuth_EmptyCredentialsDisable(t *testing.T) {
	h := NewServer(":0", app.HealthService{},
		WithStateUsecase(stubState{}),
		WithBasicAuth("valheim", ""),
	).Handler()

	if rec := serve(h, http.MethodGet, "/api/v1/now", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestServerRateLimited(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()
	h := NewServer(":0", app.HealthService{}, WithRateLimiter(rl)).Handler()

	if rec := serve(h, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", rec.Code)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", app.HealthService{Version: "v"})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Serve returned %v, want nil after Shutdown", err)
	}
}
