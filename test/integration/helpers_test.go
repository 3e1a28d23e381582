//go:build integration

// Package integration runs server output through the whole pipeline and
// checks the result over HTTP.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/graaaaa/valheim-watcher/internal/api"
	"github.com/graaaaa/valheim-watcher/internal/app"
	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/ingest"
	"github.com/graaaaa/valheim-watcher/internal/store"
)

// sessionLog is a short server session: Bjorn joins and saves, an
// unparsable line, then a wrong password from another peer.
const sessionLog = `03/11/2021 19:47:02: Got connection SteamID 76561199036446150
03/11/2021 19:47:10: Got character ZDOID from Bjorn : 120:45
03/11/2021 19:50:00: World saved ( 12.345ms )
03/11/2021 19:50:01: Got connection SteamID 99999999999999999999999
03/11/2021 19:51:00: Peer 76561197969472572 has wrong password
03/11/2021 19:52:00: Some unrelated engine output
`

// TestApp holds the wired pipeline.
type TestApp struct {
	Server *httptest.Server
	Store  *store.Store
	State  *derive.State
	Hub    *api.Hub

	// fresh counts events not already stored.
	fresh int
}

type testAppConfig struct {
	authEnabled bool
	username    string
	password    string
	limiter     *api.AuthFailureLimiter
}

// TestAppOption configures a test app.
type TestAppOption func(*testAppConfig)

// WithAuth enables basic auth.
func WithAuth(username, password string) TestAppOption {
	return func(cfg *testAppConfig) {
		cfg.authEnabled = true
		cfg.username = username
		cfg.password = password
	}
}

// WithLockout enables the auth failure limiter.
func WithLockout(cfg api.AuthFailureLimiterConfig) TestAppOption {
	return func(c *testAppConfig) {
		c.limiter = api.NewAuthFailureLimiter(cfg)
	}
}

// NewTestApp wires a store, correlator, hub and API server. Resources are
// released by t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	a := &TestApp{
		Store: st,
		State: derive.New(),
		Hub:   api.NewHub(),
	}
	go a.Hub.Run()

	serverOpts := []api.ServerOption{
		api.WithEventsUsecase(&app.EventsService{Store: st}),
		api.WithStateUsecase(app.StateService{State: a.State}),
		api.WithStatsUsecase(app.NewStatsService(st)),
		api.WithHub(a.Hub),
	}
	if cfg.authEnabled {
		serverOpts = append(serverOpts, api.WithBasicAuth(cfg.username, cfg.password))
	}
	if cfg.limiter != nil {
		serverOpts = append(serverOpts, api.WithAuthFailureLimiter(cfg.limiter))
	}

	health := app.HealthService{Version: "test", Mode: "watch", DB: st}
	server := api.NewServer("127.0.0.1:0", health, serverOpts...)
	a.Server = httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		a.Server.Close()
		a.Hub.Stop()
		st.Close()
	})
	return a
}

// URL returns the base URL of the test server.
func (a *TestApp) URL() string {
	return a.Server.URL
}

// Ingest runs text through an ingester until end of input.
func (a *TestApp) Ingest(t *testing.T, text string) {
	t.Helper()

	src := ingest.NewReaderSource(strings.NewReader(text))
	ing := ingest.New(src, a.Store,
		ingest.WithOnEvent(func(_ context.Context, in ingest.Ingested) {
			notes := a.State.Apply(in.Event.Event)
			if !in.Fresh {
				return
			}
			a.fresh++
			a.Hub.PublishRecord(in.Record)
			a.Hub.PublishNotifications(notes)
		}),
	)
	if err := ing.Run(context.Background()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

// getJSON fetches path and decodes the body into v.
func getJSON(t *testing.T, client *http.Client, req *http.Request, v any) *http.Response {
	t.Helper()

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", req.URL.Path, err)
		}
	}
	return resp
}

func newRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}
