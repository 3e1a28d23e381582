package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli/v2"

	"github.com/graaaaa/valheim-watcher/internal/api"
	"github.com/graaaaa/valheim-watcher/internal/app"
	"github.com/graaaaa/valheim-watcher/internal/config"
	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/ingest"
	"github.com/graaaaa/valheim-watcher/internal/metrics"
	"github.com/graaaaa/valheim-watcher/internal/notify"
	"github.com/graaaaa/valheim-watcher/internal/singleinstance"
	"github.com/graaaaa/valheim-watcher/internal/store"
	"github.com/graaaaa/valheim-watcher/internal/version"
)

const (
	notifierStopTimeout = 5 * time.Second
	apiShutdownTimeout  = 5 * time.Second
)

// watcher owns everything shared by run and watch: the store, the
// correlator, the notification fan-out and the API.
type watcher struct {
	mode        string
	cfg         config.Config
	secrets     config.Secrets
	configPath  string
	secretsPath string
	logger      *slog.Logger
	startedAt   time.Time

	db       *store.Store
	state    *derive.State
	hub      *api.Hub
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	stats    *app.StatsService
	server   *api.Server
	limiter  *api.RateLimiter

	// pid of the supervised server, 0 when there is none.
	pid atomic.Int64

	stopping sync.Once
	release  func()
	apiErr   chan error
}

// newWatcher loads settings, takes the instance lock and opens the store.
func newWatcher(c *cli.Context, mode string) (*watcher, error) {
	w := &watcher{
		mode:      mode,
		logger:    slog.Default().With("mode", mode),
		startedAt: time.Now(),
		apiErr:    make(chan error, 1),
	}

	if _, err := config.EnsureDataDir(); err != nil {
		return nil, err
	}

	if err := w.loadSettings(c); err != nil {
		return nil, err
	}

	lockPath, err := config.LockFilePath()
	if err != nil {
		return nil, err
	}
	release, err := singleinstance.Acquire(lockPath)
	if err != nil {
		if errors.Is(err, singleinstance.ErrLocked) {
			return nil, fmt.Errorf("%w (lock %s)", err, lockPath)
		}
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	w.release = release

	dbPath, err := config.DatabasePath()
	if err != nil {
		w.release()
		return nil, err
	}
	db, err := store.Open(dbPath, store.WithLogger(w.logger))
	if err != nil {
		w.release()
		return nil, fmt.Errorf("open database: %w", err)
	}
	w.db = db

	if _, err := db.VacuumIfNeeded(c.Context); err != nil {
		w.logger.Warn("vacuum failed", "error", err)
	}

	w.state = derive.New()
	w.metrics = metrics.New()
	w.stats = app.NewStatsService(db)
	w.hub = api.NewHub(api.WithHubLogger(w.logger))

	if !w.secrets.DiscordWebhookURL.IsEmpty() {
		sender := notify.NewDiscordSender(w.secrets.DiscordWebhookURL, notify.WithSenderLogger(w.logger))
		w.notifier = notify.NewNotifier(sender, w.cfg.BatchDelay(), filterFromConfig(w.cfg),
			notify.WithNotifierLogger(w.logger))
		log.Println("Discord notifications enabled")
	} else {
		log.Println("Discord webhook not configured, notifications disabled")
	}

	return w, nil
}

// loadSettings reads config and secrets, applying env and flag overrides.
// LAN mode credentials are generated on first use.
func (w *watcher) loadSettings(c *cli.Context) error {
	var err error
	w.configPath = c.String("config")
	if w.configPath == "" {
		if w.configPath, err = config.ConfigPath(); err != nil {
			return err
		}
	}
	if w.secretsPath, err = config.SecretsPath(); err != nil {
		return err
	}

	cfg, err := config.LoadConfigFrom(w.configPath)
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg = config.ApplyEnvOverrides(cfg)
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	w.cfg = cfg

	secrets, status, err := config.LoadSecretsFrom(w.secretsPath)
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	updated, generatedPw, err := config.EnsureLanAuth(&secrets, cfg.LanEnabled)
	if err != nil {
		return fmt.Errorf("ensure LAN auth: %w", err)
	}
	switch {
	case updated && status != config.SecretsFallback:
		if err := config.SaveSecretsTo(secrets, w.secretsPath); err != nil {
			return fmt.Errorf("save secrets: %w", err)
		}
		if generatedPw != "" {
			pwPath, err := config.WritePasswordFile(secrets.BasicAuthUsername, generatedPw)
			if err != nil {
				log.Printf("Warning: failed to write password file: %v", err)
				log.Printf("Generated credentials: %s / %s", secrets.BasicAuthUsername, generatedPw)
			} else {
				log.Printf("Basic auth credentials written to %s; delete it once saved", pwPath)
			}
		}
	case updated:
		log.Println("WARNING: secrets file has errors; generated credentials were not saved")
	}

	// Env secrets are applied after saving so they never reach disk.
	w.secrets = config.ApplySecretEnvOverrides(secrets)
	return nil
}

func filterFromConfig(cfg config.Config) notify.FilterConfig {
	return notify.FilterConfig{
		NotifyOnConnect:    cfg.NotifyOnConnect,
		NotifyOnDisconnect: cfg.NotifyOnDisconnect,
		NotifyOnRejected:   cfg.NotifyOnRejected,
		NotifyOnDeath:      cfg.NotifyOnDeath,
		NotifyOnWorldSave:  cfg.NotifyOnWorldSave,
	}
}

// sourceOptions are the options every event source gets.
func (w *watcher) sourceOptions(extra ...ingest.SourceOption) []ingest.SourceOption {
	opts := []ingest.SourceOption{
		ingest.WithSourceLogger(w.logger),
		ingest.WithOnLine(w.metrics.LineRead),
	}
	return append(opts, extra...)
}

// ingester builds the ingester that feeds the correlator and fan-out.
func (w *watcher) ingester(src ingest.EventSource) *ingest.Ingester {
	return ingest.New(src, w.db,
		ingest.WithLogger(w.logger),
		ingest.WithOnEvent(w.onEvent),
		ingest.WithOnParseFailure(func(err *ingest.ParseError) {
			w.metrics.ObserveParseFailure(err)
		}),
	)
}

// onEvent applies one event to the correlator. Lines already in the store
// (a re-read log) rebuild state but are not announced again.
func (w *watcher) onEvent(ctx context.Context, in ingest.Ingested) {
	notes := w.state.Apply(in.Event.Event)

	w.metrics.ObserveEvent(in.Event.Event, in.Fresh)
	w.metrics.ObserveState(w.state.Snapshot())

	if !in.Fresh {
		return
	}

	w.metrics.ObserveNotifications(notes)
	w.stats.Invalidate()
	w.hub.PublishRecord(in.Record)
	w.hub.PublishNotifications(notes)
	if w.notifier != nil {
		w.notifier.Enqueue(notes...)
	}
}

// start launches the background services and, unless disabled, the API.
func (w *watcher) start(ctx context.Context, withAPI bool) error {
	go w.hub.Run()
	if w.notifier != nil {
		go w.notifier.Run(ctx)
	}
	go w.metrics.NewProcessSampler(w.serverPID, metrics.DefaultSampleInterval,
		metrics.WithSamplerLogger(w.logger)).Run(ctx)

	if withAPI {
		if err := w.startAPI(); err != nil {
			return err
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		w.logger.Debug("sd_notify failed", "error", err)
	} else if ok {
		w.logger.Debug("notified systemd")
	}
	return nil
}

func (w *watcher) startAPI() error {
	host := "127.0.0.1"
	if w.cfg.LanEnabled {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(w.cfg.Port))

	health := app.HealthService{
		Version:   version.String(),
		Mode:      w.mode,
		StartedAt: w.startedAt,
		DB:        w.db,
		ServerPID: w.serverPID,
	}
	if w.notifier != nil {
		health.Notifier = w.notifier.Status
	}

	opts := []api.ServerOption{
		api.WithLogger(w.logger),
		api.WithEventsUsecase(&app.EventsService{Store: w.db}),
		api.WithStateUsecase(app.StateService{State: w.state}),
		api.WithStatsUsecase(w.stats),
		api.WithConfigUsecase(app.ConfigService{ConfigPath: w.configPath, SecretsPath: w.secretsPath}),
		api.WithHub(w.hub),
		api.WithMetricsHandler(w.metrics.Handler()),
	}
	if w.cfg.LanEnabled {
		w.limiter = api.NewRateLimiter(api.DefaultRateLimiterConfig())
		opts = append(opts,
			api.WithBasicAuth(w.secrets.BasicAuthUsername, w.secrets.BasicAuthPassword.Value()),
			api.WithAuthFailureLimiter(api.NewAuthFailureLimiter(api.DefaultAuthFailureLimiterConfig())),
			api.WithRateLimiter(w.limiter),
		)
		log.Println("LAN mode: basic auth and rate limiting enabled")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	w.server = api.NewServer(addr, health, opts...)
	go func() {
		log.Printf("Starting Valheim Watcher %s API on %s", version.String(), addr)
		if err := w.server.Serve(ln); err != nil {
			w.apiErr <- err
		}
	}()
	return nil
}

func (w *watcher) serverPID() int {
	return int(w.pid.Load())
}

// notifyStopping tells systemd that shutdown has begun.
func (w *watcher) notifyStopping() {
	w.stopping.Do(func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	})
}

// announce sends a lifecycle message to Discord, ignoring the type filter.
func (w *watcher) announce(ctx context.Context, text string) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Announce(ctx, text); err != nil {
		w.logger.Warn("announcement failed", "text", text, "error", err)
	}
}

// close stops everything start launched and releases the lock.
func (w *watcher) close() {
	w.notifyStopping()

	if w.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notifierStopTimeout)
		if err := w.notifier.Stop(ctx); err != nil {
			w.logger.Warn("notifier stop", "error", err)
		}
		cancel()
	}

	w.hub.Stop()

	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Warn("API shutdown", "error", err)
		}
		cancel()
	}
	if w.limiter != nil {
		w.limiter.Stop()
	}

	if err := w.db.Close(); err != nil {
		w.logger.Warn("close database", "error", err)
	}
	w.release()
}
