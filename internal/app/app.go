// Package app wires the tutorlink subsystems into a running server.
//
// The App owns the full lifecycle: New builds the part catalogue, the tutor
// client factory, the WebSocket bridge and the HTTP routes; Run serves them
// and hot-reloads the configuration file; Shutdown tears everything down.
//
// Routes:
//
//	GET /ws       front-end bridge (WebSocket)
//	GET /healthz  liveness
//	GET /readyz   readiness (tutor backend reachable, breaker not open)
//	GET /metrics  Prometheus scrape endpoint, when telemetry.metrics is set
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorlink/internal/bridge"
	"github.com/MrWong99/tutorlink/internal/config"
	"github.com/MrWong99/tutorlink/internal/health"
	"github.com/MrWong99/tutorlink/internal/observe"
	"github.com/MrWong99/tutorlink/internal/resilience"
	"github.com/MrWong99/tutorlink/internal/selection"
	"github.com/MrWong99/tutorlink/pkg/audio"
	"github.com/MrWong99/tutorlink/pkg/tutor"
)

// shutdownTimeout bounds the graceful stop triggered by a cancelled Run.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes of a tutorlink server.
type App struct {
	cfg        *config.Config
	configPath string
	pollEvery  time.Duration
	level      *slog.LevelVar
	metrics    *observe.Metrics
	gatherer   prometheus.Gatherer
	httpClient *http.Client

	store   *selection.Store
	breaker *resilience.Breaker // nil when disabled
	pinger  *tutor.Client
	bridge  *bridge.Server
	handler http.Handler
	server  *http.Server
	watcher *config.Watcher

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithConfigPath enables hot reload of the configuration file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithReloadInterval sets how often the configuration file is polled.
func WithReloadInterval(d time.Duration) Option {
	return func(a *App) { a.pollEvery = d }
}

// WithLevelVar lets a reload change the level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Defaults to
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithHTTPClient sets the HTTP client used to reach the tutor backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	a.store = selection.NewStore(catalogue(cfg.Parts))
	if bc := cfg.Tutor.Breaker; bc.Enabled() {
		a.breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Name:          "tutor",
			MaxFailures:   bc.MaxFailures,
			ResetTimeout:  bc.ResetTimeout,
			IsFailure:     tutor.IsBackendFailure,
			OnStateChange: func(_, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), "tutor", to.String())
			},
		})
	}

	var err error
	if a.pinger, err = a.newClient(nil, nil); err != nil {
		return nil, fmt.Errorf("app: tutor client: %w", err)
	}

	a.bridge, err = bridge.New(a.store,
		func(status tutor.StatusSink, player tutor.Player) (*tutor.Client, error) {
			return a.newClient(status, player)
		},
		bridge.WithRecorderFormat(audio.Format{
			SampleRate: cfg.Recorder.SampleRate,
			Channels:   cfg.Recorder.Channels,
		}),
		bridge.WithMaxRecording(cfg.Recorder.MaxDuration()),
		bridge.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: bridge: %w", err)
	}

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.pollEvery > 0 {
			wopts = append(wopts, config.WithInterval(a.pollEvery))
		}
		a.watcher, err = config.NewWatcher(a.configPath, a.Reload, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: config watcher: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", a.bridge)
	checkers := []health.Checker{health.TutorChecker(a.pinger)}
	if a.breaker != nil {
		checkers = append(checkers, health.BreakerChecker(a.breaker))
	}
	health.New(checkers...).Register(mux)
	if cfg.Telemetry.Metrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) newClient(status tutor.StatusSink, player tutor.Player) (*tutor.Client, error) {
	policy, err := tutor.ParsePolicy(string(a.cfg.Tutor.Concurrency))
	if err != nil {
		return nil, err
	}
	opts := []tutor.Option{
		tutor.WithConcurrency(policy),
		tutor.WithMetrics(a.metrics),
	}
	if a.httpClient != nil {
		opts = append(opts, tutor.WithHTTPClient(a.httpClient))
	}
	if a.breaker != nil {
		opts = append(opts, tutor.WithBreaker(a.breaker))
	}
	if a.cfg.Tutor.Timeout > 0 {
		opts = append(opts, tutor.WithTimeout(a.cfg.Tutor.Timeout))
	}
	if status != nil {
		opts = append(opts, tutor.WithStatus(status))
	}
	if player != nil {
		opts = append(opts, tutor.WithPlayer(player))
	}
	return tutor.New(a.cfg.Tutor.BaseURL, opts...)
}

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Catalogue returns the part catalogue currently in use.
func (a *App) Catalogue() *selection.Catalogue { return a.store.Catalogue() }

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully. The configuration watcher runs alongside when enabled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown closes bridge sessions, stops the HTTP server and the watcher.
// It is safe to call more than once; later calls return nil.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.bridge.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bridge: %w", err))
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// Reload applies a changed configuration. The part catalogue and the log
// level take effect immediately; every other change is logged and needs a
// restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.PartsChanged {
		a.store.Replace(catalogue(new.Parts))
		slog.Info("config reload: part catalogue updated",
			"parts", len(new.Parts),
			"changes", len(d.PartChanges),
		)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "fields", d.RestartRequired)
	}
}

// ReloadConfig re-reads the configuration file now instead of waiting for
// the next poll. It reports whether a new configuration was applied.
func (a *App) ReloadConfig() (bool, error) {
	if a.watcher == nil {
		return false, errors.New("app: reload: no config file is watched")
	}
	return a.watcher.Check()
}

func catalogue(parts []config.PartConfig) *selection.Catalogue {
	out := make([]selection.Part, len(parts))
	for i, p := range parts {
		out[i] = selection.Part{Name: p.Name, Aliases: p.Aliases, Description: p.Description}
	}
	return selection.NewCatalogue(out)
}
