package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/tutorlink/internal/app"
	"github.com/MrWong99/tutorlink/internal/config"
	"github.com/MrWong99/tutorlink/internal/observe"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testConfig returns a validated config pointing at backendURL.
func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Tutor:  config.TutorConfig{BaseURL: backendURL},
		Parts: []config.PartConfig{
			{Name: "Piston", Aliases: []string{"plunger"}},
			{Name: "Crankshaft"},
		},
		Telemetry: config.TelemetryConfig{Metrics: true},
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/qa/ask-about-part-audio" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response_text":"ok","audio_reply":null}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithGatherer(prometheus.NewRegistry()),
	}, opts...)
	a, err := app.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_InvalidConcurrency(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "http://localhost:1")
	cfg.Tutor.Concurrency = "chaotic"
	if _, err := app.New(cfg, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for unknown concurrency policy")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	backend := newBackend(t)
	a := newApp(t, testConfig(t, backend.URL))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

// Not parallel: it swaps the global tracer provider.
func TestHandler_CorrelationID(t *testing.T) {
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	a := newApp(t, testConfig(t, newBackend(t).URL))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
		t.Errorf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
	}
}

func TestNew_SharedHTTPClientUntouched(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, newBackend(t).URL)
	cfg.Tutor.Timeout = 3 * time.Second
	shared := &http.Client{}

	a := newApp(t, cfg, app.WithHTTPClient(shared))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", rec.Code)
	}
	if shared.Timeout != 0 {
		t.Errorf("shared client Timeout = %v, want untouched", shared.Timeout)
	}
}

func TestHandler_MetricsDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, newBackend(t).URL)
	cfg.Telemetry.Metrics = false
	a := newApp(t, cfg)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_ReadyzBackendDown(t *testing.T) {
	t.Parallel()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()
	a := newApp(t, testConfig(t, backend.URL))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandler_BridgeResolvesAlias(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t, newBackend(t).URL))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"select","part":"plunger"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var panel struct {
		Type    string `json:"type"`
		Part    string `json:"part"`
		Visible bool   `json:"visible"`
	}
	if err := json.Unmarshal(data, &panel); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if panel.Type != "panel" || panel.Part != "Piston" || !panel.Visible {
		t.Errorf("panel = %+v, want visible Piston", panel)
	}
}

func TestReload_UpdatesCatalogueAndLevel(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	old := testConfig(t, newBackend(t).URL)
	a := newApp(t, old, app.WithLevelVar(&level))

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Parts = append([]config.PartConfig{{Name: "Camshaft"}}, old.Parts...)

	a.Reload(old, &updated)

	if got := a.Catalogue().Len(); got != 3 {
		t.Errorf("catalogue size = %d, want 3", got)
	}
	if _, ok := a.Catalogue().Lookup("camshaft"); !ok {
		t.Error("Camshaft not found after reload")
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestRun_WatchesConfigFile(t *testing.T) {
	t.Parallel()
	backend := newBackend(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tutorlink.yaml")
	write := func(parts string) {
		t.Helper()
		data := "server:\n  listen_addr: \"127.0.0.1:0\"\ntutor:\n  base_url: " + backend.URL + "\nparts:\n" + parts
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("  - name: Piston\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := newApp(t, cfg, app.WithConfigPath(path), app.WithReloadInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	write("  - name: Piston\n  - name: Crankshaft\n")

	deadline := time.Now().Add(5 * time.Second)
	for a.Catalogue().Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("catalogue was not reloaded")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t, newBackend(t).URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestHandler_ReadyzReportsBreaker(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, newBackend(t).URL)
	cfg.Tutor.Breaker = config.BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute}
	a := newApp(t, cfg)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["breaker"] != "ok" || body.Checks["tutor"] != "ok" {
		t.Errorf("checks = %v, want tutor and breaker ok", body.Checks)
	}
}

func TestReloadConfig(t *testing.T) {
	t.Parallel()
	backend := newBackend(t)

	noFile := newApp(t, testConfig(t, backend.URL))
	if _, err := noFile.ReloadConfig(); err == nil {
		t.Error("ReloadConfig without a config file returned nil error")
	}

	path := filepath.Join(t.TempDir(), "tutorlink.yaml")
	base := "tutor:\n  base_url: " + backend.URL + "\nparts:\n  - name: Piston\n"
	if err := os.WriteFile(path, []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := newApp(t, cfg, app.WithConfigPath(path))

	if changed, err := a.ReloadConfig(); changed || err != nil {
		t.Errorf("ReloadConfig on unchanged file = %v, %v", changed, err)
	}
	if err := os.WriteFile(path, []byte(base+"  - name: Flywheel\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := a.ReloadConfig()
	if err != nil || !changed {
		t.Fatalf("ReloadConfig = %v, %v; want true, nil", changed, err)
	}
	if _, ok := a.Catalogue().Lookup("flywheel"); !ok {
		t.Error("Flywheel missing after reload")
	}
}
