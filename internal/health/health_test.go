package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tutorlink/internal/resilience"
	"github.com/MrWong99/tutorlink/pkg/tutor"
)

func ok(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

// probe serves path through a mux with h registered and decodes the body.
func probe(t *testing.T, h *Handler, req *http.Request) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", req.URL.Path, err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	// Liveness ignores readiness checks.
	h := New(failing("tutor", "down"))
	code, body := probe(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if code != http.StatusOK || body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("healthz = %d %+v, want 200 ok without checks", code, body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{ok("tutor"), ok("breaker")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"tutor": "ok", "breaker": "ok"},
		},
		{
			name:       "tutor unreachable",
			checkers:   []Checker{failing("tutor", "tutor: ping: connection refused"), ok("breaker")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"tutor": "fail: tutor: ping: connection refused", "breaker": "ok"},
		},
		{
			name:       "everything failing",
			checkers:   []Checker{failing("tutor", "timeout"), failing("breaker", "circuit open")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"tutor": "fail: timeout", "breaker": "fail: circuit open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := probe(t, New(tt.checkers...), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	// Each check waits for the other to start; run sequentially they would
	// both hit their deadline.
	var started sync.WaitGroup
	started.Add(2)
	rendezvous := func(ctx context.Context) error {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: rendezvous}, Checker{Name: "b", Check: rendezvous})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := probe(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusOK {
		t.Errorf("readyz = %d %v, want 200", code, body.Checks)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := probe(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable || body.Checks["slow"] != "fail: context canceled" {
		t.Errorf("readyz = %d %v", code, body.Checks)
	}
}

func TestTutorChecker(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode int
	}{
		// Any answer below 500 proves the backend is up.
		{"route missing", http.StatusNotFound, http.StatusOK},
		{"method not allowed", http.StatusMethodNotAllowed, http.StatusOK},
		{"bad gateway", http.StatusBadGateway, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			c, err := tutor.New(srv.URL)
			if err != nil {
				t.Fatalf("tutor.New: %v", err)
			}

			checker := TutorChecker(c)
			if checker.Name != "tutor" {
				t.Errorf("Name = %q", checker.Name)
			}
			code, body := probe(t, New(checker), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if code != tt.wantCode {
				t.Errorf("readyz = %d %v, want %d", code, body.Checks, tt.wantCode)
			}
		})
	}
}

func TestBreakerChecker(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	c := BreakerChecker(b)
	if c.Name != "breaker" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("down") })
	if err := c.Check(context.Background()); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("open breaker: err = %v, want ErrOpen", err)
	}
	b.Reset()
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}
