package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one observed revision of the config file. The hash is
// only computed when mtime or size moved.
type fileState struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher keeps the last valid configuration loaded from a file and reports
// content changes to a callback. Invalid revisions are logged once and
// skipped; the previous configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileState

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher for it. Polling starts with
// [Watcher.Run]; onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Current returns the most recently loaded valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done or [Watcher.Stop] is called.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		case <-t.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Stop ends [Watcher.Run]. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Check compares the file with the last observed revision. When the content
// changed and is valid it becomes current, onChange runs and Check reports
// true. A changed but invalid file returns the load error once; later calls
// stay quiet until the file changes again.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("config: stat %s: %w", w.path, err)
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.modTime) && info.Size() == seen.size {
		return false, nil
	}

	cfg, st, err := w.read()
	if err != nil {
		w.mu.Lock()
		w.seen.modTime, w.seen.size = info.ModTime(), info.Size()
		w.mu.Unlock()
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		w.seen = st
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	st := fileState{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, st, err
	}
	return cfg, st, nil
}
