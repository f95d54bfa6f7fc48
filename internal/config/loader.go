package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Tutor.Timeout == 0 {
		cfg.Tutor.Timeout = DefaultTutorTimeout
	}
	if cfg.Tutor.Concurrency == "" {
		cfg.Tutor.Concurrency = ConcurrencySupersede
	}
	if cfg.Tutor.Breaker.Enabled() && cfg.Tutor.Breaker.ResetTimeout == 0 {
		cfg.Tutor.Breaker.ResetTimeout = DefaultBreakerReset
	}
	if cfg.Recorder.SampleRate == 0 {
		cfg.Recorder.SampleRate = DefaultSampleRate
	}
	if cfg.Recorder.Channels == 0 {
		cfg.Recorder.Channels = DefaultChannels
	}
	if cfg.Recorder.MaxSeconds == 0 {
		cfg.Recorder.MaxSeconds = DefaultMaxSeconds
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Tutor
	if cfg.Tutor.BaseURL == "" {
		errs = append(errs, errors.New("tutor.base_url is required"))
	} else if u, err := url.Parse(cfg.Tutor.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("tutor.base_url %q must be an absolute http(s) URL", cfg.Tutor.BaseURL))
	}
	if cfg.Tutor.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tutor.timeout %s must not be negative", cfg.Tutor.Timeout))
	}
	if cfg.Tutor.Concurrency != "" && !cfg.Tutor.Concurrency.IsValid() {
		errs = append(errs, fmt.Errorf("tutor.concurrency %q is invalid; valid values: supersede, independent", cfg.Tutor.Concurrency))
	}

	if cfg.Tutor.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("tutor.breaker.max_failures %d must not be negative", cfg.Tutor.Breaker.MaxFailures))
	}
	if cfg.Tutor.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("tutor.breaker.reset_timeout %s must not be negative", cfg.Tutor.Breaker.ResetTimeout))
	}

	// Recorder
	if cfg.Recorder.SampleRate < 0 || cfg.Recorder.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("recorder.sample_rate %d is out of range [1, 192000]", cfg.Recorder.SampleRate))
	}
	if cfg.Recorder.Channels < 0 || cfg.Recorder.Channels > 2 {
		errs = append(errs, fmt.Errorf("recorder.channels %d is invalid; valid values: 1, 2", cfg.Recorder.Channels))
	}
	if cfg.Recorder.MaxSeconds < 0 || cfg.Recorder.MaxSeconds > 120 {
		errs = append(errs, fmt.Errorf("recorder.max_seconds %d is out of range [1, 120]", cfg.Recorder.MaxSeconds))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g is out of range [0, 1]", r))
	}

	// Parts: names and aliases share one namespace, compared case-insensitively.
	seen := make(map[string]string, len(cfg.Parts))
	for i, p := range cfg.Parts {
		prefix := fmt.Sprintf("parts[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(n))
			if key == "" {
				errs = append(errs, fmt.Errorf("%s has an empty alias", prefix))
				continue
			}
			if owner, ok := seen[key]; ok {
				if owner == p.Name {
					errs = append(errs, fmt.Errorf("%s: name %q is listed twice", prefix, n))
				} else {
					errs = append(errs, fmt.Errorf("%s: name %q is already used by part %q", prefix, n, owner))
				}
				continue
			}
			seen[key] = p.Name
		}
	}
	if len(cfg.Parts) == 0 {
		slog.Warn("no parts configured; selections are accepted by name without catalogue lookup")
	}

	return errors.Join(errs...)
}
