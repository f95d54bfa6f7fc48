// Package config provides the configuration schema and loader for the
// tutorlink service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the tutorlink server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Concurrency selects what happens when a question is asked while an earlier
// one is still waiting for its reply.
type Concurrency string

const (
	// ConcurrencySupersede cancels the earlier question; only the latest
	// reply reaches the user.
	ConcurrencySupersede Concurrency = "supersede"

	// ConcurrencyIndependent lets every question finish and show its reply.
	ConcurrencyIndependent Concurrency = "independent"
)

// IsValid reports whether c is a recognised concurrency policy.
func (c Concurrency) IsValid() bool {
	return c == ConcurrencySupersede || c == ConcurrencyIndependent
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8090"
	DefaultTutorTimeout = 30 * time.Second
	DefaultBreakerReset = 30 * time.Second
	DefaultSampleRate   = 44100
	DefaultChannels     = 1
	DefaultMaxSeconds   = 10
	DefaultServiceName  = "tutorlink"
)

// Config is the root configuration structure for tutorlink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tutor     TutorConfig     `yaml:"tutor"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Parts     []PartConfig    `yaml:"parts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the tutorlink server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TutorConfig points at the remote AI tutor backend.
type TutorConfig struct {
	// BaseURL is the backend root; questions go to
	// <base_url>/qa/ask-about-part-audio. Required.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one question round trip. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency selects the overlapping-question policy. Default: supersede.
	Concurrency Concurrency `yaml:"concurrency"`

	// Breaker guards the backend with a circuit breaker. Disabled when
	// MaxFailures is zero.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the tutor backend.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive backend failures that opens
	// the breaker. Zero disables it.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects questions. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Enabled reports whether a breaker should be installed.
func (b BreakerConfig) Enabled() bool { return b.MaxFailures > 0 }

// RecorderConfig shapes push-to-talk recordings.
type RecorderConfig struct {
	// SampleRate is the capture rate in Hz. Default: 44100.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count. Default: 1.
	Channels int `yaml:"channels"`

	// MaxSeconds caps one recording. Default: 10.
	MaxSeconds int `yaml:"max_seconds"`
}

// MaxDuration returns MaxSeconds as a duration.
func (r RecorderConfig) MaxDuration() time.Duration {
	return time.Duration(r.MaxSeconds) * time.Second
}

// PartConfig describes one selectable part of the model.
type PartConfig struct {
	// Name is the canonical part name sent to the tutor (e.g., "Piston").
	Name string `yaml:"name"`

	// Aliases are alternative spoken or typed names resolved to Name.
	Aliases []string `yaml:"aliases"`

	// Description is shown in the info panel next to the part name.
	Description string `yaml:"description"`
}

// TelemetryConfig controls the observability stack.
type TelemetryConfig struct {
	// ServiceName is reported in traces and metrics. Default: "tutorlink".
	ServiceName string `yaml:"service_name"`

	// Metrics enables the /metrics Prometheus endpoint.
	Metrics bool `yaml:"metrics"`

	// TraceSampleRatio is the fraction of new traces that are sampled.
	// Zero samples everything. Incoming sampled parents are always honored.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
