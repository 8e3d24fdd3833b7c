package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// QueueOverflowPolicy controls what the outbound queue does when it is full.
type QueueOverflowPolicy string

const (
	QueueOverflowReject     QueueOverflowPolicy = "reject"
	QueueOverflowDropOldest QueueOverflowPolicy = "drop_oldest"

	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelayMS = 1000
	DefaultQueueCapacity        = 256
	DefaultFallbackRatePerSec   = 5
	DefaultRequestTimeoutMS     = 10000
	DefaultUploadTimeoutMS      = 30000
	DefaultProbeTimeoutMS       = 2000
	DefaultSimulatedDelayMS     = 1000
	DefaultTypingIdleMS         = 2000
	DefaultHistoryPageSize      = 50
	DefaultSearchPageSize       = 20
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// BackendConfig points at the chat backend REST and socket endpoints.
type BackendConfig struct {
	APIBaseURL       string `json:"api_base_url"`
	SocketURL        string `json:"socket_url"`
	RequestTimeoutMS int    `json:"request_timeout_ms"`
}

// TransportConfig tunes the persistent connection and its outbound queue.
type TransportConfig struct {
	MaxReconnectAttempts int                 `json:"max_reconnect_attempts"`
	ReconnectBaseDelayMS int                 `json:"reconnect_base_delay_ms"`
	QueueCapacity        int                 `json:"queue_capacity"`
	QueueOverflow        QueueOverflowPolicy `json:"queue_overflow"`
	FallbackRatePerSec   float64             `json:"fallback_rate_per_sec"`
}

// UploadConfig describes the object storage endpoint and offline fallback.
type UploadConfig struct {
	Endpoint         string `json:"endpoint"`
	UploadPreset     string `json:"upload_preset"`
	TimeoutMS        int    `json:"timeout_ms"`
	ProbeTimeoutMS   int    `json:"probe_timeout_ms"`
	SimulatedDelayMS int    `json:"simulated_delay_ms"`
}

// ChatConfig stores controller tuning.
type ChatConfig struct {
	TypingIdleMS    int `json:"typing_idle_ms"`
	HistoryPageSize int `json:"history_page_size"`
	SearchPageSize  int `json:"search_page_size"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled           bool `json:"enabled"`
	NotifyWhenFocused bool `json:"notify_when_focused"`
	IncomingMessage   bool `json:"incoming_message"`
	ConnectionStatus  bool `json:"connection_status"`
	UpdateAvailable   bool `json:"update_available"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Backend       BackendConfig      `json:"backend"`
	Transport     TransportConfig    `json:"transport"`
	Upload        UploadConfig       `json:"upload"`
	Chat          ChatConfig         `json:"chat"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Backend: BackendConfig{
			APIBaseURL:       "",
			SocketURL:        "",
			RequestTimeoutMS: DefaultRequestTimeoutMS,
		},
		Transport: TransportConfig{
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			ReconnectBaseDelayMS: DefaultReconnectBaseDelayMS,
			QueueCapacity:        DefaultQueueCapacity,
			QueueOverflow:        QueueOverflowReject,
			FallbackRatePerSec:   DefaultFallbackRatePerSec,
		},
		Upload: UploadConfig{
			Endpoint:         "",
			UploadPreset:     "",
			TimeoutMS:        DefaultUploadTimeoutMS,
			ProbeTimeoutMS:   DefaultProbeTimeoutMS,
			SimulatedDelayMS: DefaultSimulatedDelayMS,
		},
		Chat: ChatConfig{
			TypingIdleMS:    DefaultTypingIdleMS,
			HistoryPageSize: DefaultHistoryPageSize,
			SearchPageSize:  DefaultSearchPageSize,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			IncomingMessage:  true,
			ConnectionStatus: true,
			UpdateAvailable:  true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Backend.RequestTimeoutMS <= 0 {
		c.Backend.RequestTimeoutMS = DefaultRequestTimeoutMS
	}
	if c.Transport.MaxReconnectAttempts <= 0 {
		c.Transport.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Transport.ReconnectBaseDelayMS <= 0 {
		c.Transport.ReconnectBaseDelayMS = DefaultReconnectBaseDelayMS
	}
	if c.Transport.QueueCapacity <= 0 {
		c.Transport.QueueCapacity = DefaultQueueCapacity
	}
	c.Transport.QueueOverflow = normalizeOverflow(c.Transport.QueueOverflow)
	if c.Transport.FallbackRatePerSec <= 0 {
		c.Transport.FallbackRatePerSec = DefaultFallbackRatePerSec
	}
	if c.Upload.TimeoutMS <= 0 {
		c.Upload.TimeoutMS = DefaultUploadTimeoutMS
	}
	if c.Upload.ProbeTimeoutMS <= 0 {
		c.Upload.ProbeTimeoutMS = DefaultProbeTimeoutMS
	}
	if c.Upload.SimulatedDelayMS < 0 {
		c.Upload.SimulatedDelayMS = DefaultSimulatedDelayMS
	}
	if c.Chat.TypingIdleMS <= 0 {
		c.Chat.TypingIdleMS = DefaultTypingIdleMS
	}
	if c.Chat.HistoryPageSize <= 0 {
		c.Chat.HistoryPageSize = DefaultHistoryPageSize
	}
	if c.Chat.SearchPageSize <= 0 {
		c.Chat.SearchPageSize = DefaultSearchPageSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func normalizeOverflow(policy QueueOverflowPolicy) QueueOverflowPolicy {
	switch QueueOverflowPolicy(strings.ToLower(strings.TrimSpace(string(policy)))) {
	case QueueOverflowDropOldest:
		return QueueOverflowDropOldest
	default:
		return QueueOverflowReject
	}
}

func (c AppConfig) Validate() error {
	if err := validateURL("backend api base url", c.Backend.APIBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("backend socket url", c.Backend.SocketURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("upload endpoint", c.Upload.Endpoint, "http", "https"); err != nil {
		return err
	}
	if c.Transport.MaxReconnectAttempts <= 0 {
		return errors.New("max reconnect attempts must be positive")
	}
	if c.Transport.QueueCapacity <= 0 {
		return errors.New("queue capacity must be positive")
	}

	return nil
}

// validateURL accepts an empty value; the feature it backs then runs offline.
func validateURL(name, raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			if parsed.Host == "" {
				return fmt.Errorf("%s: host is required", name)
			}

			return nil
		}
	}

	return fmt.Errorf("%s: unsupported scheme %q", name, parsed.Scheme)
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
