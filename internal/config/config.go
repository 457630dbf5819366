// Package config loads server-wide configuration from YAML files.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rollforge/vtt/server/internal/chatfilter"
	"github.com/rollforge/vtt/server/internal/flood"
)

// ServerConfig holds server-wide configuration settings.
type ServerConfig struct {
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Connections ConnectionsConfig `yaml:"connections"`
	Sync        SyncConfig        `yaml:"sync"`
	Chat        flood.Config      `yaml:"chat"`
	ChatFilter  chatfilter.Config `yaml:"chat_filter"`
	Database    DatabaseConfig    `yaml:"database"`
}

// WebSocketConfig holds WebSocket-specific settings.
type WebSocketConfig struct {
	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy.
	// Use "*" to allow all origins (not recommended for production).
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the maximum WebSocket message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// ConnectionsConfig holds connection limit settings.
type ConnectionsConfig struct {
	// MaxPerIP is the maximum concurrent connections allowed from a single
	// IP address. 0 means unlimited (not recommended).
	MaxPerIP int `yaml:"max_per_ip"`

	// MaxTotal is the maximum total concurrent connections to the server.
	// 0 means unlimited.
	MaxTotal int `yaml:"max_total"`
}

// SyncConfig holds timing settings for the state-sync loops.
type SyncConfig struct {
	// BroadcastIntervalMS is the delta broadcast tick period in milliseconds.
	BroadcastIntervalMS int `yaml:"broadcast_interval_ms"`

	// LivenessIntervalSeconds is how often liveness probes are sent.
	LivenessIntervalSeconds int `yaml:"liveness_interval_seconds"`

	// StaleAfterSeconds is how long a silent connection survives before it
	// is forcibly closed. 0 means twice the liveness interval.
	StaleAfterSeconds int `yaml:"stale_after_seconds"`

	// WriteTimeoutMS is the per-message transport write deadline.
	WriteTimeoutMS int `yaml:"write_timeout_ms"`

	// ConflictWindowMS is the concurrency window for critical-field
	// conflict detection.
	ConflictWindowMS int `yaml:"conflict_window_ms"`

	// HistoryLimit caps the number of retained sync-history entries per entity.
	HistoryLimit int `yaml:"history_limit"`

	// HistoryTTLSeconds is how long sync-history entries are retained.
	HistoryTTLSeconds int `yaml:"history_ttl_seconds"`

	// AutoSaveIntervalSeconds is the write-behind persistence period.
	// 0 disables periodic entity persistence.
	AutoSaveIntervalSeconds int `yaml:"auto_save_interval_seconds"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// Driver selects the SQL backend: "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// Path is the database file path (sqlite only).
	Path string `yaml:"path"`

	// DSN is the connection string (postgres only).
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns a ServerConfig with production defaults.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{}, // Same-origin only by default
			MaxMessageSize: 65536,
		},
		Connections: ConnectionsConfig{
			MaxPerIP: 8,
			MaxTotal: 500,
		},
		Sync: SyncConfig{
			BroadcastIntervalMS:     50,
			LivenessIntervalSeconds: 10,
			StaleAfterSeconds:       0,
			WriteTimeoutMS:          2000,
			ConflictWindowMS:        1000,
			HistoryLimit:            100,
			HistoryTTLSeconds:       300,
			AutoSaveIntervalSeconds: 60,
		},
		Chat: flood.DefaultConfig(),
		ChatFilter: chatfilter.Config{
			Enabled: false,
			Mode:    chatfilter.ModeReplace,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/rollforge.db",
		},
	}
}

// LoadConfig loads server configuration from a YAML file.
// If the file doesn't exist, returns default config.
func LoadConfig(path string) (*ServerConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return DefaultConfig(), err
	}

	return config, nil
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if allowed == origin {
			return true
		}
	}

	return false
}

// isSameOrigin checks if the origin matches the request host.
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // No origin header means same-origin (e.g., non-browser client)
	}

	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}
