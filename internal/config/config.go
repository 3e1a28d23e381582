package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvStartScript       = "VALHEIM_START_SCRIPT"
	EnvLogPath           = "VALHEIM_LOG_PATH"
	EnvDataDir           = "VALHEIM_WATCHER_DATA_DIR"
	EnvPort              = "VALHEIM_WATCHER_PORT"
	EnvLanEnabled        = "VALHEIM_WATCHER_LAN_ENABLED"
	EnvDiscordBatchSec   = "VALHEIM_WATCHER_DISCORD_BATCH_SEC"
	EnvNotifyOnConnect   = "VALHEIM_WATCHER_NOTIFY_ON_CONNECT"
	EnvNotifyDisconnect  = "VALHEIM_WATCHER_NOTIFY_ON_DISCONNECT"
	EnvNotifyOnDeath     = "VALHEIM_WATCHER_NOTIFY_ON_DEATH"
	EnvNotifyOnRejected  = "VALHEIM_WATCHER_NOTIFY_ON_REJECTED"
	EnvNotifyOnWorldSave = "VALHEIM_WATCHER_NOTIFY_ON_WORLD_SAVE"
	EnvDiscordWebhookURL = "DISCORD_WEBHOOK_URL"
)

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`

	// StartScript is the dedicated server launch script used by `run`.
	StartScript string `json:"start_script" yaml:"start_script"`
	// LogPath is the server log followed by `watch`.
	LogPath string `json:"log_path" yaml:"log_path"`
	// ServerLogDir receives the copy of server output written by `run`.
	// Empty means <data dir>/logs.
	ServerLogDir        string `json:"server_log_dir" yaml:"server_log_dir"`
	ServerLogMaxSizeMB  int    `json:"server_log_max_size_mb" yaml:"server_log_max_size_mb"`
	ServerLogMaxBackups int    `json:"server_log_max_backups" yaml:"server_log_max_backups"`
	ShutdownGraceSec    int    `json:"shutdown_grace_sec" yaml:"shutdown_grace_sec"`

	Port       int  `json:"port" yaml:"port"`
	LanEnabled bool `json:"lan_enabled" yaml:"lan_enabled"`

	DiscordBatchSec    int  `json:"discord_batch_sec" yaml:"discord_batch_sec"`
	NotifyOnConnect    bool `json:"notify_on_connect" yaml:"notify_on_connect"`
	NotifyOnDisconnect bool `json:"notify_on_disconnect" yaml:"notify_on_disconnect"`
	NotifyOnDeath      bool `json:"notify_on_death" yaml:"notify_on_death"`
	NotifyOnRejected   bool `json:"notify_on_rejected" yaml:"notify_on_rejected"`
	NotifyOnWorldSave  bool `json:"notify_on_world_save" yaml:"notify_on_world_save"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:       CurrentSchemaVersion,
		ServerLogMaxSizeMB:  50,
		ServerLogMaxBackups: 10,
		ShutdownGraceSec:    30,
		Port:                8080,
		DiscordBatchSec:     3,
		NotifyOnConnect:     true,
		NotifyOnDisconnect:  true,
		NotifyOnDeath:       true,
		NotifyOnRejected:    true,
		NotifyOnWorldSave:   false,
	}
}

// BatchDelay returns DiscordBatchSec as a duration.
func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.DiscordBatchSec) * time.Second
}

// ShutdownGrace returns ShutdownGraceSec as a duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// LoadConfig reads config from the default location. If the file doesn't exist
// or is corrupt, it returns DefaultConfig with a warning logged (non-fatal).
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		log.Printf("Warning: failed to read config file: %v, using defaults", err)
		return cfg, nil
	}

	if err := decode(path, data, &cfg); err != nil {
		log.Printf("Warning: config file is corrupt: %v, using defaults", err)
		return DefaultConfig(), nil
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: config schema version mismatch (got %d, expected %d), using defaults",
			cfg.SchemaVersion, CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	return normalizeConfig(cfg), nil
}

// normalizeConfig validates and normalizes config values.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}
	if cfg.DiscordBatchSec < 0 {
		cfg.DiscordBatchSec = defaults.DiscordBatchSec
	}
	if cfg.ServerLogMaxSizeMB <= 0 {
		cfg.ServerLogMaxSizeMB = defaults.ServerLogMaxSizeMB
	}
	if cfg.ServerLogMaxBackups < 0 {
		cfg.ServerLogMaxBackups = defaults.ServerLogMaxBackups
	}
	if cfg.ShutdownGraceSec <= 0 {
		cfg.ShutdownGraceSec = defaults.ShutdownGraceSec
	}

	return cfg
}

// SaveConfig writes config to the default location atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically,
// in YAML or JSON depending on the extension.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion

	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take highest priority over config file values.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvStartScript); v != "" {
		cfg.StartScript = v
	}
	if v := os.Getenv(EnvLogPath); v != "" {
		cfg.LogPath = v
	}

	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}
	if v := os.Getenv(EnvLanEnabled); v != "" {
		cfg.LanEnabled = parseBool(v)
	}

	if v := os.Getenv(EnvDiscordBatchSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.DiscordBatchSec = sec
		}
	}

	flags := []struct {
		env string
		dst *bool
	}{
		{EnvNotifyOnConnect, &cfg.NotifyOnConnect},
		{EnvNotifyDisconnect, &cfg.NotifyOnDisconnect},
		{EnvNotifyOnDeath, &cfg.NotifyOnDeath},
		{EnvNotifyOnRejected, &cfg.NotifyOnRejected},
		{EnvNotifyOnWorldSave, &cfg.NotifyOnWorldSave},
	}
	for _, f := range flags {
		if v := os.Getenv(f.env); v != "" {
			*f.dst = parseBool(v)
		}
	}

	return cfg
}

// parseBool parses a boolean from various string representations.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// All other values are treated as false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(v)
	}
	return json.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
