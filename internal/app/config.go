package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/graaaaa/valheim-watcher/internal/config"
)

// ErrInvalidConfig marks a rejected update request.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigUsecase defines the configuration management use case.
type ConfigUsecase interface {
	// GetConfig returns the current configuration.
	GetConfig(ctx context.Context) ConfigResponse

	// UpdateConfig updates the configuration with the given changes.
	// Returns the result indicating success and whether restart is required.
	UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error)
}

// ConfigResponse represents the current configuration (excludes secret values).
type ConfigResponse struct {
	StartScript              string `json:"start_script"`
	LogPath                  string `json:"log_path"`
	Port                     int    `json:"port"`
	LanEnabled               bool   `json:"lan_enabled"`
	DiscordBatchSec          int    `json:"discord_batch_sec"`
	NotifyOnConnect          bool   `json:"notify_on_connect"`
	NotifyOnDisconnect       bool   `json:"notify_on_disconnect"`
	NotifyOnDeath            bool   `json:"notify_on_death"`
	NotifyOnRejected         bool   `json:"notify_on_rejected"`
	NotifyOnWorldSave        bool   `json:"notify_on_world_save"`
	DiscordWebhookConfigured bool   `json:"discord_webhook_configured"`
}

// ConfigUpdateRequest contains optional fields for updating configuration.
type ConfigUpdateRequest struct {
	Port               *int    `json:"port,omitempty"`
	LanEnabled         *bool   `json:"lan_enabled,omitempty"`
	DiscordBatchSec    *int    `json:"discord_batch_sec,omitempty"`
	NotifyOnConnect    *bool   `json:"notify_on_connect,omitempty"`
	NotifyOnDisconnect *bool   `json:"notify_on_disconnect,omitempty"`
	NotifyOnDeath      *bool   `json:"notify_on_death,omitempty"`
	NotifyOnRejected   *bool   `json:"notify_on_rejected,omitempty"`
	NotifyOnWorldSave  *bool   `json:"notify_on_world_save,omitempty"`
	DiscordWebhookURL  *string `json:"discord_webhook_url,omitempty"`
}

// ConfigUpdateResponse indicates the result of a configuration update.
type ConfigUpdateResponse struct {
	Success         bool `json:"success"`
	RestartRequired bool `json:"restart_required"`
	NewPort         int  `json:"new_port,omitempty"`
}

// ConfigService implements ConfigUsecase on top of the config and secrets files.
type ConfigService struct {
	ConfigPath  string
	SecretsPath string
}

// GetConfig returns the configuration as stored on disk.
func (s ConfigService) GetConfig(ctx context.Context) ConfigResponse {
	cfg, _ := config.LoadConfigFrom(s.ConfigPath)
	sec, _, _ := config.LoadSecretsFrom(s.SecretsPath)

	return ConfigResponse{
		StartScript:              cfg.StartScript,
		LogPath:                  cfg.LogPath,
		Port:                     cfg.Port,
		LanEnabled:               cfg.LanEnabled,
		DiscordBatchSec:          cfg.DiscordBatchSec,
		NotifyOnConnect:          cfg.NotifyOnConnect,
		NotifyOnDisconnect:       cfg.NotifyOnDisconnect,
		NotifyOnDeath:            cfg.NotifyOnDeath,
		NotifyOnRejected:         cfg.NotifyOnRejected,
		NotifyOnWorldSave:        cfg.NotifyOnWorldSave,
		DiscordWebhookConfigured: !sec.DiscordWebhookURL.IsEmpty(),
	}
}

// UpdateConfig validates req, then writes the changed files.
// Nothing is written if any field is invalid.
func (s ConfigService) UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error) {
	cfg, err := config.LoadConfigFrom(s.ConfigPath)
	if err != nil {
		return ConfigUpdateResponse{}, fmt.Errorf("load config: %w", err)
	}

	sec, status, err := config.LoadSecretsFrom(s.SecretsPath)
	if err != nil && status == config.SecretsFallback {
		return ConfigUpdateResponse{}, fmt.Errorf("load secrets: %w", err)
	}

	originalPort := cfg.Port
	configChanged := false
	secretsChanged := false

	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidConfig)
		}
		cfg.Port = *req.Port
		configChanged = true
	}
	if req.DiscordBatchSec != nil {
		if *req.DiscordBatchSec < 0 {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: discord_batch_sec must be non-negative", ErrInvalidConfig)
		}
		cfg.DiscordBatchSec = *req.DiscordBatchSec
		configChanged = true
	}

	flags := []struct {
		src *bool
		dst *bool
	}{
		{req.LanEnabled, &cfg.LanEnabled},
		{req.NotifyOnConnect, &cfg.NotifyOnConnect},
		{req.NotifyOnDisconnect, &cfg.NotifyOnDisconnect},
		{req.NotifyOnDeath, &cfg.NotifyOnDeath},
		{req.NotifyOnRejected, &cfg.NotifyOnRejected},
		{req.NotifyOnWorldSave, &cfg.NotifyOnWorldSave},
	}
	for _, f := range flags {
		if f.src != nil {
			*f.dst = *f.src
			configChanged = true
		}
	}

	if req.DiscordWebhookURL != nil {
		url := strings.TrimSpace(*req.DiscordWebhookURL)
		if url != "" && !isValidDiscordWebhookURL(url) {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: invalid Discord webhook URL", ErrInvalidConfig)
		}
		sec.DiscordWebhookURL = config.Secret(url)
		secretsChanged = true
	}

	if configChanged {
		if err := config.SaveConfigTo(cfg, s.ConfigPath); err != nil {
			return ConfigUpdateResponse{}, fmt.Errorf("save config: %w", err)
		}
	}
	if secretsChanged {
		if err := config.SaveSecretsTo(sec, s.SecretsPath); err != nil {
			return ConfigUpdateResponse{}, fmt.Errorf("save secrets: %w", err)
		}
	}

	// Settings are read once at startup.
	resp := ConfigUpdateResponse{
		Success:         true,
		RestartRequired: configChanged || secretsChanged,
	}
	if cfg.Port != originalPort {
		resp.NewPort = cfg.Port
	}

	return resp, nil
}

func isValidDiscordWebhookURL(url string) bool {
	return strings.HasPrefix(url, "https://discord.com/api/webhooks/") ||
		strings.HasPrefix(url, "https://discordapp.com/api/webhooks/")
}
