package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/graaaaa/attention-collector/internal/config"
)

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
	Port                int    `json:"port"`
	LanEnabled          bool   `json:"lan_enabled"`
	StorageDriver       string `json:"storage_driver"`
	UploadBaseURL       string `json:"upload_base_url"`
	FlushThreshold      int    `json:"flush_threshold"`
	FlushIntervalSec    int    `json:"flush_interval_sec"`
	PricingPath         string `json:"pricing_path"`
	UploadAuthorized    bool   `json:"upload_authorized"`
	BasicAuthConfigured bool   `json:"basic_auth_configured"`
}

// ConfigUpdateRequest contains optional fields for updating configuration.
type ConfigUpdateRequest struct {
	Port             *int    `json:"port,omitempty"`
	LanEnabled       *bool   `json:"lan_enabled,omitempty"`
	StorageDriver    *string `json:"storage_driver,omitempty"`
	UploadBaseURL    *string `json:"upload_base_url,omitempty"`
	FlushThreshold   *int    `json:"flush_threshold,omitempty"`
	FlushIntervalSec *int    `json:"flush_interval_sec,omitempty"`
	PricingPath      *string `json:"pricing_path,omitempty"`
}

// ConfigUpdateResponse indicates the result of a configuration update.
type ConfigUpdateResponse struct {
	Success         bool `json:"success"`
	RestartRequired bool `json:"restart_required"`
	NewPort         int  `json:"new_port,omitempty"`
}

// ConfigService implements ConfigUsecase.
type ConfigService struct {
	ConfigPath  string
	SecretsPath string
}

// GetConfig returns the current configuration.
func (s ConfigService) GetConfig(ctx context.Context) ConfigResponse {
	cfg, _ := config.LoadConfigFrom(s.ConfigPath)
	sec, _, _ := config.LoadSecretsFrom(s.SecretsPath)

	return ConfigResponse{
		Port:                cfg.Port,
		LanEnabled:          cfg.LanEnabled,
		StorageDriver:       cfg.StorageDriver,
		UploadBaseURL:       cfg.UploadBaseURL,
		FlushThreshold:      cfg.FlushThreshold,
		FlushIntervalSec:    cfg.FlushIntervalSec,
		PricingPath:         cfg.PricingPath,
		UploadAuthorized:    sec.Authorized(),
		BasicAuthConfigured: sec.BasicAuthUsername != "" && !sec.BasicAuthPassword.IsEmpty(),
	}
}

// UpdateConfig validates and saves the changed fields. Every change takes
// effect on restart.
func (s ConfigService) UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error) {
	cfg, err := config.LoadConfigFrom(s.ConfigPath)
	if err != nil {
		return ConfigUpdateResponse{}, fmt.Errorf("load config: %w", err)
	}

	originalPort := cfg.Port
	changed := false

	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			return ConfigUpdateResponse{}, fmt.Errorf("port must be between 1 and 65535")
		}
		cfg.Port = *req.Port
		changed = true
	}
	if req.LanEnabled != nil {
		cfg.LanEnabled = *req.LanEnabled
		changed = true
	}
	if req.StorageDriver != nil {
		if !config.ValidDriver(*req.StorageDriver) {
			return ConfigUpdateResponse{}, fmt.Errorf("unknown storage driver %q", *req.StorageDriver)
		}
		cfg.StorageDriver = *req.StorageDriver
		changed = true
	}
	if req.UploadBaseURL != nil {
		u := *req.UploadBaseURL
		if u != "" && !isValidUploadURL(u) {
			return ConfigUpdateResponse{}, fmt.Errorf("invalid upload URL")
		}
		cfg.UploadBaseURL = u
		changed = true
	}
	if req.FlushThreshold != nil {
		if *req.FlushThreshold < 1 {
			return ConfigUpdateResponse{}, fmt.Errorf("flush_threshold must be positive")
		}
		cfg.FlushThreshold = *req.FlushThreshold
		changed = true
	}
	if req.FlushIntervalSec != nil {
		if *req.FlushIntervalSec < 1 {
			return ConfigUpdateResponse{}, fmt.Errorf("flush_interval_sec must be positive")
		}
		cfg.FlushIntervalSec = *req.FlushIntervalSec
		changed = true
	}
	if req.PricingPath != nil {
		cfg.PricingPath = *req.PricingPath
		changed = true
	}

	if changed {
		if err := config.SaveConfigTo(cfg, s.ConfigPath); err != nil {
			return ConfigUpdateResponse{}, fmt.Errorf("save config: %w", err)
		}
	}

	resp := ConfigUpdateResponse{
		Success:         true,
		RestartRequired: changed,
	}
	if cfg.Port != originalPort {
		resp.NewPort = cfg.Port
	}
	return resp, nil
}

// isValidUploadURL accepts absolute https URLs, and http for loopback hosts.
func isValidUploadURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		h := u.Hostname()
		return h == "localhost" || h == "127.0.0.1" || h == "::1"
	}
	return false
}
