package schema

import (
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir        string
	DefaultProvider ProviderName
	// ConfirmNotice is how long the UI shows the save notice before returning to the editor.
	ConfirmNotice time.Duration
	// CacheTTL bounds the lifetime of memoized hosting reads. Zero disables the cache.
	CacheTTL time.Duration
	// DisableAuditLogging disables debug logs for buffer and generation payload sizes.
	DisableAuditLogging bool
}

// DefaultConfirmNotice matches the pause shown after a successful commit.
const DefaultConfirmNotice = 7 * time.Second

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".gitpilot", "state")
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = ProviderAnthropic
	}
	provider, err := NormalizeProvider(string(cfg.DefaultProvider))
	if err != nil {
		return ServiceConfig{}, err
	}
	cfg.DefaultProvider = provider
	if cfg.ConfirmNotice < 0 {
		cfg.ConfirmNotice = 0
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	return cfg, nil
}
