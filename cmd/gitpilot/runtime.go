package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/gitpilot"
	"pkt.systems/gitpilot/core"
	"pkt.systems/gitpilot/httpapi"
	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/codegen"
	"pkt.systems/gitpilot/internal/credstore"
	"pkt.systems/gitpilot/internal/hosting/github"
	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// runtimeDeps are the config-derived collaborators shared by serve and doctor.
type runtimeDeps struct {
	secrets     *secrets.Store
	credentials *credstore.Store
	codegen     *codegen.Registry
	hosting     github.Options
}

func buildRuntime(cfg appconfig.Config, logger pslog.Logger) (runtimeDeps, error) {
	store, err := secrets.OpenWithLogger(cfg.Secrets.Path, logger)
	if err != nil {
		return runtimeDeps{}, fmt.Errorf("secrets: %w", err)
	}
	creds, err := credstore.NewStoreWithLogger(cfg.Credentials.KeyPath, cfg.Credentials.TokenPath, logger)
	if err != nil {
		return runtimeDeps{}, fmt.Errorf("credentials: %w", err)
	}
	registry := codegen.NewRegistryWithLogger(toCodegenConfig(cfg.Codegen), store, logger)
	return runtimeDeps{
		secrets:     store,
		credentials: creds,
		codegen:     registry,
		hosting:     github.Options{BaseURL: cfg.Hosting.BaseURL},
	}, nil
}

func toCodegenConfig(cfg appconfig.CodegenConfig) codegen.Config {
	return codegen.Config{
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		StripFences: cfg.StripFences,
		Anthropic: codegen.AnthropicOptions{
			BaseURL:   cfg.Anthropic.BaseURL,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		},
		OpenAI: codegen.OpenAIOptions{
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		},
	}
}

func toServiceConfig(cfg appconfig.Config) schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:            cfg.StateDir,
		DefaultProvider:     schema.ProviderName(cfg.Codegen.DefaultProvider),
		ConfirmNotice:       time.Duration(cfg.Flow.ConfirmNoticeSeconds) * time.Second,
		CacheTTL:            time.Duration(cfg.Hosting.CacheTTLSeconds) * time.Second,
		DisableAuditLogging: cfg.Logging.DisableAuditTrails,
	}
}

func toHTTPConfig(cfg appconfig.Config) httpapi.Config {
	return httpapi.Config{
		Addr:             cfg.HTTP.Addr,
		SessionCookie:    cfg.HTTP.SessionCookie,
		SessionTTLHours:  cfg.HTTP.SessionTTLHours,
		SessionStorePath: cfg.HTTP.SessionStorePath,
		BaseURL:          cfg.HTTP.BaseURL,
		BasePath:         cfg.HTTP.BasePath,
		AuthDisabled:     cfg.Auth.Disabled,
		SingleUser:       schema.UserID(cfg.Auth.SingleUser),
	}
}

func toAuthConfig(cfg appconfig.AuthConfig) gitpilot.AuthConfig {
	seeds := make([]gitpilot.SeedUser, 0, len(cfg.SeedUsers))
	for _, seed := range cfg.SeedUsers {
		seeds = append(seeds, gitpilot.SeedUser{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		})
	}
	return gitpilot.AuthConfig{
		UserFile:  cfg.UserFile,
		SeedUsers: seeds,
	}
}

func toServerDeps(rt runtimeDeps, logger pslog.Logger) gitpilot.ServerDeps {
	return gitpilot.ServerDeps{
		ServiceDeps: core.ServiceDeps{
			Hosting:     github.NewFactory(rt.hosting),
			Codegen:     rt.codegen,
			Credentials: rt.credentials,
			Secrets:     rt.secrets,
			Logger:      logger,
		},
		SecretsWatcher: rt.secrets,
	}
}

func validateServeConfig(cfg appconfig.Config) error {
	if cfg.Auth.Disabled {
		if err := schema.ValidateUserID(schema.UserID(cfg.Auth.SingleUser)); err != nil {
			return errors.New("auth.single_user must be a valid username when auth.disabled is set")
		}
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if _, err := schema.NormalizeProvider(cfg.Codegen.DefaultProvider); err != nil {
		return fmt.Errorf("codegen.default_provider: %w", err)
	}
	if cfg.Codegen.TimeoutSeconds < 0 {
		return errors.New("codegen.timeout_seconds must not be negative")
	}
	return nil
}
