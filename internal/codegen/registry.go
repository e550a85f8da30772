package codegen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// Config selects models, endpoints, and limits for the providers.
type Config struct {
	Timeout     time.Duration
	StripFences bool
	Anthropic   AnthropicOptions
	OpenAI      OpenAIOptions
	// HTTPClient is shared by both providers. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Registry builds a Generator per call from the current secrets.
// Keys are read at call time so a rotated secrets file applies without restart.
type Registry struct {
	cfg     Config
	secrets secrets.Source
	log     pslog.Logger
}

// NewRegistry returns a registry reading API keys from src.
func NewRegistry(cfg Config, src secrets.Source) *Registry {
	return NewRegistryWithLogger(cfg, src, nil)
}

// NewRegistryWithLogger returns a registry that logs generation calls.
func NewRegistryWithLogger(cfg Config, src secrets.Source, logger pslog.Logger) *Registry {
	return &Registry{cfg: cfg, secrets: src, log: logger}
}

// Providers lists every known provider.
func (r *Registry) Providers() []schema.ProviderName {
	return []schema.ProviderName{schema.ProviderAnthropic, schema.ProviderOpenAI}
}

// Available lists providers whose API key is configured.
func (r *Registry) Available() []schema.ProviderName {
	var out []schema.ProviderName
	for _, name := range r.Providers() {
		if r.keyFor(name) != "" {
			out = append(out, name)
		}
	}
	return out
}

// Generator returns the generator for provider, or ErrProviderUnavailable when its key is missing.
func (r *Registry) Generator(provider schema.ProviderName) (Generator, error) {
	switch provider {
	case schema.ProviderAnthropic:
		key := r.keyFor(provider)
		if key == "" {
			return nil, fmt.Errorf("%s: %w", secrets.AnthropicAPIKey, schema.ErrProviderUnavailable)
		}
		return NewAnthropic(key, r.cfg.Anthropic, r.cfg.HTTPClient), nil
	case schema.ProviderOpenAI:
		key := r.keyFor(provider)
		if key == "" {
			return nil, fmt.Errorf("%s: %w", secrets.OpenAIAPIKey, schema.ErrProviderUnavailable)
		}
		return NewOpenAI(key, r.cfg.OpenAI, r.cfg.HTTPClient), nil
	default:
		return nil, schema.ErrInvalidProvider
	}
}

// Generate runs one generation with the configured timeout and post-processing.
func (r *Registry) Generate(ctx context.Context, provider schema.ProviderName, instruction, content string) (string, error) {
	gen, err := r.Generator(provider)
	if err != nil {
		if r.log != nil {
			r.log.Warn("codegen unavailable", "provider", provider, "err", err)
		}
		return "", err
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	if r.log != nil {
		r.log.Debug("codegen start", "provider", provider, "instruction_bytes", len(instruction), "content_bytes", len(content))
	}
	out, err := gen.Generate(ctx, instruction, content)
	if err != nil {
		if r.log != nil {
			r.log.Warn("codegen failed", "provider", provider, "duration", time.Since(start), "err", err)
		}
		return "", err
	}
	if r.cfg.StripFences {
		out = StripFences(out)
	}
	if r.log != nil {
		r.log.Info("codegen ok", "provider", provider, "duration", time.Since(start), "output_bytes", len(out))
	}
	return out, nil
}

func (r *Registry) keyFor(provider schema.ProviderName) string {
	if r.secrets == nil {
		return ""
	}
	switch provider {
	case schema.ProviderAnthropic:
		return r.secrets.Get(secrets.AnthropicAPIKey)
	case schema.ProviderOpenAI:
		return r.secrets.Get(secrets.OpenAIAPIKey)
	}
	return ""
}
