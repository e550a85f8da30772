package core

import (
	"context"

	"pkt.systems/gitpilot/internal/hosting"
	"pkt.systems/gitpilot/internal/persist"
	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// Codegen generates replacement buffer content with a named provider.
type Codegen interface {
	Providers() []schema.ProviderName
	Available() []schema.ProviderName
	Generate(ctx context.Context, provider schema.ProviderName, instruction, content string) (string, error)
}

// CredentialStore persists the hosting token encrypted at rest.
type CredentialStore interface {
	Save(token string) error
	Load() (token string, found bool, err error)
}

// ServiceDeps captures dependencies for the core service.
// Hosting and Codegen are required; the rest degrade gracefully when nil.
type ServiceDeps struct {
	Hosting     hosting.Factory
	Codegen     Codegen
	Credentials CredentialStore
	Secrets     secrets.Source
	State       *persist.Store
	Logger      pslog.Logger
}
