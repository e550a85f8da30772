package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig        `mapstructure:"http" yaml:"http"`
	Auth          AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Hosting       HostingConfig     `mapstructure:"hosting" yaml:"hosting"`
	Credentials   CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Secrets       SecretsConfig     `mapstructure:"secrets" yaml:"secrets"`
	Codegen       CodegenConfig     `mapstructure:"codegen" yaml:"codegen"`
	Flow          FlowConfig        `mapstructure:"flow" yaml:"flow"`
	Logging       LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr             string `mapstructure:"addr" yaml:"addr"`
	SessionCookie    string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours  int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	SessionStorePath string `mapstructure:"session_store_path" yaml:"session_store_path"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	BasePath         string `mapstructure:"base_path" yaml:"base_path"`
}

// AuthConfig configures operator login for the web UI.
type AuthConfig struct {
	// Disabled skips the login form and issues sessions for SingleUser.
	Disabled   bool       `mapstructure:"disabled" yaml:"disabled"`
	SingleUser string     `mapstructure:"single_user" yaml:"single_user"`
	UserFile   string     `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers  []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds a user record in the auth store.
type SeedUser struct {
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// HostingConfig configures the GitHub API client.
type HostingConfig struct {
	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

// CredentialsConfig locates the encrypted hosting token.
type CredentialsConfig struct {
	KeyPath   string `mapstructure:"key_path" yaml:"key_path"`
	TokenPath string `mapstructure:"token_path" yaml:"token_path"`
}

// SecretsConfig locates the secrets file.
type SecretsConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

// CodegenConfig configures the code generation providers.
type CodegenConfig struct {
	DefaultProvider string          `mapstructure:"default_provider" yaml:"default_provider"`
	TimeoutSeconds  int             `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	StripFences     bool            `mapstructure:"strip_fences" yaml:"strip_fences"`
	Anthropic       AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	OpenAI          OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
}

// AnthropicConfig configures the Anthropic messages backend.
type AnthropicConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// OpenAIConfig configures the OpenAI chat completions backend.
type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// FlowConfig tunes the interactive editing flow.
type FlowConfig struct {
	ConfirmNoticeSeconds int `mapstructure:"confirm_notice_seconds" yaml:"confirm_notice_seconds"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	root := filepath.Join(home, ".gitpilot")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(root, "state"),
		HTTP: HTTPConfig{
			Addr:             "127.0.0.1:27580",
			SessionCookie:    "gitpilot_session",
			SessionTTLHours:  168,
			SessionStorePath: filepath.Join(root, "state", "sessions.json"),
			BaseURL:          "",
			BasePath:         "",
		},
		Auth: AuthConfig{
			Disabled:   false,
			SingleUser: "",
			UserFile:   filepath.Join(root, "users.json"),
			SeedUsers: []SeedUser{
				{
					Username:     "admin",
					PasswordHash: "$2a$12$PyjGUD8qnJie1MULQVHJdu9zuS/juh5W5RtDUVHv5HFb.62gNnY/q",
					TOTPSecret:   "JBSWY3DPEHPK3PXP",
				},
			},
		},
		Hosting: HostingConfig{
			BaseURL:         "",
			CacheTTLSeconds: 60,
		},
		Credentials: CredentialsConfig{
			KeyPath:   filepath.Join(root, "token.keys"),
			TokenPath: filepath.Join(root, "token.enc"),
		},
		Secrets: SecretsConfig{
			Path:  filepath.Join(root, "secrets.toml"),
			Watch: true,
		},
		Codegen: CodegenConfig{
			DefaultProvider: "anthropic",
			TimeoutSeconds:  120,
			StripFences:     false,
			Anthropic: AnthropicConfig{
				BaseURL:   "https://api.anthropic.com",
				Model:     "claude-3-5-sonnet-20240620",
				MaxTokens: 8192,
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o",
			},
		},
		Flow: FlowConfig{
			ConfirmNoticeSeconds: 7,
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gitpilot", "config.yaml"), nil
}
