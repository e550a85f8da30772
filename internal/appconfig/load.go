package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/gitpilot/schema"
)

// EnvPrefix namespaces environment overrides: http.addr is read from
// GITPILOT_HTTP_ADDR, codegen.openai.model from GITPILOT_CODEGEN_OPENAI_MODEL.
const EnvPrefix = "GITPILOT"

// forbiddenKeys may never appear in config.yaml. Tokens live in secrets.toml
// or the encrypted credential store.
var forbiddenKeys = []string{"hosting.token", "github_token", "codegen.anthropic.api_key", "codegen.openai.api_key"}

// Load reads the YAML config at path (DefaultConfigPath when empty) over the
// built-in defaults, applies GITPILOT_* environment overrides, expands
// $VARS in path settings, and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := registerDefaults(v, cfg); err != nil {
		return Config{}, err
	}

	err = v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		if err := checkFileShape(v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	case errors.As(err, &notFound):
	default:
		return Config{}, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	for _, p := range cfg.pathSettings() {
		*p = expandEnv(*p)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// registerDefaults gives viper every leaf key of the default config so that
// partial files and environment overrides both resolve.
func registerDefaults(v *viper.Viper, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for key, value := range node {
			if child, ok := value.(map[string]any); ok && len(child) > 0 {
				walk(prefix+key+".", child)
				continue
			}
			v.SetDefault(prefix+key, value)
		}
	}
	walk("", tree)
	// Keep the typed slice so an empty list in the file still replaces it.
	v.SetDefault("auth.seed_users", cfg.Auth.SeedUsers)
	return nil
}

func checkFileShape(v *viper.Viper) error {
	if !v.InConfig("config_version") {
		return fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
	}
	if got := v.GetInt("config_version"); got != CurrentConfigVersion {
		return fmt.Errorf("unsupported config_version %d; expected %d", got, CurrentConfigVersion)
	}
	for _, key := range forbiddenKeys {
		if v.InConfig(key) {
			return fmt.Errorf("%s does not belong in config.yaml; use secrets.toml or gitpilot token set", key)
		}
	}
	return nil
}

func (c *Config) pathSettings() []*string {
	return []*string{
		&c.StateDir,
		&c.HTTP.SessionStorePath,
		&c.Auth.UserFile,
		&c.Credentials.KeyPath,
		&c.Credentials.TokenPath,
		&c.Secrets.Path,
	}
}

// Validate reports every problem in the config at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if err := checkAbsoluteURL("http.base_url", c.HTTP.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if bp := strings.TrimSpace(c.HTTP.BasePath); bp != "" {
		if strings.Contains(bp, "://") {
			add("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(bp, "?#") {
			add("http.base_path must not include query or fragment")
		}
	}
	if c.Auth.Disabled && schema.ValidateUserID(schema.UserID(c.Auth.SingleUser)) != nil {
		add("auth.single_user must be a valid username when auth.disabled is true")
	}
	if _, err := schema.NormalizeProvider(c.Codegen.DefaultProvider); err != nil {
		add("unsupported codegen.default_provider %q", c.Codegen.DefaultProvider)
	}
	if c.Codegen.TimeoutSeconds < 0 {
		add("codegen.timeout_seconds must not be negative")
	}
	if c.Codegen.Anthropic.MaxTokens <= 0 {
		add("codegen.anthropic.max_tokens must be positive")
	}
	if c.Hosting.CacheTTLSeconds < 0 {
		add("hosting.cache_ttl_seconds must not be negative")
	}
	for _, u := range [][2]string{
		{"codegen.anthropic.base_url", c.Codegen.Anthropic.BaseURL},
		{"codegen.openai.base_url", c.Codegen.OpenAI.BaseURL},
		{"hosting.base_url", c.Hosting.BaseURL},
	} {
		if err := checkAbsoluteURL(u[0], u[1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkAbsoluteURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must include scheme and host (e.g. https://example.com)", key)
	}
	return nil
}

// expandEnv replaces $VAR and ${VAR}. $UID and $GID fall back to the
// process ids; unknown variables are left as written.
func expandEnv(value string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		switch key {
		case "UID":
			return strconv.Itoa(os.Getuid())
		case "GID":
			return strconv.Itoa(os.Getgid())
		case "":
			return ""
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to path, refusing to replace an
// existing file unless overwrite is set.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil && !overwrite {
		return "", fmt.Errorf("config already exists at %s", path)
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o600)
}
