// Package bootstrap writes a starter config.yaml and secrets.toml template.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/secrets"
)

const (
	configName  = "config.yaml"
	secretsName = "secrets.toml"
)

// Options controls optional bootstrap behaviors.
type Options struct {
	// NoSeedUsers writes an empty seed user list.
	NoSeedUsers bool
	Overrides   []ConfigOverride
}

// ConfigOverride sets a dotted config path, e.g. "http.addr", in the generated config.
type ConfigOverride struct {
	Path  string
	Value any
}

// Paths reports where bootstrap wrote its outputs.
type Paths struct {
	ConfigPath  string
	SecretsPath string
	StateDir    string
	// SecretsKept is true when an existing secrets file was left untouched.
	SecretsKept bool
}

// DefaultConfig returns the default config with every path rooted at root.
func DefaultConfig(root string) (appconfig.Config, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return appconfig.Config{}, err
	}
	if strings.TrimSpace(root) == "" {
		return cfg, nil
	}
	cfg.ConfigVersion = appconfig.CurrentConfigVersion
	cfg.StateDir = filepath.Join(root, "state")
	cfg.HTTP.SessionStorePath = filepath.Join(root, "state", "sessions.json")
	cfg.Auth.UserFile = filepath.Join(root, "users.json")
	cfg.Credentials.KeyPath = filepath.Join(root, "token.keys")
	cfg.Credentials.TokenPath = filepath.Join(root, "token.enc")
	cfg.Secrets.Path = filepath.Join(root, secretsName)
	return cfg, nil
}

// ConfigYAML renders the bootstrap config for root.
func ConfigYAML(root string, opts Options) ([]byte, error) {
	cfg, err := DefaultConfig(root)
	if err != nil {
		return nil, err
	}
	if opts.NoSeedUsers {
		cfg.Auth.SeedUsers = []appconfig.SeedUser{}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return applyOverridesToYAML(data, opts.Overrides)
}

// WriteBootstrap writes config.yaml and secrets.toml under outputDir.
func WriteBootstrap(outputDir string, overwrite bool) (Paths, error) {
	return WriteBootstrapWithOptions(outputDir, overwrite, Options{})
}

// WriteBootstrapWithOptions writes config.yaml and secrets.toml under outputDir.
// An existing secrets file is never overwritten unless overwrite is set.
func WriteBootstrapWithOptions(outputDir string, overwrite bool, opts Options) (Paths, error) {
	if strings.TrimSpace(outputDir) == "" {
		return Paths{}, errors.New("output directory is required")
	}
	root, err := filepath.Abs(outputDir)
	if err != nil {
		root = outputDir
	}
	paths := Paths{
		ConfigPath:  filepath.Join(root, configName),
		SecretsPath: filepath.Join(root, secretsName),
		StateDir:    filepath.Join(root, "state"),
	}
	if !overwrite {
		if _, err := os.Stat(paths.ConfigPath); err == nil {
			return Paths{}, fmt.Errorf("file already exists: %s", paths.ConfigPath)
		}
	}
	data, err := ConfigYAML(root, opts)
	if err != nil {
		return Paths{}, err
	}
	if err := os.MkdirAll(paths.StateDir, 0o700); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(paths.ConfigPath, data, 0o600); err != nil {
		return Paths{}, err
	}
	if _, err := os.Stat(paths.SecretsPath); err == nil && !overwrite {
		paths.SecretsKept = true
		return paths, nil
	}
	if err := secrets.Write(paths.SecretsPath, secrets.File{}, true); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

func applyOverridesToYAML(configYAML []byte, overrides []ConfigOverride) ([]byte, error) {
	if len(overrides) == 0 {
		return configYAML, nil
	}
	var data map[string]any
	if err := yaml.Unmarshal(configYAML, &data); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		if err := setOverrideValue(data, override.Path, override.Value); err != nil {
			return nil, err
		}
	}
	return yaml.Marshal(data)
}

func setOverrideValue(root map[string]any, path string, value any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config override path is required")
	}
	parts := strings.Split(path, ".")
	node := root
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("invalid config override path %q", path)
		}
		if i == len(parts)-1 {
			node[part] = value
			return nil
		}
		next, ok := node[part]
		if !ok || next == nil {
			child := map[string]any{}
			node[part] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config override %q: %q is not a map", path, part)
		}
		node = child
	}
	return nil
}
