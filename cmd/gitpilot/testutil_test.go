package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/gitpilot/internal/appconfig"
)

func writeTestConfig(t *testing.T, mutate func(*appconfig.Config)) string {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	root := t.TempDir()
	cfg.StateDir = filepath.Join(root, "state")
	cfg.HTTP.SessionStorePath = filepath.Join(root, "state", "sessions.json")
	cfg.Auth.UserFile = filepath.Join(root, "users.json")
	cfg.Credentials.KeyPath = filepath.Join(root, "token.keys")
	cfg.Credentials.TokenPath = filepath.Join(root, "token.enc")
	cfg.Secrets.Path = filepath.Join(root, "secrets.toml")
	if mutate != nil {
		mutate(&cfg)
	}
	path := filepath.Join(root, "config.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadConfigFromPath(t *testing.T, path string) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// runCmd executes cmd with args and returns its stdout.
func runCmd(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(bytes.NewBufferString(stdin))
	err := cmd.Execute()
	return out.String(), err
}
