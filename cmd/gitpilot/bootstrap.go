package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/gitpilot/bootstrap"
	"pkt.systems/pslog"
)

func defaultBootstrapDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gitpilot"), nil
}

func newBootstrapCmd() *cobra.Command {
	var (
		dir    string
		force  bool
		noSeed bool
		addr   string
	)
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create config.yaml, a secrets.toml template, and the state directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				d, err := defaultBootstrapDir()
				if err != nil {
					return err
				}
				dir = d
			}
			opts := bootstrap.Options{NoSeedUsers: noSeed}
			if addr != "" {
				opts.Overrides = []bootstrap.ConfigOverride{{Path: "http.addr", Value: addr}}
			}
			paths, err := bootstrap.WriteBootstrapWithOptions(dir, force, opts)
			if err != nil {
				return err
			}

			log := pslog.Ctx(cmd.Context())
			secretsVerb := "wrote"
			if paths.SecretsKept {
				secretsVerb = "kept"
			}
			log.Info("bootstrap wrote", "config", paths.ConfigPath, "state_dir", paths.StateDir)
			log.Info("bootstrap "+secretsVerb, "secrets", paths.SecretsPath)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "config:  %s\nsecrets: %s (%s)\nstate:   %s\n\n", paths.ConfigPath, paths.SecretsPath, secretsVerb, paths.StateDir)
			_, _ = fmt.Fprintf(out, "next steps:\n")
			if noSeed {
				_, _ = fmt.Fprintf(out, "  gitpilot users add <username> -c %s\n", paths.ConfigPath)
			}
			_, _ = fmt.Fprintf(out, "  add ANTHROPIC_API_KEY and/or OPENAI_API_KEY to %s\n", paths.SecretsPath)
			_, _ = fmt.Fprintf(out, "  gitpilot serve -c %s\n", paths.ConfigPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", "", "target directory (default ~/.gitpilot)")
	cmd.Flags().BoolVar(&force, "force", false, "replace existing files, including secrets.toml")
	cmd.Flags().BoolVar(&noSeed, "no-seed-users", false, "leave the operator seed list empty")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address written to http.addr")
	return cmd
}
