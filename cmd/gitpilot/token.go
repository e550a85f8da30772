package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/credstore"
	"pkt.systems/gitpilot/internal/hosting/github"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

func newTokenCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored GitHub token",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newTokenSetCmd(&cfgPath))
	cmd.AddCommand(newTokenClearCmd(&cfgPath))
	cmd.AddCommand(newTokenStatusCmd(&cfgPath))

	return cmd
}

func openCredentials(cmd *cobra.Command, cfgPath string) (appconfig.Config, *credstore.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return appconfig.Config{}, nil, err
	}
	store, err := credstore.NewStoreWithLogger(cfg.Credentials.KeyPath, cfg.Credentials.TokenPath, pslog.Ctx(cmd.Context()))
	if err != nil {
		return appconfig.Config{}, nil, err
	}
	return cfg, store, nil
}

func newTokenSetCmd(cfgPath *string) *cobra.Command {
	var fromStdin bool
	var verify bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Encrypt and store a GitHub token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := resolveToken(cmd, fromStdin)
			if err != nil {
				return err
			}
			cfg, store, err := openCredentials(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if verify {
				login, err := verifyToken(cmd.Context(), cfg, token)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "account: %s\n", login)
			}
			if err := store.Save(token); err != nil {
				return err
			}
			keyPath, tokenPath := store.Paths()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "token stored: %s (keys %s)\n", tokenPath, keyPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "from-stdin", false, "read token from stdin")
	cmd.Flags().BoolVar(&verify, "verify", false, "check the token against the hosting API before storing")
	return cmd
}

func newTokenClearCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored GitHub token",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openCredentials(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "token cleared")
			return nil
		},
	}
}

func newTokenStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a GitHub token is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openCredentials(cmd, *cfgPath)
			if err != nil {
				return err
			}
			token, ok, err := store.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				_, _ = fmt.Fprintln(out, "token: none")
				return nil
			}
			_, _ = fmt.Fprintf(out, "token: %s\n", maskToken(token))
			return nil
		},
	}
}

func resolveToken(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", errors.New("token from stdin is empty")
		}
		return token, nil
	}
	secret, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "GitHub token: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(secret))
	if token == "" {
		return "", errors.New("token is empty")
	}
	return token, nil
}

func verifyToken(ctx context.Context, cfg appconfig.Config, token string) (string, error) {
	client, err := github.New(token, github.Options{BaseURL: cfg.Hosting.BaseURL})
	if err != nil {
		return "", err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	account, err := client.Account(checkCtx)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return account.Login, nil
}

// maskToken keeps the prefix and last four characters.
func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	prefix := ""
	if i := strings.IndexByte(token, '_'); i > 0 && i < 12 {
		prefix = token[:i+1]
	}
	return prefix + strings.Repeat("*", 4) + token[len(token)-4:]
}
