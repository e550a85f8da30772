package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/auth"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const (
	defaultPasswordLength = 20
	passwordAlphabet      = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// operatorAction runs against the user file named by the loaded config.
type operatorAction func(cmd *cobra.Command, store *auth.Store, args []string) error

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the operators allowed into the web UI",
		Long: "Operators sign in to the web UI with a password and a TOTP code. " +
			"Changes are picked up by a running server without a restart.",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	bind := func(action operatorAction) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, cfg.Auth.SeedUsers, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			return action(cmd, store, args)
		}
	}

	list := &cobra.Command{Use: "list", Short: "Print operator names", Args: cobra.NoArgs, RunE: bind(listOperators)}

	add := &cobra.Command{Use: "add <username>", Short: "Enroll a new operator", Args: cobra.ExactArgs(1)}
	addPw := bindPasswordFlags(add)
	add.RunE = bind(func(cmd *cobra.Command, store *auth.Store, args []string) error {
		return addOperator(cmd, store, args[0], addPw)
	})

	del := &cobra.Command{Use: "delete <username>", Short: "Remove an operator", Args: cobra.ExactArgs(1), RunE: bind(deleteOperator)}

	rotate := &cobra.Command{Use: "rotate-totp <username>", Short: "Issue a new TOTP secret", Args: cobra.ExactArgs(1), RunE: bind(rotateOperatorTOTP)}

	chpasswd := &cobra.Command{Use: "chpasswd <username>", Short: "Set a new password", Args: cobra.ExactArgs(1)}
	chPw := bindPasswordFlags(chpasswd)
	chpasswd.RunE = bind(func(cmd *cobra.Command, store *auth.Store, args []string) error {
		return changeOperatorPassword(cmd, store, args[0], chPw)
	})

	cmd.AddCommand(list, add, del, rotate, chpasswd)
	return cmd
}

func listOperators(cmd *cobra.Command, store *auth.Store, _ []string) error {
	var b strings.Builder
	for _, user := range store.LoadUsers() {
		b.WriteString(user.Username)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(cmd.OutOrStdout(), b.String())
	return err
}

func addOperator(cmd *cobra.Command, store *auth.Store, username string, pw *passwordSource) error {
	if err := checkUsername(username); err != nil {
		return err
	}
	password, err := pw.read(cmd)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	secret, url, err := auth.GenerateTOTP(username)
	if err != nil {
		return err
	}
	if err := store.AddUser(auth.User{Username: username, PasswordHash: hash, TOTPSecret: secret}); err != nil {
		return err
	}
	enrollment{username: username, totpSecret: secret, otpauthURL: url}.
		withPassword(password, pw.generated()).
		print(cmd.OutOrStdout())
	return nil
}

func deleteOperator(cmd *cobra.Command, store *auth.Store, args []string) error {
	if err := store.DeleteUser(args[0]); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted user: %s\n", args[0])
	return err
}

func rotateOperatorTOTP(cmd *cobra.Command, store *auth.Store, args []string) error {
	username := args[0]
	if err := checkUsername(username); err != nil {
		return err
	}
	secret, url, err := auth.GenerateTOTP(username)
	if err != nil {
		return err
	}
	if err := store.UpdateTOTP(username, secret); err != nil {
		return err
	}
	enrollment{username: username, totpSecret: secret, otpauthURL: url}.print(cmd.OutOrStdout())
	return nil
}

func changeOperatorPassword(cmd *cobra.Command, store *auth.Store, username string, pw *passwordSource) error {
	if err := checkUsername(username); err != nil {
		return err
	}
	password, err := pw.read(cmd)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.UpdatePassword(username, hash); err != nil {
		return err
	}
	enrollment{username: username}.withPassword(password, pw.generated()).print(cmd.OutOrStdout())
	return nil
}

// passwordSource decides where a new operator password comes from: stdin,
// a generated value, or an interactive prompt.
type passwordSource struct {
	stdin bool
	auto  bool
}

func bindPasswordFlags(cmd *cobra.Command) *passwordSource {
	src := &passwordSource{}
	cmd.Flags().BoolVar(&src.stdin, "password-from-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&src.auto, "auto-password", false, "generate a random password and print it")
	cmd.MarkFlagsMutuallyExclusive("password-from-stdin", "auto-password")
	return src
}

func (p *passwordSource) generated() bool { return p.auto }

func (p *passwordSource) read(cmd *cobra.Command) (string, error) {
	switch {
	case p.stdin && p.auto:
		return "", errors.New("choose one of --password-from-stdin or --auto-password")
	case p.auto:
		return generatePassword(defaultPasswordLength)
	case p.stdin:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		if pass := strings.TrimSpace(string(data)); pass != "" {
			return pass, nil
		}
		return "", errors.New("password from stdin is empty")
	}
	first, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	again, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Confirm password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	if string(first) != string(again) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password is empty")
	}
	return string(first), nil
}

// generatePassword draws from an alphabet without look-alike characters.
func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// enrollment is what an operator needs to sign in for the first time or
// after a credential change.
type enrollment struct {
	username   string
	password   string
	totpSecret string
	otpauthURL string
}

// withPassword only reveals passwords gitpilot generated itself.
func (e enrollment) withPassword(password string, generated bool) enrollment {
	if generated {
		e.password = password
	}
	return e
}

func (e enrollment) print(w io.Writer) {
	lines := [][2]string{{"username", e.username}, {"password", e.password}, {"totp_secret", e.totpSecret}, {"otpauth_url", e.otpauthURL}}
	for _, kv := range lines {
		if kv[1] != "" {
			_, _ = fmt.Fprintf(w, "%s: %s\n", kv[0], kv[1])
		}
	}
	if e.otpauthURL == "" {
		return
	}
	_, _ = fmt.Fprintln(w, "totp_qr:")
	qrterminal.GenerateHalfBlock(e.otpauthURL, qrterminal.L, w)
}

func checkUsername(username string) error {
	if err := schema.ValidateUserID(schema.UserID(username)); err != nil {
		return fmt.Errorf("invalid username %q: use lowercase letters, digits, '.', '_' or '-'", username)
	}
	return nil
}
