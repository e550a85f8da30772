package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/auth"
	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/pslog"
)

// errCheckWarn marks a finding that does not stop the server from running.
var errCheckWarn = errors.New("warning")

type doctorCheck struct {
	name string
	run  func(ctx context.Context, d *doctor) (string, error)
}

// doctor carries state shared between checks so later checks can reuse the
// runtime and token resolved by earlier ones.
type doctor struct {
	cfg          appconfig.Config
	logger       pslog.Logger
	rt           *runtimeDeps
	token        string
	checkHosting bool
}

var doctorChecks = []doctorCheck{
	{"config", func(_ context.Context, d *doctor) (string, error) {
		if err := validateServeConfig(d.cfg); err != nil {
			return "", err
		}
		return fmt.Sprintf("listening on %s, auth disabled=%t", d.cfg.HTTP.Addr, d.cfg.Auth.Disabled), nil
	}},
	{"operators", func(_ context.Context, d *doctor) (string, error) {
		if d.cfg.Auth.Disabled {
			return "skipped, single user " + d.cfg.Auth.SingleUser, nil
		}
		store, err := auth.NewStoreWithLogger(d.cfg.Auth.UserFile, d.cfg.Auth.SeedUsers, d.logger)
		if err != nil {
			return "", err
		}
		n := len(store.LoadUsers())
		if n == 0 {
			return "", errors.New("no operator accounts; add one with: gitpilot users add <username>")
		}
		return fmt.Sprintf("%d account(s)", n), nil
	}},
	{"codegen", func(_ context.Context, d *doctor) (string, error) {
		rt, err := d.runtime()
		if err != nil {
			return "", err
		}
		available := rt.codegen.Available()
		if len(available) == 0 {
			return "no provider keys in " + rt.secrets.Path(), errCheckWarn
		}
		names := make([]string, 0, len(available))
		for _, p := range available {
			names = append(names, string(p))
		}
		return strings.Join(names, ", "), nil
	}},
	{"token", func(_ context.Context, d *doctor) (string, error) {
		rt, err := d.runtime()
		if err != nil {
			return "", err
		}
		stored, ok, err := rt.credentials.Load()
		if err != nil {
			return "", err
		}
		source := "credential store"
		d.token = stored
		if !ok {
			d.token, source = rt.secrets.Get(secrets.GitHubToken), "secrets file"
		}
		if d.token == "" {
			return "none stored; the web UI will ask for one", errCheckWarn
		}
		return maskToken(d.token) + " from " + source, nil
	}},
	{"hosting", func(ctx context.Context, d *doctor) (string, error) {
		if !d.checkHosting {
			return "skipped, pass --check-hosting", nil
		}
		if d.token == "" {
			return "", errors.New("no hosting token to check")
		}
		login, err := verifyToken(ctx, d.cfg, d.token)
		if err != nil {
			return "", err
		}
		return "signed in as " + login, nil
	}},
}

func (d *doctor) runtime() (*runtimeDeps, error) {
	if d.rt != nil {
		return d.rt, nil
	}
	rt, err := buildRuntime(d.cfg, d.logger)
	if err != nil {
		return nil, err
	}
	d.rt = &rt
	return d.rt, nil
}

// run executes every check, prints one line per check, and returns the
// failures joined. Warnings are reported but do not fail the run.
func (d *doctor) run(ctx context.Context, out io.Writer) error {
	var failed []error
	for _, check := range doctorChecks {
		detail, err := check.run(ctx, d)
		status := "ok"
		switch {
		case errors.Is(err, errCheckWarn):
			status = "warn"
			d.logger.Warn("doctor "+check.name, "detail", detail)
		case err != nil:
			status, detail = "fail", err.Error()
			failed = append(failed, fmt.Errorf("%s: %w", check.name, err))
			d.logger.Error("doctor "+check.name+" failed", "err", err)
		default:
			d.logger.Debug("doctor "+check.name+" ok", "detail", detail)
		}
		_, _ = fmt.Fprintf(out, "%-4s %-10s %s\n", status, check.name, detail)
	}
	return errors.Join(failed...)
}

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var checkHosting bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, operators, provider keys, and the GitHub token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			d := &doctor{cfg: cfg, logger: pslog.Ctx(cmd.Context()), checkHosting: checkHosting}
			return d.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&checkHosting, "check-hosting", false, "call the GitHub API with the stored token")
	return cmd
}
