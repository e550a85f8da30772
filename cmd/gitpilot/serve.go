package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/gitpilot"
	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/pslog"
)

type serveFlags struct {
	config          string
	addr            string
	quietEdits      bool
	shutdownTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			server, err := assembleServer(cfg, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			return serveUntilSignal(cmd.Context(), server, flags.shutdownTimeout)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address, overrides http.addr")
	cmd.Flags().BoolVar(&flags.quietEdits, "disable-audit-trails", false, "do not log buffer and generation sizes")
	cmd.Flags().DurationVar(&flags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for requests to drain on exit")
	return cmd
}

func (f serveFlags) load() (appconfig.Config, error) {
	cfg, err := appconfig.Load(f.config)
	if err != nil {
		return appconfig.Config{}, err
	}
	if f.quietEdits {
		cfg.Logging.DisableAuditTrails = true
	}
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
	}
	return cfg, validateServeConfig(cfg)
}

// assembleServer wires runtime dependencies into the composite server.
func assembleServer(cfg appconfig.Config, logger pslog.Logger) (gitpilot.Server, error) {
	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("codegen providers", "available", rt.codegen.Available(), "default", cfg.Codegen.DefaultProvider)
	opts := []gitpilot.ServerOption{gitpilot.WithHTTP()}
	if cfg.Secrets.Watch {
		opts = append(opts, gitpilot.WithSecretsWatch())
	}
	return gitpilot.New(gitpilot.ServerConfig{
		Service: toServiceConfig(cfg),
		HTTP:    toHTTPConfig(cfg),
		Auth:    toAuthConfig(cfg.Auth),
	}, toServerDeps(rt, logger), opts...)
}

// serveUntilSignal runs server until SIGINT or SIGTERM, then gives it grace
// to finish in-flight work.
func serveUntilSignal(parent context.Context, server gitpilot.Server, grace time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.Start(ctx); err != nil {
		return err
	}
	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		stopped <- server.Stop(stopCtx)
	}()
	if err := server.Wait(); err != nil {
		return err
	}
	if err := <-stopped; err != nil && !errors.Is(err, context.DeadlineExceeded) {
		pslog.Ctx(parent).Warn("server stop failed", "err", err)
	}
	return nil
}
