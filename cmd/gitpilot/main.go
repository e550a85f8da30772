// Command gitpilot serves the browser editor for GitHub repositories and
// carries the admin subcommands that manage its operators, token, and config.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/gitpilot/internal/version"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	// Libraries that still use the standard logger end up in the same stream.
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Info("gitpilot interrupted")
		return 130
	default:
		logger.Error("gitpilot command failed", "err", err)
		return 1
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gitpilot",
		Short: "Edit GitHub repositories from the browser with AI code generation",
		Long: "gitpilot serves a small web editor: sign in with a GitHub token, pick a " +
			"repository and a top-level file, let Anthropic or OpenAI rewrite it, and " +
			"commit once you have reviewed the diff.",
		Version:       version.CurrentWithDirty(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	root.AddCommand(
		newServeCmd(),
		newBootstrapCmd(),
		newDoctorCmd(),
		newTokenCmd(),
		newUsersCmd(),
		newVersionCmd(),
	)
	return root
}
