package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"pkt.systems/gitpilot/internal/version"
)

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			build := version.Read()
			out := cmd.OutOrStdout()
			if short {
				_, err := fmt.Fprintln(out, build.String())
				return err
			}
			if _, err := fmt.Fprintf(out, "%s %s\n", build.Module, build.String()); err != nil {
				return err
			}
			if build.Revision != "" {
				_, _ = fmt.Fprintf(out, "revision %s\n", build.Revision)
			}
			_, err := fmt.Fprintf(out, "go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	return cmd
}
