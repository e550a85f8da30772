// Command bootstrapgen renders the sample deployment tree checked in under
// deploy/. It is driven by go:generate and is not part of the shipped CLI.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"pkt.systems/gitpilot/bootstrap"
)

// overrideFlags collects repeated -set path=value arguments.
type overrideFlags []bootstrap.ConfigOverride

func (o *overrideFlags) String() string {
	parts := make([]string, 0, len(*o))
	for _, ov := range *o {
		parts = append(parts, fmt.Sprintf("%s=%v", ov.Path, ov.Value))
	}
	return strings.Join(parts, ",")
}

func (o *overrideFlags) Set(raw string) error {
	path, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(path) == "" {
		return fmt.Errorf("expected path=value, got %q", raw)
	}
	*o = append(*o, bootstrap.ConfigOverride{Path: strings.TrimSpace(path), Value: value})
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrapgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("bootstrapgen", flag.ContinueOnError)
	dir := fs.String("o", ".", "directory to write config.yaml, secrets.toml, and state/ into")
	force := fs.Bool("force", false, "replace files that already exist")
	noSeed := fs.Bool("no-seed-users", false, "write an empty operator seed list")
	var overrides overrideFlags
	fs.Var(&overrides, "set", "override a config value, e.g. -set http.addr=:9090 (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	paths, err := bootstrap.WriteBootstrapWithOptions(*dir, *force, bootstrap.Options{
		NoSeedUsers: *noSeed,
		Overrides:   overrides,
	})
	if err != nil {
		return err
	}
	secrets := paths.SecretsPath
	if paths.SecretsKept {
		secrets += " (kept)"
	}
	_, err = fmt.Fprintf(out, "config  %s\nsecrets %s\nstate   %s\n", paths.ConfigPath, secrets, paths.StateDir)
	return err
}
