//go:generate go run ./internal/tools/bootstrapgen -o ./deploy -no-seed-users -force

// Package gitpilot composes the editing service, its HTTP UI, and the
// provider key watcher into a single server.
package gitpilot
