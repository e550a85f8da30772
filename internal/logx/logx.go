// Package logx holds the field vocabulary gitpilot uses on its log lines so
// that the same subject is always logged under the same key.
package logx

import (
	"context"

	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// Field keys shared across packages.
const (
	KeyUser     = "user"
	KeySession  = "http_session"
	KeyRepo     = "repo"
	KeyFile     = "file"
	KeyProvider = "provider"
)

type boundUser struct{}

// Ctx returns the logger carried by ctx.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

func with[T ~string](log pslog.Logger, key string, value T) pslog.Logger {
	if value == "" {
		return log
	}
	return log.With(key, string(value))
}

// WithUser returns the context logger tagged with userID, unless the context
// already carries a logger bound to that same user.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if bound, _ := ctx.Value(boundUser{}).(schema.UserID); bound != "" && bound == userID {
		return log
	}
	return with(log, KeyUser, userID)
}

// WithSession tags a logger with the operator and browser session.
func WithSession(log pslog.Logger, userID schema.UserID, sessionID string) pslog.Logger {
	return with(with(log, KeyUser, userID), KeySession, sessionID)
}

// WithRepo tags a logger with the selected repository.
func WithRepo(log pslog.Logger, repo schema.RepoName) pslog.Logger {
	return with(log, KeyRepo, repo)
}

// WithFile tags a logger with the repository and the file inside it.
func WithFile(log pslog.Logger, repo schema.RepoName, path schema.FilePath) pslog.Logger {
	return with(WithRepo(log, repo), KeyFile, path)
}

// WithProvider tags a logger with the code generation backend.
func WithProvider(log pslog.Logger, provider schema.ProviderName) pslog.Logger {
	return with(log, KeyProvider, provider)
}

// ContextWithUserLogger stores log on ctx and remembers that it already
// carries userID, so WithUser will not add the field twice.
func ContextWithUserLogger(ctx context.Context, log pslog.Logger, userID schema.UserID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, boundUser{}, userID)
}
