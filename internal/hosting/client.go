// Package hosting defines the source-control hosting API surface used by the editor.
package hosting

import (
	"context"

	"pkt.systems/gitpilot/schema"
)

// Client is an authenticated handle on the hosting API.
//
// Repositories are addressed by name and are always owned by the account
// the handle was created for.
type Client interface {
	Account(ctx context.Context) (schema.Account, error)
	ListRepositories(ctx context.Context) ([]schema.RepoName, error)
	// ListFiles returns root-level regular files only. An empty repo yields an empty list.
	ListFiles(ctx context.Context, repo schema.RepoName) ([]schema.FilePath, error)
	ReadFile(ctx context.Context, repo schema.RepoName, path schema.FilePath) (schema.FileRef, error)
	// WriteFile updates an existing file. expected must be the most recently read revision.
	WriteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string, expected schema.Revision) (schema.Revision, error)
	CreateFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string) (schema.Revision, error)
	DeleteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, message string, revision schema.Revision) error
	CreateRepository(ctx context.Context, name schema.RepoName) error
	DeleteRepository(ctx context.Context, name schema.RepoName) error
}

// Factory opens a client for a token. It does not contact the API.
type Factory func(token string) (Client, error)
