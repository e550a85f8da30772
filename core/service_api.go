package core

import (
	"context"

	"pkt.systems/gitpilot/schema"
)

// Service is the transport-agnostic flow controller behind the web UI.
// Calls for one user are serialized; different users never share state.
type Service interface {
	Login(ctx context.Context, req schema.LoginRequest) (schema.LoginResponse, error)
	Logout(ctx context.Context, req schema.LogoutRequest) (schema.LogoutResponse, error)
	State(ctx context.Context, req schema.StateRequest) (schema.StateResponse, error)
	ListRepos(ctx context.Context, req schema.ListReposRequest) (schema.ListReposResponse, error)
	ListFiles(ctx context.Context, req schema.ListFilesRequest) (schema.ListFilesResponse, error)
	OpenFile(ctx context.Context, req schema.OpenFileRequest) (schema.OpenFileResponse, error)
	UpdateBuffer(ctx context.Context, req schema.UpdateBufferRequest) (schema.UpdateBufferResponse, error)
	Generate(ctx context.Context, req schema.GenerateRequest) (schema.GenerateResponse, error)
	SetProvider(ctx context.Context, req schema.SetProviderRequest) (schema.SetProviderResponse, error)
	Preview(ctx context.Context, req schema.PreviewRequest) (schema.PreviewResponse, error)
	RequestSave(ctx context.Context, req schema.RequestSaveRequest) (schema.RequestSaveResponse, error)
	ConfirmSave(ctx context.Context, req schema.ConfirmSaveRequest) (schema.ConfirmSaveResponse, error)
	CancelSave(ctx context.Context, req schema.CancelSaveRequest) (schema.CancelSaveResponse, error)
	CreateFile(ctx context.Context, req schema.CreateFileRequest) (schema.CreateFileResponse, error)
	DeleteFile(ctx context.Context, req schema.DeleteFileRequest) (schema.DeleteFileResponse, error)
	CreateRepo(ctx context.Context, req schema.CreateRepoRequest) (schema.CreateRepoResponse, error)
	DeleteRepo(ctx context.Context, req schema.DeleteRepoRequest) (schema.DeleteRepoResponse, error)
	// Close releases every session handle.
	Close()
}
