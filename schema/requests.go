package schema

import "time"

// Hosting authentication.

// LoginRequest authenticates a session against the hosting API.
// An empty Token falls back to the configured secret and then the stored credential.
type LoginRequest struct {
	UserID   UserID
	Token    string
	Remember bool
}

// LoginResponse reports the authenticated account.
type LoginResponse struct {
	Account Account
	State   SessionSnapshot
}

// LogoutRequest tears down the hosting session.
type LogoutRequest struct {
	UserID UserID
}

// LogoutResponse reports the post-logout snapshot.
type LogoutResponse struct {
	State SessionSnapshot
}

// StateRequest asks for the current session snapshot.
type StateRequest struct {
	UserID UserID
}

// StateResponse wraps the session snapshot.
type StateResponse struct {
	State SessionSnapshot
}

// Browsing.

// ListReposRequest lists repositories of the authenticated account.
type ListReposRequest struct {
	UserID UserID
}

// ListReposResponse reports repositories. Choices prepends the empty "none" entry.
type ListReposResponse struct {
	Repos   []RepoName
	Choices []RepoName
}

// ListFilesRequest lists root-level files of a repository.
type ListFilesRequest struct {
	UserID UserID
	Repo   RepoName
}

// ListFilesResponse reports file paths.
type ListFilesResponse struct {
	Files []FilePath
}

// Editing.

// OpenFileRequest loads a file into the edit buffer.
type OpenFileRequest struct {
	UserID UserID
	Repo   RepoName
	Path   FilePath
}

// OpenFileResponse reports the opened file.
type OpenFileResponse struct {
	File     FileRef
	Language string
	State    SessionSnapshot
}

// UpdateBufferRequest replaces the edit buffer with user keystrokes.
type UpdateBufferRequest struct {
	UserID  UserID
	Content string
}

// UpdateBufferResponse reports the updated snapshot.
type UpdateBufferResponse struct {
	State SessionSnapshot
}

// GenerateRequest asks the selected provider to rewrite the buffer.
type GenerateRequest struct {
	UserID      UserID
	Instruction string
}

// GenerateResponse reports the generated content.
type GenerateResponse struct {
	Provider ProviderName
	Content  string
	State    SessionSnapshot
}

// SetProviderRequest selects the code generation provider.
type SetProviderRequest struct {
	UserID   UserID
	Provider ProviderName
}

// SetProviderResponse reports the applied provider.
type SetProviderResponse struct {
	Provider ProviderName
	State    SessionSnapshot
}

// PreviewRequest renders the edit buffer.
type PreviewRequest struct {
	UserID UserID
}

// PreviewResponse carries highlighted HTML.
type PreviewResponse struct {
	Language string
	HTML     string
}

// Saving.

// RequestSaveRequest starts the confirmation step for a commit.
type RequestSaveRequest struct {
	UserID  UserID
	Message string
}

// RequestSaveResponse reports the pending save and its diff.
type RequestSaveResponse struct {
	Pending PendingSave
	State   SessionSnapshot
}

// ConfirmSaveRequest commits the pending save.
type ConfirmSaveRequest struct {
	UserID UserID
}

// ConfirmSaveResponse reports the new revision.
type ConfirmSaveResponse struct {
	Revision    Revision
	NoticeDelay time.Duration
	State       SessionSnapshot
}

// CancelSaveRequest abandons the pending save.
type CancelSaveRequest struct {
	UserID UserID
}

// CancelSaveResponse reports the snapshot after cancel.
type CancelSaveResponse struct {
	State SessionSnapshot
}

// Mutations.

// CreateFileRequest creates a new file.
type CreateFileRequest struct {
	UserID  UserID
	Repo    RepoName
	Path    FilePath
	Content string
	Message string
}

// CreateFileResponse reports the created file revision.
type CreateFileResponse struct {
	Path     FilePath
	Revision Revision
}

// DeleteFileRequest deletes a file at its latest revision.
type DeleteFileRequest struct {
	UserID  UserID
	Repo    RepoName
	Path    FilePath
	Message string
}

// DeleteFileResponse reports the snapshot after delete.
type DeleteFileResponse struct {
	State SessionSnapshot
}

// CreateRepoRequest creates a repository.
type CreateRepoRequest struct {
	UserID UserID
	Name   RepoName
}

// CreateRepoResponse reports the created repository.
type CreateRepoResponse struct {
	Repo RepoName
}

// DeleteRepoRequest deletes a repository.
type DeleteRepoRequest struct {
	UserID UserID
	Name   RepoName
}

// DeleteRepoResponse reports the snapshot after delete.
type DeleteRepoResponse struct {
	State SessionSnapshot
}
