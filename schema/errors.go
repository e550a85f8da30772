package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidRepo indicates an invalid repository name.
	ErrInvalidRepo = errors.New("invalid repo")
	// ErrInvalidPath indicates an invalid file path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidProvider indicates an unknown code generation provider.
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrAuth indicates the hosting token is missing or rejected.
	ErrAuth = errors.New("hosting authentication failed")
	// ErrForbidden indicates the token is valid but lacks permission for the call.
	ErrForbidden = errors.New("hosting permission denied")
	// ErrNotAuthenticated indicates the session has no hosting handle.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotFound indicates a repository or file could not be found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a write presented a stale revision.
	ErrConflict = errors.New("file changed remotely; reload before saving")
	// ErrProvider indicates the generation call failed.
	ErrProvider = errors.New("code generation failed")
	// ErrProviderUnavailable indicates the provider credential is missing.
	ErrProviderUnavailable = errors.New("code generation provider not configured")
	// ErrInvalidPhase indicates the operation is not allowed in the current phase.
	ErrInvalidPhase = errors.New("operation not allowed now")
	// ErrNoFileSelected indicates no file is open in the editor.
	ErrNoFileSelected = errors.New("no file selected")
	// ErrIO indicates a local storage failure.
	ErrIO = errors.New("storage failure")
	// ErrEmptyInstruction indicates the generation instruction was empty.
	ErrEmptyInstruction = errors.New("empty instruction")
)
