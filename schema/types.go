package schema

// UserID identifies an operator of the web UI.
type UserID string

// RepoName identifies a repository owned by the authenticated account.
type RepoName string

// FilePath is a repository-relative file path.
type FilePath string

// Revision is the opaque content hash the hosting API requires on update and delete.
type Revision string

// ProviderName identifies a code generation backend.
type ProviderName string

const (
	// ProviderAnthropic selects the Anthropic messages backend.
	ProviderAnthropic ProviderName = "anthropic"
	// ProviderOpenAI selects the OpenAI chat completions backend.
	ProviderOpenAI ProviderName = "openai"
)

// Phase is the flow controller state of a session.
type Phase string

const (
	// PhaseUnauthenticated has no hosting handle.
	PhaseUnauthenticated Phase = "unauthenticated"
	// PhaseAuthenticated has a handle but no open file.
	PhaseAuthenticated Phase = "authenticated"
	// PhaseEditing has an open file and an edit buffer.
	PhaseEditing Phase = "editing"
	// PhaseConfirmPending waits for the user to confirm a save.
	PhaseConfirmPending Phase = "confirm_pending"
)

// Account is the hosting identity behind a token.
type Account struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

// FileRef is a file as last fetched from the hosting API.
type FileRef struct {
	Repo     RepoName `json:"repo"`
	Path     FilePath `json:"path"`
	Revision Revision `json:"revision"`
	Content  string   `json:"content"`
}

// PendingSave is a commit awaiting confirmation.
type PendingSave struct {
	Repo     RepoName `json:"repo"`
	Path     FilePath `json:"path"`
	Revision Revision `json:"revision"`
	Message  string   `json:"message"`
	Diff     string   `json:"diff"`
}

// SessionSnapshot is a read-only view of a session.
type SessionSnapshot struct {
	Phase     Phase          `json:"phase"`
	Account   *Account       `json:"account,omitempty"`
	Provider  ProviderName   `json:"provider"`
	Providers []ProviderName `json:"providers"`
	Repo      RepoName       `json:"repo,omitempty"`
	File      FilePath       `json:"file,omitempty"`
	Revision  Revision       `json:"revision,omitempty"`
	Buffer    string         `json:"buffer"`
	Dirty     bool           `json:"dirty"`
	Pending   *PendingSave   `json:"pending,omitempty"`
}
