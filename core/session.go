package core

import (
	"fmt"
	"slices"
	"sync"

	"pkt.systems/gitpilot/internal/hosting"
	"pkt.systems/gitpilot/schema"
)

// session is the per-user flow state. mu serializes handlers for one user.
type session struct {
	mu       sync.Mutex
	user     schema.UserID
	phase    schema.Phase
	account  *schema.Account
	client   *hosting.CachedClient
	provider schema.ProviderName
	repo     schema.RepoName
	file     *openFile
	pending  *schema.PendingSave
}

func newSession(user schema.UserID, provider schema.ProviderName) *session {
	return &session{
		user:     user,
		phase:    schema.PhaseUnauthenticated,
		provider: provider,
	}
}

// require fails unless the session is in one of phases.
func (sess *session) require(phases ...schema.Phase) error {
	if slices.Contains(phases, sess.phase) {
		return nil
	}
	if sess.phase == schema.PhaseUnauthenticated {
		return schema.ErrNotAuthenticated
	}
	if sess.phase == schema.PhaseAuthenticated && slices.Contains(phases, schema.PhaseEditing) {
		return schema.ErrNoFileSelected
	}
	return fmt.Errorf("%w: session is %s", schema.ErrInvalidPhase, sess.phase)
}

// teardown drops the hosting handle, its cache, and every selection.
func (sess *session) teardown() {
	if sess.client != nil {
		sess.client.Close()
	}
	sess.client = nil
	sess.account = nil
	sess.repo = ""
	sess.file = nil
	sess.pending = nil
	sess.phase = schema.PhaseUnauthenticated
}

// clearSelection closes the open file and returns to the authenticated phase.
func (sess *session) clearSelection() {
	sess.file = nil
	sess.pending = nil
	if sess.phase != schema.PhaseUnauthenticated {
		sess.phase = schema.PhaseAuthenticated
	}
}

func (sess *session) snapshot(available []schema.ProviderName) schema.SessionSnapshot {
	snap := schema.SessionSnapshot{
		Phase:     sess.phase,
		Provider:  sess.provider,
		Providers: append([]schema.ProviderName{}, available...),
		Repo:      sess.repo,
	}
	if sess.account != nil {
		account := *sess.account
		snap.Account = &account
	}
	if sess.file != nil {
		snap.Repo = sess.file.repo
		snap.File = sess.file.path
		snap.Revision = sess.file.revision
		snap.Buffer = sess.file.buffer.Text()
		snap.Dirty = sess.file.buffer.Dirty()
	}
	if sess.pending != nil {
		pending := *sess.pending
		snap.Pending = &pending
	}
	return snap
}

func isOpen(sess *session, repo schema.RepoName, path schema.FilePath) bool {
	return sess.file != nil && sess.file.repo == repo && sess.file.path == path
}
