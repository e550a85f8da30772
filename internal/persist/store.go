// Package persist keeps small per-operator documents on local disk.
package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// UserSnapshot is what survives an operator logging out and back in: the
// provider they picked and the repository they last browsed. Buffers and
// pending commits are deliberately absent.
type UserSnapshot struct {
	Provider schema.ProviderName `json:"provider,omitempty"`
	Repo     schema.RepoName     `json:"repo,omitempty"`
}

func (s UserSnapshot) normalized() UserSnapshot {
	if s.Provider == "" {
		return s
	}
	provider, err := schema.NormalizeProvider(string(s.Provider))
	if err != nil {
		s.Provider = ""
		return s
	}
	s.Provider = provider
	return s
}

// Store maps each operator to one JSON file under a state directory.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore opens (and creates) the state directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger is NewStore with load and save failures logged to logger.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Store{dir: dir, log: logger.With("state_dir", dir)}, nil
}

// Load returns the snapshot for userID. Providers that are no longer
// supported are dropped so a stale file cannot pin an unknown backend.
func (s *Store) Load(userID schema.UserID) (UserSnapshot, bool, error) {
	var snap UserSnapshot
	found, err := ReadJSON(s.pathForUser(userID), &snap)
	switch {
	case err != nil:
		s.log.Warn("state load failed", "user", userID, "err", err)
		return UserSnapshot{}, false, err
	case !found:
		s.log.Debug("state load miss", "user", userID)
		return UserSnapshot{}, false, nil
	}
	snap = snap.normalized()
	s.log.Debug("state load ok", "user", userID, "repo", snap.Repo, "provider", snap.Provider)
	return snap, true, nil
}

// Save records snap for userID.
func (s *Store) Save(userID schema.UserID, snap UserSnapshot) error {
	if err := WriteJSON(s.pathForUser(userID), snap); err != nil {
		s.log.Warn("state save failed", "user", userID, "err", err)
		return err
	}
	s.log.Trace("state save ok", "user", userID, "repo", snap.Repo, "provider", snap.Provider)
	return nil
}

// Delete forgets userID. Deleting a missing snapshot succeeds.
func (s *Store) Delete(userID schema.UserID) error {
	if err := os.Remove(s.pathForUser(userID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("state delete failed", "user", userID, "err", err)
		return err
	}
	return nil
}

func (s *Store) pathForUser(userID schema.UserID) string {
	return filepath.Join(s.dir, fileNameFor(string(userID))+".json")
}

// fileNameFor keeps letters, digits, and "-_." and replaces everything else,
// which also defeats path traversal through user IDs.
func fileNameFor(userID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(userID))
	if name == "" || strings.Trim(name, ".") == "" {
		return "unknown"
	}
	return name
}
