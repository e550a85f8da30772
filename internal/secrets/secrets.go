// Package secrets loads API credentials from a TOML file with environment overrides.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"
)

// Recognized secret names. Environment variables with the same names take precedence.
const (
	GitHubToken     = "GITHUB_TOKEN"
	AnthropicAPIKey = "ANTHROPIC_API_KEY"
	OpenAIAPIKey    = "OPENAI_API_KEY"
)

const reloadDebounce = 250 * time.Millisecond

// File is the on-disk shape of secrets.toml.
type File struct {
	GitHubToken     string `toml:"GITHUB_TOKEN"`
	AnthropicAPIKey string `toml:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `toml:"OPENAI_API_KEY"`
}

// Source resolves a named secret.
type Source interface {
	Get(name string) string
}

// Store holds the current secret values.
type Store struct {
	path   string
	log    pslog.Logger
	lookup func(string) (string, bool)

	mu     sync.RWMutex
	values File
}

// Open reads the secrets file. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	return OpenWithLogger(path, nil)
}

// OpenWithLogger reads the secrets file and logs reloads with the provided logger.
func OpenWithLogger(path string, logger pslog.Logger) (*Store, error) {
	s := &Store{path: path, log: logger, lookup: os.LookupEnv}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the secrets file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the secrets file.
func (s *Store) Reload() error {
	values, err := readFile(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("secrets reload failed", "path", s.path, "err", err)
		}
		return err
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	if s.log != nil {
		s.log.Debug("secrets loaded", "path", s.path, "present", s.present())
	}
	return nil
}

// Get returns the named secret, preferring the environment over the file.
func (s *Store) Get(name string) string {
	if s == nil {
		return ""
	}
	if s.lookup != nil {
		if val, ok := s.lookup(name); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch name {
	case GitHubToken:
		return strings.TrimSpace(s.values.GitHubToken)
	case AnthropicAPIKey:
		return strings.TrimSpace(s.values.AnthropicAPIKey)
	case OpenAIAPIKey:
		return strings.TrimSpace(s.values.OpenAIAPIKey)
	default:
		return ""
	}
}

// Has reports whether the named secret resolves to a non-empty value.
func (s *Store) Has(name string) bool {
	return s.Get(name) != ""
}

func (s *Store) present() []string {
	var names []string
	for _, name := range []string{GitHubToken, AnthropicAPIKey, OpenAIAPIKey} {
		if s.Has(name) {
			names = append(names, name)
		}
	}
	return names
}

// Watch reloads the store whenever the secrets file changes until ctx is done.
// The parent directory is watched so editors that replace the file are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if strings.TrimSpace(s.path) == "" {
		return errors.New("secrets path is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Join(err, watcher.Close())
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, errors.Join(err, watcher.Close()))
	}
	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()
	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = s.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if s.log != nil {
				s.log.Warn("secrets watch error", "err", err)
			}
		}
	}
}

// Write encodes values to path with 0600 permissions.
func Write(path string, values File, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("secrets already exist at %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".secrets-*.toml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(values); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readFile(path string) (File, error) {
	var values File
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return values, err
	}
	if _, err := toml.Decode(string(data), &values); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return values, nil
}

// Static is a fixed secret source, handy when no file is configured.
type Static map[string]string

// Get returns the named value.
func (s Static) Get(name string) string {
	return strings.TrimSpace(s[name])
}
