// Package auth manages gitpilot operator accounts: a bcrypt password plus a
// TOTP second factor per operator, kept in a JSON file that the users
// command and a running server may both edit.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/persist"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// User is one operator record as stored in the user file.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	TOTPSecret   string `json:"totp_secret"`
}

var (
	// ErrInvalidCredentials covers unknown operators and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTP is returned when the password matched but the code did not.
	ErrInvalidTOTP = errors.New("invalid totp")
	// ErrUserNotFound is returned by edits that name a missing operator.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when adding a name that is taken.
	ErrUserExists = errors.New("user already exists")
)

// Store is the operator account file. Every call first checks whether the
// file changed on disk and reloads it, so edits made by another process
// (for example "gitpilot users chpasswd" against a live server) apply
// without a restart.
type Store struct {
	path string
	log  pslog.Logger

	mu    sync.RWMutex
	users map[string]User
	seen  fileStamp
}

// NewStore opens path, creating it from seeds when it does not exist yet.
func NewStore(path string, seeds []appconfig.SeedUser) (*Store, error) {
	return NewStoreWithLogger(path, seeds, nil)
}

// NewStoreWithLogger is NewStore with account changes logged to logger.
func NewStoreWithLogger(path string, seeds []appconfig.SeedUser, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("user file path is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Store{path: path, log: logger.With("user_file", path), users: map[string]User{}}
	if err := s.seed(seeds); err != nil {
		s.log.Warn("auth store init failed", "err", err)
		return nil, err
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticate checks an operator's password and current TOTP code.
// Unknown names and wrong passwords both report ErrInvalidCredentials.
func (s *Store) Authenticate(username, password, code string) error {
	user, err := s.lookup(username)
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, errInvalidUsername) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// ValidateTOTP checks only the second factor.
func (s *Store) ValidateTOTP(username, code string) error {
	user, err := s.lookup(username)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// ChangePassword re-authenticates the operator before storing newPassword.
func (s *Store) ChangePassword(username, currentPassword, code, newPassword string) error {
	if err := s.Authenticate(username, currentPassword, code); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.UpdatePassword(username, hash)
}

// HasUser reports whether userID names an operator.
func (s *Store) HasUser(userID schema.UserID) bool {
	_, err := s.lookup(string(userID))
	return err == nil
}

// LoadUsers lists operators ordered by name. A failed reload is logged and
// the last good list is returned.
func (s *Store) LoadUsers() []User {
	if err := s.refresh(); err != nil {
		s.log.Warn("auth store refresh failed", "err", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedUsers(s.users)
}

// AddUser stores a new operator.
func (s *Store) AddUser(user User) error {
	return s.modify("add", user.Username, func(users map[string]User, name string) error {
		if _, taken := users[name]; taken {
			return ErrUserExists
		}
		user.Username = name
		users[name] = user
		return nil
	})
}

// UpdatePassword replaces an operator's bcrypt hash.
func (s *Store) UpdatePassword(username, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return errors.New("password hash is required")
	}
	return s.modify("password", username, func(users map[string]User, name string) error {
		user, ok := users[name]
		if !ok {
			return ErrUserNotFound
		}
		user.PasswordHash = passwordHash
		users[name] = user
		return nil
	})
}

// UpdateTOTP replaces an operator's TOTP secret.
func (s *Store) UpdateTOTP(username, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("totp secret is required")
	}
	return s.modify("totp", username, func(users map[string]User, name string) error {
		user, ok := users[name]
		if !ok {
			return ErrUserNotFound
		}
		user.TOTPSecret = secret
		users[name] = user
		return nil
	})
}

// DeleteUser removes an operator.
func (s *Store) DeleteUser(username string) error {
	return s.modify("delete", username, func(users map[string]User, name string) error {
		if _, ok := users[name]; !ok {
			return ErrUserNotFound
		}
		delete(users, name)
		return nil
	})
}

var errInvalidUsername = errors.New("invalid username")

func validateUsername(username string) (string, error) {
	if err := schema.ValidateUserID(schema.UserID(username)); err != nil {
		return "", errInvalidUsername
	}
	return username, nil
}

func (s *Store) lookup(username string) (User, error) {
	name, err := validateUsername(username)
	if err != nil {
		return User{}, err
	}
	if err := s.refresh(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	user, ok := s.users[name]
	s.mu.RUnlock()
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// modify applies change to a copy of the operator set and writes it back.
// The in-memory set only moves forward once the file write succeeded.
func (s *Store) modify(op, username string, change func(map[string]User, string) error) error {
	name, err := validateUsername(username)
	if err != nil {
		return err
	}
	if err := s.refresh(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]User, len(s.users)+1)
	for k, v := range s.users {
		next[k] = v
	}
	if err := change(next, name); err != nil {
		return err
	}
	if err := persist.WriteJSON(s.path, sortedUsers(next)); err != nil {
		s.log.Warn("auth user "+op+" failed", "user", name, "err", err)
		return err
	}
	s.users = next
	if stamp, err := stampOf(s.path); err == nil {
		s.seen = stamp
	}
	s.log.Info("auth user "+op+" ok", "user", name)
	return nil
}

func (s *Store) seed(seeds []appconfig.SeedUser) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	users := make([]User, 0, len(seeds))
	for _, seed := range seeds {
		if _, err := validateUsername(seed.Username); err != nil {
			return fmt.Errorf("seed user %q: %w", seed.Username, err)
		}
		users = append(users, User{Username: seed.Username, PasswordHash: seed.PasswordHash, TOTPSecret: seed.TOTPSecret})
	}
	if err := persist.WriteJSON(s.path, users); err != nil {
		return err
	}
	s.log.Info("auth store initialized", "users", len(users))
	return nil
}

// refresh reloads the file when its stamp differs from the last one read.
func (s *Store) refresh() error {
	stamp, err := stampOf(s.path)
	if err != nil {
		s.log.Warn("auth store stat failed", "err", err)
		return err
	}
	s.mu.RLock()
	unchanged := s.seen.same(stamp)
	s.mu.RUnlock()
	if unchanged {
		return nil
	}
	return s.reload()
}

func (s *Store) reload() error {
	stamp, err := stampOf(s.path)
	if err != nil {
		return err
	}
	var list []User
	if _, err := persist.ReadJSON(s.path, &list); err != nil {
		s.log.Warn("auth store load failed", "err", err)
		return err
	}
	users := make(map[string]User, len(list))
	for _, user := range list {
		if _, err := validateUsername(user.Username); err != nil {
			s.log.Warn("auth store load failed", "user", user.Username, "err", err)
			return fmt.Errorf("user file: %q: %w", user.Username, err)
		}
		users[user.Username] = user
	}
	s.mu.Lock()
	s.users, s.seen = users, stamp
	s.mu.Unlock()
	s.log.Debug("auth store load ok", "users", len(users))
	return nil
}

func sortedUsers(users map[string]User) []User {
	out := make([]User, 0, len(users))
	for _, user := range users {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b User) int { return strings.Compare(a.Username, b.Username) })
	return out
}

// fileStamp identifies one version of the user file. The inode catches
// atomic replacements that keep size and mtime.
type fileStamp struct {
	modTime time.Time
	size    int64
	dev     uint64
	ino     uint64
}

func (a fileStamp) same(b fileStamp) bool {
	return a.modTime.Equal(b.modTime) && a.size == b.size && a.dev == b.dev && a.ino == b.ino
}

func stampOf(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		stamp.dev, stamp.ino = uint64(sys.Dev), uint64(sys.Ino)
	}
	return stamp, nil
}
