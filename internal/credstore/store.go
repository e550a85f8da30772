// Package credstore keeps the hosting token encrypted at rest.
//
// A saved credential is a pair of files: a kryptograf key bundle holding a
// freshly minted root key and data-key descriptor, and the token ciphertext.
// Both are replaced on every save.
package credstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const descriptorName = "gitpilot:hosting-token"

// ErrEmptyToken is returned when saving a blank token.
var ErrEmptyToken = errors.New("token is empty")

// Store manages the encrypted hosting token.
type Store struct {
	keyPath   string
	tokenPath string
	log       pslog.Logger
}

// NewStore returns a store for the given key bundle and ciphertext paths.
func NewStore(keyPath, tokenPath string) (*Store, error) {
	return NewStoreWithLogger(keyPath, tokenPath, nil)
}

// NewStoreWithLogger returns a store that logs with the provided logger.
func NewStoreWithLogger(keyPath, tokenPath string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("credential key path is required")
	}
	if strings.TrimSpace(tokenPath) == "" {
		return nil, fmt.Errorf("credential token path is required")
	}
	if filepath.Clean(keyPath) == filepath.Clean(tokenPath) {
		return nil, fmt.Errorf("credential key and token paths must differ")
	}
	if logger != nil {
		logger = logger.With("credential_keys", keyPath, "credential_token", tokenPath)
	}
	return &Store{keyPath: keyPath, tokenPath: tokenPath, log: logger}, nil
}

// Save encrypts token under a newly minted key and replaces any stored credential.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := s.save([]byte(token)); err != nil {
		if s.log != nil {
			s.log.Warn("credential save failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("credential save ok")
	}
	return nil
}

// Load decrypts the stored token. found is false when either file is missing.
func (s *Store) Load() (token string, found bool, err error) {
	exists, err := s.Exists()
	if err != nil || !exists {
		return "", false, err
	}
	material, root, err := s.material()
	if err != nil {
		if s.log != nil {
			s.log.Warn("credential load failed", "err", err)
		}
		return "", false, err
	}
	file, err := os.Open(s.tokenPath)
	if err != nil {
		if s.log != nil {
			s.log.Warn("credential load failed", "err", err)
		}
		return "", false, err
	}
	defer func() { _ = file.Close() }()
	reader, err := kryptograf.New(root).DecryptReader(file, material)
	if err != nil {
		if s.log != nil {
			s.log.Warn("credential decrypt failed", "err", err)
		}
		return "", false, fmt.Errorf("decrypt credential: %w", err)
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		if s.log != nil {
			s.log.Warn("credential decrypt failed", "err", err)
		}
		return "", false, fmt.Errorf("decrypt credential: %w", err)
	}
	if s.log != nil {
		s.log.Debug("credential load ok")
	}
	return string(plain), true, nil
}

// Exists reports whether both credential files are present.
func (s *Store) Exists() (bool, error) {
	for _, path := range []string{s.keyPath, s.tokenPath} {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
		if info.IsDir() {
			return false, fmt.Errorf("%s is a directory", path)
		}
	}
	return true, nil
}

// Clear removes both credential files.
func (s *Store) Clear() error {
	var errs []error
	for _, path := range []string{s.tokenPath, s.keyPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		if s.log != nil {
			s.log.Warn("credential clear failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("credential clear ok")
	}
	return nil
}

// Paths returns the key bundle and ciphertext paths.
func (s *Store) Paths() (keyPath, tokenPath string) {
	return s.keyPath, s.tokenPath
}

func (s *Store) save(plain []byte) error {
	for _, dir := range []string{filepath.Dir(s.keyPath), filepath.Dir(s.tokenPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	staging, err := os.MkdirTemp(filepath.Dir(s.keyPath), ".credential-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	stagedKeys := filepath.Join(staging, filepath.Base(s.keyPath))
	material, root, err := mintBundle(stagedKeys)
	if err != nil {
		return err
	}
	if err := os.Chmod(stagedKeys, 0o600); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.tokenPath), ".token-*.enc")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return err
	}
	writer, err := kryptograf.New(root).EncryptWriter(tmp, material)
	if err != nil {
		cleanup()
		return err
	}
	if _, err := io.Copy(writer, bytes.NewReader(plain)); err != nil {
		_ = writer.Close()
		cleanup()
		return err
	}
	if err := writer.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(stagedKeys, s.keyPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.tokenPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// mintBundle writes a new key bundle at path with a fresh root key and data key.
func mintBundle(path string) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	material, err := keymgmt.MintDEK(root, []byte(descriptorName))
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.SetDescriptor(descriptorName, material.Descriptor); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

// material reconstructs the data key from the bundle without persisting anything.
func (s *Store) material() (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(s.keyPath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, fmt.Errorf("load credential keys: %w", err)
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, fmt.Errorf("load credential keys: %w", err)
	}
	material, err := store.EnsureDescriptor(descriptorName, root, []byte(descriptorName))
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, fmt.Errorf("load credential keys: %w", err)
	}
	return material, root, nil
}
