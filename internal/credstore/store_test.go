package credstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "token.keys"), filepath.Join(dir, "token.enc"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestLoadWithoutFilesIsNotFound(t *testing.T) {
	store := newTestStore(t)
	token, found, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found || token != "" {
		t.Fatalf("expected not found, got found=%v token=%q", found, token)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("ghp_example123"); err != nil {
		t.Fatalf("save: %v", err)
	}
	token, found, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found || token != "ghp_example123" {
		t.Fatalf("unexpected load result: found=%v token=%q", found, token)
	}

	keyPath, tokenPath := store.Paths()
	cipher, err := os.ReadFile(tokenPath)
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	if bytes.Contains(cipher, []byte("ghp_example123")) {
		t.Fatalf("ciphertext contains plaintext token")
	}
	for _, path := range []string{keyPath, tokenPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("expected 0600 on %s, got %v", path, info.Mode().Perm())
		}
	}
}

func TestSaveReplacesKeyAndToken(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("first"); err != nil {
		t.Fatalf("save first: %v", err)
	}
	keyPath, _ := store.Paths()
	firstKeys, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read keys: %v", err)
	}
	if err := store.Save("second"); err != nil {
		t.Fatalf("save second: %v", err)
	}
	secondKeys, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read keys: %v", err)
	}
	if bytes.Equal(firstKeys, secondKeys) {
		t.Fatalf("expected a fresh key bundle per save")
	}
	token, found, err := store.Load()
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if token != "second" {
		t.Fatalf("expected latest token, got %q", token)
	}
	entries, err := os.ReadDir(filepath.Dir(keyPath))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected only key and token files, got %d entries", len(entries))
	}
}

func TestLoadMissingKeyIsNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("tok"); err != nil {
		t.Fatalf("save: %v", err)
	}
	keyPath, _ := store.Paths()
	if err := os.Remove(keyPath); err != nil {
		t.Fatalf("remove keys: %v", err)
	}
	if _, found, err := store.Load(); err != nil || found {
		t.Fatalf("expected not found without keys, got found=%v err=%v", found, err)
	}
}

func TestLoadTamperedCiphertextFails(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("tok-to-tamper"); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, tokenPath := store.Paths()
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(tokenPath, data, 0o600); err != nil {
		t.Fatalf("write ciphertext: %v", err)
	}
	if _, _, err := store.Load(); err == nil {
		t.Fatalf("expected decrypt error for tampered ciphertext")
	}
}

func TestLoadWithForeignKeyFails(t *testing.T) {
	store := newTestStore(t)
	other := newTestStore(t)
	if err := store.Save("mine"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := other.Save("theirs"); err != nil {
		t.Fatalf("save other: %v", err)
	}
	keyPath, _ := store.Paths()
	otherKeys, _ := other.Paths()
	data, err := os.ReadFile(otherKeys)
	if err != nil {
		t.Fatalf("read other keys: %v", err)
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		t.Fatalf("swap keys: %v", err)
	}
	if _, _, err := store.Load(); err == nil {
		t.Fatalf("expected decrypt error with rotated key")
	}
}

func TestSaveRejectsEmptyToken(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("   "); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestClearRemovesFiles(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("tok"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	exists, err := store.Exists()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("expected credential to be gone")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestNewStoreRejectsSamePaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if _, err := NewStore(path, path); err == nil {
		t.Fatalf("expected error for identical paths")
	}
}
