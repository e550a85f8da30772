// Package hostingtest provides in-memory hosting backends for tests.
package hostingtest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pkt.systems/gitpilot/internal/hosting"
	"pkt.systems/gitpilot/schema"
)

type entry struct {
	content string
	sha     schema.Revision
	dir     bool
}

type repository struct {
	order   int
	entries map[schema.FilePath]entry
}

// Memory is a thread-safe in-memory hosting account.
type Memory struct {
	mu    sync.Mutex
	login string
	token string
	repos map[schema.RepoName]*repository
	next  int
	calls map[string]int
	fail  map[string]error
}

var _ hosting.Client = (*Memory)(nil)

// NewMemory returns an empty account owned by login, accepting token.
func NewMemory(login, token string) *Memory {
	return &Memory{
		login: login,
		token: token,
		repos: make(map[schema.RepoName]*repository),
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// Login returns the account login.
func (m *Memory) Login() string {
	return m.login
}

// Token returns the accepted token.
func (m *Memory) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// RotateToken replaces the accepted token, invalidating the previous one.
func (m *Memory) RotateToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// Factory returns a hosting.Factory that checks tokens against the account.
func (m *Memory) Factory() hosting.Factory {
	return func(token string) (hosting.Client, error) {
		return &tokenClient{mem: m, token: token}, nil
	}
}

// AddRepo creates a repository with the given root files.
func (m *Memory) AddRepo(name schema.RepoName, files map[schema.FilePath]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo := m.ensureRepoLocked(name)
	for path, content := range files {
		repo.entries[path] = entry{content: content, sha: blobSHA(content)}
	}
}

// AddDir adds a directory entry at the repository root.
func (m *Memory) AddDir(name schema.RepoName, path schema.FilePath) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo := m.ensureRepoLocked(name)
	repo.entries[path] = entry{dir: true}
}

// SetRemote replaces file content as if another client had pushed it.
func (m *Memory) SetRemote(name schema.RepoName, path schema.FilePath, content string) schema.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo := m.ensureRepoLocked(name)
	sha := blobSHA(content)
	repo.entries[path] = entry{content: content, sha: sha}
	return sha
}

// Content returns the stored file content.
func (m *Memory) Content(name schema.RepoName, path schema.FilePath) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[name]
	if !ok {
		return "", false
	}
	e, ok := repo.entries[path]
	if !ok || e.dir {
		return "", false
	}
	return e.content, true
}

// Calls returns how often op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// FailNext makes the next call of op return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *Memory) ensureRepoLocked(name schema.RepoName) *repository {
	repo, ok := m.repos[name]
	if !ok {
		m.next++
		repo = &repository{order: m.next, entries: make(map[schema.FilePath]entry)}
		m.repos[name] = repo
	}
	return repo
}

func (m *Memory) begin(op string) error {
	m.calls[op]++
	if err, ok := m.fail[op]; ok {
		delete(m.fail, op)
		return err
	}
	return nil
}

// Account implements hosting.Client.
func (m *Memory) Account(context.Context) (schema.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Account"); err != nil {
		return schema.Account{}, err
	}
	return schema.Account{Login: m.login}, nil
}

// ListRepositories implements hosting.Client.
func (m *Memory) ListRepositories(context.Context) ([]schema.RepoName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ListRepositories"); err != nil {
		return nil, err
	}
	names := make([]schema.RepoName, 0, len(m.repos))
	for name := range m.repos {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return m.repos[names[i]].order < m.repos[names[j]].order })
	return names, nil
}

// ListFiles implements hosting.Client.
func (m *Memory) ListFiles(_ context.Context, name schema.RepoName) ([]schema.FilePath, error) {
	if name == "" {
		return []schema.FilePath{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ListFiles"); err != nil {
		return nil, err
	}
	repo, ok := m.repos[name]
	if !ok {
		return nil, notFound("list files", name)
	}
	files := []schema.FilePath{}
	for path, e := range repo.entries {
		if e.dir || strings.Contains(string(path), "/") {
			continue
		}
		files = append(files, path)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files, nil
}

// ReadFile implements hosting.Client.
func (m *Memory) ReadFile(_ context.Context, name schema.RepoName, path schema.FilePath) (schema.FileRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ReadFile"); err != nil {
		return schema.FileRef{}, err
	}
	repo, ok := m.repos[name]
	if !ok {
		return schema.FileRef{}, notFound("read file", name)
	}
	e, ok := repo.entries[path]
	if !ok || e.dir {
		return schema.FileRef{}, notFound("read file", path)
	}
	return schema.FileRef{Repo: name, Path: path, Revision: e.sha, Content: e.content}, nil
}

// WriteFile implements hosting.Client.
func (m *Memory) WriteFile(_ context.Context, name schema.RepoName, path schema.FilePath, content, _ string, expected schema.Revision) (schema.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("WriteFile"); err != nil {
		return "", err
	}
	repo, ok := m.repos[name]
	if !ok {
		return "", notFound("write file", name)
	}
	e, ok := repo.entries[path]
	if !ok || e.dir {
		return "", notFound("write file", path)
	}
	if e.sha != expected {
		return "", hosting.Classify("write file", 409, fmt.Sprintf("%s does not match %s", path, expected), nil)
	}
	sha := blobSHA(content)
	repo.entries[path] = entry{content: content, sha: sha}
	return sha, nil
}

// CreateFile implements hosting.Client.
func (m *Memory) CreateFile(_ context.Context, name schema.RepoName, path schema.FilePath, content, _ string) (schema.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateFile"); err != nil {
		return "", err
	}
	repo, ok := m.repos[name]
	if !ok {
		return "", notFound("create file", name)
	}
	if _, exists := repo.entries[path]; exists {
		return "", hosting.Classify("create file", 422, `"sha" wasn't supplied.`, nil)
	}
	sha := blobSHA(content)
	repo.entries[path] = entry{content: content, sha: sha}
	return sha, nil
}

// DeleteFile implements hosting.Client.
func (m *Memory) DeleteFile(_ context.Context, name schema.RepoName, path schema.FilePath, _ string, revision schema.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteFile"); err != nil {
		return err
	}
	repo, ok := m.repos[name]
	if !ok {
		return notFound("delete file", name)
	}
	e, ok := repo.entries[path]
	if !ok || e.dir {
		return notFound("delete file", path)
	}
	if e.sha != revision {
		return hosting.Classify("delete file", 409, "sha does not match", nil)
	}
	delete(repo.entries, path)
	return nil
}

// CreateRepository implements hosting.Client.
func (m *Memory) CreateRepository(_ context.Context, name schema.RepoName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateRepository"); err != nil {
		return err
	}
	if _, exists := m.repos[name]; exists {
		return hosting.Classify("create repository", 422, "name already exists on this account", nil)
	}
	m.ensureRepoLocked(name)
	return nil
}

// DeleteRepository implements hosting.Client.
func (m *Memory) DeleteRepository(_ context.Context, name schema.RepoName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteRepository"); err != nil {
		return err
	}
	if _, exists := m.repos[name]; !exists {
		return notFound("delete repository", name)
	}
	delete(m.repos, name)
	return nil
}

func notFound(op string, what any) error {
	return hosting.Classify(op, 404, fmt.Sprintf("%v not found", what), nil)
}

// blobSHA mirrors git's blob object id.
func blobSHA(content string) schema.Revision {
	h := sha1.New()
	_, _ = fmt.Fprintf(h, "blob %d\x00", len(content))
	_, _ = h.Write([]byte(content))
	return schema.Revision(hex.EncodeToString(h.Sum(nil)))
}

// tokenClient rejects every call once its token no longer matches the account.
type tokenClient struct {
	mem   *Memory
	token string
}

func (c *tokenClient) check(op string) error {
	if c.token == "" || c.token != c.mem.Token() {
		return hosting.Classify(op, 401, "Bad credentials", nil)
	}
	return nil
}

func (c *tokenClient) Account(ctx context.Context) (schema.Account, error) {
	if err := c.check("get account"); err != nil {
		return schema.Account{}, err
	}
	return c.mem.Account(ctx)
}

func (c *tokenClient) ListRepositories(ctx context.Context) ([]schema.RepoName, error) {
	if err := c.check("list repositories"); err != nil {
		return nil, err
	}
	return c.mem.ListRepositories(ctx)
}

func (c *tokenClient) ListFiles(ctx context.Context, repo schema.RepoName) ([]schema.FilePath, error) {
	if err := c.check("list files"); err != nil {
		return nil, err
	}
	return c.mem.ListFiles(ctx, repo)
}

func (c *tokenClient) ReadFile(ctx context.Context, repo schema.RepoName, path schema.FilePath) (schema.FileRef, error) {
	if err := c.check("read file"); err != nil {
		return schema.FileRef{}, err
	}
	return c.mem.ReadFile(ctx, repo, path)
}

func (c *tokenClient) WriteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string, expected schema.Revision) (schema.Revision, error) {
	if err := c.check("write file"); err != nil {
		return "", err
	}
	return c.mem.WriteFile(ctx, repo, path, content, message, expected)
}

func (c *tokenClient) CreateFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string) (schema.Revision, error) {
	if err := c.check("create file"); err != nil {
		return "", err
	}
	return c.mem.CreateFile(ctx, repo, path, content, message)
}

func (c *tokenClient) DeleteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, message string, revision schema.Revision) error {
	if err := c.check("delete file"); err != nil {
		return err
	}
	return c.mem.DeleteFile(ctx, repo, path, message, revision)
}

func (c *tokenClient) CreateRepository(ctx context.Context, name schema.RepoName) error {
	if err := c.check("create repository"); err != nil {
		return err
	}
	return c.mem.CreateRepository(ctx, name)
}

func (c *tokenClient) DeleteRepository(ctx context.Context, name schema.RepoName) error {
	if err := c.check("delete repository"); err != nil {
		return err
	}
	return c.mem.DeleteRepository(ctx, name)
}
