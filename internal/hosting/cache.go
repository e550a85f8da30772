package hosting

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"pkt.systems/gitpilot/schema"
)

const (
	keyAccount = "account"
	keyRepos   = "repos"
	keyFiles   = "files\x00"
	keyFile    = "file\x00"
)

// CachedClient memoizes read calls of one Client handle.
//
// The cache belongs to the handle: discard it with Close when the session
// logs out or re-authenticates. Mutations made through the CachedClient
// invalidate the entries they affect.
type CachedClient struct {
	inner Client
	cache *ttlcache.Cache[string, any]
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient wraps inner. A non-positive ttl disables memoization.
func NewCachedClient(inner Client, ttl time.Duration) *CachedClient {
	c := &CachedClient{inner: inner}
	if ttl > 0 {
		c.cache = ttlcache.New[string, any](
			ttlcache.WithTTL[string, any](ttl),
			ttlcache.WithDisableTouchOnHit[string, any](),
		)
		go c.cache.Start()
	}
	return c
}

// Close stops the expiration loop and drops all entries.
func (c *CachedClient) Close() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Stop()
	c.cache.DeleteAll()
}

// Inner returns the wrapped client.
func (c *CachedClient) Inner() Client {
	return c.inner
}

// Account implements Client.
func (c *CachedClient) Account(ctx context.Context) (schema.Account, error) {
	if v, ok := lookup[schema.Account](c, keyAccount); ok {
		return v, nil
	}
	account, err := c.inner.Account(ctx)
	if err != nil {
		return schema.Account{}, err
	}
	c.store(keyAccount, account)
	return account, nil
}

// ListRepositories implements Client.
func (c *CachedClient) ListRepositories(ctx context.Context) ([]schema.RepoName, error) {
	if v, ok := lookup[[]schema.RepoName](c, keyRepos); ok {
		return slices.Clone(v), nil
	}
	repos, err := c.inner.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	c.store(keyRepos, slices.Clone(repos))
	return repos, nil
}

// ListFiles implements Client.
func (c *CachedClient) ListFiles(ctx context.Context, repo schema.RepoName) ([]schema.FilePath, error) {
	if repo == "" {
		return []schema.FilePath{}, nil
	}
	key := filesKey(repo)
	if v, ok := lookup[[]schema.FilePath](c, key); ok {
		return slices.Clone(v), nil
	}
	files, err := c.inner.ListFiles(ctx, repo)
	if err != nil {
		return nil, err
	}
	c.store(key, slices.Clone(files))
	return files, nil
}

// ReadFile implements Client.
func (c *CachedClient) ReadFile(ctx context.Context, repo schema.RepoName, path schema.FilePath) (schema.FileRef, error) {
	key := fileKey(repo, path)
	if v, ok := lookup[schema.FileRef](c, key); ok {
		return v, nil
	}
	ref, err := c.inner.ReadFile(ctx, repo, path)
	if err != nil {
		return schema.FileRef{}, err
	}
	c.store(key, ref)
	return ref, nil
}

// Fresh bypasses the cache and replaces the memoized file content.
func (c *CachedClient) Fresh(ctx context.Context, repo schema.RepoName, path schema.FilePath) (schema.FileRef, error) {
	c.forget(fileKey(repo, path))
	return c.ReadFile(ctx, repo, path)
}

// WriteFile implements Client.
func (c *CachedClient) WriteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string, expected schema.Revision) (schema.Revision, error) {
	rev, err := c.inner.WriteFile(ctx, repo, path, content, message, expected)
	c.forget(fileKey(repo, path))
	if err != nil {
		return "", err
	}
	c.store(fileKey(repo, path), schema.FileRef{Repo: repo, Path: path, Revision: rev, Content: content})
	return rev, nil
}

// CreateFile implements Client.
func (c *CachedClient) CreateFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string) (schema.Revision, error) {
	rev, err := c.inner.CreateFile(ctx, repo, path, content, message)
	c.forget(filesKey(repo), fileKey(repo, path))
	return rev, err
}

// DeleteFile implements Client.
func (c *CachedClient) DeleteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, message string, revision schema.Revision) error {
	err := c.inner.DeleteFile(ctx, repo, path, message, revision)
	c.forget(filesKey(repo), fileKey(repo, path))
	return err
}

// CreateRepository implements Client.
func (c *CachedClient) CreateRepository(ctx context.Context, name schema.RepoName) error {
	err := c.inner.CreateRepository(ctx, name)
	c.forget(keyRepos)
	return err
}

// DeleteRepository implements Client.
func (c *CachedClient) DeleteRepository(ctx context.Context, name schema.RepoName) error {
	err := c.inner.DeleteRepository(ctx, name)
	c.forget(keyRepos)
	c.forgetRepo(name)
	return err
}

func lookup[T any](c *CachedClient, key string) (T, bool) {
	var zero T
	if c.cache == nil {
		return zero, false
	}
	item := c.cache.Get(key)
	if item == nil {
		return zero, false
	}
	v, ok := item.Value().(T)
	return v, ok
}

func (c *CachedClient) store(key string, value any) {
	if c.cache == nil {
		return
	}
	c.cache.Set(key, value, ttlcache.DefaultTTL)
}

func (c *CachedClient) forget(keys ...string) {
	if c.cache == nil {
		return
	}
	for _, key := range keys {
		c.cache.Delete(key)
	}
}

func (c *CachedClient) forgetRepo(repo schema.RepoName) {
	if c.cache == nil {
		return
	}
	prefix := fileKey(repo, "")
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
	c.cache.Delete(filesKey(repo))
}

func filesKey(repo schema.RepoName) string {
	return keyFiles + string(repo)
}

func fileKey(repo schema.RepoName, path schema.FilePath) string {
	return keyFile + string(repo) + "\x00" + string(path)
}
