// Package github implements hosting.Client on the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	gh "github.com/google/go-github/v66/github"

	"pkt.systems/gitpilot/internal/hosting"
	"pkt.systems/gitpilot/internal/version"
	"pkt.systems/gitpilot/schema"
)

const pageSize = 100

// Options configures the GitHub client.
type Options struct {
	// BaseURL is the API root, e.g. https://ghe.example.com/api/v3/. Empty uses api.github.com.
	BaseURL    string
	HTTPClient *http.Client
}

// Client is a token-authenticated GitHub handle.
type Client struct {
	api *gh.Client

	mu    sync.Mutex
	owner string
}

var _ hosting.Client = (*Client)(nil)

// New returns a client for token. The token is not validated until the first call.
func New(token string, opts Options) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("github token: %w", schema.ErrAuth)
	}
	api := gh.NewClient(opts.HTTPClient).WithAuthToken(token)
	api.UserAgent = version.UserAgent()
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		api.BaseURL = parsed
	}
	return &Client{api: api}, nil
}

// NewFactory returns a hosting.Factory bound to opts.
func NewFactory(opts Options) hosting.Factory {
	return func(token string) (hosting.Client, error) {
		return New(token, opts)
	}
}

// Account implements hosting.Client.
func (c *Client) Account(ctx context.Context) (schema.Account, error) {
	user, resp, err := c.api.Users.Get(ctx, "")
	if err != nil {
		return schema.Account{}, classify("get account", resp, err)
	}
	account := schema.Account{Login: user.GetLogin(), Name: user.GetName()}
	c.mu.Lock()
	c.owner = account.Login
	c.mu.Unlock()
	return account, nil
}

// ListRepositories implements hosting.Client.
func (c *Client) ListRepositories(ctx context.Context) ([]schema.RepoName, error) {
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Affiliation: "owner",
		Sort:        "full_name",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}
	var names []schema.RepoName
	for {
		repos, resp, err := c.api.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, classify("list repositories", resp, err)
		}
		for _, repo := range repos {
			names = append(names, schema.RepoName(repo.GetName()))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if names == nil {
		names = []schema.RepoName{}
	}
	return names, nil
}

// ListFiles implements hosting.Client.
func (c *Client) ListFiles(ctx context.Context, repo schema.RepoName) ([]schema.FilePath, error) {
	if repo == "" {
		return []schema.FilePath{}, nil
	}
	owner, err := c.ownerLogin(ctx)
	if err != nil {
		return nil, err
	}
	file, dir, resp, err := c.api.Repositories.GetContents(ctx, owner, string(repo), "", nil)
	if err != nil {
		err = classify("list files", resp, err)
		// A repository without commits has no root tree yet.
		if errors.Is(err, schema.ErrNotFound) {
			if _, _, repoErr := c.api.Repositories.Get(ctx, owner, string(repo)); repoErr == nil {
				return []schema.FilePath{}, nil
			}
		}
		return nil, err
	}
	files := []schema.FilePath{}
	if file != nil {
		return files, nil
	}
	for _, entry := range dir {
		if entry.GetType() != "file" {
			continue
		}
		files = append(files, schema.FilePath(entry.GetPath()))
	}
	return files, nil
}

// ReadFile implements hosting.Client.
func (c *Client) ReadFile(ctx context.Context, repo schema.RepoName, path schema.FilePath) (schema.FileRef, error) {
	owner, err := c.ownerLogin(ctx)
	if err != nil {
		return schema.FileRef{}, err
	}
	file, _, resp, err := c.api.Repositories.GetContents(ctx, owner, string(repo), string(path), nil)
	if err != nil {
		return schema.FileRef{}, classify("read file", resp, err)
	}
	if file == nil || file.GetType() != "file" {
		return schema.FileRef{}, fmt.Errorf("read file %s: %w", path, schema.ErrNotFound)
	}
	var content string
	if file.GetEncoding() == "none" {
		// The contents API stops inlining files above 1 MB; the blob
		// addressed by the same SHA still carries them.
		raw, resp, err := c.api.Git.GetBlobRaw(ctx, owner, string(repo), file.GetSHA())
		if err != nil {
			return schema.FileRef{}, classify("read large file", resp, err)
		}
		content = string(raw)
	} else if content, err = file.GetContent(); err != nil {
		return schema.FileRef{}, &hosting.Error{Op: "read file", Message: fmt.Sprintf("cannot decode %s (encoding %q)", path, file.GetEncoding()), Err: err}
	}
	return schema.FileRef{
		Repo:     repo,
		Path:     path,
		Revision: schema.Revision(file.GetSHA()),
		Content:  content,
	}, nil
}

// WriteFile implements hosting.Client.
func (c *Client) WriteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string, expected schema.Revision) (schema.Revision, error) {
	if expected == "" {
		return "", fmt.Errorf("write file %s: revision is required: %w", path, schema.ErrInvalidRequest)
	}
	owner, err := c.ownerLogin(ctx)
	if err != nil {
		return "", err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: ptr(message),
		Content: []byte(content),
		SHA:     ptr(string(expected)),
	}
	result, resp, err := c.api.Repositories.UpdateFile(ctx, owner, string(repo), string(path), opts)
	if err != nil {
		return "", classify("write file", resp, err)
	}
	return revisionOf(result), nil
}

// CreateFile implements hosting.Client.
func (c *Client) CreateFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, content, message string) (schema.Revision, error) {
	owner, err := c.ownerLogin(ctx)
	if err != nil {
		return "", err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: ptr(message),
		Content: []byte(content),
	}
	result, resp, err := c.api.Repositories.CreateFile(ctx, owner, string(repo), string(path), opts)
	if err != nil {
		return "", classify("create file", resp, err)
	}
	return revisionOf(result), nil
}

// DeleteFile implements hosting.Client.
func (c *Client) DeleteFile(ctx context.Context, repo schema.RepoName, path schema.FilePath, message string, revision schema.Revision) error {
	owner, err := c.ownerLogin(ctx)
	if err != nil {
		return err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: ptr(message),
		SHA:     ptr(string(revision)),
	}
	_, resp, err := c.api.Repositories.DeleteFile(ctx, owner, string(repo), string(path), opts)
	if err != nil {
		return classify("delete file", resp, err)
	}
	return nil
}

// CreateRepository implements hosting.Client.
func (c *Client) CreateRepository(ctx context.Context, name schema.RepoName) error {
	_, resp, err := c.api.Repositories.Create(ctx, "", &gh.Repository{Name: ptr(string(name))})
	if err != nil {
		return classify("create repository", resp, err)
	}
	return nil
}

// DeleteRepository implements hosting.Client.
func (c *Client) DeleteRepository(ctx context.Context, name schema.RepoName) error {
	owner, err := c.ownerLogin(ctx)
	if err != nil {
		return err
	}
	resp, err := c.api.Repositories.Delete(ctx, owner, string(name))
	if err != nil {
		return classify("delete repository", resp, err)
	}
	return nil
}

func (c *Client) ownerLogin(ctx context.Context) (string, error) {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()
	if owner != "" {
		return owner, nil
	}
	account, err := c.Account(ctx)
	if err != nil {
		return "", err
	}
	return account.Login, nil
}

func classify(op string, resp *gh.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	message := ""
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) {
		if apiErr.Response != nil {
			status = apiErr.Response.StatusCode
		}
		message = apiErr.Message
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &hosting.Error{Op: op, Status: status, Message: rateErr.Message, Err: err}
	}
	return hosting.Classify(op, status, message, err)
}

func revisionOf(result *gh.RepositoryContentResponse) schema.Revision {
	if result == nil {
		return ""
	}
	return schema.Revision(result.Content.GetSHA())
}

func ptr[T any](v T) *T {
	return &v
}
