package hostingtest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"

	"pkt.systems/gitpilot/internal/hosting"
	"pkt.systems/gitpilot/schema"
)

// GitHubServer serves the subset of the GitHub REST API the editor uses, backed by a Memory account.
type GitHubServer struct {
	*httptest.Server
	Memory *Memory
	// InlineLimit is the largest file the contents API returns inline.
	// Larger files come back with encoding "none", as on github.com.
	InlineLimit int
}

// DefaultInlineLimit matches the GitHub contents API.
const DefaultInlineLimit = 1 << 20

// NewGitHubServer starts a fake API. Close it when done.
func NewGitHubServer(mem *Memory) *GitHubServer {
	s := &GitHubServer{Memory: mem, InlineLimit: DefaultInlineLimit}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", s.handleUser)
	mux.HandleFunc("GET /user/repos", s.handleListRepos)
	mux.HandleFunc("POST /user/repos", s.handleCreateRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}", s.handleGetRepo)
	mux.HandleFunc("DELETE /repos/{owner}/{repo}", s.handleDeleteRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGetContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePutContents)
	mux.HandleFunc("DELETE /repos/{owner}/{repo}/contents/{path...}", s.handleDeleteContents)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/blobs/{sha}", s.handleGetBlob)
	s.Server = httptest.NewServer(s.authorize(mux))
	return s
}

// BaseURL returns the API root with a trailing slash.
func (s *GitHubServer) BaseURL() string {
	return s.URL + "/"
}

func (s *GitHubServer) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(header, "Bearer "), "token "))
		if token == "" || token != s.Memory.Token() {
			writeAPIError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *GitHubServer) owns(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("owner") != s.Memory.Login() {
		writeAPIError(w, http.StatusNotFound, "Not Found")
		return false
	}
	return true
}

func (s *GitHubServer) handleUser(w http.ResponseWriter, r *http.Request) {
	account, err := s.Memory.Account(r.Context())
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": account.Login, "name": account.Name})
}

func (s *GitHubServer) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.Memory.ListRepositories(r.Context())
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(repos))
	for _, name := range repos {
		out = append(out, map[string]any{
			"name":      name,
			"full_name": s.Memory.Login() + "/" + string(name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *GitHubServer) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeAPIError(w, http.StatusUnprocessableEntity, "Repository creation failed.")
		return
	}
	if err := s.Memory.CreateRepository(r.Context(), schema.RepoName(body.Name)); err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": body.Name})
}

func (s *GitHubServer) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	if !s.owns(w, r) {
		return
	}
	name := schema.RepoName(r.PathValue("repo"))
	if _, err := s.Memory.ListFiles(r.Context(), name); err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name})
}

func (s *GitHubServer) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	if !s.owns(w, r) {
		return
	}
	if err := s.Memory.DeleteRepository(r.Context(), schema.RepoName(r.PathValue("repo"))); err != nil {
		writeMemoryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GitHubServer) handleGetContents(w http.ResponseWriter, r *http.Request) {
	if !s.owns(w, r) {
		return
	}
	repo := schema.RepoName(r.PathValue("repo"))
	path := strings.Trim(r.PathValue("path"), "/")
	if path == "" {
		s.writeListing(r.Context(), w, repo)
		return
	}
	ref, err := s.Memory.ReadFile(r.Context(), repo, schema.FilePath(path))
	if err != nil {
		if s.isDir(repo, path) {
			writeJSON(w, http.StatusOK, []map[string]any{})
			return
		}
		writeMemoryError(w, err)
		return
	}
	encoding, content := "base64", base64.StdEncoding.EncodeToString([]byte(ref.Content))
	if len(ref.Content) > s.InlineLimit {
		encoding, content = "none", ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": encoding,
		"name":     path[strings.LastIndex(path, "/")+1:],
		"path":     path,
		"sha":      ref.Revision,
		"size":     len(ref.Content),
		"content":  content,
	})
}

// handleGetBlob answers raw blob reads, the only form the client requests.
func (s *GitHubServer) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	if !s.owns(w, r) {
		return
	}
	sha := r.PathValue("sha")
	s.Memory.mu.Lock()
	var (
		content string
		found   bool
	)
	if repo, ok := s.Memory.repos[schema.RepoName(r.PathValue("repo"))]; ok {
		for _, e := range repo.entries {
			if !e.dir && string(e.sha) == sha {
				content, found = e.content, true
				break
			}
		}
	}
	s.Memory.mu.Unlock()
	if !found {
		writeAPIError(w, http.StatusNotFound, "Not Found")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.github.raw")
	_, _ = w.Write([]byte(content))
}

func (s *GitHubServer) writeListing(ctx context.Context, w http.ResponseWriter, repo schema.RepoName) {
	if _, err := s.Memory.ListFiles(ctx, repo); err != nil {
		writeMemoryError(w, err)
		return
	}
	s.Memory.mu.Lock()
	entries := make([]map[string]any, 0)
	for path, e := range s.Memory.repos[repo].entries {
		if strings.Contains(string(path), "/") {
			continue
		}
		kind := "file"
		if e.dir {
			kind = "dir"
		}
		entries = append(entries, map[string]any{
			"type": kind,
			"name": path,
			"path": path,
			"sha":  e.sha,
		})
	}
	s.Memory.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i]["path"].(schema.FilePath) < entries[j]["path"].(schema.FilePath)
	})
	writeJSON(w, http.StatusOK, entries)
}

func (s *GitHubServer) isDir(repo schema.RepoName, path string) bool {
	s.Memory.mu.Lock()
	defer s.Memory.mu.Unlock()
	r, ok := s.Memory.repos[repo]
	if !ok {
		return false
	}
	e, ok := r.entries[schema.FilePath(path)]
	return ok && e.dir
}

func (s *GitHubServer) handlePutContents(w http.ResponseWriter, r *http.Request) {
	if !s.owns(w, r) {
		return
	}
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}
	repo := schema.RepoName(r.PathValue("repo"))
	path := schema.FilePath(strings.Trim(r.PathValue("path"), "/"))
	var rev schema.Revision
	status := http.StatusOK
	if body.SHA == "" {
		rev, err = s.Memory.CreateFile(r.Context(), repo, path, string(content), body.Message)
		status = http.StatusCreated
	} else {
		rev, err = s.Memory.WriteFile(r.Context(), repo, path, string(content), body.Message, schema.Revision(body.SHA))
	}
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"type": "file", "path": path, "sha": rev},
		"commit":  map[string]any{"message": body.Message},
	})
}

func (s *GitHubServer) handleDeleteContents(w http.ResponseWriter, r *http.Request) {
	if !s.owns(w, r) {
		return
	}
	var body struct {
		Message string `json:"message"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if body.SHA == "" {
		writeAPIError(w, http.StatusUnprocessableEntity, `"sha" wasn't supplied.`)
		return
	}
	repo := schema.RepoName(r.PathValue("repo"))
	path := schema.FilePath(strings.Trim(r.PathValue("path"), "/"))
	if err := s.Memory.DeleteFile(r.Context(), repo, path, body.Message, schema.Revision(body.SHA)); err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": nil, "commit": map[string]any{"message": body.Message}})
}

func writeMemoryError(w http.ResponseWriter, err error) {
	var herr *hosting.Error
	if errors.As(err, &herr) && herr.Status >= 400 {
		writeAPIError(w, herr.Status, herr.Message)
		return
	}
	writeAPIError(w, http.StatusInternalServerError, err.Error())
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
