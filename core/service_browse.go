package core

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/gitpilot/internal/highlight"
	"pkt.systems/gitpilot/internal/logx"
	"pkt.systems/gitpilot/schema"
)

func (s *service) ListRepos(ctx context.Context, req schema.ListReposRequest) (schema.ListReposResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.ListReposResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.ListReposResponse{}, err
	}
	repos, err := sess.client.ListRepositories(ctx)
	if err != nil {
		return schema.ListReposResponse{}, s.fail(sess, log, "service repo list failed", err)
	}
	choices := make([]schema.RepoName, 0, len(repos)+1)
	choices = append(choices, "")
	choices = append(choices, repos...)
	log.Debug("service repo list ok", "count", len(repos))
	return schema.ListReposResponse{Repos: repos, Choices: choices}, nil
}

func (s *service) ListFiles(ctx context.Context, req schema.ListFilesRequest) (schema.ListFilesResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.ListFilesResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.ListFilesResponse{}, err
	}
	if strings.TrimSpace(string(req.Repo)) == "" {
		return schema.ListFilesResponse{Files: []schema.FilePath{}}, nil
	}
	repo, err := schema.NormalizeRepoName(string(req.Repo))
	if err != nil {
		return schema.ListFilesResponse{}, err
	}
	log = logx.WithRepo(log, repo)
	files, err := sess.client.ListFiles(ctx, repo)
	if err != nil {
		return schema.ListFilesResponse{}, s.fail(sess, log, "service file list failed", err)
	}
	if sess.phase == schema.PhaseAuthenticated && sess.repo != repo {
		sess.repo = repo
		s.saveSnapshot(log, sess)
	}
	log.Debug("service file list ok", "count", len(files))
	return schema.ListFilesResponse{Files: files}, nil
}

func (s *service) OpenFile(ctx context.Context, req schema.OpenFileRequest) (schema.OpenFileResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.OpenFileResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.OpenFileResponse{}, err
	}
	repo, path, err := normalizeTarget(req.Repo, req.Path)
	if err != nil {
		return schema.OpenFileResponse{}, err
	}
	log = logx.WithFile(log, repo, path)
	log.Info("service file open start")
	ref, err := sess.client.ReadFile(ctx, repo, path)
	if err != nil {
		return schema.OpenFileResponse{}, s.fail(sess, log, "service file open failed", err)
	}
	sess.repo = repo
	sess.file = &openFile{
		repo:     repo,
		path:     path,
		revision: ref.Revision,
		buffer:   newEditBuffer(ref.Content),
	}
	sess.pending = nil
	sess.phase = schema.PhaseEditing
	s.saveSnapshot(log, sess)
	log.Info("service file open ok", "revision", ref.Revision, "bytes", len(ref.Content))
	return schema.OpenFileResponse{
		File:     ref,
		Language: highlight.Language(string(path), ref.Content),
		State:    s.snapshot(sess),
	}, nil
}

func (s *service) CreateFile(ctx context.Context, req schema.CreateFileRequest) (schema.CreateFileResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.CreateFileResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.CreateFileResponse{}, err
	}
	repo, path, err := normalizeTarget(req.Repo, req.Path)
	if err != nil {
		return schema.CreateFileResponse{}, err
	}
	log = logx.WithFile(log, repo, path)
	log.Info("service file create start")
	message := commitMessage(req.Message, "Create", path)
	revision, err := sess.client.CreateFile(ctx, repo, path, req.Content, message)
	if err != nil {
		return schema.CreateFileResponse{}, s.rejected(log, "service file create failed", err)
	}
	log.Info("service file create ok", "revision", revision)
	return schema.CreateFileResponse{Path: path, Revision: revision}, nil
}

func (s *service) DeleteFile(ctx context.Context, req schema.DeleteFileRequest) (schema.DeleteFileResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.DeleteFileResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.DeleteFileResponse{}, err
	}
	repo, path, err := normalizeTarget(req.Repo, req.Path)
	if err != nil {
		return schema.DeleteFileResponse{}, err
	}
	log = logx.WithFile(log, repo, path)
	log.Info("service file delete start")
	// Deletes present the latest revision, not the one recorded at open.
	ref, err := sess.client.Fresh(ctx, repo, path)
	if err != nil {
		return schema.DeleteFileResponse{}, s.rejected(log, "service file delete failed", err)
	}
	message := commitMessage(req.Message, "Delete", path)
	if err := sess.client.DeleteFile(ctx, repo, path, message, ref.Revision); err != nil {
		return schema.DeleteFileResponse{}, s.rejected(log, "service file delete failed", err)
	}
	if isOpen(sess, repo, path) {
		sess.clearSelection()
	}
	log.Info("service file delete ok", "revision", ref.Revision)
	return schema.DeleteFileResponse{State: s.snapshot(sess)}, nil
}

func (s *service) CreateRepo(ctx context.Context, req schema.CreateRepoRequest) (schema.CreateRepoResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.CreateRepoResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.CreateRepoResponse{}, err
	}
	name, err := schema.NormalizeRepoName(string(req.Name))
	if err != nil {
		return schema.CreateRepoResponse{}, err
	}
	log = logx.WithRepo(log, name)
	log.Info("service repo create start")
	if err := sess.client.CreateRepository(ctx, name); err != nil {
		return schema.CreateRepoResponse{}, s.rejected(log, "service repo create failed", err)
	}
	log.Info("service repo create ok")
	return schema.CreateRepoResponse{Repo: name}, nil
}

func (s *service) DeleteRepo(ctx context.Context, req schema.DeleteRepoRequest) (schema.DeleteRepoResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.DeleteRepoResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.DeleteRepoResponse{}, err
	}
	name, err := schema.NormalizeRepoName(string(req.Name))
	if err != nil {
		return schema.DeleteRepoResponse{}, err
	}
	log = logx.WithRepo(log, name)
	log.Info("service repo delete start")
	if err := sess.client.DeleteRepository(ctx, name); err != nil {
		return schema.DeleteRepoResponse{}, s.rejected(log, "service repo delete failed", err)
	}
	if sess.file != nil && sess.file.repo == name {
		sess.clearSelection()
	}
	if sess.repo == name {
		sess.repo = ""
		s.saveSnapshot(log, sess)
	}
	log.Info("service repo delete ok")
	return schema.DeleteRepoResponse{State: s.snapshot(sess)}, nil
}

func normalizeTarget(repo schema.RepoName, path schema.FilePath) (schema.RepoName, schema.FilePath, error) {
	if strings.TrimSpace(string(repo)) == "" || strings.TrimSpace(string(path)) == "" {
		return "", "", fmt.Errorf("%w: repository and file are required", schema.ErrInvalidRequest)
	}
	name, err := schema.NormalizeRepoName(string(repo))
	if err != nil {
		return "", "", err
	}
	clean, err := schema.NormalizeFilePath(string(path))
	if err != nil {
		return "", "", err
	}
	return name, clean, nil
}

func commitMessage(message, verb string, path schema.FilePath) string {
	if message = strings.TrimSpace(message); message != "" {
		return message
	}
	return fmt.Sprintf("%s %s", verb, path)
}
