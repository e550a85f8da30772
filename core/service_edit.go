package core

import (
	"context"
	"strings"

	"pkt.systems/gitpilot/internal/highlight"
	"pkt.systems/gitpilot/internal/logx"
	"pkt.systems/gitpilot/schema"
)

func (s *service) UpdateBuffer(ctx context.Context, req schema.UpdateBufferRequest) (schema.UpdateBufferResponse, error) {
	sess, log, _, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.UpdateBufferResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseEditing); err != nil {
		return schema.UpdateBufferResponse{}, err
	}
	sess.file.buffer.Set(req.Content)
	if !s.cfg.DisableAuditLogging {
		logx.WithFile(log, sess.file.repo, sess.file.path).Trace("service buffer update", "bytes", len(req.Content))
	}
	return schema.UpdateBufferResponse{State: s.snapshot(sess)}, nil
}

func (s *service) Generate(ctx context.Context, req schema.GenerateRequest) (schema.GenerateResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.GenerateResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseEditing); err != nil {
		return schema.GenerateResponse{}, err
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return schema.GenerateResponse{}, schema.ErrEmptyInstruction
	}
	provider := sess.provider
	log = logx.WithProvider(logx.WithFile(log, sess.file.repo, sess.file.path), provider)
	log.Info("service generate start")
	if !s.cfg.DisableAuditLogging {
		log.Debug("service generate payload", "instruction_bytes", len(instruction), "content_bytes", len(sess.file.buffer.Text()))
	}
	content, err := s.codegen.Generate(ctx, provider, instruction, sess.file.buffer.Text())
	if err != nil {
		// The buffer is only replaced by a successful generation.
		return schema.GenerateResponse{}, s.fail(sess, log, "service generate failed", err)
	}
	sess.file.buffer.Set(content)
	log.Info("service generate ok", "bytes", len(content))
	return schema.GenerateResponse{Provider: provider, Content: content, State: s.snapshot(sess)}, nil
}

func (s *service) SetProvider(ctx context.Context, req schema.SetProviderRequest) (schema.SetProviderResponse, error) {
	sess, log, _, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.SetProviderResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseAuthenticated, schema.PhaseEditing); err != nil {
		return schema.SetProviderResponse{}, err
	}
	provider, err := schema.NormalizeProvider(string(req.Provider))
	if err != nil {
		return schema.SetProviderResponse{}, err
	}
	if sess.provider != provider {
		sess.provider = provider
		s.saveSnapshot(log, sess)
	}
	logx.WithProvider(log, provider).Info("service provider set")
	return schema.SetProviderResponse{Provider: provider, State: s.snapshot(sess)}, nil
}

func (s *service) Preview(ctx context.Context, req schema.PreviewRequest) (schema.PreviewResponse, error) {
	sess, log, _, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.PreviewResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseEditing, schema.PhaseConfirmPending); err != nil {
		return schema.PreviewResponse{}, err
	}
	path := string(sess.file.path)
	text := sess.file.buffer.Text()
	html, err := highlight.HTML(path, text, highlight.DefaultStyle)
	if err != nil {
		log.Warn("service preview failed", "err", err)
		return schema.PreviewResponse{}, err
	}
	return schema.PreviewResponse{Language: highlight.Language(path, text), HTML: html}, nil
}

func (s *service) RequestSave(ctx context.Context, req schema.RequestSaveRequest) (schema.RequestSaveResponse, error) {
	sess, log, _, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.RequestSaveResponse{}, err
	}
	defer sess.mu.Unlock()
	// A repeated request replaces the pending one.
	if err := sess.require(schema.PhaseEditing, schema.PhaseConfirmPending); err != nil {
		return schema.RequestSaveResponse{}, err
	}
	file := sess.file
	log = logx.WithFile(log, file.repo, file.path)
	diff, err := highlight.Diff(string(file.path), file.buffer.Base(), file.buffer.Text())
	if err != nil {
		log.Warn("service save request failed", "err", err)
		return schema.RequestSaveResponse{}, err
	}
	pending := schema.PendingSave{
		Repo:     file.repo,
		Path:     file.path,
		Revision: file.revision,
		Message:  commitMessage(req.Message, "Update", file.path),
		Diff:     diff,
	}
	sess.pending = &pending
	sess.phase = schema.PhaseConfirmPending
	log.Info("service save requested", "revision", file.revision, "dirty", file.buffer.Dirty())
	return schema.RequestSaveResponse{Pending: pending, State: s.snapshot(sess)}, nil
}

func (s *service) ConfirmSave(ctx context.Context, req schema.ConfirmSaveRequest) (schema.ConfirmSaveResponse, error) {
	sess, log, ctx, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.ConfirmSaveResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseConfirmPending); err != nil {
		return schema.ConfirmSaveResponse{}, err
	}
	file := sess.file
	pending := sess.pending
	log = logx.WithFile(log, file.repo, file.path)
	log.Info("service save start", "revision", pending.Revision)
	// Either way the confirmation is consumed and the buffer kept.
	sess.pending = nil
	sess.phase = schema.PhaseEditing
	revision, err := sess.client.WriteFile(ctx, file.repo, file.path, file.buffer.Text(), pending.Message, pending.Revision)
	if err != nil {
		return schema.ConfirmSaveResponse{}, s.rejected(log, "service save failed", err)
	}
	file.revision = revision
	file.buffer.Commit()
	log.Info("service save ok", "revision", revision)
	return schema.ConfirmSaveResponse{
		Revision:    revision,
		NoticeDelay: s.cfg.ConfirmNotice,
		State:       s.snapshot(sess),
	}, nil
}

func (s *service) CancelSave(ctx context.Context, req schema.CancelSaveRequest) (schema.CancelSaveResponse, error) {
	sess, log, _, err := s.begin(ctx, req.UserID)
	if err != nil {
		return schema.CancelSaveResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.require(schema.PhaseConfirmPending); err != nil {
		return schema.CancelSaveResponse{}, err
	}
	sess.pending = nil
	sess.phase = schema.PhaseEditing
	log.Info("service save cancelled")
	return schema.CancelSaveResponse{State: s.snapshot(sess)}, nil
}
