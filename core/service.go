package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/gitpilot/internal/hosting"
	"pkt.systems/gitpilot/internal/logx"
	"pkt.systems/gitpilot/internal/persist"
	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// service implements the core service behavior.
type service struct {
	cfg         schema.ServiceConfig
	hosting     hosting.Factory
	codegen     Codegen
	credentials CredentialStore
	secrets     secrets.Source
	store       *persist.Store
	logger      pslog.Logger
	mu          sync.Mutex
	sessions    map[schema.UserID]*session
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Hosting == nil {
		return nil, errors.New("hosting factory is required")
	}
	if deps.Codegen == nil {
		return nil, errors.New("code generation registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	store := deps.State
	if store == nil && cfg.StateDir != "" {
		store, err = persist.NewStoreWithLogger(cfg.StateDir, deps.Logger)
		if err != nil {
			return nil, err
		}
	}
	return &service{
		cfg:         cfg,
		hosting:     deps.Hosting,
		codegen:     deps.Codegen,
		credentials: deps.Credentials,
		secrets:     deps.Secrets,
		store:       store,
		logger:      logger,
		sessions:    make(map[schema.UserID]*session),
	}, nil
}

func (s *service) Login(ctx context.Context, req schema.LoginRequest) (schema.LoginResponse, error) {
	if ctx == nil {
		return schema.LoginResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.LoginResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	ctx = logx.ContextWithUserLogger(ctx, log, userID)
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	token, source, err := s.resolveToken(req.Token)
	if err != nil {
		log.Warn("service login failed", "err", err)
		return schema.LoginResponse{}, err
	}
	log = log.With("token_source", source)
	log.Info("service login start", "remember", req.Remember)

	inner, err := s.hosting(token)
	if err != nil {
		log.Warn("service login failed", "err", err)
		return schema.LoginResponse{}, authError(err)
	}
	client := hosting.NewCachedClient(inner, s.cfg.CacheTTL)
	account, err := client.Account(ctx)
	if err != nil {
		client.Close()
		log.Warn("service login failed", "err", err)
		return schema.LoginResponse{}, authError(err)
	}
	if req.Remember && source == tokenFromRequest {
		if s.credentials == nil {
			client.Close()
			err := fmt.Errorf("%w: no credential store configured", schema.ErrIO)
			log.Warn("service login failed", "err", err)
			return schema.LoginResponse{}, err
		}
		if err := s.credentials.Save(token); err != nil {
			client.Close()
			log.Warn("service login failed", "err", err)
			return schema.LoginResponse{}, errors.Join(schema.ErrIO, err)
		}
		log.Info("service credential stored")
	}

	// Re-authentication replaces the handle and its cache wholesale.
	sess.teardown()
	sess.client = client
	sess.account = &account
	sess.phase = schema.PhaseAuthenticated
	if snap, ok := s.loadSnapshot(log, userID); ok {
		if snap.Provider != "" {
			sess.provider = snap.Provider
		}
		sess.repo = snap.Repo
	}
	log.Info("service login ok", "login", account.Login)
	return schema.LoginResponse{Account: account, State: s.snapshot(sess)}, nil
}

func (s *service) Logout(ctx context.Context, req schema.LogoutRequest) (schema.LogoutResponse, error) {
	if ctx == nil {
		return schema.LogoutResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.LogoutResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	sess := s.session(userID)
	sess.mu.Lock()
	s.saveSnapshot(log, sess)
	sess.teardown()
	s.mu.Lock()
	if s.sessions[userID] == sess {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	sess.mu.Unlock()
	log.Info("service logout ok")

	fresh := s.session(userID)
	fresh.mu.Lock()
	defer fresh.mu.Unlock()
	return schema.LogoutResponse{State: s.snapshot(fresh)}, nil
}

func (s *service) State(ctx context.Context, req schema.StateRequest) (schema.StateResponse, error) {
	if ctx == nil {
		return schema.StateResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.StateResponse{}, err
	}
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return schema.StateResponse{State: s.snapshot(sess)}, nil
}

func (s *service) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[schema.UserID]*session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.mu.Lock()
		sess.teardown()
		sess.mu.Unlock()
	}
}

// session returns the user's session, creating an unauthenticated one on first use.
func (s *service) session(userID schema.UserID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = newSession(userID, s.cfg.DefaultProvider)
		s.sessions[userID] = sess
	}
	return sess
}

// begin normalizes the user and locks its session. The caller must unlock.
func (s *service) begin(ctx context.Context, userID schema.UserID) (*session, pslog.Logger, context.Context, error) {
	if ctx == nil {
		return nil, nil, nil, errors.New("missing context")
	}
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, nil, nil, err
	}
	log := logx.WithUser(ctx, userID)
	ctx = logx.ContextWithUserLogger(ctx, log, userID)
	sess := s.session(userID)
	sess.mu.Lock()
	return sess, log, ctx, nil
}

// fail logs err and tears the session down when the hosting API rejected the token.
// Only reads go through fail; mutations use rejected.
func (s *service) fail(sess *session, log pslog.Logger, msg string, err error) error {
	if errors.Is(err, schema.ErrAuth) && sess.phase != schema.PhaseUnauthenticated {
		sess.teardown()
		log.Warn(msg, "err", err, "teardown", true)
		return err
	}
	log.Warn(msg, "err", err)
	return err
}

// rejected reports a failed mutation. The session, its selection and the
// edit buffer stay as they were whatever the cause.
func (s *service) rejected(log pslog.Logger, msg string, err error) error {
	log.Warn(msg, "err", err)
	return err
}

func (s *service) snapshot(sess *session) schema.SessionSnapshot {
	return sess.snapshot(s.codegen.Available())
}

func (s *service) loadSnapshot(log pslog.Logger, userID schema.UserID) (persist.UserSnapshot, bool) {
	if s.store == nil {
		return persist.UserSnapshot{}, false
	}
	snap, ok, err := s.store.Load(userID)
	if err != nil {
		log.Warn("service state load failed", "err", err)
		return persist.UserSnapshot{}, false
	}
	return snap, ok
}

func (s *service) saveSnapshot(log pslog.Logger, sess *session) {
	if s.store == nil {
		return
	}
	snap := persist.UserSnapshot{Provider: sess.provider, Repo: sess.repo}
	if sess.file != nil {
		snap.Repo = sess.file.repo
	}
	if err := s.store.Save(sess.user, snap); err != nil {
		log.Warn("service state save failed", "err", err)
	}
}

type tokenSource string

const (
	tokenFromRequest tokenSource = "request"
	tokenFromSecrets tokenSource = "secrets"
	tokenFromStore   tokenSource = "credential_store"
)

// resolveToken picks the request token, then the configured secret, then the stored credential.
func (s *service) resolveToken(token string) (string, tokenSource, error) {
	if token = strings.TrimSpace(token); token != "" {
		return token, tokenFromRequest, nil
	}
	if s.secrets != nil {
		if token = strings.TrimSpace(s.secrets.Get(secrets.GitHubToken)); token != "" {
			return token, tokenFromSecrets, nil
		}
	}
	if s.credentials != nil {
		stored, found, err := s.credentials.Load()
		if err != nil {
			return "", "", fmt.Errorf("load stored credential: %w", errors.Join(schema.ErrIO, err))
		}
		if found && strings.TrimSpace(stored) != "" {
			return strings.TrimSpace(stored), tokenFromStore, nil
		}
	}
	return "", "", fmt.Errorf("%w: no hosting token provided or stored", schema.ErrAuth)
}

// authError maps any login failure onto ErrAuth while keeping the cause.
func authError(err error) error {
	if errors.Is(err, schema.ErrAuth) {
		return err
	}
	return errors.Join(schema.ErrAuth, err)
}

func normalizeUserID(userID schema.UserID) (schema.UserID, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", schema.ErrInvalidUser
	}
	return userID, nil
}
