package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/gitpilot/core"
	"pkt.systems/gitpilot/internal/logx"
	"pkt.systems/gitpilot/schema"
)

// Authenticator verifies username, password, and totp.
type Authenticator interface {
	Authenticate(username, password, totp string) error
}

// Server serves the HTTP API and UI.
type Server struct {
	cfg       Config
	service   core.Service
	authStore Authenticator
	sessions  *sessionStore
	basePath  string
	ui        *uiBundle
	maxBody   int64
}

const defaultMaxBodyBytes = 4 << 20

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, authStore Authenticator) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 168 * time.Hour
	}
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		cfg.SessionCookie = "gitpilot_session"
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Server{
		cfg:       cfg,
		service:   service,
		authStore: authStore,
		sessions:  newSessionStore(ttl, cfg.SessionStorePath),
		basePath:  normalizeBasePath(cfg.BasePath),
		ui:        newUIBundle(buildBaseHref(cfg.BaseURL, cfg.BasePath), cfg.AuthDisabled),
		maxBody:   maxBody,
	}
}

// SetBaseContext sets the parent context for session lifetimes.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.sessions.setBaseContext(ctx)
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.ui.serveIndex)
	mux.Handle("GET /assets/", s.ui.assetHandler())

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/me", s.requireSession(s.handleMe))
	mux.HandleFunc("GET /api/state", s.requireSession(s.handleState))
	mux.HandleFunc("POST /api/hosting/login", s.requireSession(s.handleHostingLogin))
	mux.HandleFunc("POST /api/hosting/logout", s.requireSession(s.handleHostingLogout))
	mux.HandleFunc("GET /api/repos", s.requireSession(s.handleListRepos))
	mux.HandleFunc("POST /api/repos", s.requireSession(s.handleCreateRepo))
	mux.HandleFunc("DELETE /api/repos", s.requireSession(s.handleDeleteRepo))
	mux.HandleFunc("GET /api/files", s.requireSession(s.handleListFiles))
	mux.HandleFunc("POST /api/files", s.requireSession(s.handleCreateFile))
	mux.HandleFunc("DELETE /api/files", s.requireSession(s.handleDeleteFile))
	mux.HandleFunc("POST /api/open", s.requireSession(s.handleOpen))
	mux.HandleFunc("PUT /api/buffer", s.requireSession(s.handleBuffer))
	mux.HandleFunc("POST /api/generate", s.requireSession(s.handleGenerate))
	mux.HandleFunc("POST /api/provider", s.requireSession(s.handleProvider))
	mux.HandleFunc("POST /api/save", s.requireSession(s.handleRequestSave))
	mux.HandleFunc("POST /api/save/confirm", s.requireSession(s.handleConfirmSave))
	mux.HandleFunc("POST /api/save/cancel", s.requireSession(s.handleCancelSave))
	mux.HandleFunc("GET /api/preview", s.requireSession(s.handlePreview))

	return mountBasePath(s.basePath, accessLog(mux, s.lookupSession))
}

// Operator login.

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	userID := schema.UserID(strings.TrimSpace(payload.Username))
	if s.cfg.AuthDisabled {
		userID = s.cfg.SingleUser
	} else if s.authStore == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("operator login is not configured"))
		return
	} else if err := s.authStore.Authenticate(string(userID), payload.Password, payload.TOTP); err != nil {
		log.With("user", userID).Warn("http login failed", "err", err)
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	s.issueSession(w, userID)
	writeJSON(w, http.StatusOK, map[string]any{"username": userID})
	log.With("user", userID).Info("http login ok")
}

func (s *Server) issueSession(w http.ResponseWriter, userID schema.UserID) session {
	token, sess := s.sessions.create(userID)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     s.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.expiresAt,
	})
	return sess
}

func (s *Server) cookiePath() string {
	if s.basePath == "" {
		return "/"
	}
	return s.basePath + "/"
}

// handleLogout ends the operator session and the hosting session behind it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.sessionToken(r)
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = logx.WithSession(log, entry.userID, entry.id)
			if _, err := s.service.Logout(r.Context(), schema.LogoutRequest{UserID: entry.userID}); err != nil {
				log.Warn("http logout flow teardown failed", "err", err)
			}
		}
		s.sessions.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     s.cookiePath(),
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, userID schema.UserID) {
	writeJSON(w, http.StatusOK, map[string]any{"username": userID, "auth_disabled": s.cfg.AuthDisabled})
}

// Flow endpoints.

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	resp, err := s.service.State(r.Context(), schema.StateRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": resp.State})
}

func (s *Server) handleHostingLogin(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Token    string `json:"token"`
		Remember bool   `json:"remember"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.Login(r.Context(), schema.LoginRequest{UserID: userID, Token: payload.Token, Remember: payload.Remember})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": resp.Account, "state": resp.State})
}

func (s *Server) handleHostingLogout(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	resp, err := s.service.Logout(r.Context(), schema.LogoutRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": resp.State})
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	resp, err := s.service.ListRepos(r.Context(), schema.ListReposRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": nonNil(resp.Repos), "choices": nonNil(resp.Choices)})
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CreateRepo(r.Context(), schema.CreateRepoRequest{UserID: userID, Name: schema.RepoName(payload.Name)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"repo": resp.Repo})
}

func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	name := r.URL.Query().Get("name")
	resp, err := s.service.DeleteRepo(r.Context(), schema.DeleteRepoRequest{UserID: userID, Name: schema.RepoName(name)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": resp.State})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	repo := r.URL.Query().Get("repo")
	resp, err := s.service.ListFiles(r.Context(), schema.ListFilesRequest{UserID: userID, Repo: schema.RepoName(repo)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": nonNil(resp.Files)})
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Repo    string `json:"repo"`
		Path    string `json:"path"`
		Content string `json:"content"`
		Message string `json:"message"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CreateFile(r.Context(), schema.CreateFileRequest{
		UserID:  userID,
		Repo:    schema.RepoName(payload.Repo),
		Path:    schema.FilePath(payload.Path),
		Content: payload.Content,
		Message: payload.Message,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": resp.Path, "revision": resp.Revision})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	query := r.URL.Query()
	resp, err := s.service.DeleteFile(r.Context(), schema.DeleteFileRequest{
		UserID:  userID,
		Repo:    schema.RepoName(query.Get("repo")),
		Path:    schema.FilePath(query.Get("path")),
		Message: query.Get("message"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": resp.State})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Repo string `json:"repo"`
		Path string `json:"path"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.OpenFile(r.Context(), schema.OpenFileRequest{
		UserID: userID,
		Repo:   schema.RepoName(payload.Repo),
		Path:   schema.FilePath(payload.Path),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": resp.File, "language": resp.Language, "state": resp.State})
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.UpdateBuffer(r.Context(), schema.UpdateBufferRequest{UserID: userID, Content: payload.Content})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": resp.State})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Instruction string `json:"instruction"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.Generate(r.Context(), schema.GenerateRequest{UserID: userID, Instruction: payload.Instruction})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": resp.Provider, "content": resp.Content, "state": resp.State})
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Provider string `json:"provider"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SetProvider(r.Context(), schema.SetProviderRequest{UserID: userID, Provider: schema.ProviderName(payload.Provider)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": resp.Provider, "state": resp.State})
}

func (s *Server) handleRequestSave(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := s.decode(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.RequestSave(r.Context(), schema.RequestSaveRequest{UserID: userID, Message: payload.Message})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": resp.Pending, "state": resp.State})
}

func (s *Server) handleConfirmSave(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	resp, err := s.service.ConfirmSave(r.Context(), schema.ConfirmSaveRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revision":        resp.Revision,
		"notice_delay_ms": resp.NoticeDelay.Milliseconds(),
		"state":           resp.State,
	})
}

func (s *Server) handleCancelSave(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	resp, err := s.service.CancelSave(r.Context(), schema.CancelSaveRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": resp.State})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	resp, err := s.service.Preview(r.Context(), schema.PreviewRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"language": resp.Language, "html": resp.HTML})
}

// Sessions.

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		entry, ok := s.sessions.get(s.sessionToken(r))
		if !ok {
			if !s.cfg.AuthDisabled {
				log.Warn("http session missing or invalid")
				writeErrorCode(w, http.StatusUnauthorized, "session", errors.New("operator login required"))
				return
			}
			entry = s.issueSession(w, s.cfg.SingleUser)
		}
		log = logx.WithSession(log, entry.userID, entry.id)
		ctx, cancel := sessionContext(logx.ContextWithUserLogger(r.Context(), log, entry.userID), entry)
		defer cancel()
		next(w, r.WithContext(ctx), entry.userID)
	}
}

// sessionContext cancels the request context when the operator session ends.
func sessionContext(ctx context.Context, sess session) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if sess.ctx == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(sess.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) lookupSession(r *http.Request) (schema.UserID, string) {
	if s == nil || r == nil {
		return "", ""
	}
	token := s.sessionToken(r)
	if token == "" {
		return "", ""
	}
	entry, ok := s.sessions.get(token)
	if !ok {
		return "", ""
	}
	return entry.userID, entry.id
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target any) error {
	return decodeJSON(http.MaxBytesReader(w, r.Body, s.maxBody), target)
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeErrorCode(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": code})
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if code == "conflict" {
		message = schema.ErrConflict.Error()
	}
	writeErrorCode(w, status, code, errors.New(message))
}

// classifyError maps service errors onto HTTP status codes and a short code the UI switches on.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, schema.ErrAuth):
		return http.StatusUnauthorized, "auth"
	case errors.Is(err, schema.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, schema.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, schema.ErrInvalidPhase), errors.Is(err, schema.ErrNoFileSelected):
		return http.StatusConflict, "invalid_phase"
	case errors.Is(err, schema.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, schema.ErrProvider):
		return http.StatusBadGateway, "provider"
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidUser),
		errors.Is(err, schema.ErrInvalidRepo),
		errors.Is(err, schema.ErrInvalidPath),
		errors.Is(err, schema.ErrInvalidProvider),
		errors.Is(err, schema.ErrEmptyInstruction):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
