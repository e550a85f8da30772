package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"pkt.systems/gitpilot/internal/logx"
	"pkt.systems/gitpilot/internal/persist"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// session is one browser login. ctx ends on logout, expiry, or shutdown,
// which aborts any hosting or generation call still running for it.
type session struct {
	id        string
	userID    schema.UserID
	expiresAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

func (s session) log() pslog.Logger {
	return logx.WithSession(logx.Ctx(context.Background()), s.userID, s.id)
}

func (s session) end() {
	if s.cancel != nil {
		s.cancel()
	}
}

// sessionStore indexes sessions by a digest of the cookie value. Only the
// digest is written to disk, so a leaked sessions file cannot be replayed.
type sessionStore struct {
	ttl  time.Duration
	path string

	mu     sync.Mutex
	parent context.Context
	byHash map[string]session
}

const sessionFileVersion = 2

type storedSession struct {
	TokenHash string    `json:"token_sha256"`
	ID        string    `json:"id"`
	User      string    `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

type storedSessions struct {
	Version  int             `json:"version"`
	Sessions []storedSession `json:"sessions"`
}

func newSessionStore(ttl time.Duration, path string) *sessionStore {
	s := &sessionStore{
		ttl:    ttl,
		path:   strings.TrimSpace(path),
		parent: context.Background(),
		byHash: make(map[string]session),
	}
	s.restore()
	return s
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// spawn must be called with mu held.
func (s *sessionStore) spawn(userID schema.UserID, id string, expiresAt time.Time) session {
	if id == "" {
		id = newToken(12)
	}
	ctx, cancel := context.WithCancel(s.parent)
	return session{id: id, userID: userID, expiresAt: expiresAt, ctx: ctx, cancel: cancel}
}

func (s *sessionStore) create(userID schema.UserID) (string, session) {
	token := newToken(32)
	s.mu.Lock()
	sess := s.spawn(userID, "", time.Now().Add(s.ttl))
	s.byHash[hashToken(token)] = sess
	s.mu.Unlock()
	s.save()
	sess.log().Info("session created", "expires", sess.expiresAt.Format(time.RFC3339))
	return token, sess
}

// get returns the live session for token. An expired session is removed
// and its context cancelled on the way out.
func (s *sessionStore) get(token string) (session, bool) {
	if token == "" {
		return session{}, false
	}
	key := hashToken(token)
	s.mu.Lock()
	sess, ok := s.byHash[key]
	expired := ok && !time.Now().Before(sess.expiresAt)
	if expired {
		delete(s.byHash, key)
	}
	s.mu.Unlock()
	switch {
	case !ok:
		return session{}, false
	case expired:
		sess.end()
		sess.log().Info("session expired")
		s.save()
		return session{}, false
	}
	return sess, true
}

func (s *sessionStore) delete(token string) {
	key := hashToken(token)
	s.mu.Lock()
	sess, ok := s.byHash[key]
	delete(s.byHash, key)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.end()
	sess.log().Info("session deleted")
	s.save()
}

// deleteUser ends every session held by userID and returns how many there were.
func (s *sessionStore) deleteUser(userID schema.UserID) int {
	var ended []session
	s.mu.Lock()
	for key, sess := range s.byHash {
		if sess.userID == userID {
			ended = append(ended, sess)
			delete(s.byHash, key)
		}
	}
	s.mu.Unlock()
	if len(ended) == 0 {
		return 0
	}
	for _, sess := range ended {
		sess.end()
	}
	logx.WithUser(context.Background(), userID).Info("sessions deleted", "count", len(ended))
	s.save()
	return len(ended)
}

// setBaseContext reparents all sessions under ctx, typically the server's
// run context, so shutdown reaches every in-flight request.
func (s *sessionStore) setBaseContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.parent = ctx
	for key, sess := range s.byHash {
		sess.end()
		s.byHash[key] = s.spawn(sess.userID, sess.id, sess.expiresAt)
	}
	s.mu.Unlock()
}

func (s *sessionStore) restore() {
	if s.path == "" {
		return
	}
	log := logx.Ctx(context.Background()).With("path", s.path)
	var file storedSessions
	found, err := persist.ReadJSON(s.path, &file)
	if err != nil {
		log.Warn("session store load failed", "err", err)
		return
	}
	if !found {
		return
	}
	if file.Version != sessionFileVersion {
		log.Info("session store format changed, starting empty", "version", file.Version)
		s.save()
		return
	}
	now := time.Now()
	s.mu.Lock()
	for _, rec := range file.Sessions {
		if rec.TokenHash == "" || strings.TrimSpace(rec.User) == "" || !now.Before(rec.ExpiresAt) {
			continue
		}
		s.byHash[rec.TokenHash] = s.spawn(schema.UserID(rec.User), rec.ID, rec.ExpiresAt)
	}
	kept := len(s.byHash)
	s.mu.Unlock()
	if kept != len(file.Sessions) {
		s.save()
	}
	log.Info("session store loaded", "sessions", kept)
}

func (s *sessionStore) save() {
	if s.path == "" {
		return
	}
	s.mu.Lock()
	file := storedSessions{Version: sessionFileVersion, Sessions: make([]storedSession, 0, len(s.byHash))}
	for key, sess := range s.byHash {
		file.Sessions = append(file.Sessions, storedSession{
			TokenHash: key,
			ID:        sess.id,
			User:      string(sess.userID),
			ExpiresAt: sess.expiresAt,
		})
	}
	s.mu.Unlock()
	if err := persist.WriteJSON(s.path, file); err != nil {
		logx.Ctx(context.Background()).Warn("session store save failed", "path", s.path, "err", err)
	}
}
