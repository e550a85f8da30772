package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"pkt.systems/gitpilot/internal/logx"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// statusWriter remembers what the handler sent so the access line can report it.
type statusWriter struct {
	http.ResponseWriter
	code    int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type sessionResolver func(*http.Request) (schema.UserID, string)

type routeGroup string

const (
	routePage    routeGroup = "page"
	routeAsset   routeGroup = "asset"
	routeAccount routeGroup = "account"
	routeHosting routeGroup = "hosting"
	routeEditor  routeGroup = "editor"
	routeCommit  routeGroup = "commit"
)

func classifyRoute(path string) routeGroup {
	switch {
	case strings.HasPrefix(path, "/assets/"):
		return routeAsset
	case !strings.HasPrefix(path, "/api/"):
		return routePage
	}
	switch rest := strings.TrimPrefix(path, "/api/"); {
	case rest == "login" || rest == "logout" || rest == "me" || rest == "state":
		return routeAccount
	case strings.HasPrefix(rest, "hosting/") || rest == "repos" || rest == "files":
		return routeHosting
	case strings.HasPrefix(rest, "save"):
		return routeCommit
	default:
		return routeEditor
	}
}

// accessLog emits one line per request. Editor traffic carries the repo and
// file named in the query string; asset fetches only show up at debug level.
func accessLog(next http.Handler, resolve sessionResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		group := classifyRoute(r.URL.Path)
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		log := pslog.Ctx(r.Context()).With("remote", clientIP(r), "route", string(group))
		if resolve != nil {
			user, sessionID := resolve(r)
			log = logx.WithSession(log, user, sessionID)
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status(),
			"bytes", sw.written,
			"duration_ms", time.Since(began).Milliseconds(),
		}
		query := r.URL.Query()
		if repo := query.Get("repo"); repo != "" {
			fields = append(fields, "repo", repo)
		}
		if file := query.Get("path"); file != "" {
			fields = append(fields, "file", file)
		}

		switch {
		case group == routeAsset:
			log.Debug("http asset", fields...)
		case sw.status() >= http.StatusInternalServerError:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	})
}

// clientIP prefers the first X-Forwarded-For hop and drops the port otherwise.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
