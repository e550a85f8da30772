package httpapi

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

//go:embed assets/*
var embeddedUI embed.FS

const (
	baseHrefPlaceholder = "<!-- BASE_HREF -->"
	authModePlaceholder = "GITPILOT_AUTH_MODE"
	indexName           = "index.html"
)

// uiBundle holds the editor front-end. The index page is rendered once per
// server because its placeholders depend only on static configuration.
type uiBundle struct {
	files   fs.FS
	index   []byte
	etag    string
	modTime time.Time
	err     error
}

func newUIBundle(baseHref string, authDisabled bool) *uiBundle {
	files, err := fs.Sub(embeddedUI, "assets")
	if err != nil {
		return &uiBundle{files: embeddedUI, err: err}
	}
	bundle := &uiBundle{files: files}
	raw, err := fs.ReadFile(files, indexName)
	if err != nil {
		bundle.err = fmt.Errorf("read %s: %w", indexName, err)
		return bundle
	}
	if info, err := fs.Stat(files, indexName); err == nil {
		bundle.modTime = info.ModTime()
	}
	raw = applyBaseHref(raw, baseHref)
	raw = applyAuthMode(raw, authDisabled)
	sum := sha256.Sum256(raw)
	bundle.index = raw
	bundle.etag = `"` + hex.EncodeToString(sum[:8]) + `"`
	return bundle
}

// serveIndex answers only the root path; any other unmatched path is a 404
// rather than a client-side route.
func (b *uiBundle) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if b.err != nil {
		http.Error(w, "editor page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("ETag", b.etag)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, indexName, b.modTime, bytes.NewReader(b.index))
}

func (b *uiBundle) assetHandler() http.Handler {
	files := http.FileServer(http.FS(b.files))
	return http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		files.ServeHTTP(w, r)
	}))
}

func applyBaseHref(data []byte, baseHref string) []byte {
	tag := ""
	if strings.TrimSpace(baseHref) != "" {
		tag = fmt.Sprintf(`<base href="%s" />`, html.EscapeString(baseHref))
	}
	return bytes.ReplaceAll(data, []byte(baseHrefPlaceholder), []byte(tag))
}

func applyAuthMode(data []byte, disabled bool) []byte {
	mode := "operator"
	if disabled {
		mode = "single"
	}
	return bytes.ReplaceAll(data, []byte(authModePlaceholder), []byte(mode))
}
