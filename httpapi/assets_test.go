package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUIBundleIndexRevalidates(t *testing.T) {
	ui := newUIBundle("", false)
	if ui.err != nil {
		t.Fatalf("bundle: %v", ui.err)
	}
	rec := httptest.NewRecorder()
	ui.serveIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" || rec.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("unexpected cache headers: %v", rec.Header())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	ui.serveIndex(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for matching etag, got %d", rec.Code)
	}
}

func TestUIBundleEtagFollowsAuthMode(t *testing.T) {
	if newUIBundle("", false).etag == newUIBundle("", true).etag {
		t.Fatalf("expected distinct etags for operator and single-user pages")
	}
}

func TestUIBundleRejects(t *testing.T) {
	ui := newUIBundle("", false)
	cases := []struct {
		name    string
		method  string
		path    string
		handler http.Handler
		want    int
	}{
		{name: "unknown page", method: http.MethodGet, path: "/nope", handler: http.HandlerFunc(ui.serveIndex), want: http.StatusNotFound},
		{name: "post index", method: http.MethodPost, path: "/", handler: http.HandlerFunc(ui.serveIndex), want: http.StatusMethodNotAllowed},
		{name: "asset dir", method: http.MethodGet, path: "/assets/", handler: ui.assetHandler(), want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
