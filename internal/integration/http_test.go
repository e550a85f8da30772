package integration_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"pkt.systems/gitpilot/schema"
)

type stateEnvelope struct {
	State schema.SessionSnapshot `json:"state"`
}

func TestHTTPEditGenerateCommit(t *testing.T) {
	requireLong(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	client := ts.login(t, server.URL)

	var login struct {
		Account schema.Account         `json:"account"`
		State   schema.SessionSnapshot `json:"state"`
	}
	readJSON(t, writeJSON(t, client, server.URL+"/api/hosting/login", map[string]any{
		"token":    githubToken,
		"remember": true,
	}), &login)
	if login.Account.Login != githubLogin {
		t.Fatalf("unexpected account: %+v", login.Account)
	}
	if login.State.Phase != schema.PhaseAuthenticated {
		t.Fatalf("expected authenticated, got %s", login.State.Phase)
	}
	if token, ok, err := ts.creds.Load(); err != nil || !ok || token != githubToken {
		t.Fatalf("expected remembered token, got %q %v %v", token, ok, err)
	}

	var repos struct {
		Choices []schema.RepoName `json:"choices"`
	}
	resp, err := client.Get(server.URL + "/api/repos")
	if err != nil {
		t.Fatal(err)
	}
	readJSON(t, resp, &repos)
	if !slices.Equal(repos.Choices, []schema.RepoName{"", "demo"}) {
		t.Fatalf("unexpected repo choices: %v", repos.Choices)
	}

	var files struct {
		Files []schema.FilePath `json:"files"`
	}
	resp, err = client.Get(server.URL + "/api/files?repo=demo")
	if err != nil {
		t.Fatal(err)
	}
	readJSON(t, resp, &files)
	if !slices.Equal(files.Files, []schema.FilePath{"README.md", "main.py"}) {
		t.Fatalf("unexpected files: %v", files.Files)
	}

	var opened struct {
		File     schema.FileRef         `json:"file"`
		Language string                 `json:"language"`
		State    schema.SessionSnapshot `json:"state"`
	}
	readJSON(t, writeJSON(t, client, server.URL+"/api/open", map[string]string{"repo": "demo", "path": "main.py"}), &opened)
	if opened.File.Content != "print('hello')\n" || opened.File.Revision == "" {
		t.Fatalf("unexpected file: %+v", opened.File)
	}

	var generated struct {
		Provider schema.ProviderName    `json:"provider"`
		Content  string                 `json:"content"`
		State    schema.SessionSnapshot `json:"state"`
	}
	readJSON(t, writeJSON(t, client, server.URL+"/api/generate", map[string]string{"instruction": "print from claude"}), &generated)
	if generated.Provider != schema.ProviderAnthropic {
		t.Fatalf("unexpected provider: %s", generated.Provider)
	}
	if generated.Content != "print('from claude')\n" {
		t.Fatalf("expected fences stripped, got %q", generated.Content)
	}
	if !generated.State.Dirty {
		t.Fatalf("expected dirty buffer after generation")
	}
	if ts.anthropic.calls() != 1 {
		t.Fatalf("expected one provider call, got %d", ts.anthropic.calls())
	}

	var pending struct {
		Pending schema.PendingSave     `json:"pending"`
		State   schema.SessionSnapshot `json:"state"`
	}
	readJSON(t, writeJSON(t, client, server.URL+"/api/save", map[string]string{}), &pending)
	if pending.Pending.Message != "Update main.py" {
		t.Fatalf("unexpected default message: %q", pending.Pending.Message)
	}
	if !containsAll(pending.Pending.Diff, []string{"-print('hello')", "+print('from claude')"}) {
		t.Fatalf("unexpected diff: %s", pending.Pending.Diff)
	}
	if remote, _ := ts.memory.Content("demo", "main.py"); remote != "print('hello')\n" {
		t.Fatalf("expected no write before confirmation, got %q", remote)
	}

	var confirmed struct {
		Revision schema.Revision        `json:"revision"`
		State    schema.SessionSnapshot `json:"state"`
	}
	readJSON(t, writeJSON(t, client, server.URL+"/api/save/confirm", nil), &confirmed)
	if confirmed.Revision == "" || confirmed.Revision == opened.File.Revision {
		t.Fatalf("expected new revision, got %q", confirmed.Revision)
	}
	if confirmed.State.Phase != schema.PhaseEditing || confirmed.State.Dirty {
		t.Fatalf("unexpected state after confirm: %+v", confirmed.State)
	}
	if remote, _ := ts.memory.Content("demo", "main.py"); remote != "print('from claude')\n" {
		t.Fatalf("unexpected remote content: %q", remote)
	}
}

func TestHTTPConfirmConflict(t *testing.T) {
	requireLong(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	client := ts.login(t, server.URL)
	readJSON(t, writeJSON(t, client, server.URL+"/api/hosting/login", map[string]any{"token": githubToken}), &stateEnvelope{})
	readJSON(t, writeJSON(t, client, server.URL+"/api/open", map[string]string{"repo": "demo", "path": "main.py"}), &stateEnvelope{})
	readJSON(t, sendJSON(t, client, http.MethodPut, server.URL+"/api/buffer", map[string]string{"content": "print('mine')\n"}), &stateEnvelope{})
	readJSON(t, writeJSON(t, client, server.URL+"/api/save", map[string]string{"message": "mine"}), &stateEnvelope{})

	ts.memory.SetRemote("demo", "main.py", "print('theirs')\n")

	if code := readError(t, writeJSON(t, client, server.URL+"/api/save/confirm", nil), http.StatusConflict); code != "conflict" {
		t.Fatalf("expected conflict code, got %q", code)
	}
	if remote, _ := ts.memory.Content("demo", "main.py"); remote != "print('theirs')\n" {
		t.Fatalf("expected remote change preserved, got %q", remote)
	}
	var state stateEnvelope
	resp, err := client.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	readJSON(t, resp, &state)
	if state.State.Buffer != "print('mine')\n" || state.State.Phase != schema.PhaseEditing {
		t.Fatalf("expected local buffer kept in editing, got %+v", state.State)
	}
}

func TestHTTPRejectedToken(t *testing.T) {
	requireLong(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	client := ts.login(t, server.URL)
	if code := readError(t, writeJSON(t, client, server.URL+"/api/hosting/login", map[string]any{"token": "ghp_wrong"}), http.StatusUnauthorized); code != "auth" {
		t.Fatalf("expected auth code, got %q", code)
	}
	var state stateEnvelope
	resp, err := client.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	readJSON(t, resp, &state)
	if state.State.Phase != schema.PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", state.State.Phase)
	}
}

func TestHTTPTokenRevokedMidSession(t *testing.T) {
	requireLong(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	client := ts.login(t, server.URL)
	readJSON(t, writeJSON(t, client, server.URL+"/api/hosting/login", map[string]any{"token": githubToken}), &stateEnvelope{})
	readJSON(t, writeJSON(t, client, server.URL+"/api/open", map[string]string{"repo": "demo", "path": "main.py"}), &stateEnvelope{})

	ts.memory.RotateToken("ghp_rotated")

	if code := readError(t, writeJSON(t, client, server.URL+"/api/open", map[string]string{"repo": "demo", "path": "README.md"}), http.StatusUnauthorized); code != "auth" {
		t.Fatalf("expected auth code, got %q", code)
	}
	var state stateEnvelope
	resp, err := client.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	readJSON(t, resp, &state)
	if state.State.Phase != schema.PhaseUnauthenticated || state.State.Buffer != "" {
		t.Fatalf("expected session torn down, got %+v", state.State)
	}
}

func TestHTTPLogoutRequiresLogin(t *testing.T) {
	requireLong(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	client := ts.login(t, server.URL)
	readJSON(t, writeJSON(t, client, server.URL+"/api/hosting/login", map[string]any{"token": githubToken}), &stateEnvelope{})
	readJSON(t, writeJSON(t, client, server.URL+"/api/logout", nil), &map[string]any{})

	resp, err := client.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	if code := readError(t, resp, http.StatusUnauthorized); code != "session" {
		t.Fatalf("expected session code, got %q", code)
	}

	resp, err = client.Get(server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("expected index page, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
