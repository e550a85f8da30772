package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/gitpilot/core"
	"pkt.systems/gitpilot/httpapi"
	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/auth"
	"pkt.systems/gitpilot/internal/codegen"
	"pkt.systems/gitpilot/internal/credstore"
	"pkt.systems/gitpilot/internal/hosting/github"
	"pkt.systems/gitpilot/internal/hosting/hostingtest"
	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/gitpilot/schema"
)

const (
	githubLogin = "octocat"
	githubToken = "ghp_integration"
)

// fakeAnthropic answers the messages endpoint with a fenced code block.
type fakeAnthropic struct {
	*httptest.Server

	mu       sync.Mutex
	reply    string
	requests []map[string]any
}

func newFakeAnthropic(t *testing.T, reply string) *fakeAnthropic {
	t.Helper()
	f := &fakeAnthropic{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, payload)
		reply := f.reply
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "```python\n" + reply + "```"}},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAnthropic) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testServer struct {
	service   core.Service
	httpSrv   *httpapi.Server
	authStore *auth.Store
	github    *hostingtest.GitHubServer
	memory    *hostingtest.Memory
	anthropic *fakeAnthropic
	creds     *credstore.Store
	user      string
	password  string
	totp      string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	stateDir := filepath.Join(t.TempDir(), "state")
	userFile := filepath.Join(t.TempDir(), "users.json")
	credDir := t.TempDir()

	password := "test-password"
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := totp.Generate(totp.GenerateOpts{Issuer: "gitpilot", AccountName: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	seed := appconfig.SeedUser{
		Username:     "tester",
		PasswordHash: string(hash),
		TOTPSecret:   secret.Secret(),
	}
	authStore, err := auth.NewStoreWithLogger(userFile, []appconfig.SeedUser{seed}, nil)
	if err != nil {
		t.Fatal(err)
	}

	mem := hostingtest.NewMemory(githubLogin, githubToken)
	mem.AddRepo("demo", map[schema.FilePath]string{
		"main.py":   "print('hello')\n",
		"README.md": "# demo\n",
	})
	mem.AddDir("demo", "pkg")
	gh := hostingtest.NewGitHubServer(mem)
	t.Cleanup(gh.Close)

	anthropic := newFakeAnthropic(t, "print('from claude')\n")
	registry := codegen.NewRegistry(codegen.Config{
		Timeout:     10 * time.Second,
		StripFences: true,
		Anthropic:   codegen.AnthropicOptions{BaseURL: anthropic.URL},
	}, secrets.Static{secrets.AnthropicAPIKey: "sk-ant-test"})

	creds, err := credstore.NewStore(filepath.Join(credDir, "token.bundle"), filepath.Join(credDir, "token.enc"))
	if err != nil {
		t.Fatal(err)
	}

	service, err := core.NewService(schema.ServiceConfig{
		StateDir:        stateDir,
		DefaultProvider: schema.ProviderAnthropic,
		ConfirmNotice:   schema.DefaultConfirmNotice,
		CacheTTL:        time.Minute,
	}, core.ServiceDeps{
		Hosting:     github.NewFactory(github.Options{BaseURL: gh.BaseURL()}),
		Codegen:     registry,
		Credentials: creds,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(service.Close)

	httpSrv := httpapi.NewServer(httpapi.Config{
		Addr:            "127.0.0.1:0",
		SessionCookie:   "gitpilot_session",
		SessionTTLHours: 1,
	}, service, authStore)

	return &testServer{
		service:   service,
		httpSrv:   httpSrv,
		authStore: authStore,
		github:    gh,
		memory:    mem,
		anthropic: anthropic,
		creds:     creds,
		user:      seed.Username,
		password:  password,
		totp:      seed.TOTPSecret,
	}
}

func (ts *testServer) login(t *testing.T, baseURL string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar}
	payload := map[string]string{
		"username": ts.user,
		"password": ts.password,
		"totp":     currentTOTP(ts.totp),
	}
	resp := writeJSON(t, client, baseURL+"/api/login", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("login failed: %s", strings.TrimSpace(string(body)))
	}
	return client
}

func writeJSON(t *testing.T, client *http.Client, url string, payload any) *http.Response {
	t.Helper()
	return sendJSON(t, client, http.MethodPost, url, payload)
}

func sendJSON(t *testing.T, client *http.Client, method, url string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode >= 300 {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatal(err)
	}
}

// readError asserts the status and returns the error code from the body.
func readError(t *testing.T, resp *http.Response, status int) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	return body.Code
}

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func currentTOTP(secret string) string {
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return ""
	}
	return code
}

func containsAll(value string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(value, term) {
			return false
		}
	}
	return true
}
