package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/gitpilot/internal/secrets"
	"pkt.systems/gitpilot/schema"
)

func TestAnthropicSendsMessagesRequest(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		System      []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing version header")
		}
		if r.Header.Get("anthropic-beta") == "" {
			t.Errorf("missing beta header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"print('hello')"}]}`))
	}))
	defer srv.Close()

	gen := NewAnthropic("sk-ant", AnthropicOptions{BaseURL: srv.URL + "/"}, srv.Client())
	out, err := gen.Generate(context.Background(), "add a greeting", "print(1)")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "print('hello')" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Model != "claude-3-5-sonnet-20240620" || got.MaxTokens != 8192 || got.Temperature != 0 {
		t.Fatalf("unexpected request parameters: %+v", got)
	}
	if len(got.System) != 1 || got.System[0].Text != SystemPrompt {
		t.Fatalf("unexpected system prompt %+v", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content[0].Text != "add a greeting print(1)" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestAnthropicErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	gen := NewAnthropic("bad", AnthropicOptions{BaseURL: srv.URL}, srv.Client())
	_, err := gen.Generate(context.Background(), "x", "y")
	if !errors.Is(err, schema.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %v", err)
	}
	if perr.Message != "invalid x-api-key" {
		t.Fatalf("expected message from error body, got %q", perr.Message)
	}
	if !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Fatalf("expected api message, got %q", err)
	}
}

func TestOpenAISendsChatCompletion(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-openai" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"x = 2"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAI("sk-openai", OpenAIOptions{BaseURL: srv.URL + "/v1"}, srv.Client())
	out, err := gen.Generate(context.Background(), "double it", "x = 1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "x = 2" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Model != "gpt-4o" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != SystemPrompt {
		t.Fatalf("unexpected system message: %+v", got.Messages[0])
	}
	if got.Messages[1].Content != "double it x = 1" {
		t.Fatalf("unexpected user message: %q", got.Messages[1].Content)
	}
}

func TestOpenAIErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAI("sk", OpenAIOptions{BaseURL: srv.URL}, srv.Client())
	if _, err := gen.Generate(context.Background(), "x", "y"); !errors.Is(err, schema.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestRegistryMissingKeyIsUnavailable(t *testing.T) {
	reg := NewRegistry(Config{}, secrets.Static{})
	if _, err := reg.Generate(context.Background(), schema.ProviderAnthropic, "x", "y"); !errors.Is(err, schema.ErrProviderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := reg.Generate(context.Background(), schema.ProviderOpenAI, "x", "y"); !errors.Is(err, schema.ErrProviderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := reg.Generator("llama"); !errors.Is(err, schema.ErrInvalidProvider) {
		t.Fatalf("expected invalid provider, got %v", err)
	}
	if len(reg.Available()) != 0 {
		t.Fatalf("expected no available providers")
	}
}

func TestRegistryReadsKeysAtCallTime(t *testing.T) {
	src := secrets.Static{}
	reg := NewRegistry(Config{}, src)
	if len(reg.Available()) != 0 {
		t.Fatalf("expected no providers before key is set")
	}
	src[secrets.OpenAIAPIKey] = "sk"
	avail := reg.Available()
	if len(avail) != 1 || avail[0] != schema.ProviderOpenAI {
		t.Fatalf("expected openai to become available, got %v", avail)
	}
}

func TestRegistryTimeoutAndStripFences(t *testing.T) {
	slow := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "slow" {
			select {
			case <-slow:
			case <-r.Context().Done():
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"content\":[{\"type\":\"text\",\"text\":\"```python\\nprint(1)\\n```\"}]}"))
	}))
	defer srv.Close()
	defer close(slow)

	reg := NewRegistry(Config{
		Timeout:     50 * time.Millisecond,
		StripFences: true,
		Anthropic:   AnthropicOptions{BaseURL: srv.URL},
		HTTPClient:  srv.Client(),
	}, secrets.Static{secrets.AnthropicAPIKey: "fast"})
	out, err := reg.Generate(context.Background(), schema.ProviderAnthropic, "x", "y")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "print(1)\n" {
		t.Fatalf("expected fence stripped output, got %q", out)
	}

	reg = NewRegistry(Config{
		Timeout:    50 * time.Millisecond,
		Anthropic:  AnthropicOptions{BaseURL: srv.URL},
		HTTPClient: srv.Client(),
	}, secrets.Static{secrets.AnthropicAPIKey: "slow"})
	_, err = reg.Generate(context.Background(), schema.ProviderAnthropic, "x", "y")
	if !errors.Is(err, schema.ErrProvider) || !IsTimeout(err) {
		t.Fatalf("expected provider timeout, got %v", err)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain code", "plain code"},
		{"```go\nfmt.Println()\n```", "fmt.Println()\n"},
		{"```\nx\n```\n", "x\n"},
		{"```a\n1\n```\ntext\n```b\n2\n```", "```a\n1\n```\ntext\n```b\n2\n```"},
		{"``````", "``````"},
	}
	for _, tc := range cases {
		if got := StripFences(tc.in); got != tc.want {
			t.Fatalf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
