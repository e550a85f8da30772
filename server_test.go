package gitpilot

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/gitpilot/core"
	"pkt.systems/gitpilot/httpapi"
	"pkt.systems/gitpilot/internal/hosting/hostingtest"
	"pkt.systems/gitpilot/schema"
)

type nopCodegen struct{}

func (nopCodegen) Providers() []schema.ProviderName {
	return []schema.ProviderName{schema.ProviderAnthropic}
}

func (nopCodegen) Available() []schema.ProviderName { return nil }

func (nopCodegen) Generate(context.Context, schema.ProviderName, string, string) (string, error) {
	return "", schema.ErrProviderUnavailable
}

type trackingWatcher struct {
	started chan struct{}
	done    chan struct{}
}

func newTrackingWatcher() *trackingWatcher {
	return &trackingWatcher{started: make(chan struct{}), done: make(chan struct{})}
}

func (w *trackingWatcher) Watch(ctx context.Context) error {
	close(w.started)
	<-ctx.Done()
	close(w.done)
	return ctx.Err()
}

func testDeps(t *testing.T) ServerDeps {
	t.Helper()
	mem := hostingtest.NewMemory("octocat", "ghp_test")
	return ServerDeps{
		ServiceDeps: core.ServiceDeps{Hosting: mem.Factory(), Codegen: nopCodegen{}},
	}
}

func TestNewRequiresService(t *testing.T) {
	if _, err := New(ServerConfig{}, testDeps(t)); err == nil {
		t.Fatalf("expected error without enabled services")
	}
	if _, err := New(ServerConfig{}, testDeps(t), WithSecretsWatch()); err == nil {
		t.Fatalf("expected error without watcher dependency")
	}
}

func TestNewRequiresUserFileWhenAuthEnabled(t *testing.T) {
	cfg := ServerConfig{
		Service: schema.ServiceConfig{StateDir: t.TempDir()},
		HTTP:    httpapi.Config{Addr: "127.0.0.1:0"},
	}
	if _, err := New(cfg, testDeps(t), WithHTTP()); err == nil {
		t.Fatalf("expected error without operator user file")
	}
}

func TestServerLifecycle(t *testing.T) {
	deps := testDeps(t)
	watcher := newTrackingWatcher()
	deps.SecretsWatcher = watcher
	cfg := ServerConfig{
		Service: schema.ServiceConfig{StateDir: t.TempDir()},
		HTTP:    httpapi.Config{Addr: "127.0.0.1:0", AuthDisabled: true, SingleUser: "local"},
	}
	server, err := New(cfg, deps, WithHTTP(), WithSecretsWatch())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := server.Wait(); err == nil {
		t.Fatalf("expected Wait to fail before Start")
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := server.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	select {
	case <-watcher.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher was not started")
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- server.Wait() }()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-watcher.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher context was not canceled")
	}
	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after Stop")
	}
	if err := server.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Stop: %v", err)
	}
}
