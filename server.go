package gitpilot

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/gitpilot/core"
	"pkt.systems/gitpilot/httpapi"
	"pkt.systems/gitpilot/internal/appconfig"
	"pkt.systems/gitpilot/internal/auth"
	"pkt.systems/gitpilot/schema"
	"pkt.systems/pslog"
)

// Server composes the editing service with its HTTP surface and background watchers.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	Auth    AuthConfig
}

// AuthConfig defines operator account storage settings.
type AuthConfig struct {
	UserFile  string
	SeedUsers []SeedUser
}

// SeedUser seeds an initial operator record.
type SeedUser struct {
	Username     string
	PasswordHash string
	TOTPSecret   string
}

// Watcher runs until ctx is done, typically reloading a file on change.
type Watcher interface {
	Watch(ctx context.Context) error
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	// Authenticator overrides the file-backed operator store.
	Authenticator httpapi.Authenticator
	// SecretsWatcher is started with WithSecretsWatch.
	SecretsWatcher Watcher
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP    bool
	enableWatcher bool
}

// WithHTTP enables the HTTP API/UI server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSecretsWatch reloads provider keys while the server runs.
func WithSecretsWatch() ServerOption {
	return func(o *serverOptions) { o.enableWatcher = true }
}

// New wires the editing service, the HTTP surface, and the optional
// secrets watcher into one Server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}
	switch {
	case !options.enableHTTP && !options.enableWatcher:
		return nil, errors.New("no services enabled")
	case options.enableWatcher && deps.SecretsWatcher == nil:
		return nil, errors.New("secrets watcher dependency is required")
	}

	srv := &compositeServer{cfg: cfg}
	if options.enableHTTP {
		service, httpSrv, err := buildHTTP(&srv.cfg, deps)
		if err != nil {
			return nil, err
		}
		srv.service = service
		srv.components = append(srv.components, component{
			name:  "http",
			fatal: true,
			run: func(ctx context.Context) error {
				httpSrv.SetBaseContext(ctx)
				return httpapi.ListenAndServe(ctx, srv.cfg.HTTP.Addr, httpSrv.Handler())
			},
		})
	}
	if options.enableWatcher {
		// A broken watcher leaves the last loaded keys in place.
		srv.components = append(srv.components, component{name: "secrets_watch", run: deps.SecretsWatcher.Watch})
	}
	return srv, nil
}

func buildHTTP(cfg *ServerConfig, deps ServerDeps) (core.Service, *httpapi.Server, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, nil, err
	}
	cfg.Service = normalized
	service, err := core.NewService(cfg.Service, deps.ServiceDeps)
	if err != nil {
		return nil, nil, err
	}
	authenticator := deps.Authenticator
	if authenticator == nil && !cfg.HTTP.AuthDisabled {
		store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, toSeedUsers(cfg.Auth.SeedUsers), deps.ServiceDeps.Logger)
		if err != nil {
			service.Close()
			return nil, nil, err
		}
		authenticator = store
	}
	return service, httpapi.NewServer(cfg.HTTP, service, authenticator), nil
}

// component is one long-running part of the server. A fatal component
// failing brings the whole server down; others only log.
type component struct {
	name  string
	fatal bool
	run   func(ctx context.Context) error
}

type compositeServer struct {
	cfg        ServerConfig
	service    core.Service
	components []component

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	failed  chan error
	running sync.WaitGroup
	started bool
	closed  bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.failed = make(chan error, len(s.components))
	s.mu.Unlock()

	log := pslog.Ctx(s.ctx)
	names := make([]string, 0, len(s.components))
	for _, c := range s.components {
		names = append(names, c.name)
	}
	log.Info("server start",
		"components", names,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"auth_disabled", s.cfg.HTTP.AuthDisabled,
	)
	for _, c := range s.components {
		s.running.Add(1)
		go s.supervise(log, c)
	}
	return nil
}

func (s *compositeServer) supervise(log pslog.Logger, c component) {
	defer s.running.Done()
	err := c.run(s.ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		log.Debug("component exited", "component", c.name)
		return
	}
	if !c.fatal {
		log.Warn("component failed", "component", c.name, "err", err)
		return
	}
	log.Error("component failed", "component", c.name, "err", err)
	s.failed <- err
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	started, ctx, failed := s.started, s.ctx, s.failed
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		_ = s.Stop(context.Background())
		return err
	}
}

// Stop cancels every component, closes the editing service once, and waits
// for components to return or ctx to expire.
func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	started, cancel, first := s.started, s.cancel, !s.closed
	s.closed = true
	s.mu.Unlock()
	if !started {
		return nil
	}
	log := pslog.Ctx(s.ctx)
	if first {
		log.Info("server stop requested")
	}
	cancel()
	if first && s.service != nil {
		s.service.Close()
		log.Info("server sessions closed")
	}
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		if first {
			log.Info("server stopped")
		}
		return nil
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	}
}

func toSeedUsers(users []SeedUser) []appconfig.SeedUser {
	if len(users) == 0 {
		return nil
	}
	out := make([]appconfig.SeedUser, 0, len(users))
	for _, user := range users {
		out = append(out, appconfig.SeedUser{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			TOTPSecret:   user.TOTPSecret,
		})
	}
	return out
}
