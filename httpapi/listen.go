package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"pkt.systems/pslog"
)

// drainTimeout bounds how long in-flight requests may run after shutdown
// starts. Generation calls are the slow ones and they observe ctx already.
const drainTimeout = 10 * time.Second

// ListenAndServe binds addr and serves handler until ctx ends.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler)
}

// Serve serves handler on ln until ctx ends, then drains open requests.
// A clean shutdown returns nil.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	log := pslog.Ctx(ctx).With("addr", ln.Addr().String())
	srv := &http.Server{
		Handler:           handler,
		ErrorLog:          pslog.LogLoggerWithLevel(log, pslog.ErrorLevel),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    64 << 10,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	log.Info("http listening")

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("http serve failed", "err", err)
		return err
	case <-ctx.Done():
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Warn("http drain incomplete", "err", err)
		_ = srv.Close()
		return nil
	}
	log.Info("http drained")
	return nil
}
