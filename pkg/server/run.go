package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"
)

// HTTPConfig configures the listener and the http.Server.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxConnections bounds concurrent connections (0 means unlimited)
	MaxConnections int
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, cfg HTTPConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, cfg)
}

// Serve serves on ln until ctx is done, then shuts the server down gracefully.
// The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener, cfg HTTPConfig) error {
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: nonZeroDuration(cfg.ReadTimeout, 5*time.Second),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    1 << 20,
	}

	s.log.Infof("Server listening on %s (max connections: %d)", ln.Addr(), cfg.MaxConnections)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Infof("Server stopping: %v", context.Cause(ctx))
	case err, ok := <-errCh:
		if ok {
			s.log.Errorf("Server failed: %v", err)
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("Server shutdown failed: %v", err)
		_ = srv.Close()
		return err
	}
	s.log.Infof("Server stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
