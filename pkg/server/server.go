// Package server exposes device sessions over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/waweb/pkg/logging"
	"github.com/entrhq/waweb/pkg/metrics"
	"github.com/entrhq/waweb/pkg/whatsapp"
)

// Options configures a Server.
type Options struct {
	// APIKey, when set, is required in the X-API-KEY header of every route
	// except /healthz
	APIKey string

	// AllowedDevices restricts device ids (empty allows every valid id)
	AllowedDevices []glob.Glob

	// MediaDir is the root media_path values are resolved against. Empty
	// disables media attachments.
	MediaDir string

	// MaxBodyBytes bounds request bodies (default 1 MiB)
	MaxBodyBytes int64

	Logger *logging.Logger

	// Now returns the current time (defaults to time.Now)
	Now func() time.Time
}

// Server is the HTTP facade of a session registry.
type Server struct {
	registry *whatsapp.Registry
	opts     Options
	log      *logging.Logger
	media    *mediaRoot
	handler  http.Handler
}

// New creates a server for registry.
func New(registry *whatsapp.Registry, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		registry: registry,
		opts:     opts,
		log:      opts.Logger.With("http"),
		media:    newMediaRoot(opts.MediaDir),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = s.withRecovery(withRequestID(s.withRequestLogging(mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes(mux *http.ServeMux) {
	device := func(route string, h http.HandlerFunc) http.Handler {
		return instrument(route, s.requireAPIKey(s.requireDevice(h)))
	}

	mux.Handle("POST /initialize/{device_id}", device("initialize", s.handleInitialize))
	mux.Handle("GET /qr/{device_id}", device("qr", s.handleQR))
	mux.Handle("POST /send/{device_id}", device("send", s.handleSend))
	mux.Handle("GET /status/{device_id}", device("status", s.handleStatus))
	mux.Handle("DELETE /sessions/{device_id}", device("delete", s.handleDelete))
	mux.Handle("GET /sessions", instrument("sessions", s.requireAPIKey(http.HandlerFunc(s.handleSessions))))
	mux.Handle("GET /metrics", instrument("metrics", s.requireAPIKey(metrics.Handler())))
	mux.Handle("GET /healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
}

func (s *Server) timestamp() string {
	return s.opts.Now().Format(time.RFC3339)
}
