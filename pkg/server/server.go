// Package server exposes a dotori cache over HTTP.
//
// Routes:
//
//	GET    /cache/{key}   200 {"value": "..."} | 304 | 404
//	PUT    /cache         body {"key", "value", "ttl"}: 200 | 400 | 413
//	DELETE /cache/{key}   200 | 404
//
// The server only translates requests and typed cache errors; all cache
// semantics live in the dotori package.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/mrchypark/dotori/pkg/clock"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// Store is the subset of *dotori.Cache the server needs.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string, ttl clock.Seconds) error
	Delete(key string) error
}

// Config holds the HTTP-level settings.
type Config struct {
	// Addr is the listen address used by ListenAndServe.
	Addr string
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
	// MaxBodyBytes caps PUT bodies. Zero or negative selects DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// ShutdownTimeout bounds graceful shutdown once the context is done.
	ShutdownTimeout time.Duration
}

const (
	// DefaultMaxBodyBytes is the PUT body limit when none is configured.
	DefaultMaxBodyBytes = 4 << 20
	// DefaultShutdownTimeout is used when Config.ShutdownTimeout is not positive.
	DefaultShutdownTimeout = 10 * time.Second
)

// Server is the HTTP front end of a cache.
type Server struct {
	store   Store
	logger  log.Logger
	cfg     Config
	handler http.Handler
}

// New builds a Server around store. A nil logger disables logging.
func New(store Store, logger log.Logger, cfg Config) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{store: store, logger: logger, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cache/{key}", s.handleGet)
	mux.HandleFunc("PUT /cache", s.handleSet)
	mux.HandleFunc("DELETE /cache/{key}", s.handleDelete)

	var h http.Handler = mux
	if len(cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "If-None-Match", RequestIDHeader},
			ExposedHeaders: []string{"ETag", RequestIDHeader},
		}).Handler(h)
	}
	s.handler = s.withRequestLog(h)
	return s
}

// Handler returns the root handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within cfg.ShutdownTimeout. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	level.Info(s.logger).Log("msg", "http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	level.Info(s.logger).Log("msg", "shutting down http server", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		level.Error(s.logger).Log("msg", "http server shutdown failed", "err", err)
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	level.Info(s.logger).Log("msg", "http server shutdown complete")
	return nil
}

// withRequestLog assigns a request id and logs every request at debug.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)

		m := httpsnoop.CaptureMetrics(next, w, r)
		level.Debug(s.logger).Log(
			"msg", "request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
		)
	})
}
