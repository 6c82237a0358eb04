// Package server wires the static and entry handlers behind a single
// listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"paint-server/internal/config"
	"paint-server/internal/handler"
	"paint-server/internal/metrics"
	"paint-server/internal/models"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var (
	ErrServedDirMissing = errors.New("served directory does not exist")
	ErrEntryMissing     = errors.New("entry file does not exist")
	ErrNotListening     = errors.New("server is not listening")
)

// AccessRecorder receives one record per finished request
type AccessRecorder interface {
	Record(rec *models.AccessRecord) bool
}

// AccessLogReader serves stored access records back out
type AccessLogReader interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AccessRecord, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// Server is a static file server with a fixed entry page on "/"
type Server struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	accessLog  AccessRecorder
	accessRead AccessLogReader
	out        io.Writer
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server
type Option func(*Server)

// WithMetrics shares m with the caller instead of a private instance
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAccessLog sends every finished request to r
func WithAccessLog(r AccessRecorder) Option {
	return func(s *Server) {
		s.accessLog = r
	}
}

// WithAccessLogReader exposes stored records under <metrics_path>/access
func WithAccessLogReader(r AccessLogReader) Option {
	return func(s *Server) {
		s.accessRead = r
	}
}

// WithOutput sets where the startup line is printed, os.Stdout by default
func WithOutput(w io.Writer) Option {
	return func(s *Server) {
		s.out = w
	}
}

// New checks that the served directory and the entry file exist and
// builds the router. It does not bind.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	fi, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServedDirMissing, cfg.Dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrServedDirMissing, cfg.Dir)
	}

	fi, err = os.Stat(cfg.Entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEntryMissing, cfg.Entry, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrEntryMissing, cfg.Entry)
	}

	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics()
	}
	if s.out == nil {
		s.out = os.Stdout
	}

	s.handler = s.instrument(s.routes())
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration,
	}

	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	if s.cfg.MetricsPath != "" {
		r.Methods(http.MethodGet, http.MethodHead).Path(s.cfg.MetricsPath).HandlerFunc(s.handleMetrics)
		if s.accessRead != nil {
			r.Methods(http.MethodGet, http.MethodHead).Path(path.Join(s.cfg.MetricsPath, "access")).
				HandlerFunc(s.handleAccessLog)
		}
	}

	// "/" is matched before the static prefix so the entry file wins over
	// whatever the served directory holds at its root.
	r.Methods(http.MethodGet, http.MethodHead).Path("/").
		Handler(handler.NewEntryHandler(s.cfg.Entry, s.metrics))
	r.Methods(http.MethodGet, http.MethodHead).PathPrefix("/").
		Handler(handler.NewStaticHandler(http.Dir(s.cfg.Dir), s.metrics))

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the counters the server updates
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Listen binds the listening socket. A port that is already taken is
// reported here, before anything is served.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return ErrNotListening
	}

	port := s.cfg.Port
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	// printed whatever the log level is
	fmt.Fprintf(s.out, "web server running at http://localhost:%d\n", port)
	log.G(ctx).WithField("dir", s.cfg.Dir).Debug("serving static files")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.G(ctx).Info("shutting down server...")
	timeout := s.cfg.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.httpServer.Close()
		return fmt.Errorf("failed to shut down: %w", err)
	}

	snapshot := s.metrics.GetSnapshot()
	log.G(ctx).WithFields(log.Fields{
		"requests":  snapshot["total_requests"],
		"not_found": snapshot["not_found"],
		"errors":    snapshot["errors"],
	}).Infof("server stopped, served %s", units.HumanSize(float64(snapshot["bytes_served"])))

	return nil
}

// Start binds and serves until ctx is cancelled
func Start(ctx context.Context, cfg config.Config, opts ...Option) error {
	s, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.metrics.GetSnapshot()); err != nil {
		log.G(r.Context()).WithError(err).Error("error encoding response")
	}
}

// accessLogResponse is returned by the access log route
type accessLogResponse struct {
	StatusCounts []models.StatusCount   `json:"status_counts"`
	Recent       []*models.AccessRecord `json:"recent"`
}

func (s *Server) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecentLimit)
	}

	counts, err := s.accessRead.CountByStatus(r.Context())
	if err != nil {
		log.G(r.Context()).WithError(err).Error("error counting access records")
		http.Error(w, "failed to read access log", http.StatusInternalServerError)
		return
	}

	recent, err := s.accessRead.ListRecent(r.Context(), limit)
	if err != nil {
		log.G(r.Context()).WithError(err).Error("error listing access records")
		http.Error(w, "failed to read access log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(accessLogResponse{StatusCounts: counts, Recent: recent}); err != nil {
		log.G(r.Context()).WithError(err).Error("error encoding response")
	}
}

// statusRecorder remembers the status code and body size of a response
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument tags each request with an id, counts it and hands a record
// to the access log.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		ctx := log.WithLogger(r.Context(), log.G(r.Context()).WithField("request_id", requestID))
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		elapsed := time.Since(start)
		s.metrics.IncrementTotalRequests()
		s.metrics.AddBytesServed(rec.bytes)

		log.G(ctx).WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"bytes":    rec.bytes,
			"duration": elapsed,
		}).Debug("request served")

		if s.accessLog != nil {
			s.accessLog.Record(&models.AccessRecord{
				RequestID:  requestID,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     rec.status,
				Bytes:      rec.bytes,
				DurationMs: elapsed.Milliseconds(),
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
				CreatedAt:  start,
			})
		}
	})
}
