package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/flock"
	"github.com/rs/cors"

	"notescribe/internal/analysis"
	"notescribe/internal/config"
	"notescribe/internal/history"
	"notescribe/internal/logging"
	"notescribe/internal/media/pcm"
	"notescribe/internal/transcribe"
)

// HistoryStore is the subset of history.Store the server needs.
type HistoryStore interface {
	Save(ctx context.Context, entry history.Entry) error
	List(ctx context.Context, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (*history.Entry, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// Decoder turns uploaded bytes into a waveform.
type Decoder interface {
	DecodeBytes(ctx context.Context, data []byte) (analysis.Waveform, error)
}

// ErrAlreadyRunning reports that another server holds the lock.
var ErrAlreadyRunning = errors.New("another notescribe server is already running")

// Option customizes a Server.
type Option func(*Server)

// WithDecoder replaces the ffmpeg-backed upload decoder.
func WithDecoder(d Decoder) Option {
	return func(s *Server) {
		if d != nil {
			s.decoder = d
		}
	}
}

// Server is the notescribe HTTP API.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	analyzer *transcribe.Analyzer
	decoder  Decoder
	history  HistoryStore
	handler  http.Handler

	lock *flock.Flock

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New builds a server. store may be nil when history is disabled.
func New(cfg *config.Config, analyzer *transcribe.Analyzer, store HistoryStore, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil || analyzer == nil {
		return nil, errors.New("api server requires config and analyzer")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "api"),
		analyzer: analyzer,
		history:  store,
		decoder: pcm.Decoder{
			FFmpeg:  cfg.Tools.FFmpeg,
			FFprobe: cfg.Tools.FFprobe,
			Logger:  logger,
		},
		lock: flock.New(cfg.LockPath()),
	}
	if !cfg.History.Enabled {
		s.history = nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/history", s.handleHistoryList)
		r.Get("/history/{id}", s.handleHistoryItem)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Envelope{Error: "method not allowed"})
	})

	// An empty origin list allows any origin.
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.API.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	})
	return c.Handler(r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("elapsed", time.Since(started)),
			logging.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start acquires the instance lock and begins serving on the configured bind
// address. The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("api listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String("lock", s.cfg.LockPath()),
	)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and releases the lock. It is safe to call more
// than once.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release api lock", logging.Error(err))
	}
	s.logger.Info("api server stopped")
}
