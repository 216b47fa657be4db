// Package server exposes the detection pipeline, scan history and live
// stream over HTTP.
package server

import (
	"context"
	"image"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hydrolens/microscan/internal/history"
	"github.com/hydrolens/microscan/internal/inference"
	"github.com/hydrolens/microscan/internal/pipeline"
	"github.com/hydrolens/microscan/internal/stream"
	"github.com/hydrolens/microscan/internal/verdict"
)

const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxUploadBytes  = 32 << 20
	DefaultMaxUploadPixels = 64 << 20
	DefaultJPEGQuality     = 90
	staticRoute            = "/api/static/"
)

// Detector is the detection work behind /upload. *pipeline.Pipeline
// satisfies it.
type Detector interface {
	Process(ctx context.Context, img image.Image) (*pipeline.Result, error)
	ProcessSequence(ctx context.Context, frames []image.Image, stride int) (*pipeline.SequenceResult, error)
	Engine() string
}

// MetricsSource reports session pool usage.
type MetricsSource interface {
	Metrics() inference.PoolStats
}

type Options struct {
	Addr            string
	StaticDir       string
	RequestTimeout  time.Duration
	Stride          int
	MaxUploadBytes  int64
	MaxUploadPixels int64
	JPEGQuality     int
}

// Deps are the collaborators of a Server. Only Logger is required; a nil
// Detector makes detection routes answer 503 and a nil Live cell disables
// the stream routes.
type Deps struct {
	Detector Detector
	History  *history.Store
	Live     *stream.Cell
	Pools    map[string]MetricsSource
	Clock    clock.Clock
	Logger   *zap.SugaredLogger
}

type Server struct {
	opts     Options
	detector Detector
	history  *history.Store
	live     *stream.Cell
	pools    map[string]MetricsSource
	clock    clock.Clock
	logger   *zap.SugaredLogger
	router   *mux.Router
}

func New(opts Options, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("server requires a logger")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Stride <= 0 {
		opts.Stride = verdict.DefaultStride
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.MaxUploadPixels <= 0 {
		opts.MaxUploadPixels = DefaultMaxUploadPixels
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static"
	}
	if err := os.MkdirAll(opts.StaticDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create static dir")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	s := &Server{
		opts:     opts,
		detector: deps.Detector,
		history:  deps.History,
		live:     deps.Live,
		pools:    deps.Pools,
		clock:    deps.Clock,
		logger:   deps.Logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/", s.handleHealth).Methods("GET")
	r.HandleFunc("/upload", s.handleUpload).Methods("POST")
	r.HandleFunc("/api/history", s.handleHistory).Methods("GET")
	r.PathPrefix(staticRoute).Handler(
		http.StripPrefix(staticRoute, http.FileServer(http.Dir(s.opts.StaticDir))),
	).Methods("GET")
	r.HandleFunc("/live", s.handleLive).Methods("GET")
	r.HandleFunc("/result", s.handleResult).Methods("GET")
	s.addMonitoringRoutes(r)
}

// Handler returns the router wrapped with permissive CORS.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// /live streams indefinitely, so there is no write timeout.
	srv := &http.Server{
		Handler:           s.Handler(),
		Addr:              s.opts.Addr,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("starting server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
