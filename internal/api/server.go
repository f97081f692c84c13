// Package api exposes the HTTP interface for the crash collector.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/breakpad"
	"github.com/stackwatch/crash-collector/internal/collector"
	"github.com/stackwatch/crash-collector/internal/metrics"
	"github.com/stackwatch/crash-collector/internal/throttler"
	"github.com/stackwatch/crash-collector/internal/version"
)

// Config controls handler behavior.
type Config struct {
	// EnqueueTimeout bounds the wait for a slot in the hand-off queue; zero
	// means wait until the client gives up.
	EnqueueTimeout time.Duration
}

// Server wires the HTTP handlers to the parser, throttler, and hand-off
// queue.
type Server struct {
	router chi.Router

	parser    *breakpad.Parser
	throttler *throttler.Throttler
	queue     collector.Queue
	storage   collector.CrashStorage
	publisher collector.CrashPublisher
	hasher    collector.Hasher
	clock     collector.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	verinfo   version.Info
	cfg       Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	parser *breakpad.Parser,
	thr *throttler.Throttler,
	queue collector.Queue,
	storage collector.CrashStorage,
	publisher collector.CrashPublisher,
	hasher collector.Hasher,
	clock collector.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
	verinfo version.Info,
	cfg Config,
) *Server {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		parser:    parser,
		throttler: thr,
		queue:     queue,
		storage:   storage,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		verinfo:   verinfo,
		cfg:       cfg,
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoverMiddleware)

	r.Post("/submit", s.submit)

	r.Get("/__lbheartbeat__", s.lbHeartbeat)
	r.Get("/__heartbeat__", s.heartbeat)
	r.Get("/__version__", s.version)
	r.Get("/__broken__", s.broken)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
