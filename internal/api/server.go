// Package api exposes the HTTP interface for the probe service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/metrics"
	"github.com/threatlens/scout/internal/probe"
	"github.com/threatlens/scout/internal/progress"
	"github.com/threatlens/scout/internal/queue"
	"github.com/threatlens/scout/internal/scrape"
)

// ProbeRunner is the orchestrator contract the handlers consume.
// *probe.Runner satisfies it.
type ProbeRunner interface {
	Run(ctx context.Context, req probe.Request) probe.Report
	RunAll(ctx context.Context, emitter progress.Emitter) probe.Summary
}

// IngestQueue is the queue contract the handlers consume. *queue.IngestQueue
// satisfies it.
type IngestQueue interface {
	Enqueue(url string, ownerID uuid.UUID, priority int) int
	Clear() int
	Status() queue.Status
}

// Config gates and identifies the HTTP surface.
type Config struct {
	// Production refuses every test endpoint with 403 before anything else.
	Production bool
	// Environment is echoed by the health endpoint.
	Environment string
	// TestSecret is the shared secret required by every test endpoint.
	TestSecret string
}

// Server wires HTTP handlers to the probe runner and the ingestion queue.
type Server struct {
	router  chi.Router
	runner  ProbeRunner
	queue   IngestQueue
	engine  scrape.Engine
	cfg     Config
	baseCtx context.Context
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. baseCtx is the
// parent of every fire-and-forget probe run; ws, when non-nil, is mounted at
// /ws for the realtime channel.
func NewServer(
	baseCtx context.Context,
	runner ProbeRunner,
	q IngestQueue,
	engine scrape.Engine,
	ws http.Handler,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		queue:   q,
		engine:  engine,
		cfg:     cfg,
		baseCtx: baseCtx,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/test", func(r chi.Router) {
		r.Use(s.environmentGate)
		r.Use(timeoutMiddleware(30 * time.Second))
		r.Post("/scrape", s.testScrape)
		r.Post("/all-sources", s.testAllSources)
		r.Get("/health", s.testHealth)
	})

	r.Route("/ingest", func(r chi.Router) {
		r.Use(timeoutMiddleware(10 * time.Second))
		r.Post("/enqueue", s.enqueue)
		r.Get("/status", s.ingestStatus)
		r.Post("/clear", s.ingestClear)
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// environmentGate short-circuits every test endpoint in production,
// regardless of credentials.
func (s *Server) environmentGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Production {
			writeError(w, http.StatusForbidden, "test endpoints are disabled in production", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type testScrapeRequest struct {
	Password  string `json:"password"`
	SourceURL string `json:"sourceUrl"`
	TestMode  string `json:"testMode"`
	FullTest  bool   `json:"fullTest"`
}

// testScrape accepts a single-target probe and returns immediately. The run
// itself continues detached from the request lifecycle; its outcome surfaces
// only through logs and the live channel.
func (s *Server) testScrape(w http.ResponseWriter, r *http.Request) {
	var req testScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if !s.secretOK(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid test credentials", s.logger)
		return
	}
	if !validTargetURL(req.SourceURL) {
		writeError(w, http.StatusBadRequest, "sourceUrl must be a valid http(s) URL", s.logger)
		return
	}

	mode := probe.ModeQuick
	if req.FullTest || strings.EqualFold(req.TestMode, string(probe.ModeFull)) {
		mode = probe.ModeFull
	}
	requestID := uuid.NewString()

	s.spawn("test scrape", func(ctx context.Context) {
		report := s.runner.Run(ctx, probe.Request{
			TargetURL: req.SourceURL,
			Mode:      mode,
			RequestID: requestID,
		})
		s.logger.Info("detached probe finished",
			zap.String("request_id", requestID),
			zap.Bool("success", report.Success),
			zap.Int("found", report.Scraping.Found),
		)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId":        requestID,
		"processingStatus": "started",
	}, s.logger)
}

type testAllSourcesRequest struct {
	Password string `json:"password"`
}

func (s *Server) testAllSources(w http.ResponseWriter, r *http.Request) {
	var req testAllSourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if !s.secretOK(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid test credentials", s.logger)
		return
	}
	requestID := uuid.NewString()

	s.spawn("all-sources test", func(ctx context.Context) {
		summary := s.runner.RunAll(ctx, progress.NewLogEmitter(s.logger))
		s.logger.Info("detached all-sources test finished",
			zap.String("request_id", requestID),
			zap.Int("passed", summary.Passed),
			zap.Int("failed", summary.Failed),
		)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": requestID}, s.logger)
}

// testHealth reports subsystem status and engine capabilities. The shared
// secret arrives via header or query because GET has no body.
func (s *Server) testHealth(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Test-Secret")
	if secret == "" {
		secret = r.URL.Query().Get("password")
	}
	if !s.secretOK(secret) {
		writeError(w, http.StatusUnauthorized, "invalid test credentials", s.logger)
		return
	}
	stats := s.engine.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.cfg.Environment,
		"scraping":    stats,
	}, s.logger)
}

type enqueueRequest struct {
	URL      string `json:"url"`
	OwnerID  string `json:"ownerId"`
	Priority int    `json:"priority"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if !validTargetURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be a valid http(s) URL", s.logger)
		return
	}
	owner := uuid.Nil
	if req.OwnerID != "" {
		parsed, err := uuid.Parse(req.OwnerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ownerId must be a UUID", s.logger)
			return
		}
		owner = parsed
	}

	position := s.queue.Enqueue(req.URL, owner, req.Priority)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":   true,
		"position": position,
	}, s.logger)
}

func (s *Server) ingestStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status(), s.logger)
}

func (s *Server) ingestClear(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"itemsCleared": s.queue.Clear()}, s.logger)
}

func (s *Server) secretOK(candidate string) bool {
	return s.cfg.TestSecret != "" && candidate == s.cfg.TestSecret
}

// spawn runs fn detached from any request, with panic capture so a failing
// run can never crash the process or leak as an unhandled panic.
func (s *Server) spawn(name string, fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("detached task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()
		fn(s.baseCtx)
	}()
}

func validTargetURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
