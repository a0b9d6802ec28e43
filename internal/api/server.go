package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xmukeshr/snaptok-redefine/internal/analyze"
	"github.com/0xmukeshr/snaptok-redefine/internal/capture"
	"github.com/0xmukeshr/snaptok-redefine/internal/config"
	"github.com/0xmukeshr/snaptok-redefine/internal/engine"
	"github.com/0xmukeshr/snaptok-redefine/internal/events"
	"github.com/0xmukeshr/snaptok-redefine/internal/metrics"
	"github.com/0xmukeshr/snaptok-redefine/internal/storage"
	"github.com/0xmukeshr/snaptok-redefine/internal/telemetry"
)

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Engine    *engine.Engine
	Bus       *events.Bus
	Bridge    *capture.WSBridge
	Local     *storage.LocalStore
	Telemetry *telemetry.Publisher
	Watcher   *analyze.ArtifactWatcher
	S3Enabled bool
	Version   string
	StartTime time.Time
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface: health and metrics.
	health := NewHealthHandler(deps.Telemetry, deps.Watcher, deps.S3Enabled, deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Route("/api/v1", func(r chi.Router) {
			NewSessionHandler(deps.Engine).Routes(r)
			NewRecordingHandler(deps.Engine).Routes(r)
			NewPresentationHandler(deps.Engine).Routes(r)
			NewEventsHandler(deps.Bus).Routes(r)
		})

		// Browser capture clients stream chunk frames here.
		r.Get("/ws/capture", deps.Bridge.HandleConn)

		// Finished artifacts, served straight off the local store.
		fileServer := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(deps.Local.Dir())))
		r.Get("/artifacts/*", fileServer.ServeHTTP)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
