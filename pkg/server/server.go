// Package server exposes the group manager over HTTP
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/internal/tsg"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/metrics"
	"github.com/tsgd/tsgd/pkg/vgpu"
)

// Server is the tsgd control API
type Server struct {
	router    chi.Router
	logger    logger.Logger
	manager   *tsg.Manager
	channels  *channel.Registry
	host      *vgpu.Host
	metrics   *metrics.Metrics
	startTime time.Time
}

// Option configures optional Server dependencies
type Option func(*Server)

// WithMetrics exposes m on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server with all routes registered
func New(manager *tsg.Manager, channels *channel.Registry, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    log.WithComponent("server"),
		manager:   manager,
		channels:  channels,
		host:      vgpu.NewHost(manager, channels, log),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tsgs", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleOpenGroup)
			r.Route("/{handle}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Post("/retain", s.handleRetainGroup)
				r.Post("/release", s.handleReleaseGroup)
				r.Post("/enable", s.handleEnableGroup)
				r.Post("/disable", s.handleDisableGroup)
				r.Post("/abort", s.handleAbortGroup)
				r.Post("/abortable", s.handleSetAbortable)
				r.Post("/channels", s.handleBindChannel)
				r.Delete("/channels/{chid}", s.handleUnbindChannel)
			})
		})

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Post("/", s.handleOpenChannel)
			r.Delete("/{chid}", s.handleCloseChannel)
		})

		r.Post("/runlists/{id}/recover", s.handleRecoverRunlist)

		r.Post("/control/lock", s.handleLockControl)
		r.Post("/control/unlock", s.handleUnlockControl)

		r.Post("/vgpu/bind_channel_ex", s.handleRemoteBind)
		r.Post("/vgpu/unbind_channel", s.handleRemoteUnbind)
	})
}
