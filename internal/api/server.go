// Package api serves the operator HTTP surface: status, halt/resume,
// positions, the live event stream and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"zerodha-strategy/internal/metrics"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/stream"
	"zerodha-strategy/internal/trading"
)

// Engine is the executor surface the API drives.
type Engine interface {
	Status() models.Status
	Halt()
	Resume()
	Instruments() []trading.SeriesView
}

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Meta describes the running process.
type Meta struct {
	Mode      string
	Version   string
	StartedAt time.Time
}

// Server wires HTTP endpoints around the executor and event hub.
type Server struct {
	Router  *gin.Engine
	engine  Engine
	hub     *stream.Hub
	metrics *metrics.Metrics
	checks  []HealthCheck
	meta    Meta
	logger  zerolog.Logger
	srv     *http.Server
}

// NewServer builds the router. hub and m may be nil, which disables the
// event stream and metrics endpoints.
func NewServer(engine Engine, hub *stream.Hub, m *metrics.Metrics, meta Meta, logger zerolog.Logger, checks ...HealthCheck) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	logger = logger.With().Str("component", "api").Logger()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(20, 50))

	s := &Server{
		Router:  r,
		engine:  engine,
		hub:     hub,
		metrics: m,
		checks:  checks,
		meta:    meta,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/status", s.status)
	s.Router.POST("/halt", s.halt)
	s.Router.POST("/resume", s.resume)
	s.Router.GET("/positions", s.positions)
	s.Router.GET("/instruments", s.instruments)
	s.Router.GET("/ws/events", s.events)
	s.Router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// Start serves on addr in a goroutine.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := gin.H{}
	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			deps[hc.Name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[hc.Name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":       status,
		"mode":         s.meta.Mode,
		"version":      s.meta.Version,
		"uptime":       time.Since(s.meta.StartedAt).Round(time.Second).String(),
		"dependencies": deps,
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) halt(c *gin.Context) {
	s.engine.Halt()
	s.logger.Warn().Str("remote", c.ClientIP()).Msg("Trading halted via API")
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) resume(c *gin.Context) {
	s.engine.Resume()
	st := s.engine.Status()
	s.logger.Info().Str("remote", c.ClientIP()).Bool("still_halted", st.Halted).Msg("Resume requested via API")
	c.JSON(http.StatusOK, st)
}

func (s *Server) positions(c *gin.Context) {
	ps := s.engine.Status().Positions
	if ps == nil {
		ps = []models.PositionStatus{}
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) instruments(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Instruments())
}
