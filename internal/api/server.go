// Package api serves the parse, resolve and correction endpoints over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata"
)

// Parser turns a post into a consensus result
type Parser interface {
	Parse(ctx context.Context, post domain.RawPost) (*domain.ConsensusResult, error)
}

// Resolver resolves location names
type Resolver interface {
	ResolveRanked(ctx context.Context, name, postText string) ([]domain.GeoHierarchy, bool)
}

// Corrections is the append-only review log
type Corrections interface {
	AppendCorrection(ctx context.Context, c domain.GeoCorrection) (*domain.GeoCorrection, error)
	ListCorrections(ctx context.Context, postID string, limit int) ([]domain.GeoCorrection, error)
}

// SnapshotSource reports the reference data generation for health checks
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*refdata.Snapshot, error)
}

// Deps are the collaborators the server needs. Metrics may be nil.
type Deps struct {
	Parser      Parser
	Resolver    Resolver
	Corrections Corrections
	Refs        SnapshotSource
	Metrics     http.Handler
	Logger      *slog.Logger
}

// Server handles HTTP requests for the extraction pipeline
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

// New creates a server with all routes configured
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{deps: deps, engine: gin.New()}
	s.engine.Use(s.requestLogger(), gin.Recovery(), cors())
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine

	api := r.Group("/api")
	{
		api.POST("/parse", s.parse)
		api.GET("/resolve", s.resolve)
		api.POST("/corrections", s.addCorrection)
		api.GET("/corrections", s.listCorrections)
	}

	r.GET("/health", s.health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run(addr string, readTimeout, writeTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  2 * time.Minute,
	}
	s.deps.Logger.Info("Starting server", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.deps.Logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

// cors adds CORS headers for frontend development
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if s.deps.Refs == nil {
		c.JSON(http.StatusOK, status)
		return
	}
	snap, err := s.deps.Refs.Snapshot(c.Request.Context())
	if err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	status["snapshot_version"] = snap.Version
	status["snapshot_loaded_at"] = snap.LoadedAt.UTC().Format(time.RFC3339)
	c.JSON(http.StatusOK, status)
}
