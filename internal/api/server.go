package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
	"github.com/pharmaguard-server/internal/middleware"
	"github.com/pharmaguard-server/pkg/external"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ExplanationService is the cached explanation chain behind the engine.
type ExplanationService interface {
	Health(ctx context.Context) external.ExplainerHealth
	Purge(ctx context.Context, drug string) (int, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithExplanations exposes the explanation chain on /health and the cache
// purge route.
func WithExplanations(explanations ExplanationService) Option {
	return func(s *Server) {
		s.explanations = explanations
	}
}

// Server represents the HTTP server
type Server struct {
	config       *domain.Config
	analyzer     domain.Analyzer
	kb           *knowledge.Base
	explanations ExplanationService
	logger       *logrus.Logger
	router       *gin.Engine
	server       *http.Server
	limiter      *middleware.ClientRateLimiter
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, analyzer domain.Analyzer, kb *knowledge.Base, logger *logrus.Logger, opts ...Option) *Server {
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	var limiter *middleware.ClientRateLimiter
	if config.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewClientRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst, 10*time.Minute)
	}

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(limiter))

	server := &Server{
		config:   config,
		analyzer: analyzer,
		kb:       kb,
		logger:   logger,
		router:   router,
		limiter:  limiter,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr": addr,
			"tls":  cfg.TLSEnabled,
		}).Info("HTTP server listening")

		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	analyze := []gin.HandlerFunc{
		middleware.BodyLimit(s.config.Server.MaxUploadBytes),
		middleware.RequestTimeout(s.config.Analysis.RequestTimeout),
		s.handleAnalyze,
	}
	// Legacy path of the web client
	s.router.POST("/analyze", analyze...)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", analyze...)
		v1.GET("/drugs", s.handleListDrugs)
		v1.GET("/genes", s.handleListGenes)
		v1.GET("/genes/:gene", s.handleGetGene)
		v1.GET("/genes/:gene/phenotype", s.handleGenePhenotype)
		v1.POST("/genes/:gene/alleles/resolve", s.handleResolveAllele)
		v1.DELETE("/explanations/cache", s.handlePurgeExplanations)
	}
}
