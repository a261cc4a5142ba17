// Package mcp exposes the PharmaGuard engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

// Server identity reported during initialization.
const (
	ServerName    = "pharmaguard"
	ServerVersion = "1.0.0"
)

// Supported transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Server wraps an MCP server bound to one analyzer and knowledge base.
type Server struct {
	mcpServer *mcp.Server
	analyzer  domain.Analyzer
	kb        *knowledge.Base
	timeout   time.Duration
	logger    *logrus.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout bounds each analysis call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// NewServer registers the PharmaGuard tools and resources.
func NewServer(kb *knowledge.Base, analyzer domain.Analyzer, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		analyzer: analyzer,
		kb:       kb,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)
	s.mcpServer.AddReceivingMiddleware(s.auditMiddleware)

	s.registerTools()
	s.registerResources()

	logger.WithFields(logrus.Fields{
		"kb_version": kb.Version(),
		"genes":      len(kb.Genes()),
		"drugs":      len(kb.Drugs()),
	}).Info("MCP server initialized")
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Run serves on the selected transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport string, httpPort int) error {
	switch transport {
	case "", TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport failed: %w", err)
		}
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx, httpPort)
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

func (s *Server) serveHTTP(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("Serving MCP over HTTP")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http transport shutdown failed: %w", err)
	}
	return nil
}

// auditMiddleware logs one line per inbound request.
func (s *Server) auditMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		start := time.Now()
		result, err := next(ctx, method, req)

		fields := logrus.Fields{
			"method":      method,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if params, ok := req.GetParams().(*mcp.CallToolParamsRaw); ok {
			fields["tool"] = params.Name
		}
		if res, ok := result.(*mcp.CallToolResult); ok && res.IsError {
			fields["tool_error"] = true
		}

		entry := s.logger.WithFields(fields)
		if err != nil {
			entry.WithError(err).Warn("MCP request failed")
		} else {
			entry.Debug("MCP request served")
		}
		return result, err
	}
}
