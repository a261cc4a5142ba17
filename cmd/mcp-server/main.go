package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/pharmaguard-server/internal/config"
	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/logging"
	"github.com/pharmaguard-server/internal/mcp"
	"github.com/pharmaguard-server/internal/repository"
	"github.com/pharmaguard-server/internal/service"
	"github.com/pharmaguard-server/pkg/external"
)

func main() {
	// Environment-only configuration; stdout is reserved for the protocol.
	cfg := config.LoadLiteConfig()

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.KnowledgeSource == repository.SourceSQLite {
		if err := cfg.EnsureDataDir(); err != nil {
			logger.WithError(err).Fatal("Failed to create data directory")
		}
	}

	kb, err := repository.LoadKnowledgeBase(ctx, cfg.KnowledgeBaseConfig(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load knowledge base")
	}

	explainer, closeExplainer, err := external.NewExplainerFromConfig(cfg.ExplanationConfig(), domain.CacheConfig{
		MaxItems:   cfg.CacheMaxItems,
		DefaultTTL: cfg.CacheTTL,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure explanations")
	}
	defer closeExplainer()

	var opts []service.EngineOption
	if explainer != nil {
		opts = append(opts, service.WithExplainer(explainer))
	}
	engine := service.NewEngine(logger, kb, cfg.AnalysisConfig(), opts...)

	server := mcp.NewServer(kb, engine, logger, mcp.WithRequestTimeout(cfg.RequestTimeout))
	if err := server.Run(ctx, cfg.Transport, cfg.HTTPPort); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}

	logger.Info("PharmaGuard MCP server stopped")
}
