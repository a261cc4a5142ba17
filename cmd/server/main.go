package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/api"
	"github.com/pharmaguard-server/internal/config"
	"github.com/pharmaguard-server/internal/logging"
	"github.com/pharmaguard-server/internal/repository"
	"github.com/pharmaguard-server/internal/service"
	"github.com/pharmaguard-server/pkg/external"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (searches ., ./config and /etc/pharmaguard by default)")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerWithFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	if configManager.IsProduction() && !cfg.Server.TLSEnabled {
		logger.Warn("TLS is disabled in production; terminate TLS in front of this server")
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kb, err := repository.LoadKnowledgeBase(ctx, cfg.KnowledgeBase, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load knowledge base")
	}

	explainer, closeExplainer, err := external.NewExplainerFromConfig(cfg.Explanation, cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure explanations")
	}
	defer closeExplainer()

	var (
		engineOpts []service.EngineOption
		serverOpts []api.Option
	)
	if explainer != nil {
		engineOpts = append(engineOpts, service.WithExplainer(explainer))
		serverOpts = append(serverOpts, api.WithExplanations(explainer))
	}
	engine := service.NewEngine(logger, kb, cfg.Analysis, engineOpts...)

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting PharmaGuard API server")

	server := api.NewServer(cfg, engine, kb, logger, serverOpts...)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}
