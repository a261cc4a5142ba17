package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pharmaguard-server/internal/config"
	"github.com/pharmaguard-server/internal/database"
	"github.com/pharmaguard-server/internal/logging"
	"github.com/pharmaguard-server/internal/setup"
)

func main() {
	cfg := config.LoadLiteConfig()

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	// Default store: the configured one, else the SQLite file in the data dir
	defaults := setup.Target{Dialect: database.DialectSQLite, DSN: cfg.ReferenceDBPath()}
	switch cfg.KnowledgeSource {
	case database.DialectSQLite:
		defaults.DSN = cfg.KnowledgePath
	case database.DialectPostgres:
		defaults = setup.Target{Dialect: database.DialectPostgres, DSN: cfg.KnowledgeDSN}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := setup.NewCLI(os.Stdout, logger, defaults)
	if err := cli.Run(ctx, os.Args[1:]); err != nil {
		logger.WithError(err).Error("pgxkb failed")
		os.Exit(1)
	}
}
