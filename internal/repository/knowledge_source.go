package repository

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/database"
	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

// Knowledge-base sources selectable through knowledge_base.source.
const (
	SourceEmbedded = knowledge.SourceEmbedded
	SourceFile     = knowledge.SourceFile
	SourceSQLite   = database.DialectSQLite
	SourcePostgres = database.DialectPostgres
)

// LoadKnowledgeBase builds the knowledge base from the configured source.
// Store-backed sources are read once and the connection is closed.
func LoadKnowledgeBase(ctx context.Context, config domain.KnowledgeBaseConfig, logger *logrus.Logger) (*knowledge.Base, error) {
	source := config.Source
	if source == "" {
		source = SourceEmbedded
	}

	var (
		kb  *knowledge.Base
		err error
	)
	switch source {
	case SourceEmbedded:
		kb, err = knowledge.LoadEmbedded()
	case SourceFile:
		kb, err = knowledge.LoadFile(config.Path)
	case SourceSQLite:
		kb, err = loadFromSQLite(ctx, config.Path, logger)
	case SourcePostgres:
		kb, err = loadFromPostgres(ctx, config.DSN, logger)
	default:
		return nil, &domain.KnowledgeBaseLoadError{Source: source, Err: fmt.Errorf("unknown knowledge base source")}
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"source":  source,
		"version": kb.Version(),
		"genes":   len(kb.Genes()),
		"drugs":   len(kb.Drugs()),
	}).Info("Knowledge base loaded")
	return kb, nil
}

func loadFromSQLite(ctx context.Context, path string, logger *logrus.Logger) (*knowledge.Base, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: path, Err: err}
	}
	defer db.Close()

	store, err := NewReferenceStore(db, database.DialectSQLite, logger)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: path, Err: err}
	}
	return loadFromStore(ctx, store, "sqlite:"+path)
}

func loadFromPostgres(ctx context.Context, dsn string, logger *logrus.Logger) (*knowledge.Base, error) {
	db, err := database.NewConnection(ctx, database.Config{DSN: dsn, MaxConns: 2}, logger)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: SourcePostgres, Err: err}
	}
	defer db.Close()

	store, err := NewReferenceStore(db.SQL(), database.DialectPostgres, logger)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: SourcePostgres, Err: err}
	}
	return loadFromStore(ctx, store, SourcePostgres)
}

func loadFromStore(ctx context.Context, store *ReferenceStore, source string) (*knowledge.Base, error) {
	doc, err := store.LoadDocument(ctx)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: source, Err: err}
	}
	return knowledge.FromDocument(&doc, source)
}
