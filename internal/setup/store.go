package setup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/database"
	"github.com/pharmaguard-server/internal/knowledge"
	"github.com/pharmaguard-server/internal/repository"
)

// Target locates a reference store. DSN is a file path for sqlite and a
// postgres:// URL for postgres.
type Target struct {
	Dialect string
	DSN     string
}

// String renders the target without credentials.
func (t Target) String() string {
	if t.Dialect == database.DialectPostgres {
		return t.Dialect
	}
	return t.Dialect + ":" + t.DSN
}

// Migrate applies ("up") or rolls back one ("down") schema migration and
// returns the resulting schema version.
func Migrate(ctx context.Context, target Target, direction string, logger *logrus.Logger) (uint, error) {
	runner, err := newRunner(target, logger)
	if err != nil {
		return 0, err
	}
	defer runner.Close()

	switch direction {
	case "", "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	default:
		return 0, fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil {
		return 0, err
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// SchemaVersion reports the applied migration version without changing it.
func SchemaVersion(target Target, logger *logrus.Logger) (uint, bool, error) {
	runner, err := newRunner(target, logger)
	if err != nil {
		return 0, false, err
	}
	defer runner.Close()
	return runner.Version()
}

// Seed migrates the store, validates doc and replaces the stored tables
// with it.
func Seed(ctx context.Context, target Target, doc *knowledge.Document, logger *logrus.Logger) (repository.StoreSummary, error) {
	if _, err := knowledge.FromDocument(doc, "seed"); err != nil {
		return repository.StoreSummary{}, fmt.Errorf("refusing to seed invalid document: %w", err)
	}
	if _, err := Migrate(ctx, target, "up", logger); err != nil {
		return repository.StoreSummary{}, err
	}

	var summary repository.StoreSummary
	err := withStore(ctx, target, logger, func(store *repository.ReferenceStore) error {
		if err := store.Seed(ctx, *doc); err != nil {
			return err
		}
		var err error
		summary, err = store.Summary(ctx)
		return err
	})
	return summary, err
}

// Export writes the stored document as YAML.
func Export(ctx context.Context, target Target, w io.Writer, logger *logrus.Logger) error {
	return withStore(ctx, target, logger, func(store *repository.ReferenceStore) error {
		doc, err := store.LoadDocument(ctx)
		if err != nil {
			return err
		}
		data, err := doc.Marshal()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// Status summarizes a seeded store.
func Status(ctx context.Context, target Target, logger *logrus.Logger) (repository.StoreSummary, error) {
	var summary repository.StoreSummary
	err := withStore(ctx, target, logger, func(store *repository.ReferenceStore) error {
		var err error
		summary, err = store.Summary(ctx)
		return err
	})
	return summary, err
}

// LoadDocument reads a YAML document, or the embedded one when path is empty.
func LoadDocument(path string) (*knowledge.Document, error) {
	if path == "" {
		return knowledge.EmbeddedDocument()
	}
	return knowledge.ReadDocumentFile(path)
}

// ValidateDocument loads and cross-checks a document.
func ValidateDocument(path string) (*knowledge.Base, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	source := path
	if source == "" {
		source = knowledge.SourceEmbedded
	}
	return knowledge.FromDocument(doc, source)
}

func newRunner(target Target, logger *logrus.Logger) (*database.MigrationRunner, error) {
	if target.Dialect == database.DialectSQLite && target.DSN != "" {
		if err := os.MkdirAll(filepath.Dir(target.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	url, err := database.MigrationURL(target.Dialect, target.DSN)
	if err != nil {
		return nil, err
	}
	return database.NewMigrationRunner(url, logger)
}

func withStore(ctx context.Context, target Target, logger *logrus.Logger, fn func(*repository.ReferenceStore) error) error {
	var db *sql.DB
	switch target.Dialect {
	case database.DialectSQLite:
		sqliteDB, err := database.OpenSQLite(target.DSN)
		if err != nil {
			return err
		}
		defer sqliteDB.Close()
		db = sqliteDB
	case database.DialectPostgres:
		conn, err := database.NewConnection(ctx, database.Config{DSN: target.DSN, MaxConns: 2}, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		db = conn.SQL()
	default:
		return fmt.Errorf("unsupported dialect %q", target.Dialect)
	}

	store, err := repository.NewReferenceStore(db, target.Dialect, logger)
	if err != nil {
		return err
	}
	return fn(store)
}
