package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-server/internal/database"
	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

func TestLoadKnowledgeBase(t *testing.T) {
	ctx := context.Background()

	t.Run("embedded by default", func(t *testing.T) {
		kb, err := LoadKnowledgeBase(ctx, domain.KnowledgeBaseConfig{}, testLogger())
		require.NoError(t, err)
		assert.Equal(t, "CYP2D6", kb.GeneForDrug("CODEINE"))
	})

	t.Run("file", func(t *testing.T) {
		doc := tinyDocument()
		data, err := doc.Marshal()
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "kb.yaml")
		require.NoError(t, os.WriteFile(path, data, 0644))

		kb, err := LoadKnowledgeBase(ctx, domain.KnowledgeBaseConfig{Source: SourceFile, Path: path}, testLogger())
		require.NoError(t, err)
		assert.Equal(t, "test-1", kb.Version())
		assert.Equal(t, []string{"CYP2C9"}, kb.Genes())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kb.db")
		url, err := database.MigrationURL(database.DialectSQLite, path)
		require.NoError(t, err)
		runner, err := database.NewMigrationRunner(url, testLogger())
		require.NoError(t, err)
		require.NoError(t, runner.Up(ctx))
		require.NoError(t, runner.Close())

		db, err := database.OpenSQLite(path)
		require.NoError(t, err)
		store, err := NewReferenceStore(db, database.DialectSQLite, testLogger())
		require.NoError(t, err)
		require.NoError(t, store.Seed(ctx, tinyDocument()))
		require.NoError(t, db.Close())

		kb, err := LoadKnowledgeBase(ctx, domain.KnowledgeBaseConfig{Source: SourceSQLite, Path: path}, testLogger())
		require.NoError(t, err)
		assert.Equal(t, "test-1", kb.Version())
		assert.Equal(t, "CYP2C9", kb.GeneForDrug("WARFARIN"))
	})

	t.Run("empty sqlite store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.db")
		url, err := database.MigrationURL(database.DialectSQLite, path)
		require.NoError(t, err)
		runner, err := database.NewMigrationRunner(url, testLogger())
		require.NoError(t, err)
		require.NoError(t, runner.Up(ctx))
		require.NoError(t, runner.Close())

		_, err = LoadKnowledgeBase(ctx, domain.KnowledgeBaseConfig{Source: SourceSQLite, Path: path}, testLogger())
		var loadErr *domain.KnowledgeBaseLoadError
		require.True(t, errors.As(err, &loadErr))
		assert.True(t, errors.Is(err, ErrEmptyStore))
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := LoadKnowledgeBase(ctx, domain.KnowledgeBaseConfig{Source: "ftp"}, testLogger())
		var loadErr *domain.KnowledgeBaseLoadError
		assert.True(t, errors.As(err, &loadErr))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKnowledgeBase(ctx, domain.KnowledgeBaseConfig{Source: SourceFile, Path: "/nonexistent/kb.yaml"}, testLogger())
		assert.Error(t, err)
	})
}

func TestLoadKnowledgeBase_InvalidStoredDocument(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	doc := tinyDocument()
	doc.Guidelines[0].Phenotype = "Fast"
	require.NoError(t, store.Seed(ctx, doc))

	loaded, err := store.LoadDocument(ctx)
	require.NoError(t, err)
	_, err = knowledge.FromDocument(&loaded, "sqlite")
	var loadErr *domain.KnowledgeBaseLoadError
	assert.True(t, errors.As(err, &loadErr))
}
