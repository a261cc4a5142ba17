package repository

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-server/internal/database"
	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// tinyDocument is a minimal valid document with one gene and one drug.
func tinyDocument() knowledge.Document {
	return knowledge.Document{
		Version: "test-1",
		Drugs:   []knowledge.DrugDoc{{Name: "WARFARIN", Gene: "CYP2C9"}},
		Genes: []knowledge.GeneDoc{{
			Symbol:             "CYP2C9",
			Chromosome:         "10",
			MinCalledPositions: 1,
			Positions: []domain.Position{
				{Chromosome: "10", Position: 94942290, RSID: "rs1799853", Reference: "C", Alternate: "T"},
			},
			Alleles: []knowledge.AlleleDoc{
				{Name: "*1", Function: "normal"},
				{Name: "*2", Function: "decreased", Variants: []knowledge.VariantDoc{{RSID: "rs1799853", Allele: "T"}}},
			},
			Diplotypes: map[string]string{"*1/*1": "NM", "*1/*2": "IM", "*2/*2": "IM"},
		}},
		Guidelines: []knowledge.GuidelineDoc{{
			Gene:               "CYP2C9",
			Drug:               "WARFARIN",
			Phenotype:          "IM",
			RiskLabel:          "Adjust Dosage",
			Severity:           "moderate",
			Action:             "Reduce dose.",
			Citation:           "CPIC",
			AlternativeDrugs:   []string{"APIXABAN"},
			MonitoringRequired: true,
		}},
	}
}

func newSQLiteStore(t *testing.T) *ReferenceStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.db")

	url, err := database.MigrationURL(database.DialectSQLite, path)
	require.NoError(t, err)
	runner, err := database.NewMigrationRunner(url, testLogger())
	require.NoError(t, err)
	require.NoError(t, runner.Up(context.Background()))
	require.NoError(t, runner.Close())

	db, err := database.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewReferenceStore(db, database.DialectSQLite, testLogger())
	require.NoError(t, err)
	return store
}

func TestReferenceStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	embedded, err := knowledge.EmbeddedDocument()
	require.NoError(t, err)

	require.NoError(t, store.Seed(ctx, *embedded))

	loaded, err := store.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, *embedded, loaded)

	kb, err := knowledge.FromDocument(&loaded, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, "CYP2C9", kb.GeneForDrug("warfarin"))

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, embedded.Version, summary.Version)
	assert.Equal(t, len(embedded.Genes), summary.Genes)
	assert.Equal(t, len(embedded.Drugs), summary.Drugs)
	assert.Equal(t, len(embedded.Guidelines), summary.Guidelines)
	assert.False(t, summary.SeededAt.IsZero())
}

func TestReferenceStore_SeedReplaces(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	embedded, err := knowledge.EmbeddedDocument()
	require.NoError(t, err)
	require.NoError(t, store.Seed(ctx, *embedded))
	require.NoError(t, store.Seed(ctx, tinyDocument()))

	loaded, err := store.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, tinyDocument(), loaded)
}

func TestReferenceStore_SeedRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	require.NoError(t, store.Seed(ctx, tinyDocument()))

	broken := tinyDocument()
	// Drug references a gene that is not in the gene table.
	broken.Drugs = append(broken.Drugs, knowledge.DrugDoc{Name: "CODEINE", Gene: "CYP2D6"})
	assert.Error(t, store.Seed(ctx, broken))

	loaded, err := store.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, tinyDocument(), loaded)
}

func TestReferenceStore_EmptyStore(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.LoadDocument(context.Background())
	assert.True(t, errors.Is(err, ErrEmptyStore))
}

func TestNewReferenceStore_UnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewReferenceStore(db, "oracle", testLogger())
	assert.Error(t, err)
}

func TestReferenceStore_Rebind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pg, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
	require.NoError(t, err)
	lite, err := NewReferenceStore(db, database.DialectSQLite, testLogger())
	require.NoError(t, err)

	query := "INSERT INTO t (a, b, c) VALUES (?, ?, ?)"
	assert.Equal(t, "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

func TestReferenceStore_SeedPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
	require.NoError(t, err)

	mock.ExpectBegin()
	for _, table := range []string{"kb_guidelines", "kb_drugs", "kb_diplotypes", "kb_allele_variants", "kb_alleles", "kb_positions", "kb_genes", "kb_metadata"} {
		mock.ExpectExec("DELETE FROM " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kb_metadata (meta_key, meta_value) VALUES ($1, $2)")).
		WithArgs("version", "test-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kb_metadata (meta_key, meta_value) VALUES ($1, $2)")).
		WithArgs("seeded_at", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kb_genes (symbol, chromosome, min_called_positions, ordinal) VALUES ($1, $2, $3, $4)")).
		WithArgs("CYP2C9", "10", 1, 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_positions").
		WithArgs("CYP2C9", "rs1799853", "10", int64(94942290), "C", "T", 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_alleles").WithArgs("CYP2C9", "*1", "normal", 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_alleles").WithArgs("CYP2C9", "*2", "decreased", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_allele_variants").WithArgs("CYP2C9", "*2", "rs1799853", "T", 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_diplotypes").WithArgs("CYP2C9", "*1/*1", "NM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_diplotypes").WithArgs("CYP2C9", "*1/*2", "IM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_diplotypes").WithArgs("CYP2C9", "*2/*2", "IM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kb_drugs (name, gene, ordinal) VALUES ($1, $2, $3)")).
		WithArgs("WARFARIN", "CYP2C9", 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kb_guidelines").
		WithArgs("CYP2C9", "WARFARIN", "IM", "Adjust Dosage", "moderate", "Reduce dose.", "CPIC", `["APIXABAN"]`, true, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Seed(context.Background(), tinyDocument()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceStore_SeedFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM kb_guidelines").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = store.Seed(context.Background(), tinyDocument())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clearing kb_guidelines")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectTinyDocumentQueries(mock sqlmock.Sqlmock, alternatives string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT meta_value FROM kb_metadata WHERE meta_key = $1")).
		WithArgs("version").
		WillReturnRows(sqlmock.NewRows([]string{"meta_value"}).AddRow("test-1"))
	mock.ExpectQuery("SELECT symbol, chromosome, min_called_positions FROM kb_genes").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "chromosome", "min_called_positions"}).AddRow("CYP2C9", "10", 1))
	mock.ExpectQuery("FROM kb_positions").
		WillReturnRows(sqlmock.NewRows([]string{"gene", "rsid", "chromosome", "pos", "ref_allele", "alt_allele"}).
			AddRow("CYP2C9", "rs1799853", "10", int64(94942290), "C", "T"))
	mock.ExpectQuery("FROM kb_alleles").
		WillReturnRows(sqlmock.NewRows([]string{"gene", "name", "allele_function"}).
			AddRow("CYP2C9", "*1", "normal").
			AddRow("CYP2C9", "*2", "decreased"))
	mock.ExpectQuery("FROM kb_allele_variants").
		WillReturnRows(sqlmock.NewRows([]string{"gene", "allele", "rsid", "alt"}).AddRow("CYP2C9", "*2", "rs1799853", "T"))
	mock.ExpectQuery("FROM kb_diplotypes").
		WillReturnRows(sqlmock.NewRows([]string{"gene", "diplotype", "phenotype"}).
			AddRow("CYP2C9", "*1/*1", "NM").
			AddRow("CYP2C9", "*1/*2", "IM").
			AddRow("CYP2C9", "*2/*2", "IM"))
	mock.ExpectQuery("FROM kb_drugs").
		WillReturnRows(sqlmock.NewRows([]string{"name", "gene"}).AddRow("WARFARIN", "CYP2C9"))
	mock.ExpectQuery("FROM kb_guidelines").
		WillReturnRows(sqlmock.NewRows([]string{"gene", "drug", "phenotype", "risk_label", "severity", "action", "citation", "alternative_drugs", "monitoring_required"}).
			AddRow("CYP2C9", "WARFARIN", "IM", "Adjust Dosage", "moderate", "Reduce dose.", "CPIC", alternatives, true))
}

func TestReferenceStore_LoadDocumentFromMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
	require.NoError(t, err)

	expectTinyDocumentQueries(mock, `["APIXABAN"]`)

	doc, err := store.LoadDocument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tinyDocument(), doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceStore_LoadDocumentErrors(t *testing.T) {
	t.Run("corrupt alternatives", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
		require.NoError(t, err)
		expectTinyDocumentQueries(mock, "not-json")

		_, err = store.LoadDocument(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading guidelines")
	})

	t.Run("query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
		require.NoError(t, err)
		mock.ExpectQuery("SELECT meta_value FROM kb_metadata").
			WillReturnError(errors.New("connection reset"))

		_, err = store.LoadDocument(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("orphan position", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store, err := NewReferenceStore(db, database.DialectPostgres, testLogger())
		require.NoError(t, err)
		mock.ExpectQuery("SELECT meta_value FROM kb_metadata").
			WillReturnRows(sqlmock.NewRows([]string{"meta_value"}).AddRow("v"))
		mock.ExpectQuery("FROM kb_genes").
			WillReturnRows(sqlmock.NewRows([]string{"symbol", "chromosome", "min_called_positions"}).AddRow("CYP2C9", "10", 1))
		mock.ExpectQuery("FROM kb_positions").
			WillReturnRows(sqlmock.NewRows([]string{"gene", "rsid", "chromosome", "pos", "ref_allele", "alt_allele"}).
				AddRow("TPMT", "rs1", "6", int64(1), "C", "T"))

		_, err = store.LoadDocument(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown gene TPMT")
	})
}
