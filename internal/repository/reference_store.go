package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/database"
	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

// ErrEmptyStore is returned when the reference tables hold no genes.
var ErrEmptyStore = errors.New("reference store is empty")

// ReferenceStore persists knowledge-base documents in SQL tables. It holds
// reference data only.
type ReferenceStore struct {
	db      *sql.DB
	dialect string
	log     *logrus.Logger
}

// StoreSummary reports row counts of a seeded store.
type StoreSummary struct {
	Version    string    `json:"version"`
	SeededAt   time.Time `json:"seeded_at"`
	Genes      int       `json:"genes"`
	Drugs      int       `json:"drugs"`
	Guidelines int       `json:"guidelines"`
}

// NewReferenceStore creates a store over db. dialect is one of
// database.DialectSQLite or database.DialectPostgres.
func NewReferenceStore(db *sql.DB, dialect string, logger *logrus.Logger) (*ReferenceStore, error) {
	if dialect != database.DialectSQLite && dialect != database.DialectPostgres {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &ReferenceStore{
		db:      db,
		dialect: dialect,
		log:     logger,
	}, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *ReferenceStore) rebind(query string) string {
	if s.dialect != database.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Seed replaces the stored reference tables with doc in one transaction.
func (s *ReferenceStore) Seed(ctx context.Context, doc knowledge.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning seed transaction: %w", err)
	}

	if err := s.seed(ctx, tx, doc); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Warn("Failed to roll back seed transaction")
		}
		s.log.WithFields(logrus.Fields{
			"version": doc.Version,
			"error":   err,
		}).Error("Failed to seed reference store")
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing seed transaction: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"version":    doc.Version,
		"genes":      len(doc.Genes),
		"drugs":      len(doc.Drugs),
		"guidelines": len(doc.Guidelines),
		"dialect":    s.dialect,
	}).Info("Reference store seeded")
	return nil
}

func (s *ReferenceStore) seed(ctx context.Context, tx *sql.Tx, doc knowledge.Document) error {
	for _, table := range []string{
		"kb_guidelines", "kb_drugs", "kb_diplotypes", "kb_allele_variants",
		"kb_alleles", "kb_positions", "kb_genes", "kb_metadata",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	exec := func(query string, args ...interface{}) error {
		_, err := tx.ExecContext(ctx, s.rebind(query), args...)
		return err
	}

	if err := exec("INSERT INTO kb_metadata (meta_key, meta_value) VALUES (?, ?)", "version", doc.Version); err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}
	seededAt := time.Now().UTC().Format(time.RFC3339)
	if err := exec("INSERT INTO kb_metadata (meta_key, meta_value) VALUES (?, ?)", "seeded_at", seededAt); err != nil {
		return fmt.Errorf("inserting seed time: %w", err)
	}

	for gi, g := range doc.Genes {
		if err := exec("INSERT INTO kb_genes (symbol, chromosome, min_called_positions, ordinal) VALUES (?, ?, ?, ?)",
			g.Symbol, g.Chromosome, g.MinCalledPositions, gi); err != nil {
			return fmt.Errorf("inserting gene %s: %w", g.Symbol, err)
		}
		for pi, p := range g.Positions {
			if err := exec("INSERT INTO kb_positions (gene, rsid, chromosome, pos, ref_allele, alt_allele, ordinal) VALUES (?, ?, ?, ?, ?, ?, ?)",
				g.Symbol, p.RSID, p.Chromosome, p.Position, p.Reference, p.Alternate, pi); err != nil {
				return fmt.Errorf("inserting position %s/%s: %w", g.Symbol, p.RSID, err)
			}
		}
		for ai, a := range g.Alleles {
			if err := exec("INSERT INTO kb_alleles (gene, name, allele_function, ordinal) VALUES (?, ?, ?, ?)",
				g.Symbol, a.Name, a.Function, ai); err != nil {
				return fmt.Errorf("inserting allele %s%s: %w", g.Symbol, a.Name, err)
			}
			for vi, v := range a.Variants {
				if err := exec("INSERT INTO kb_allele_variants (gene, allele, rsid, alt, ordinal) VALUES (?, ?, ?, ?, ?)",
					g.Symbol, a.Name, v.RSID, v.Allele, vi); err != nil {
					return fmt.Errorf("inserting allele variant %s%s/%s: %w", g.Symbol, a.Name, v.RSID, err)
				}
			}
		}
		diplotypes := make([]string, 0, len(g.Diplotypes))
		for d := range g.Diplotypes {
			diplotypes = append(diplotypes, d)
		}
		sort.Strings(diplotypes)
		for _, d := range diplotypes {
			if err := exec("INSERT INTO kb_diplotypes (gene, diplotype, phenotype) VALUES (?, ?, ?)",
				g.Symbol, d, g.Diplotypes[d]); err != nil {
				return fmt.Errorf("inserting diplotype %s %s: %w", g.Symbol, d, err)
			}
		}
	}

	for di, d := range doc.Drugs {
		if err := exec("INSERT INTO kb_drugs (name, gene, ordinal) VALUES (?, ?, ?)", d.Name, d.Gene, di); err != nil {
			return fmt.Errorf("inserting drug %s: %w", d.Name, err)
		}
	}

	for gi, gl := range doc.Guidelines {
		alternatives := gl.AlternativeDrugs
		if alternatives == nil {
			alternatives = []string{}
		}
		encoded, err := json.Marshal(alternatives)
		if err != nil {
			return fmt.Errorf("encoding alternatives for %s/%s: %w", gl.Drug, gl.Phenotype, err)
		}
		if err := exec(`INSERT INTO kb_guidelines (gene, drug, phenotype, risk_label, severity, action, citation, alternative_drugs, monitoring_required, ordinal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			gl.Gene, gl.Drug, gl.Phenotype, gl.RiskLabel, gl.Severity, gl.Action, gl.Citation,
			string(encoded), gl.MonitoringRequired, gi); err != nil {
			return fmt.Errorf("inserting guideline %s/%s/%s: %w", gl.Gene, gl.Drug, gl.Phenotype, err)
		}
	}

	return nil
}

// LoadDocument reads the reference tables back into a document, preserving
// the order they were seeded in.
func (s *ReferenceStore) LoadDocument(ctx context.Context) (knowledge.Document, error) {
	doc := knowledge.Document{}

	version, err := s.metadata(ctx, "version")
	if err != nil {
		return doc, err
	}
	doc.Version = version

	genes := make(map[string]*knowledge.GeneDoc)
	order := []string{}
	err = s.query(ctx, "SELECT symbol, chromosome, min_called_positions FROM kb_genes ORDER BY ordinal", nil, func(rows *sql.Rows) error {
		var g knowledge.GeneDoc
		if err := rows.Scan(&g.Symbol, &g.Chromosome, &g.MinCalledPositions); err != nil {
			return err
		}
		genes[g.Symbol] = &g
		order = append(order, g.Symbol)
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading genes: %w", err)
	}
	if len(order) == 0 {
		return doc, ErrEmptyStore
	}

	err = s.query(ctx, "SELECT gene, rsid, chromosome, pos, ref_allele, alt_allele FROM kb_positions ORDER BY gene, ordinal", nil, func(rows *sql.Rows) error {
		var gene string
		var p domain.Position
		if err := rows.Scan(&gene, &p.RSID, &p.Chromosome, &p.Position, &p.Reference, &p.Alternate); err != nil {
			return err
		}
		g, ok := genes[gene]
		if !ok {
			return fmt.Errorf("position %s references unknown gene %s", p.RSID, gene)
		}
		g.Positions = append(g.Positions, p)
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading positions: %w", err)
	}

	alleleIndex := make(map[string]int)
	err = s.query(ctx, "SELECT gene, name, allele_function FROM kb_alleles ORDER BY gene, ordinal", nil, func(rows *sql.Rows) error {
		var gene string
		var a knowledge.AlleleDoc
		if err := rows.Scan(&gene, &a.Name, &a.Function); err != nil {
			return err
		}
		g, ok := genes[gene]
		if !ok {
			return fmt.Errorf("allele %s references unknown gene %s", a.Name, gene)
		}
		alleleIndex[gene+a.Name] = len(g.Alleles)
		g.Alleles = append(g.Alleles, a)
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading alleles: %w", err)
	}

	err = s.query(ctx, "SELECT gene, allele, rsid, alt FROM kb_allele_variants ORDER BY gene, allele, ordinal", nil, func(rows *sql.Rows) error {
		var gene, allele string
		var v knowledge.VariantDoc
		if err := rows.Scan(&gene, &allele, &v.RSID, &v.Allele); err != nil {
			return err
		}
		idx, ok := alleleIndex[gene+allele]
		if !ok {
			return fmt.Errorf("variant %s references unknown allele %s%s", v.RSID, gene, allele)
		}
		a := &genes[gene].Alleles[idx]
		a.Variants = append(a.Variants, v)
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading allele variants: %w", err)
	}

	err = s.query(ctx, "SELECT gene, diplotype, phenotype FROM kb_diplotypes ORDER BY gene, diplotype", nil, func(rows *sql.Rows) error {
		var gene, diplotype, phenotype string
		if err := rows.Scan(&gene, &diplotype, &phenotype); err != nil {
			return err
		}
		g, ok := genes[gene]
		if !ok {
			return fmt.Errorf("diplotype %s references unknown gene %s", diplotype, gene)
		}
		if g.Diplotypes == nil {
			g.Diplotypes = make(map[string]string)
		}
		g.Diplotypes[diplotype] = phenotype
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading diplotypes: %w", err)
	}

	for _, symbol := range order {
		doc.Genes = append(doc.Genes, *genes[symbol])
	}

	err = s.query(ctx, "SELECT name, gene FROM kb_drugs ORDER BY ordinal", nil, func(rows *sql.Rows) error {
		var d knowledge.DrugDoc
		if err := rows.Scan(&d.Name, &d.Gene); err != nil {
			return err
		}
		doc.Drugs = append(doc.Drugs, d)
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading drugs: %w", err)
	}

	err = s.query(ctx, `SELECT gene, drug, phenotype, risk_label, severity, action, citation, alternative_drugs, monitoring_required
		FROM kb_guidelines ORDER BY ordinal`, nil, func(rows *sql.Rows) error {
		var gl knowledge.GuidelineDoc
		var alternatives string
		if err := rows.Scan(&gl.Gene, &gl.Drug, &gl.Phenotype, &gl.RiskLabel, &gl.Severity,
			&gl.Action, &gl.Citation, &alternatives, &gl.MonitoringRequired); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(alternatives), &gl.AlternativeDrugs); err != nil {
			return fmt.Errorf("decoding alternatives for %s/%s: %w", gl.Drug, gl.Phenotype, err)
		}
		if len(gl.AlternativeDrugs) == 0 {
			gl.AlternativeDrugs = nil
		}
		doc.Guidelines = append(doc.Guidelines, gl)
		return nil
	})
	if err != nil {
		return doc, fmt.Errorf("loading guidelines: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"version":    doc.Version,
		"genes":      len(doc.Genes),
		"drugs":      len(doc.Drugs),
		"guidelines": len(doc.Guidelines),
	}).Debug("Reference document loaded from store")

	return doc, nil
}

// Summary reports what the store currently holds.
func (s *ReferenceStore) Summary(ctx context.Context) (StoreSummary, error) {
	var summary StoreSummary

	version, err := s.metadata(ctx, "version")
	if err != nil {
		return summary, err
	}
	summary.Version = version

	seededAt, err := s.metadata(ctx, "seeded_at")
	if err != nil {
		return summary, err
	}
	if seededAt != "" {
		if summary.SeededAt, err = time.Parse(time.RFC3339, seededAt); err != nil {
			return summary, fmt.Errorf("parsing seed time: %w", err)
		}
	}

	counts := []struct {
		table string
		dest  *int
	}{
		{"kb_genes", &summary.Genes},
		{"kb_drugs", &summary.Drugs},
		{"kb_guidelines", &summary.Guidelines},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return summary, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return summary, nil
}

// metadata returns a kb_metadata value, or "" when the key is absent.
func (s *ReferenceStore) metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT meta_value FROM kb_metadata WHERE meta_key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading metadata %s: %w", key, err)
	}
	return value, nil
}

func (s *ReferenceStore) query(ctx context.Context, query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
