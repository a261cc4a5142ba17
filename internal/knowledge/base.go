// Package knowledge holds the pharmacogene reference tables: positions of
// interest, star-allele signatures, diplotype phenotype tables and CPIC
// guideline entries.
//
// A Base is built once at startup and is read-only afterwards, so a single
// value can be shared by any number of concurrent requests.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pharmaguard-server/internal/domain"
)

//go:embed data/pharmacogenes.yaml
var embeddedData []byte

// Source names used in load errors and logs.
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
)

// DefaultCitation is reported when no guideline entry matches.
const DefaultCitation = "CPIC Standard"

// DefaultAction is reported when no guideline entry matches.
const DefaultAction = "Clinician review required."

// DrugInfo describes a supported drug.
type DrugInfo struct {
	Name string `json:"name"`
	Gene string `json:"gene"`
}

// GeneInfo describes a supported gene.
type GeneInfo struct {
	Symbol             string                   `json:"symbol"`
	Chromosome         string                   `json:"chromosome"`
	MinCalledPositions int                      `json:"min_called_positions"`
	Positions          []domain.Position        `json:"positions"`
	Alleles            []domain.AlleleSignature `json:"alleles"`
	Drugs              []string                 `json:"drugs"`
}

type gene struct {
	info       GeneInfo
	byLocus    map[string]domain.Position
	byRSID     map[string]domain.Position
	functions  map[string]domain.AlleleFunction
	reference  string
	diplotypes map[string]domain.Phenotype
}

type guidelineKey struct {
	gene      string
	drug      string
	phenotype domain.Phenotype
}

// Base is the immutable, validated set of reference tables.
type Base struct {
	version    string
	drugGene   map[string]string
	genes      map[string]*gene
	guidelines map[guidelineKey]domain.GuidelineEntry
	doc        Document
}

// LoadEmbedded builds a Base from the reference tables compiled into the binary.
func LoadEmbedded() (*Base, error) {
	doc, err := EmbeddedDocument()
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: SourceEmbedded, Err: err}
	}
	return FromDocument(doc, SourceEmbedded)
}

// LoadFile builds a Base from a YAML document on disk.
func LoadFile(path string) (*Base, error) {
	doc, err := ReadDocumentFile(path)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: path, Err: err}
	}
	return FromDocument(doc, path)
}

// FromDocument validates doc and builds a Base. Any inconsistency is
// reported as a *domain.KnowledgeBaseLoadError.
func FromDocument(doc *Document, source string) (*Base, error) {
	b, err := build(doc)
	if err != nil {
		return nil, &domain.KnowledgeBaseLoadError{Source: source, Err: err}
	}
	return b, nil
}

func build(doc *Document) (*Base, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	if len(doc.Genes) == 0 {
		return nil, errors.New("document defines no genes")
	}

	b := &Base{
		version:    doc.Version,
		drugGene:   make(map[string]string, len(doc.Drugs)),
		genes:      make(map[string]*gene, len(doc.Genes)),
		guidelines: make(map[guidelineKey]domain.GuidelineEntry, len(doc.Guidelines)),
		doc:        *doc,
	}

	for _, gd := range doc.Genes {
		g, err := buildGene(gd)
		if err != nil {
			return nil, err
		}
		if _, dup := b.genes[g.info.Symbol]; dup {
			return nil, fmt.Errorf("duplicate gene %s", g.info.Symbol)
		}
		b.genes[g.info.Symbol] = g
	}

	for _, d := range doc.Drugs {
		name := domain.NormalizeDrug(d.Name)
		symbol := strings.ToUpper(strings.TrimSpace(d.Gene))
		if name == "" {
			return nil, errors.New("drug with empty name")
		}
		g, ok := b.genes[symbol]
		if !ok {
			return nil, fmt.Errorf("drug %s references unknown gene %q", name, d.Gene)
		}
		if _, dup := b.drugGene[name]; dup {
			return nil, fmt.Errorf("duplicate drug %s", name)
		}
		b.drugGene[name] = symbol
		g.info.Drugs = append(g.info.Drugs, name)
	}
	for _, g := range b.genes {
		sort.Strings(g.info.Drugs)
	}

	for i, gl := range doc.Guidelines {
		entry, err := buildGuideline(gl)
		if err != nil {
			return nil, fmt.Errorf("guideline %d: %w", i, err)
		}
		if _, ok := b.genes[entry.Gene]; !ok {
			return nil, fmt.Errorf("guideline %d references unknown gene %q", i, gl.Gene)
		}
		if b.drugGene[entry.Drug] != entry.Gene {
			return nil, fmt.Errorf("guideline %d: drug %s is not mapped to gene %s", i, entry.Drug, entry.Gene)
		}
		key := guidelineKey{gene: entry.Gene, drug: entry.Drug, phenotype: entry.Phenotype}
		if _, dup := b.guidelines[key]; dup {
			return nil, fmt.Errorf("duplicate guideline for %s/%s/%s", entry.Gene, entry.Drug, entry.Phenotype)
		}
		b.guidelines[key] = entry
	}

	return b, nil
}

func buildGene(gd GeneDoc) (*gene, error) {
	symbol := strings.ToUpper(strings.TrimSpace(gd.Symbol))
	if symbol == "" || symbol == domain.UnknownGene {
		return nil, fmt.Errorf("invalid gene symbol %q", gd.Symbol)
	}
	if len(gd.Positions) == 0 {
		return nil, fmt.Errorf("gene %s defines no positions", symbol)
	}

	g := &gene{
		info: GeneInfo{
			Symbol:             symbol,
			Chromosome:         domain.NormalizeChromosome(gd.Chromosome),
			MinCalledPositions: gd.MinCalledPositions,
			Drugs:              []string{},
		},
		byLocus:    make(map[string]domain.Position, len(gd.Positions)),
		byRSID:     make(map[string]domain.Position, len(gd.Positions)),
		functions:  make(map[string]domain.AlleleFunction, len(gd.Alleles)),
		diplotypes: make(map[string]domain.Phenotype, len(gd.Diplotypes)),
	}
	if g.info.MinCalledPositions <= 0 {
		g.info.MinCalledPositions = 1
	}

	for _, p := range gd.Positions {
		p.Chromosome = domain.NormalizeChromosome(p.Chromosome)
		p.Reference = strings.ToUpper(p.Reference)
		p.Alternate = strings.ToUpper(p.Alternate)
		if p.Position <= 0 || p.RSID == "" || p.Reference == "" || p.Alternate == "" {
			return nil, fmt.Errorf("gene %s: incomplete position %+v", symbol, p)
		}
		if _, dup := g.byRSID[p.RSID]; dup {
			return nil, fmt.Errorf("gene %s: duplicate position %s", symbol, p.RSID)
		}
		g.byLocus[p.Key()] = p
		g.byRSID[p.RSID] = p
		g.info.Positions = append(g.info.Positions, p)
	}

	signatures := make(map[string]string, len(gd.Alleles))
	for _, ad := range gd.Alleles {
		sig, err := buildAllele(symbol, ad, g.byRSID)
		if err != nil {
			return nil, err
		}
		if _, dup := g.functions[sig.Name]; dup {
			return nil, fmt.Errorf("gene %s: duplicate allele %s", symbol, sig.Name)
		}
		key := signatureKey(sig.Variants)
		if other, dup := signatures[key]; dup {
			return nil, fmt.Errorf("gene %s: alleles %s and %s share a signature", symbol, other, sig.Name)
		}
		signatures[key] = sig.Name
		if sig.IsReference() {
			g.reference = sig.Name
		}
		g.functions[sig.Name] = sig.Function
		g.info.Alleles = append(g.info.Alleles, sig)
	}
	if g.reference == "" {
		return nil, fmt.Errorf("gene %s has no reference allele", symbol)
	}

	for raw, p := range gd.Diplotypes {
		first, second, ok := strings.Cut(raw, "/")
		if !ok {
			return nil, fmt.Errorf("gene %s: malformed diplotype %q", symbol, raw)
		}
		for _, name := range []string{first, second} {
			if _, known := g.functions[name]; !known {
				return nil, fmt.Errorf("gene %s: diplotype %q references unknown allele %s", symbol, raw, name)
			}
		}
		phenotype, err := domain.ParsePhenotype(p)
		if err != nil {
			return nil, fmt.Errorf("gene %s diplotype %s: %w", symbol, raw, err)
		}
		g.diplotypes[domain.NewDiplotype(first, second).String()] = phenotype
	}

	return g, nil
}

func buildAllele(symbol string, ad AlleleDoc, positions map[string]domain.Position) (domain.AlleleSignature, error) {
	fn := domain.AlleleFunction(strings.ToLower(strings.TrimSpace(ad.Function)))
	if !fn.IsValid() {
		return domain.AlleleSignature{}, fmt.Errorf("gene %s allele %s: %w: %q", symbol, ad.Name, domain.ErrInvalidFunction, ad.Function)
	}
	if strings.TrimSpace(ad.Name) == "" {
		return domain.AlleleSignature{}, fmt.Errorf("gene %s: allele with empty name", symbol)
	}

	sig := domain.AlleleSignature{
		Gene:     symbol,
		Name:     strings.TrimSpace(ad.Name),
		Function: fn,
		Variants: []domain.AlleleVariant{},
	}
	seen := make(map[string]bool, len(ad.Variants))
	for _, v := range ad.Variants {
		p, ok := positions[v.RSID]
		if !ok {
			return domain.AlleleSignature{}, fmt.Errorf("gene %s allele %s references unknown position %s", symbol, sig.Name, v.RSID)
		}
		if seen[v.RSID] {
			return domain.AlleleSignature{}, fmt.Errorf("gene %s allele %s lists %s twice", symbol, sig.Name, v.RSID)
		}
		seen[v.RSID] = true
		allele := strings.ToUpper(v.Allele)
		if allele == "" {
			allele = p.Alternate
		}
		sig.Variants = append(sig.Variants, domain.AlleleVariant{Position: p, Allele: allele})
	}
	return sig, nil
}

func buildGuideline(gl GuidelineDoc) (domain.GuidelineEntry, error) {
	phenotype, err := domain.ParsePhenotype(gl.Phenotype)
	if err != nil {
		return domain.GuidelineEntry{}, err
	}
	risk := domain.RiskLabel(strings.TrimSpace(gl.RiskLabel))
	if !risk.IsValid() {
		return domain.GuidelineEntry{}, fmt.Errorf("%w: %q", domain.ErrInvalidRiskLabel, gl.RiskLabel)
	}
	severity := domain.Severity(strings.ToLower(strings.TrimSpace(gl.Severity)))
	if !severity.IsValid() {
		return domain.GuidelineEntry{}, fmt.Errorf("%w: %q", domain.ErrInvalidSeverity, gl.Severity)
	}
	if strings.TrimSpace(gl.Action) == "" {
		return domain.GuidelineEntry{}, errors.New("guideline action is empty")
	}

	alternatives := make([]string, 0, len(gl.AlternativeDrugs))
	for _, d := range gl.AlternativeDrugs {
		alternatives = append(alternatives, domain.NormalizeDrug(d))
	}
	citation := gl.Citation
	if citation == "" {
		citation = DefaultCitation
	}

	return domain.GuidelineEntry{
		Gene:               strings.ToUpper(strings.TrimSpace(gl.Gene)),
		Drug:               domain.NormalizeDrug(gl.Drug),
		Phenotype:          phenotype,
		RiskLabel:          risk,
		Severity:           severity,
		Action:             gl.Action,
		Citation:           citation,
		AlternativeDrugs:   alternatives,
		MonitoringRequired: gl.MonitoringRequired,
	}, nil
}

func signatureKey(variants []domain.AlleleVariant) string {
	parts := make([]string, 0, len(variants))
	for _, v := range variants {
		parts = append(parts, v.Position.RSID+">"+v.Allele)
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
