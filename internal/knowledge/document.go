package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/pharmaguard-server/internal/domain"
)

// Document is the serialized form of the reference tables. It is what the
// embedded YAML file, operator-supplied files and the SQL reference store
// all decode into before a Base is built.
type Document struct {
	Version    string         `yaml:"version" json:"version"`
	Drugs      []DrugDoc      `yaml:"drugs" json:"drugs"`
	Genes      []GeneDoc      `yaml:"genes" json:"genes"`
	Guidelines []GuidelineDoc `yaml:"guidelines" json:"guidelines"`
}

// DrugDoc maps a drug to its primary pharmacogene.
type DrugDoc struct {
	Name string `yaml:"name" json:"name"`
	Gene string `yaml:"gene" json:"gene"`
}

// GeneDoc holds the positions, star alleles and diplotype table of a gene.
type GeneDoc struct {
	Symbol             string            `yaml:"symbol" json:"symbol"`
	Chromosome         string            `yaml:"chromosome" json:"chromosome"`
	MinCalledPositions int               `yaml:"min_called_positions" json:"min_called_positions"`
	Positions          []domain.Position `yaml:"positions" json:"positions"`
	Alleles            []AlleleDoc       `yaml:"alleles" json:"alleles"`
	Diplotypes         map[string]string `yaml:"diplotypes" json:"diplotypes"`
}

// AlleleDoc is a star allele definition.
type AlleleDoc struct {
	Name     string       `yaml:"name" json:"name"`
	Function string       `yaml:"function" json:"function"`
	Variants []VariantDoc `yaml:"variants" json:"variants"`
}

// VariantDoc references a position of interest by rsID.
type VariantDoc struct {
	RSID   string `yaml:"rsid" json:"rsid"`
	Allele string `yaml:"allele" json:"allele"`
}

// GuidelineDoc is one (gene, drug, phenotype) recommendation row.
type GuidelineDoc struct {
	Gene               string   `yaml:"gene" json:"gene"`
	Drug               string   `yaml:"drug" json:"drug"`
	Phenotype          string   `yaml:"phenotype" json:"phenotype"`
	RiskLabel          string   `yaml:"risk_label" json:"risk_label"`
	Severity           string   `yaml:"severity" json:"severity"`
	Action             string   `yaml:"action" json:"action"`
	Citation           string   `yaml:"citation" json:"citation"`
	AlternativeDrugs   []string `yaml:"alternative_drugs" json:"alternative_drugs"`
	MonitoringRequired bool     `yaml:"monitoring_required" json:"monitoring_required"`
}

// ParseDocument decodes a YAML reference document.
func ParseDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.UnmarshalStrict(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode reference document: %w", err)
	}
	return doc, nil
}

// ReadDocumentFile reads a YAML reference document from disk.
func ReadDocumentFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference document: %w", err)
	}
	return ParseDocument(data)
}

// EmbeddedDocument returns the reference document shipped with the binary.
func EmbeddedDocument() (*Document, error) {
	return ParseDocument(embeddedData)
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
