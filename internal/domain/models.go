package domain

import (
	"io"
	"sort"
	"strconv"
	"strings"
)

// AlleleVariant is one (position, allele) requirement of a star allele.
type AlleleVariant struct {
	Position Position `json:"position"`
	Allele   string   `json:"allele"`
}

// AlleleSignature is a named star allele defined by the alternate alleles it
// carries. The reference allele has no variants.
type AlleleSignature struct {
	Gene     string          `json:"gene"`
	Name     string          `json:"name"`
	Function AlleleFunction  `json:"function"`
	Variants []AlleleVariant `json:"variants"`
}

// IsReference reports whether the signature carries no variants.
func (a AlleleSignature) IsReference() bool {
	return len(a.Variants) == 0
}

// Diplotype is the pair of star alleles called for one gene.
type Diplotype struct {
	First         string `json:"first,omitempty"`
	Second        string `json:"second,omitempty"`
	Indeterminate bool   `json:"indeterminate"`
}

// NewDiplotype orders the allele names so that equal pairs render identically.
func NewDiplotype(a, b string) Diplotype {
	if CompareAlleleNames(a, b) > 0 {
		a, b = b, a
	}
	return Diplotype{First: a, Second: b}
}

// IndeterminateDiplotype marks a gene whose calls could not be reconciled.
func IndeterminateDiplotype() Diplotype {
	return Diplotype{Indeterminate: true}
}

// String renders the diplotype as "*1/*2" or "Indeterminate".
func (d Diplotype) String() string {
	if d.Indeterminate {
		return string(INDETERMINATE)
	}
	return d.First + "/" + d.Second
}

// CompareAlleleNames orders star alleles numerically ("*4" before "*10"),
// falling back to plain string order for non-star names.
func CompareAlleleNames(a, b string) int {
	na, sa, okA := splitStarName(a)
	nb, sb, okB := splitStarName(b)
	switch {
	case okA && okB:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
		return strings.Compare(sa, sb)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func splitStarName(name string) (int, string, bool) {
	if !strings.HasPrefix(name, "*") {
		return 0, "", false
	}
	rest := name[1:]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil {
		return 0, "", false
	}
	return n, rest[i:], true
}

// GuidelineEntry is a CPIC recommendation keyed by (gene, drug, phenotype).
type GuidelineEntry struct {
	Gene               string    `json:"gene"`
	Drug               string    `json:"drug"`
	Phenotype          Phenotype `json:"phenotype"`
	RiskLabel          RiskLabel `json:"risk_label"`
	Severity           Severity  `json:"severity"`
	Action             string    `json:"action"`
	Citation           string    `json:"citation"`
	AlternativeDrugs   []string  `json:"alternative_drugs"`
	MonitoringRequired bool      `json:"monitoring_required"`
}

// AnalysisRequest is a single inference invocation.
type AnalysisRequest struct {
	PatientID string
	VCF       io.Reader
	Drugs     []string
}

// ParseDrugList splits a comma-separated drug list, trimming and
// upper-casing each entry. Empty entries are dropped; duplicates are kept.
func ParseDrugList(raw string) []string {
	drugs := []string{}
	for _, d := range strings.Split(raw, ",") {
		d = NormalizeDrug(d)
		if d != "" {
			drugs = append(drugs, d)
		}
	}
	return drugs
}

// NormalizeDrug returns the canonical spelling used for lookups.
func NormalizeDrug(drug string) string {
	return strings.ToUpper(strings.TrimSpace(drug))
}

// AnalysisResult is the per-drug report returned to callers.
type AnalysisResult struct {
	PatientID               string                 `json:"patient_id"`
	Drug                    string                 `json:"drug"`
	Timestamp               string                 `json:"timestamp"`
	RiskAssessment          RiskAssessment         `json:"risk_assessment"`
	PharmacogenomicProfile  PharmacogenomicProfile `json:"pharmacogenomic_profile"`
	ClinicalRecommendation  ClinicalRecommendation `json:"clinical_recommendation"`
	LLMGeneratedExplanation Explanation            `json:"llm_generated_explanation"`
	QualityMetrics          QualityMetrics         `json:"quality_metrics"`
}

// RiskAssessment summarizes the drug risk for the patient.
type RiskAssessment struct {
	RiskLabel       RiskLabel `json:"risk_label"`
	ConfidenceScore float64   `json:"confidence_score"`
	Severity        Severity  `json:"severity"`
}

// PharmacogenomicProfile describes the gene-level call behind a result.
type PharmacogenomicProfile struct {
	PrimaryGene      string            `json:"primary_gene"`
	Diplotype        string            `json:"diplotype"`
	Phenotype        Phenotype         `json:"phenotype"`
	DetectedVariants []DetectedVariant `json:"detected_variants"`
}

// DetectedVariant is the reported view of a contributing VariantRecord.
type DetectedVariant struct {
	RSID       string   `json:"rsid" mapstructure:"rsid"`
	Chromosome string   `json:"chromosome" mapstructure:"chromosome"`
	Position   int64    `json:"position" mapstructure:"position"`
	Ref        string   `json:"ref" mapstructure:"ref"`
	Alt        string   `json:"alt" mapstructure:"alt"`
	Genotype   string   `json:"genotype" mapstructure:"genotype"`
	Zygosity   Zygosity `json:"zygosity" mapstructure:"zygosity"`
}

// NewDetectedVariant converts a parsed record for reporting.
func NewDetectedVariant(r VariantRecord) DetectedVariant {
	return DetectedVariant{
		RSID:       r.ID,
		Chromosome: r.Chromosome,
		Position:   r.Position,
		Ref:        r.Reference,
		Alt:        strings.Join(r.Alternates, ","),
		Genotype:   r.Genotype.String(),
		Zygosity:   r.Genotype.Zygosity(),
	}
}

// ClinicalRecommendation carries the guideline-derived action.
type ClinicalRecommendation struct {
	Action             string   `json:"action"`
	CPICGuideline      string   `json:"cpic_guideline"`
	AlternativeDrugs   []string `json:"alternative_drugs"`
	MonitoringRequired bool     `json:"monitoring_required"`
}

// Explanation is the narrative block produced by an external text generator.
type Explanation struct {
	Summary         string `json:"summary" mapstructure:"summary"`
	Mechanism       string `json:"mechanism" mapstructure:"mechanism"`
	VariantImpact   string `json:"variant_impact" mapstructure:"variant_impact"`
	ClinicalContext string `json:"clinical_context" mapstructure:"clinical_context"`
}

// IsEmpty reports whether no narrative text was produced.
func (e Explanation) IsEmpty() bool {
	return e.Summary == "" && e.Mechanism == "" && e.VariantImpact == "" && e.ClinicalContext == ""
}

// ExplanationFacts are the structured facts handed to the text generator.
type ExplanationFacts struct {
	Drug             string            `json:"drug"`
	Gene             string            `json:"gene"`
	Diplotype        string            `json:"diplotype"`
	Phenotype        Phenotype         `json:"phenotype"`
	RiskLabel        RiskLabel         `json:"risk_label"`
	Severity         Severity          `json:"severity"`
	Action           string            `json:"action"`
	Citation         string            `json:"citation"`
	DetectedVariants []DetectedVariant `json:"detected_variants"`
}

// QualityMetrics annotates every result of a request.
type QualityMetrics struct {
	VCFParsingSuccess     bool     `json:"vcf_parsing_success"`
	VariantsDetected      int      `json:"variants_detected"`
	GenesAnalyzed         []string `json:"genes_analyzed"`
	DataCompletenessScore float64  `json:"data_completeness_score"`
	MalformedRecords      int      `json:"malformed_records"`
}

// SortedGenes returns a sorted copy of the gene set.
func SortedGenes(set map[string]struct{}) []string {
	genes := make([]string, 0, len(set))
	for g := range set {
		genes = append(genes, g)
	}
	sort.Strings(genes)
	return genes
}
