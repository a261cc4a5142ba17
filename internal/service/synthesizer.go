package service

import (
	"fmt"
	"math"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

// Confidence tiers. Each band is disjoint from the next so that a resolved,
// guideline-backed result always outranks an indeterminate one, which in
// turn outranks a drug with no known gene, whatever the completeness.
const (
	confidenceFullBase          = 0.70
	confidenceFullSpan          = 0.30
	confidenceNoGuidelineBase   = 0.45
	confidenceNoGuidelineSpan   = 0.15
	confidenceIndeterminateBase = 0.25
	confidenceIndeterminateSpan = 0.15
	ConfidenceUnknownGene       = 0.10
	ConfidenceAnalysisError     = 0.0
)

// Synthesis is the structured part of a per-drug result.
type Synthesis struct {
	Risk           domain.RiskAssessment
	Profile        domain.PharmacogenomicProfile
	Recommendation domain.ClinicalRecommendation
	GuidelineFound bool
}

// Synthesizer combines a gene call, its phenotype and the guideline tables
// into a risk assessment and recommendation. It has no side effects.
type Synthesizer struct {
	kb *knowledge.Base
}

// NewSynthesizer creates a new synthesizer
func NewSynthesizer(kb *knowledge.Base) *Synthesizer {
	return &Synthesizer{kb: kb}
}

// Synthesize builds the risk assessment for drug. The returned error marks an
// internal inconsistency; callers degrade only the affected drug.
func (s *Synthesizer) Synthesize(drug string, call GeneCall, phenotype domain.Phenotype) (Synthesis, error) {
	geneKnown := call.Gene != domain.UnknownGene
	resolved := !call.Diplotype.Indeterminate

	var (
		entry domain.GuidelineEntry
		found bool
	)
	if geneKnown {
		entry, found = s.kb.GuidelineFor(call.Gene, drug, phenotype)
	}

	out := Synthesis{
		Profile: domain.PharmacogenomicProfile{
			PrimaryGene:      call.Gene,
			Diplotype:        call.Diplotype.String(),
			Phenotype:        phenotype,
			DetectedVariants: detectedVariants(call.Variants),
		},
		GuidelineFound: found,
	}

	if found {
		if entry.Gene != call.Gene || entry.Phenotype != phenotype {
			return Synthesis{}, fmt.Errorf("guideline %s/%s does not match call %s/%s", entry.Gene, entry.Phenotype, call.Gene, phenotype)
		}
		severity := entry.Severity
		if phenotype == domain.NM {
			severity = domain.SEVERITY_NONE
		}
		out.Risk = domain.RiskAssessment{RiskLabel: entry.RiskLabel, Severity: severity}
		out.Recommendation = domain.ClinicalRecommendation{
			Action:             entry.Action,
			CPICGuideline:      entry.Citation,
			AlternativeDrugs:   entry.AlternativeDrugs,
			MonitoringRequired: entry.MonitoringRequired,
		}
	} else {
		out.Risk = domain.RiskAssessment{RiskLabel: domain.RISK_UNKNOWN, Severity: domain.SEVERITY_NONE}
		out.Recommendation = DefaultRecommendation()
	}
	out.Risk.ConfidenceScore = ConfidenceScore(geneKnown, resolved, found, call.Completeness())

	if !out.Risk.RiskLabel.IsValid() || !out.Risk.Severity.IsValid() {
		return Synthesis{}, fmt.Errorf("invalid risk assessment %q/%q", out.Risk.RiskLabel, out.Risk.Severity)
	}
	return out, nil
}

// DefaultRecommendation is used when no guideline entry applies.
func DefaultRecommendation() domain.ClinicalRecommendation {
	return domain.ClinicalRecommendation{
		Action:             knowledge.DefaultAction,
		CPICGuideline:      knowledge.DefaultCitation,
		AlternativeDrugs:   []string{},
		MonitoringRequired: false,
	}
}

// ConfidenceScore places a result in its tier and scales it by the gene's
// completeness. Scores are rounded to two decimals.
//
//	gene known, diplotype resolved, guideline found   0.70 + 0.30c
//	gene known, diplotype resolved, no guideline      0.45 + 0.15c
//	gene known, diplotype indeterminate               0.25 + 0.15c
//	no gene for the drug                              0.10
func ConfidenceScore(geneKnown, resolved, guidelineFound bool, completeness float64) float64 {
	c := clamp01(completeness)
	var score float64
	switch {
	case !geneKnown:
		score = ConfidenceUnknownGene
	case !resolved:
		score = confidenceIndeterminateBase + confidenceIndeterminateSpan*c
	case !guidelineFound:
		score = confidenceNoGuidelineBase + confidenceNoGuidelineSpan*c
	default:
		score = confidenceFullBase + confidenceFullSpan*c
	}
	return math.Round(score*100) / 100
}

func detectedVariants(records []domain.VariantRecord) []domain.DetectedVariant {
	out := make([]domain.DetectedVariant, 0, len(records))
	for _, r := range records {
		out = append(out, domain.NewDetectedVariant(r))
	}
	return out
}
