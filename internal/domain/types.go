// Package domain contains the core entities and closed enumerations used for
// pharmacogenomic inference: metabolizer phenotypes, risk labels, severities,
// allele functions and genotype zygosity.
//
// Reference: Caudle et al. (2017) Standardizing terms for clinical
// pharmacogenetic test results: consensus terms from the Clinical
// Pharmacogenetics Implementation Consortium (CPIC). Genet Med. 19(2):215-223.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownGene is the primary gene assigned to drugs without a pharmacogene association.
const UnknownGene = "UNKNOWN"

// Phenotype represents a CPIC metabolizer status.
type Phenotype string

const (
	PM            Phenotype = "PM"
	IM            Phenotype = "IM"
	NM            Phenotype = "NM"
	RM            Phenotype = "RM"
	URM           Phenotype = "URM"
	INDETERMINATE Phenotype = "Indeterminate"
)

// Severity represents the clinical severity of a drug-gene interaction.
type Severity string

const (
	SEVERITY_NONE     Severity = "none"
	SEVERITY_LOW      Severity = "low"
	SEVERITY_MODERATE Severity = "moderate"
	SEVERITY_HIGH     Severity = "high"
	SEVERITY_CRITICAL Severity = "critical"
)

// RiskLabel represents the overall risk assessment for a drug.
type RiskLabel string

const (
	RISK_SAFE           RiskLabel = "Safe"
	RISK_ADJUST_DOSAGE  RiskLabel = "Adjust Dosage"
	RISK_TOXIC          RiskLabel = "Toxic"
	RISK_INEFFECTIVE    RiskLabel = "Ineffective"
	RISK_UNKNOWN        RiskLabel = "Unknown"
	RISK_ANALYSIS_ERROR RiskLabel = "Analysis Error"
)

// AlleleFunction represents the CPIC functional status of a star allele.
type AlleleFunction string

const (
	FUNCTION_NORMAL    AlleleFunction = "normal"
	FUNCTION_DECREASED AlleleFunction = "decreased"
	FUNCTION_NONE      AlleleFunction = "no_function"
	FUNCTION_INCREASED AlleleFunction = "increased"
	FUNCTION_UNCERTAIN AlleleFunction = "uncertain"
)

// Zygosity describes a diploid genotype call relative to the reference.
type Zygosity string

const (
	HOMOZYGOUS_REFERENCE Zygosity = "homozygous_reference"
	HETEROZYGOUS         Zygosity = "heterozygous"
	HOMOZYGOUS_ALTERNATE Zygosity = "homozygous_alternate"
	ZYGOSITY_MISSING     Zygosity = "missing"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidPhenotype  = errors.New("invalid metabolizer phenotype")
	ErrInvalidSeverity   = errors.New("invalid severity")
	ErrInvalidRiskLabel  = errors.New("invalid risk label")
	ErrInvalidFunction   = errors.New("invalid allele function")
	ErrEmptyDrugList     = errors.New("drug list is empty")
	ErrNoKnowledgeSource = errors.New("no knowledge base source configured")
)

// IsValid reports whether the phenotype is one of the CPIC categories.
func (p Phenotype) IsValid() bool {
	switch p {
	case PM, IM, NM, RM, URM, INDETERMINATE:
		return true
	default:
		return false
	}
}

// String returns the string representation of the phenotype.
func (p Phenotype) String() string {
	return string(p)
}

// Description returns the CPIC term for the phenotype.
func (p Phenotype) Description() string {
	switch p {
	case PM:
		return "Poor Metabolizer"
	case IM:
		return "Intermediate Metabolizer"
	case NM:
		return "Normal Metabolizer"
	case RM:
		return "Rapid Metabolizer"
	case URM:
		return "Ultrarapid Metabolizer"
	default:
		return "Indeterminate"
	}
}

// ParsePhenotype parses a phenotype code, accepting the legacy "Unknown" spelling.
func ParsePhenotype(s string) (Phenotype, error) {
	v := strings.TrimSpace(s)
	if strings.EqualFold(v, "unknown") {
		return INDETERMINATE, nil
	}
	for _, p := range []Phenotype{PM, IM, NM, RM, URM, INDETERMINATE} {
		if strings.EqualFold(v, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhenotype, s)
}

// IsValid reports whether the severity is known.
func (s Severity) IsValid() bool {
	switch s {
	case SEVERITY_NONE, SEVERITY_LOW, SEVERITY_MODERATE, SEVERITY_HIGH, SEVERITY_CRITICAL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid reports whether the risk label is known. RISK_ANALYSIS_ERROR is
// produced by the engine only and never appears in reference data.
func (r RiskLabel) IsValid() bool {
	switch r {
	case RISK_SAFE, RISK_ADJUST_DOSAGE, RISK_TOXIC, RISK_INEFFECTIVE, RISK_UNKNOWN:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk label.
func (r RiskLabel) String() string {
	return string(r)
}

// IsValid reports whether the allele function is known.
func (f AlleleFunction) IsValid() bool {
	switch f {
	case FUNCTION_NORMAL, FUNCTION_DECREASED, FUNCTION_NONE, FUNCTION_INCREASED, FUNCTION_UNCERTAIN:
		return true
	default:
		return false
	}
}

// String returns the string representation of the allele function.
func (f AlleleFunction) String() string {
	return string(f)
}

// String returns the string representation of the zygosity.
func (z Zygosity) String() string {
	return string(z)
}
