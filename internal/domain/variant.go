package domain

import (
	"fmt"
	"strings"
)

// MissingAllele marks an uncalled allele in a genotype.
const MissingAllele = -1

// Genotype is a diploid GT call. Allele indexes refer to REF (0) and the
// ALT list (1..n); MissingAllele marks a no-call.
type Genotype struct {
	Alleles [2]int `json:"alleles"`
	Phased  bool   `json:"phased"`
}

// MissingGenotype returns an uncalled diploid genotype.
func MissingGenotype() Genotype {
	return Genotype{Alleles: [2]int{MissingAllele, MissingAllele}}
}

// IsMissing reports whether either allele is uncalled.
func (g Genotype) IsMissing() bool {
	return g.Alleles[0] == MissingAllele || g.Alleles[1] == MissingAllele
}

// Zygosity classifies the call relative to the reference.
func (g Genotype) Zygosity() Zygosity {
	switch {
	case g.IsMissing():
		return ZYGOSITY_MISSING
	case g.Alleles[0] == 0 && g.Alleles[1] == 0:
		return HOMOZYGOUS_REFERENCE
	case g.Alleles[0] == g.Alleles[1]:
		return HOMOZYGOUS_ALTERNATE
	default:
		return HETEROZYGOUS
	}
}

// String renders the genotype in VCF GT notation.
func (g Genotype) String() string {
	sep := "/"
	if g.Phased {
		sep = "|"
	}
	parts := make([]string, 2)
	for i, a := range g.Alleles {
		if a == MissingAllele {
			parts[i] = "."
		} else {
			parts[i] = fmt.Sprintf("%d", a)
		}
	}
	return parts[0] + sep + parts[1]
}

// VariantRecord is one normalized data line of a VCF stream. It is never
// modified after the reader emits it.
type VariantRecord struct {
	Chromosome string   `json:"chromosome"`
	Position   int64    `json:"position"`
	ID         string   `json:"id"`
	Reference  string   `json:"reference"`
	Alternates []string `json:"alternates"`
	Genotype   Genotype `json:"genotype"`
	Quality    string   `json:"quality"`
	Filter     string   `json:"filter"`
	Gene       string   `json:"gene,omitempty"`
	Line       int      `json:"line"`
}

// PassesFilter reports whether the FILTER column is PASS or unset.
func (r VariantRecord) PassesFilter() bool {
	return r.Filter == "" || r.Filter == "." || strings.EqualFold(r.Filter, "PASS")
}

// HasCall reports whether the record carries a usable genotype.
func (r VariantRecord) HasCall() bool {
	return !r.Genotype.IsMissing()
}

// Dosage returns how many called alleles carry the given alternate sequence.
func (r VariantRecord) Dosage(alt string) int {
	n := 0
	for _, a := range r.Genotype.Alleles {
		if a > 0 && a <= len(r.Alternates) && strings.EqualFold(r.Alternates[a-1], alt) {
			n++
		}
	}
	return n
}

// CarriesAlternate reports whether any called allele is non-reference.
func (r VariantRecord) CarriesAlternate() bool {
	for _, a := range r.Genotype.Alleles {
		if a > 0 {
			return true
		}
	}
	return false
}

// Position identifies a genomic site of pharmacogenomic interest.
type Position struct {
	Chromosome string `json:"chromosome" yaml:"chromosome"`
	Position   int64  `json:"position" yaml:"position"`
	RSID       string `json:"rsid" yaml:"rsid"`
	Reference  string `json:"ref" yaml:"ref"`
	Alternate  string `json:"alt" yaml:"alt"`
}

// Key returns the normalized chrom:pos key for the site.
func (p Position) Key() string {
	return LocusKey(p.Chromosome, p.Position)
}

// LocusKey builds a chrom:pos key with any "chr" prefix removed.
func LocusKey(chrom string, pos int64) string {
	return fmt.Sprintf("%s:%d", NormalizeChromosome(chrom), pos)
}

// NormalizeChromosome strips the "chr" prefix and upper-cases the name.
// "M" and "MT" are both reported as "MT".
func NormalizeChromosome(chrom string) string {
	c := strings.TrimSpace(chrom)
	if len(c) > 3 && strings.EqualFold(c[:3], "chr") {
		c = c[3:]
	}
	c = strings.ToUpper(c)
	if c == "M" {
		return "MT"
	}
	return c
}
