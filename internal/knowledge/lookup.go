package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pharmaguard-server/internal/domain"
)

// Version returns the reference data version.
func (b *Base) Version() string {
	return b.version
}

// Document returns a copy of the document the base was built from.
func (b *Base) Document() Document {
	return b.doc
}

// GeneForDrug resolves a drug name, ignoring case and surrounding
// whitespace. Unmapped drugs resolve to domain.UnknownGene.
func (b *Base) GeneForDrug(drug string) string {
	if g, ok := b.drugGene[domain.NormalizeDrug(drug)]; ok {
		return g
	}
	return domain.UnknownGene
}

// HasGene reports whether the gene has reference tables.
func (b *Base) HasGene(symbol string) bool {
	_, ok := b.genes[symbol]
	return ok
}

// PositionsOfInterest returns the sites that define the gene's star alleles.
func (b *Base) PositionsOfInterest(symbol string) []domain.Position {
	g, ok := b.genes[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.Position, len(g.info.Positions))
	copy(out, g.info.Positions)
	return out
}

// MatchPosition finds the position of interest a record describes, first by
// chromosome and position, then by rsID for files on another assembly.
func (b *Base) MatchPosition(symbol string, rec domain.VariantRecord) (domain.Position, bool) {
	g, ok := b.genes[symbol]
	if !ok {
		return domain.Position{}, false
	}
	if p, ok := g.byLocus[domain.LocusKey(rec.Chromosome, rec.Position)]; ok {
		return p, true
	}
	for _, id := range strings.Split(rec.ID, ";") {
		if p, ok := g.byRSID[strings.TrimSpace(id)]; ok {
			return p, true
		}
	}
	return domain.Position{}, false
}

// Alleles returns the gene's star-allele signatures, reference included.
func (b *Base) Alleles(symbol string) []domain.AlleleSignature {
	g, ok := b.genes[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.AlleleSignature, len(g.info.Alleles))
	copy(out, g.info.Alleles)
	return out
}

// ReferenceAllele returns the name of the gene's variant-free allele.
func (b *Base) ReferenceAllele(symbol string) string {
	if g, ok := b.genes[symbol]; ok {
		return g.reference
	}
	return "*1"
}

// MinCalledPositions returns how many positions must be genotyped before a
// diplotype can be called.
func (b *Base) MinCalledPositions(symbol string) int {
	if g, ok := b.genes[symbol]; ok {
		return g.info.MinCalledPositions
	}
	return 1
}

// ResolveAllele returns the signature whose variant set is exactly the given
// rsID to allele mapping. An empty mapping resolves to the reference allele.
func (b *Base) ResolveAllele(symbol string, carried map[string]string) (domain.AlleleSignature, bool) {
	g, ok := b.genes[symbol]
	if !ok {
		return domain.AlleleSignature{}, false
	}
	for _, sig := range g.info.Alleles {
		if len(sig.Variants) != len(carried) {
			continue
		}
		match := true
		for _, v := range sig.Variants {
			if !strings.EqualFold(carried[v.Position.RSID], v.Allele) {
				match = false
				break
			}
		}
		if match {
			return sig, true
		}
	}
	return domain.AlleleSignature{}, false
}

// PhenotypeOf maps a diplotype to a metabolizer phenotype. Indeterminate
// diplotypes stay indeterminate, and drugs without a gene are reported as
// normal metabolizers. Diplotypes missing from the gene's table fall back to
// the combined function of both alleles.
func (b *Base) PhenotypeOf(symbol string, d domain.Diplotype) domain.Phenotype {
	if d.Indeterminate {
		return domain.INDETERMINATE
	}
	if symbol == domain.UnknownGene {
		return domain.NM
	}
	g, ok := b.genes[symbol]
	if !ok {
		return domain.INDETERMINATE
	}
	if p, ok := g.diplotypes[domain.NewDiplotype(d.First, d.Second).String()]; ok {
		return p
	}
	first, okFirst := g.functions[d.First]
	second, okSecond := g.functions[d.Second]
	if !okFirst || !okSecond {
		return domain.INDETERMINATE
	}
	return PhenotypeFromFunctions(first, second)
}

// ParseDiplotype reads "*1/*2" for a supported gene, rejecting alleles the
// gene does not define.
func (b *Base) ParseDiplotype(symbol, raw string) (domain.Diplotype, error) {
	g, ok := b.genes[symbol]
	if !ok {
		return domain.Diplotype{}, fmt.Errorf("gene %s is not supported", symbol)
	}
	first, second, ok := strings.Cut(strings.TrimSpace(raw), "/")
	first, second = strings.TrimSpace(first), strings.TrimSpace(second)
	if !ok || first == "" || second == "" {
		return domain.Diplotype{}, fmt.Errorf("diplotype %q must look like *1/*2", raw)
	}
	for _, name := range []string{first, second} {
		if _, known := g.functions[name]; !known {
			return domain.Diplotype{}, fmt.Errorf("unknown star allele %s for %s", name, symbol)
		}
	}
	return domain.NewDiplotype(first, second), nil
}

// GuidelineFor returns the recommendation for (gene, drug, phenotype).
func (b *Base) GuidelineFor(symbol, drug string, phenotype domain.Phenotype) (domain.GuidelineEntry, bool) {
	entry, ok := b.guidelines[guidelineKey{gene: symbol, drug: domain.NormalizeDrug(drug), phenotype: phenotype}]
	if !ok {
		return domain.GuidelineEntry{}, false
	}
	entry.AlternativeDrugs = append([]string{}, entry.AlternativeDrugs...)
	return entry, true
}

// Drugs lists supported drugs sorted by name.
func (b *Base) Drugs() []DrugInfo {
	out := make([]DrugInfo, 0, len(b.drugGene))
	for name, g := range b.drugGene {
		out = append(out, DrugInfo{Name: name, Gene: g})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Genes lists supported gene symbols in sorted order.
func (b *Base) Genes() []string {
	out := make([]string, 0, len(b.genes))
	for s := range b.genes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Gene returns a copy of the gene's reference tables.
func (b *Base) Gene(symbol string) (GeneInfo, bool) {
	g, ok := b.genes[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return GeneInfo{}, false
	}
	info := g.info
	info.Positions = b.PositionsOfInterest(info.Symbol)
	info.Alleles = b.Alleles(info.Symbol)
	info.Drugs = append([]string{}, g.info.Drugs...)
	return info, true
}

// GuidelineCount returns the number of guideline entries.
func (b *Base) GuidelineCount() int {
	return len(b.guidelines)
}
