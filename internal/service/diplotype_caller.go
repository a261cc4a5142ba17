package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

// Call outcomes reported in logs and on GeneCall.
const (
	CallResolved          = "resolved"
	CallNoVariants        = "reference_fallback"
	CallInsufficientCalls = "insufficient_calls"
	CallNoConsistentPair  = "no_consistent_pair"
	CallUnsupportedGene   = "unsupported_gene"
)

// GeneCall is the diplotype resolved for one gene plus the evidence behind it.
type GeneCall struct {
	Gene              string
	Diplotype         domain.Diplotype
	Outcome           string
	Variants          []domain.VariantRecord
	DefinedPositions  int
	CalledPositions   int
	ObservedAlternate bool
	// UnknownAlternates counts calls at a position of interest whose
	// alternate base no signature defines. They are read as reference.
	UnknownAlternates int
}

// Completeness is the fraction of positions of interest that were genotyped.
// Genes without positions are vacuously complete.
func (c GeneCall) Completeness() float64 {
	if c.DefinedPositions == 0 {
		return 1.0
	}
	return clamp01(float64(c.CalledPositions) / float64(c.DefinedPositions))
}

// observation holds the alternate dosage per base seen at a called position.
type observation struct {
	called bool
	dosage map[string]int
}

type candidate struct {
	first, second domain.AlleleSignature
	unknown       int
	variants      int
	nonReference  int
}

// DiplotypeCaller resolves star-allele pairs from genotype calls.
type DiplotypeCaller struct {
	logger       *logrus.Logger
	kb           *knowledge.Base
	honorFilters bool
	minCalled    int
}

// NewDiplotypeCaller creates a caller. minCalled raises, but never lowers,
// the per-gene minimum number of genotyped positions.
func NewDiplotypeCaller(logger *logrus.Logger, kb *knowledge.Base, honorFilters bool, minCalled int) *DiplotypeCaller {
	return &DiplotypeCaller{
		logger:       logger,
		kb:           kb,
		honorFilters: honorFilters,
		minCalled:    minCalled,
	}
}

// Call resolves the diplotype for gene from the full record set.
//
// Every unordered pair of the gene's signatures, reference included, is
// tested against the observed alternate dosage at each called position. Among
// consistent pairs the caller prefers, in order: fewest defining variants at
// uncalled positions, fewest defining variants overall, fewest non-reference
// alleles, then allele-name order. Without enough calls, or without a
// consistent pair, the result is reference/reference when no variant of
// interest was seen and Indeterminate otherwise.
func (c *DiplotypeCaller) Call(gene string, records []domain.VariantRecord) GeneCall {
	if gene == domain.UnknownGene || !c.kb.HasGene(gene) {
		return GeneCall{
			Gene:      gene,
			Diplotype: domain.NewDiplotype("*1", "*1"),
			Outcome:   CallUnsupportedGene,
			Variants:  []domain.VariantRecord{},
		}
	}

	positions := c.kb.PositionsOfInterest(gene)
	alleles := c.kb.Alleles(gene)
	bases := basesOfInterest(positions, alleles)

	obs := make(map[string]*observation, len(positions))
	for _, p := range positions {
		obs[p.RSID] = &observation{dosage: map[string]int{}}
	}

	call := GeneCall{
		Gene:             gene,
		DefinedPositions: len(positions),
		Variants:         []domain.VariantRecord{},
	}

	for _, rec := range records {
		p, ok := c.kb.MatchPosition(gene, rec)
		if !ok || !rec.HasCall() {
			continue
		}
		if c.honorFilters && !rec.PassesFilter() {
			continue
		}
		o := obs[p.RSID]
		o.called = true
		carries := false
		for _, base := range bases[p.RSID] {
			d := rec.Dosage(base)
			if d > o.dosage[base] {
				o.dosage[base] = d
			}
			if d > 0 {
				carries = true
			}
		}
		if carries {
			call.ObservedAlternate = true
			call.Variants = append(call.Variants, rec)
		} else if rec.CarriesAlternate() {
			call.UnknownAlternates++
			c.logger.WithFields(logrus.Fields{
				"gene":       gene,
				"rsid":       p.RSID,
				"alternates": rec.Alternates,
			}).Debug("Alternate allele not defined for position of interest")
		}
	}

	for _, o := range obs {
		if o.called {
			call.CalledPositions++
		}
	}

	minCalled := c.kb.MinCalledPositions(gene)
	if c.minCalled > minCalled {
		minCalled = c.minCalled
	}
	if call.CalledPositions < minCalled {
		return c.fallback(call, CallInsufficientCalls)
	}

	best, ok := bestCandidate(alleles, obs, bases)
	if !ok {
		return c.fallback(call, CallNoConsistentPair)
	}

	call.Diplotype = domain.NewDiplotype(best.first.Name, best.second.Name)
	call.Outcome = CallResolved
	c.logger.WithFields(logrus.Fields{
		"gene":             gene,
		"diplotype":        call.Diplotype.String(),
		"called_positions": call.CalledPositions,
		"unknown":          best.unknown,
	}).Debug("Diplotype resolved")
	return call
}

func (c *DiplotypeCaller) fallback(call GeneCall, reason string) GeneCall {
	if call.ObservedAlternate {
		call.Diplotype = domain.IndeterminateDiplotype()
		call.Outcome = reason
	} else {
		ref := c.kb.ReferenceAllele(call.Gene)
		call.Diplotype = domain.NewDiplotype(ref, ref)
		call.Outcome = CallNoVariants
	}
	c.logger.WithFields(logrus.Fields{
		"gene":             call.Gene,
		"diplotype":        call.Diplotype.String(),
		"reason":           reason,
		"called_positions": call.CalledPositions,
	}).Debug("Diplotype fallback applied")
	return call
}

func bestCandidate(alleles []domain.AlleleSignature, obs map[string]*observation, bases map[string][]string) (candidate, bool) {
	var best candidate
	found := false
	for i := range alleles {
		for j := i; j < len(alleles); j++ {
			cand, ok := evaluatePair(alleles[i], alleles[j], obs, bases)
			if !ok {
				continue
			}
			if !found || better(cand, best) {
				best = cand
				found = true
			}
		}
	}
	return best, found
}

// evaluatePair reports whether the pair predicts exactly the observed dosage
// at every called position.
func evaluatePair(a, b domain.AlleleSignature, obs map[string]*observation, bases map[string][]string) (candidate, bool) {
	cand := candidate{first: a, second: b, variants: len(a.Variants) + len(b.Variants)}
	for _, sig := range []domain.AlleleSignature{a, b} {
		if !sig.IsReference() {
			cand.nonReference++
		}
		for _, v := range sig.Variants {
			if !obs[v.Position.RSID].called {
				cand.unknown++
			}
		}
	}

	for rsid, o := range obs {
		if !o.called {
			continue
		}
		for _, base := range bases[rsid] {
			if expectedDosage(a, rsid, base)+expectedDosage(b, rsid, base) != o.dosage[base] {
				return candidate{}, false
			}
		}
	}
	return cand, true
}

func expectedDosage(sig domain.AlleleSignature, rsid, base string) int {
	for _, v := range sig.Variants {
		if v.Position.RSID == rsid && strings.EqualFold(v.Allele, base) {
			return 1
		}
	}
	return 0
}

func better(a, b candidate) bool {
	if a.unknown != b.unknown {
		return a.unknown < b.unknown
	}
	if a.variants != b.variants {
		return a.variants < b.variants
	}
	if a.nonReference != b.nonReference {
		return a.nonReference < b.nonReference
	}
	da := domain.NewDiplotype(a.first.Name, a.second.Name)
	db := domain.NewDiplotype(b.first.Name, b.second.Name)
	if cmp := domain.CompareAlleleNames(da.First, db.First); cmp != 0 {
		return cmp < 0
	}
	return domain.CompareAlleleNames(da.Second, db.Second) < 0
}

// basesOfInterest collects, per position, every alternate base that a
// signature or the position definition names.
func basesOfInterest(positions []domain.Position, alleles []domain.AlleleSignature) map[string][]string {
	out := make(map[string][]string, len(positions))
	add := func(rsid, base string) {
		base = strings.ToUpper(base)
		for _, b := range out[rsid] {
			if b == base {
				return
			}
		}
		out[rsid] = append(out[rsid], base)
	}
	for _, p := range positions {
		add(p.RSID, p.Alternate)
	}
	for _, a := range alleles {
		for _, v := range a.Variants {
			add(v.Position.RSID, v.Allele)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
