package service

import (
	"math"
	"sync"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/vcf"
)

// QualityTracker aggregates per-request quality metrics. Genes are marked
// from concurrent drug evaluations, so it is safe for concurrent use.
type QualityTracker struct {
	mu        sync.Mutex
	parsed    int
	malformed int
	genes     map[string]struct{}
	defined   int
	called    int
}

// NewQualityTracker creates an empty tracker.
func NewQualityTracker() *QualityTracker {
	return &QualityTracker{genes: make(map[string]struct{})}
}

// RecordParse stores the reader's final counters.
func (q *QualityTracker) RecordParse(stats vcf.Stats) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.parsed = stats.Parsed
	q.malformed = stats.Malformed
}

// MarkAnalyzed records that a guideline lookup was attempted for the call's
// gene. Each gene contributes its positions once.
func (q *QualityTracker) MarkAnalyzed(call GeneCall) {
	if call.Gene == domain.UnknownGene {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, seen := q.genes[call.Gene]; seen {
		return
	}
	q.genes[call.Gene] = struct{}{}
	q.defined += call.DefinedPositions
	q.called += call.CalledPositions
}

// Completeness is called / defined positions over analyzed genes, or 1.0
// when nothing was analyzed.
func (q *QualityTracker) Completeness() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completenessLocked()
}

func (q *QualityTracker) completenessLocked() float64 {
	if q.defined == 0 {
		return 1.0
	}
	return math.Round(clamp01(float64(q.called)/float64(q.defined))*10000) / 10000
}

// Metrics returns a snapshot suitable for attaching to results.
func (q *QualityTracker) Metrics() domain.QualityMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.QualityMetrics{
		VCFParsingSuccess:     q.parsed > 0 || q.malformed == 0,
		VariantsDetected:      q.parsed,
		GenesAnalyzed:         domain.SortedGenes(q.genes),
		DataCompletenessScore: q.completenessLocked(),
		MalformedRecords:      q.malformed,
	}
}
