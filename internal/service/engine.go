package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
	"github.com/pharmaguard-server/internal/vcf"
)

const (
	defaultMaxParallelDrugs = 4
	cancelCheckInterval     = 256
	explanationBudgetShare  = 0.8
)

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for result timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithExplainer attaches a narrative explanation provider.
func WithExplainer(p domain.ExplanationProvider) EngineOption {
	return func(e *Engine) {
		e.explainer = p
	}
}

// Engine runs the pharmacogenomic inference pipeline: VCF reading, diplotype
// calling, phenotype resolution and recommendation synthesis. It holds no
// per-request state.
type Engine struct {
	logger      *logrus.Logger
	kb          *knowledge.Base
	cfg         domain.AnalysisConfig
	caller      *DiplotypeCaller
	resolver    *PhenotypeResolver
	synthesizer *Synthesizer
	explainer   domain.ExplanationProvider
	clock       func() time.Time
}

// NewEngine creates a new inference engine
func NewEngine(logger *logrus.Logger, kb *knowledge.Base, cfg domain.AnalysisConfig, opts ...EngineOption) *Engine {
	if cfg.MaxParallelDrugs <= 0 {
		cfg.MaxParallelDrugs = defaultMaxParallelDrugs
	}
	e := &Engine{
		logger:      logger,
		kb:          kb,
		cfg:         cfg,
		caller:      NewDiplotypeCaller(logger, kb, cfg.HonorFilters, cfg.MinCalledPositions),
		resolver:    NewPhenotypeResolver(logger, kb),
		synthesizer: NewSynthesizer(kb),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KnowledgeBase returns the reference tables the engine was built with.
func (e *Engine) KnowledgeBase() *knowledge.Base {
	return e.kb
}

// Analyze evaluates every requested drug against the variant stream.
// Results follow the order of req.Drugs, duplicates included. A stream that
// is not VCF returns *domain.FormatError; an unreadable stream returns
// *domain.ParseError. If ctx ends before every structured result is
// computed, no results are returned. Explanations are attached afterwards
// within a share of the remaining budget and are left empty when it runs out.
func (e *Engine) Analyze(ctx context.Context, req domain.AnalysisRequest) ([]domain.AnalysisResult, error) {
	startTime := time.Now()

	records, tracker, err := e.readVariants(ctx, req)
	if err != nil {
		return nil, err
	}

	drugs := make([]string, 0, len(req.Drugs))
	for _, d := range req.Drugs {
		if n := domain.NormalizeDrug(d); n != "" {
			drugs = append(drugs, n)
		}
	}
	if len(drugs) == 0 {
		return []domain.AnalysisResult{}, nil
	}

	calls := make(map[string]GeneCall)
	for _, drug := range drugs {
		gene := e.kb.GeneForDrug(drug)
		if _, done := calls[gene]; done {
			continue
		}
		calls[gene] = e.caller.Call(gene, records)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timestamp := e.clock().UTC().Format(time.RFC3339)
	results := make([]domain.AnalysisResult, len(drugs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelDrugs)
	for i, drug := range drugs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			call := calls[e.kb.GeneForDrug(drug)]
			results[i] = e.analyzeDrug(req.PatientID, drug, timestamp, call, tracker)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.attachExplanations(ctx, results)

	metrics := tracker.Metrics()
	for i := range results {
		m := metrics
		m.GenesAnalyzed = append([]string{}, metrics.GenesAnalyzed...)
		results[i].QualityMetrics = m
	}

	e.logger.WithFields(logrus.Fields{
		"patient_id":        req.PatientID,
		"drugs":             len(drugs),
		"variants_detected": metrics.VariantsDetected,
		"malformed_records": metrics.MalformedRecords,
		"genes_analyzed":    metrics.GenesAnalyzed,
		"completeness":      metrics.DataCompletenessScore,
		"processing_time":   time.Since(startTime),
	}).Info("Pharmacogenomic analysis completed")

	return results, nil
}

// readVariants drains the stream before any diplotype is called, since a
// call needs every record for its gene.
func (e *Engine) readVariants(ctx context.Context, req domain.AnalysisRequest) ([]domain.VariantRecord, *QualityTracker, error) {
	if req.VCF == nil {
		return nil, nil, &domain.FormatError{Reason: "no variant stream provided"}
	}
	reader, err := vcf.NewReader(req.VCF, e.logger, e.cfg.MaxLineBytes)
	if err != nil {
		return nil, nil, err
	}

	var records []domain.VariantRecord
	for reader.Next() {
		records = append(records, reader.Record())
		if len(records)%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := reader.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read variant stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if samples := reader.Samples(); len(samples) > 1 {
		e.logger.WithFields(logrus.Fields{
			"patient_id": req.PatientID,
			"samples":    len(samples),
			"analyzed":   samples[0],
		}).Warn("Multi-sample VCF, only the first sample is genotyped")
	}

	tracker := NewQualityTracker()
	tracker.RecordParse(reader.Stats())
	return records, tracker, nil
}

// analyzeDrug never fails the batch: a panic or inconsistency yields a
// degraded entry for this drug only.
func (e *Engine) analyzeDrug(patientID, drug, timestamp string, call GeneCall, tracker *QualityTracker) (result domain.AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"drug":  drug,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Drug analysis panicked")
			result = degradedResult(patientID, drug, timestamp, call.Gene)
		}
	}()

	phenotype := e.resolver.Resolve(call)
	tracker.MarkAnalyzed(call)

	synth, err := e.synthesizer.Synthesize(drug, call, phenotype)
	if err != nil {
		e.logger.WithError(err).WithField("drug", drug).Error("Recommendation synthesis failed")
		return degradedResult(patientID, drug, timestamp, call.Gene)
	}

	return domain.AnalysisResult{
		PatientID:              patientID,
		Drug:                   drug,
		Timestamp:              timestamp,
		RiskAssessment:         synth.Risk,
		PharmacogenomicProfile: synth.Profile,
		ClinicalRecommendation: synth.Recommendation,
	}
}

// attachExplanations fills the narrative block of each computed result. The
// provider gets its own deadline, a share of what is left of ctx, so a slow
// provider costs only the explanations.
func (e *Engine) attachExplanations(ctx context.Context, results []domain.AnalysisResult) {
	if e.explainer == nil {
		return
	}
	ectx, cancel := explanationContext(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallelDrugs)
	for i := range results {
		if results[i].RiskAssessment.RiskLabel == domain.RISK_ANALYSIS_ERROR {
			continue
		}
		g.Go(func() error {
			results[i].LLMGeneratedExplanation = e.explain(ectx, results[i])
			return nil
		})
	}
	_ = g.Wait()
}

// explanationContext bounds the explanation phase to explanationBudgetShare
// of the time left before ctx's deadline.
func explanationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	budget := time.Duration(float64(time.Until(deadline)) * explanationBudgetShare)
	return context.WithTimeout(ctx, budget)
}

// explain asks the external provider for narrative text. Failures, panics
// included, leave the explanation empty and never touch the structured
// fields.
func (e *Engine) explain(ctx context.Context, r domain.AnalysisResult) (explanation domain.Explanation) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.WithFields(logrus.Fields{
				"drug":  r.Drug,
				"panic": p,
				"stack": string(debug.Stack()),
			}).Error("Explanation provider panicked")
			explanation = domain.Explanation{}
		}
	}()

	facts := domain.ExplanationFacts{
		Drug:             r.Drug,
		Gene:             r.PharmacogenomicProfile.PrimaryGene,
		Diplotype:        r.PharmacogenomicProfile.Diplotype,
		Phenotype:        r.PharmacogenomicProfile.Phenotype,
		RiskLabel:        r.RiskAssessment.RiskLabel,
		Severity:         r.RiskAssessment.Severity,
		Action:           r.ClinicalRecommendation.Action,
		Citation:         r.ClinicalRecommendation.CPICGuideline,
		DetectedVariants: r.PharmacogenomicProfile.DetectedVariants,
	}
	explanation, err := e.explainer.Explain(ctx, facts)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"drug": r.Drug,
			"gene": facts.Gene,
		}).Warn("Explanation unavailable, returning structured result only")
		return domain.Explanation{}
	}
	return explanation
}

func degradedResult(patientID, drug, timestamp, gene string) domain.AnalysisResult {
	if gene == "" {
		gene = domain.UnknownGene
	}
	return domain.AnalysisResult{
		PatientID: patientID,
		Drug:      drug,
		Timestamp: timestamp,
		RiskAssessment: domain.RiskAssessment{
			RiskLabel:       domain.RISK_ANALYSIS_ERROR,
			ConfidenceScore: ConfidenceAnalysisError,
			Severity:        domain.SEVERITY_NONE,
		},
		PharmacogenomicProfile: domain.PharmacogenomicProfile{
			PrimaryGene:      gene,
			Diplotype:        domain.IndeterminateDiplotype().String(),
			Phenotype:        domain.INDETERMINATE,
			DetectedVariants: []domain.DetectedVariant{},
		},
		ClinicalRecommendation: DefaultRecommendation(),
	}
}
