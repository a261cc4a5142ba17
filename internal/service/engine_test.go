package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-server/internal/domain"
)

// MockExplanationProvider is a mock implementation of the ExplanationProvider interface
type MockExplanationProvider struct {
	mock.Mock
}

func (m *MockExplanationProvider) Explain(ctx context.Context, facts domain.ExplanationFacts) (domain.Explanation, error) {
	args := m.Called(ctx, facts)
	return args.Get(0).(domain.Explanation), args.Error(1)
}

type panickingExplainer struct {
	drug string
}

func (p panickingExplainer) Explain(_ context.Context, facts domain.ExplanationFacts) (domain.Explanation, error) {
	if facts.Drug == p.drug {
		panic("explainer exploded")
	}
	return domain.Explanation{Summary: "ok"}, nil
}

// blockingExplainer never answers; it returns once its context ends.
type blockingExplainer struct {
	mu  sync.Mutex
	end time.Time
	set bool
}

func (b *blockingExplainer) Explain(ctx context.Context, _ domain.ExplanationFacts) (domain.Explanation, error) {
	b.mu.Lock()
	b.end, b.set = ctx.Deadline()
	b.mu.Unlock()
	<-ctx.Done()
	return domain.Explanation{}, ctx.Err()
}

func (b *blockingExplainer) deadline() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end, b.set
}

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithClock(func() time.Time { return fixedTime })}, opts...)
	return NewEngine(newTestLogger(), newTestKB(t), domain.AnalysisConfig{HonorFilters: true}, opts...)
}

func analyze(t *testing.T, e *Engine, vcfText string, drugs ...string) []domain.AnalysisResult {
	t.Helper()
	results, err := e.Analyze(context.Background(), domain.AnalysisRequest{
		PatientID: "PATIENT_001",
		VCF:       strings.NewReader(vcfText),
		Drugs:     drugs,
	})
	require.NoError(t, err)
	return results
}

func TestEngine_WarfarinPoorMetabolizer(t *testing.T) {
	e := newTestEngine(t)

	results := analyze(t, e, buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/1")), "WARFARIN")
	require.Len(t, results, 1)
	r := results[0]

	assert.Equal(t, "PATIENT_001", r.PatientID)
	assert.Equal(t, "WARFARIN", r.Drug)
	assert.Equal(t, "2025-03-14T09:26:53Z", r.Timestamp)
	assert.Equal(t, "CYP2C9", r.PharmacogenomicProfile.PrimaryGene)
	assert.Equal(t, "*2/*3", r.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.PM, r.PharmacogenomicProfile.Phenotype)
	assert.Len(t, r.PharmacogenomicProfile.DetectedVariants, 2)
	assert.Equal(t, domain.RISK_ADJUST_DOSAGE, r.RiskAssessment.RiskLabel)
	assert.Equal(t, domain.SEVERITY_HIGH, r.RiskAssessment.Severity)
	assert.Equal(t, 1.0, r.RiskAssessment.ConfidenceScore)
	assert.True(t, r.ClinicalRecommendation.MonitoringRequired)
	assert.True(t, r.LLMGeneratedExplanation.IsEmpty())

	assert.True(t, r.QualityMetrics.VCFParsingSuccess)
	assert.Equal(t, 2, r.QualityMetrics.VariantsDetected)
	assert.Equal(t, []string{"CYP2C9"}, r.QualityMetrics.GenesAnalyzed)
	assert.Equal(t, 1.0, r.QualityMetrics.DataCompletenessScore)
	assert.Equal(t, 0, r.QualityMetrics.MalformedRecords)
}

func TestEngine_DrugWithoutGene(t *testing.T) {
	e := newTestEngine(t)

	results := analyze(t, e, buildVCF(cyp2c9Star2("0/1")), "aspirin")
	require.Len(t, results, 1)
	r := results[0]

	assert.Equal(t, "ASPIRIN", r.Drug)
	assert.Equal(t, domain.UnknownGene, r.PharmacogenomicProfile.PrimaryGene)
	assert.Equal(t, "*1/*1", r.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.NM, r.PharmacogenomicProfile.Phenotype)
	assert.Empty(t, r.PharmacogenomicProfile.DetectedVariants)
	assert.Equal(t, domain.RISK_UNKNOWN, r.RiskAssessment.RiskLabel)
	assert.Equal(t, ConfidenceUnknownGene, r.RiskAssessment.ConfidenceScore)
	assert.False(t, r.ClinicalRecommendation.MonitoringRequired)
	assert.Equal(t, []string{}, r.QualityMetrics.GenesAnalyzed)
	assert.Equal(t, 1.0, r.QualityMetrics.DataCompletenessScore)
}

func TestEngine_DrugNamesAreCaseInsensitive(t *testing.T) {
	e := newTestEngine(t)
	vcfText := buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/1"))

	upper := analyze(t, e, vcfText, "WARFARIN")
	lower := analyze(t, e, vcfText, " warfarin ")
	mixed := analyze(t, e, vcfText, "WarFarin")

	assert.Equal(t, upper, lower)
	assert.Equal(t, upper, mixed)
}

func TestEngine_OrderAndDuplicates(t *testing.T) {
	e := newTestEngine(t)

	results := analyze(t, e, buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/1")),
		"simvastatin", "warfarin", "aspirin", "WARFARIN", "", "codeine")

	drugs := make([]string, 0, len(results))
	for _, r := range results {
		drugs = append(drugs, r.Drug)
	}
	assert.Equal(t, []string{"SIMVASTATIN", "WARFARIN", "ASPIRIN", "WARFARIN", "CODEINE"}, drugs)
	assert.Equal(t, results[1].PharmacogenomicProfile, results[3].PharmacogenomicProfile)

	for _, r := range results {
		assert.Equal(t, []string{"CYP2C9", "CYP2D6", "SLCO1B1"}, r.QualityMetrics.GenesAnalyzed)
		assert.Equal(t, 0.2857, r.QualityMetrics.DataCompletenessScore)
	}
}

func TestEngine_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	vcfText := buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/1"),
		vcfLine{chrom: "22", pos: 42130692, id: "rs1065852", ref: "G", alt: "A", gt: "0/1"})

	first := analyze(t, e, vcfText, "WARFARIN", "CODEINE", "CLOPIDOGREL", "ASPIRIN")
	second := analyze(t, e, vcfText, "WARFARIN", "CODEINE", "CLOPIDOGREL", "ASPIRIN")

	assert.Equal(t, first, second)
}

func TestEngine_MalformedRecordsDoNotChangeCalls(t *testing.T) {
	e := newTestEngine(t)
	clean := buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/1"))

	lines := strings.Split(strings.TrimSuffix(clean, "\n"), "\n")
	noisy := strings.Join([]string{
		lines[0], lines[1], lines[2],
		"10\tnot-a-number\trs1\tC\tT\t99\tPASS\t.\tGT\t0/1",
		lines[3],
		"chr99\t100\t.\tA\tG\t99\tPASS\t.\tGT\t0/1",
		"too\tfew\tcolumns",
		lines[4],
	}, "\n") + "\n"

	want := analyze(t, e, clean, "WARFARIN")
	got := analyze(t, e, noisy, "WARFARIN")
	require.Len(t, got, 1)

	assert.Equal(t, want[0].PharmacogenomicProfile, got[0].PharmacogenomicProfile)
	assert.Equal(t, want[0].RiskAssessment, got[0].RiskAssessment)
	assert.Equal(t, 3, got[0].QualityMetrics.MalformedRecords)
	assert.Equal(t, 2, got[0].QualityMetrics.VariantsDetected)
	assert.True(t, got[0].QualityMetrics.VCFParsingSuccess)
}

func TestEngine_ConfidenceFollowsCompleteness(t *testing.T) {
	e := newTestEngine(t)

	complete := analyze(t, e, buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/0")), "WARFARIN")
	partial := analyze(t, e, buildVCF(cyp2c9Star2("0/1")), "WARFARIN")

	assert.Equal(t, "*1/*2", complete[0].PharmacogenomicProfile.Diplotype)
	assert.Equal(t, "*1/*2", partial[0].PharmacogenomicProfile.Diplotype)
	assert.Equal(t, 1.0, complete[0].RiskAssessment.ConfidenceScore)
	assert.Equal(t, 0.85, partial[0].RiskAssessment.ConfidenceScore)
	assert.Equal(t, 0.5, partial[0].QualityMetrics.DataCompletenessScore)
	assert.Greater(t, complete[0].RiskAssessment.ConfidenceScore, partial[0].RiskAssessment.ConfidenceScore)
}

func TestEngine_IndeterminateCall(t *testing.T) {
	e := newTestEngine(t)

	results := analyze(t, e, buildVCF(cyp2c9Star2("1/1"), cyp2c9Star3("0/1")), "WARFARIN")
	r := results[0]

	assert.Equal(t, "Indeterminate", r.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.INDETERMINATE, r.PharmacogenomicProfile.Phenotype)
	assert.Equal(t, domain.RISK_UNKNOWN, r.RiskAssessment.RiskLabel)
	assert.Equal(t, 0.4, r.RiskAssessment.ConfidenceScore)
	assert.Len(t, r.PharmacogenomicProfile.DetectedVariants, 2)
}

func TestEngine_EmptyDrugList(t *testing.T) {
	e := newTestEngine(t)

	t.Run("Valid VCF", func(t *testing.T) {
		results, err := e.Analyze(context.Background(), domain.AnalysisRequest{
			VCF:   strings.NewReader(buildVCF(cyp2c9Star2("0/1"))),
			Drugs: []string{" ", ""},
		})
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("Stream is still validated", func(t *testing.T) {
		results, err := e.Analyze(context.Background(), domain.AnalysisRequest{
			VCF:   strings.NewReader("not even a vcf"),
			Drugs: []string{" ", ""},
		})
		var formatErr *domain.FormatError
		assert.ErrorAs(t, err, &formatErr)
		assert.Nil(t, results)
	})
}

func TestEngine_StreamErrors(t *testing.T) {
	e := newTestEngine(t)

	t.Run("Not a VCF", func(t *testing.T) {
		_, err := e.Analyze(context.Background(), domain.AnalysisRequest{
			VCF:   strings.NewReader("hello\nworld\n"),
			Drugs: []string{"WARFARIN"},
		})
		var formatErr *domain.FormatError
		assert.ErrorAs(t, err, &formatErr)
	})

	t.Run("Missing stream", func(t *testing.T) {
		_, err := e.Analyze(context.Background(), domain.AnalysisRequest{Drugs: []string{"WARFARIN"}})
		var formatErr *domain.FormatError
		assert.ErrorAs(t, err, &formatErr)
	})

	t.Run("Missing column header", func(t *testing.T) {
		_, err := e.Analyze(context.Background(), domain.AnalysisRequest{
			VCF:   strings.NewReader("##fileformat=VCFv4.2\n10\t1\t.\tA\tG\t.\tPASS\t.\n"),
			Drugs: []string{"WARFARIN"},
		})
		var parseErr *domain.ParseError
		assert.ErrorAs(t, err, &parseErr)
	})
}

func TestEngine_Cancellation(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := e.Analyze(ctx, domain.AnalysisRequest{
		VCF:   strings.NewReader(buildVCF(cyp2c9Star2("0/1"))),
		Drugs: []string{"WARFARIN", "CODEINE"},
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}

func TestEngine_Explanations(t *testing.T) {
	vcfText := buildVCF(cyp2c9Star2("0/1"), cyp2c9Star3("0/1"))

	t.Run("Explanation attached", func(t *testing.T) {
		explainer := new(MockExplanationProvider)
		explanation := domain.Explanation{
			Summary:         "Reduced warfarin clearance.",
			Mechanism:       "CYP2C9 hydroxylates S-warfarin.",
			VariantImpact:   "*2 and *3 reduce enzyme activity.",
			ClinicalContext: "Lower starting dose.",
		}
		explainer.On("Explain", mock.Anything, mock.MatchedBy(func(f domain.ExplanationFacts) bool {
			return f.Drug == "WARFARIN" && f.Diplotype == "*2/*3" && f.Phenotype == domain.PM
		})).Return(explanation, nil)

		e := newTestEngine(t, WithExplainer(explainer))
		results := analyze(t, e, vcfText, "WARFARIN")

		assert.Equal(t, explanation, results[0].LLMGeneratedExplanation)
		explainer.AssertExpectations(t)
	})

	t.Run("Explainer failure leaves structured fields intact", func(t *testing.T) {
		explainer := new(MockExplanationProvider)
		explainer.On("Explain", mock.Anything, mock.Anything).Return(domain.Explanation{}, errors.New("upstream unavailable"))

		plain := analyze(t, newTestEngine(t), vcfText, "WARFARIN")
		results := analyze(t, newTestEngine(t, WithExplainer(explainer)), vcfText, "WARFARIN")

		assert.Equal(t, plain, results)
		assert.True(t, results[0].LLMGeneratedExplanation.IsEmpty())
	})

	t.Run("Explainer panic leaves structured fields intact", func(t *testing.T) {
		plain := analyze(t, newTestEngine(t), vcfText, "WARFARIN", "CODEINE")
		e := newTestEngine(t, WithExplainer(panickingExplainer{drug: "CODEINE"}))

		results := analyze(t, e, vcfText, "WARFARIN", "CODEINE")
		require.Len(t, results, 2)

		assert.Equal(t, domain.RISK_ADJUST_DOSAGE, results[0].RiskAssessment.RiskLabel)
		assert.Equal(t, "ok", results[0].LLMGeneratedExplanation.Summary)

		assert.Equal(t, plain[1], results[1])
		assert.True(t, results[1].LLMGeneratedExplanation.IsEmpty())
	})

	t.Run("Hanging explainer keeps results within the deadline", func(t *testing.T) {
		explainer := &blockingExplainer{}
		e := newTestEngine(t, WithExplainer(explainer))

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		requestDeadline, _ := ctx.Deadline()

		results, err := e.Analyze(ctx, domain.AnalysisRequest{
			PatientID: "PATIENT_001",
			VCF:       strings.NewReader(vcfText),
			Drugs:     []string{"WARFARIN"},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)

		r := results[0]
		assert.Equal(t, "*2/*3", r.PharmacogenomicProfile.Diplotype)
		assert.Equal(t, domain.PM, r.PharmacogenomicProfile.Phenotype)
		assert.Equal(t, domain.RISK_ADJUST_DOSAGE, r.RiskAssessment.RiskLabel)
		assert.True(t, r.LLMGeneratedExplanation.IsEmpty())

		deadline, ok := explainer.deadline()
		require.True(t, ok)
		assert.True(t, deadline.Before(requestDeadline))
	})
}

func TestDegradedResult(t *testing.T) {
	r := degradedResult("PATIENT_001", "CODEINE", "2025-03-14T09:26:53Z", "CYP2D6")

	assert.Equal(t, "CODEINE", r.Drug)
	assert.Equal(t, domain.RISK_ANALYSIS_ERROR, r.RiskAssessment.RiskLabel)
	assert.Equal(t, ConfidenceAnalysisError, r.RiskAssessment.ConfidenceScore)
	assert.Equal(t, domain.SEVERITY_NONE, r.RiskAssessment.Severity)
	assert.Equal(t, "CYP2D6", r.PharmacogenomicProfile.PrimaryGene)
	assert.Equal(t, domain.INDETERMINATE, r.PharmacogenomicProfile.Phenotype)
	assert.Equal(t, "Clinician review required.", r.ClinicalRecommendation.Action)

	assert.Equal(t, domain.UnknownGene, degradedResult("P", "ASPIRIN", "", "").PharmacogenomicProfile.PrimaryGene)
}
