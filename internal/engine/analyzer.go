package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-insurance/kestrel/internal/docverify"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/patterns"
	"github.com/opensource-insurance/kestrel/internal/repository"
	"github.com/opensource-insurance/kestrel/internal/rules"
	"github.com/opensource-insurance/kestrel/internal/signals"
)

// Batch limits.
const (
	MaxBatchSize   = 50
	batchGroupSize = 5
)

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d claims", MaxBatchSize)

// ErrEmptyBatch is returned when a batch contains no claim IDs.
var ErrEmptyBatch = errors.New("batch contains no claim IDs")

// historyTTL bounds how long a memoized customer history may serve
// analyses before the database is consulted again.
const historyTTL = 5 * time.Minute

// Analysis rate tracking per customer. Crossing the threshold within
// one window only logs; it never changes scores.
const (
	analysisRateWindow = time.Hour
	analysisRateWarn   = 25
)

// Options selects which optional sections an analysis produces. The
// fraud assessment, findings, payout, and confidence always run.
type Options struct {
	IncludeRecommendations bool
	IncludeRiskFactors     bool
	IncludeDocuments       bool
}

// DefaultOptions enables every section.
func DefaultOptions() Options {
	return Options{
		IncludeRecommendations: true,
		IncludeRiskFactors:     true,
		IncludeDocuments:       true,
	}
}

// Analyzer runs the full analysis pipeline for claims.
type Analyzer struct {
	repo      domain.Repository
	cache     domain.Cache
	detector  *patterns.Detector
	verifier  docverify.Verifier
	riskRules *rules.Engine
	logger    *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewAnalyzer wires the pipeline. cache, verifier, and riskRules may
// be nil; the corresponding stages are skipped or uncached.
func NewAnalyzer(repo domain.Repository, cache domain.Cache, detector *patterns.Detector, verifier docverify.Verifier, riskRules *rules.Engine, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		repo:      repo,
		cache:     cache,
		detector:  detector,
		verifier:  verifier,
		riskRules: riskRules,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze runs the pipeline for one claim and persists the result as a
// new analysis record. Re-running on unchanged inputs yields the same
// scores; only the record identity and timestamp differ.
func (a *Analyzer) Analyze(ctx context.Context, tenantID, claimID string, opts Options) (*domain.AnalysisRecord, error) {
	claim, err := a.repo.GetClaimWithStats(ctx, tenantID, claimID)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()

	// Fan out the data-gathering stages. Each stage degrades to a
	// neutral result on upstream failure so one slow or broken
	// dependency cannot sink the analysis.
	var (
		wg          sync.WaitGroup
		history     *domain.CustomerHistory
		profile     *domain.CustomerProfile
		detected    []domain.Pattern
		typeGroups  []domain.TypePattern
		docAnalyses []domain.DocumentAnalysis
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		history = a.customerHistory(ctx, tenantID, claim)
	}()

	if opts.IncludeRiskFactors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, perr := a.repo.GetCustomerProfile(ctx, tenantID, claim.CustomerID, claim.ID)
			if perr != nil {
				a.logger.Warn("customer profile unavailable", "tenant_id", tenantID, "claim_id", claim.ID, "error", perr)
				p = &domain.CustomerProfile{}
			}
			profile = p
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			typeGroups = a.detector.HistoricalPatterns(ctx, tenantID, &claim.Claim)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		detected = a.detector.Detect(ctx, tenantID, &claim.Claim)
	}()

	if opts.IncludeDocuments && a.verifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docAnalyses = a.verifyDocuments(ctx, tenantID, claim.ID)
		}()
	}

	wg.Wait()

	// Pure scoring over the gathered data.
	assessment := BlendFraudScore(FraudSignals{
		Amount:      signals.Amount(claim.Amount),
		Timing:      signals.Timing(claim.CreatedAt, now),
		History:     signals.History(history),
		Geographic:  signals.Geographic(&claim.Claim),
		Description: signals.Description(claim.Description),
	})

	result := domain.AnalysisResult{
		FraudRiskLevel:    assessment.RiskLevel,
		LegitimacyScore:   assessment.LegitimacyScore,
		RecommendedPayout: RecommendedPayout(claim.Amount, assessment.LegitimacyScore),
		FraudAssessment:   assessment,
		PatternDetection:  detected,
		DocumentAnalysis:  docAnalyses,
	}

	var factors []domain.RiskFactor
	if opts.IncludeRiskFactors {
		factors = append(factors, CustomerRiskFactors(profile)...)
		factors = append(factors, PolicyRiskFactors(&claim.Claim, now)...)
		factors = append(factors, ExternalRiskFactors(&claim.Claim)...)
		factors = append(factors, a.customRiskFactors(claim, history, now)...)
		result.RiskAnalysis = &domain.RiskAnalysis{
			RiskFactors:        factors,
			HistoricalPatterns: HistoricalPatternsFor(typeGroups),
			OverallRiskScore:   OverallRiskScore(factors),
		}
	}

	result.KeyFindings = KeyFindings(claim, assessment, docAnalyses)
	if opts.IncludeRecommendations {
		result.Recommendations = Recommendations(claim, assessment)
	}
	result.OverallConfidence = OverallConfidence(docAnalyses, factors)

	record := &domain.AnalysisRecord{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		ClaimID:    claim.ID,
		FraudScore: assessment.FraudScore,
		RiskLevel:  assessment.RiskLevel,
		Confidence: result.OverallConfidence,
		Result:     result,
		CreatedAt:  now,
	}

	if err := a.repo.SaveAnalysis(ctx, tenantID, record); err != nil {
		return nil, fmt.Errorf("failed to persist analysis for claim %s: %w", claim.ID, err)
	}

	// Best effort: the record is the source of truth, the claim row
	// just mirrors the latest assessment.
	if err := a.repo.UpdateClaimAssessment(ctx, tenantID, claim.ID, assessment.FraudScore, assessment.RiskLevel); err != nil {
		a.logger.Warn("failed to update claim assessment", "tenant_id", tenantID, "claim_id", claim.ID, "error", err)
	}

	a.trackAnalysisRate(ctx, tenantID, claim.CustomerID)

	return record, nil
}

// BatchItem is the per-claim outcome of a batch run.
type BatchItem struct {
	ClaimID  string                 `json:"claim_id"`
	Success  bool                   `json:"success"`
	Status   string                 `json:"status"` // analyzed, not_found, error
	Error    string                 `json:"error,omitempty"`
	Analysis *domain.AnalysisRecord `json:"analysis,omitempty"`
}

// AnalyzeBatch analyzes up to MaxBatchSize claims, running
// batchGroupSize at a time. Per-claim failures are reported in the
// result rather than aborting the batch.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, tenantID string, claimIDs []string, opts Options) ([]BatchItem, error) {
	if len(claimIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(claimIDs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	items := make([]BatchItem, len(claimIDs))

	for start := 0; start < len(claimIDs); start += batchGroupSize {
		end := start + batchGroupSize
		if end > len(claimIDs) {
			end = len(claimIDs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				items[idx] = a.analyzeOne(ctx, tenantID, claimIDs[idx], opts)
			}(i)
		}
		wg.Wait()
	}

	return items, nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, tenantID, claimID string, opts Options) BatchItem {
	record, err := a.Analyze(ctx, tenantID, claimID, opts)
	switch {
	case err == nil:
		return BatchItem{ClaimID: claimID, Success: true, Status: "analyzed", Analysis: record}
	case errors.Is(err, repository.ErrNotFound):
		return BatchItem{ClaimID: claimID, Status: "not_found", Error: "claim not found"}
	default:
		a.logger.Error("batch analysis failed", "tenant_id", tenantID, "claim_id", claimID, "error", err)
		return BatchItem{ClaimID: claimID, Status: "error", Error: err.Error()}
	}
}

// trackAnalysisRate counts analyses per customer inside a rolling
// window so operators can spot claims being re-scored in a loop.
func (a *Analyzer) trackAnalysisRate(ctx context.Context, tenantID, customerID string) {
	if a.cache == nil {
		return
	}
	count, err := a.cache.IncrementCounter(ctx, tenantID, "analysis_rate:"+customerID, analysisRateWindow)
	if err != nil {
		a.logger.Warn("failed to track analysis rate", "tenant_id", tenantID, "customer_id", customerID, "error", err)
		return
	}
	if count > analysisRateWarn {
		a.logger.Warn("high analysis rate for customer", "tenant_id", tenantID, "customer_id", customerID, "count", count)
	}
}

// customerHistory fetches the memoized history aggregate, falling back
// to the repository and then to a neutral zero history.
func (a *Analyzer) customerHistory(ctx context.Context, tenantID string, claim *domain.ClaimWithStats) *domain.CustomerHistory {
	if a.cache != nil {
		if cached, err := a.cache.GetCustomerHistory(ctx, tenantID, claim.CustomerID); err == nil && cached != nil {
			return cached
		}
	}

	history, err := a.repo.GetCustomerHistory(ctx, tenantID, claim.CustomerID, claim.ID)
	if err != nil {
		a.logger.Warn("customer history unavailable", "tenant_id", tenantID, "claim_id", claim.ID, "error", err)
		return &domain.CustomerHistory{}
	}

	if a.cache != nil {
		if err := a.cache.SetCustomerHistory(ctx, tenantID, claim.CustomerID, history, historyTTL); err != nil {
			a.logger.Warn("failed to cache customer history", "tenant_id", tenantID, "error", err)
		}
	}
	return history
}

// customRiskFactors evaluates the operator-defined CEL rules.
func (a *Analyzer) customRiskFactors(claim *domain.ClaimWithStats, history *domain.CustomerHistory, now time.Time) []domain.RiskFactor {
	if a.riskRules == nil || a.riskRules.RulesCount() == 0 {
		return nil
	}
	facts := &rules.ClaimFacts{
		ClaimID:             claim.ID,
		Amount:              claim.Amount,
		InsuranceType:       claim.InsuranceType,
		InsuranceCategory:   claim.InsuranceCategory,
		ClaimType:           claim.ClaimType,
		DescriptionLength:   len(claim.Description),
		DaysSinceFiling:     now.Sub(claim.CreatedAt).Hours() / 24,
		Weekend:             claim.CreatedAt.Weekday() == time.Saturday || claim.CreatedAt.Weekday() == time.Sunday,
		CustomerTotalClaims: claim.CustomerTotalClaims,
		CustomerAvgFraud:    claim.CustomerAvgFraudScore,
	}
	if history != nil {
		facts.CustomerRejectedClaims = history.RejectedClaims
	}
	return a.riskRules.Evaluate(facts)
}

// verifyDocuments scores every attached document. A document that
// fails verification is skipped with a warning.
func (a *Analyzer) verifyDocuments(ctx context.Context, tenantID, claimID string) []domain.DocumentAnalysis {
	docs, err := a.repo.ListClaimDocuments(ctx, tenantID, claimID)
	if err != nil {
		a.logger.Warn("document listing failed", "tenant_id", tenantID, "claim_id", claimID, "error", err)
		return nil
	}
	analyses := make([]domain.DocumentAnalysis, 0, len(docs))
	for _, doc := range docs {
		analysis, verr := a.verifier.Verify(ctx, doc)
		if verr != nil {
			a.logger.Warn("document verification failed", "tenant_id", tenantID, "document_id", doc.ID, "error", verr)
			continue
		}
		analyses = append(analyses, *analysis)
	}
	return analyses
}
