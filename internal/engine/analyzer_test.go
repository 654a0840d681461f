package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-insurance/kestrel/internal/cache"
	"github.com/opensource-insurance/kestrel/internal/docverify"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/patterns"
	"github.com/opensource-insurance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_engine_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestAnalyzer(t *testing.T, repo domain.Repository, c domain.Cache) *Analyzer {
	t.Helper()

	detector := patterns.NewDetector(repo, nil)
	verifier := docverify.Static{Authenticity: 0.95, Quality: 0.95, Completeness: 0.95}
	a := NewAnalyzer(repo, c, detector, verifier, nil, nil)
	a.now = func() time.Time {
		return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // Wednesday
	}
	return a
}

func seedClaim(t *testing.T, repo domain.Repository, tenantID string, claim *domain.Claim) {
	t.Helper()
	if err := repo.SaveClaim(context.Background(), tenantID, claim); err != nil {
		t.Fatalf("SaveClaim failed: %v", err)
	}
}

func quietClaim(id string, amount float64, createdAt time.Time) *domain.Claim {
	return &domain.Claim{
		ID:                id,
		TenantID:          "tenant-a",
		ClaimNumber:       "CLM-" + id,
		CustomerID:        "cust-quiet",
		PolicyNumber:      "POL-1",
		InsuranceType:     "motor",
		InsuranceCategory: "silver",
		ClaimType:         "accident",
		Amount:            amount,
		Description:       "Vehicle damage from a collision on the highway",
		IncidentDate:      createdAt.AddDate(0, 0, -1),
		Status:            domain.StatusPending,
		Priority:          domain.PriorityMedium,
		CoveragePercent:   50,
		CoveredAmount:     amount / 2,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}

func TestAnalyze(t *testing.T) {
	repo := newTestRepo(t)
	analyzer := newTestAnalyzer(t, repo, nil)
	ctx := context.Background()
	tenantID := "tenant-a"

	// Filed well before the analysis time, so no timing signal
	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seedClaim(t, repo, tenantID, quietClaim("claim-quiet", 25000, filed))

	record, err := analyzer.Analyze(ctx, tenantID, "claim-quiet", DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if record.FraudScore != 0 {
		t.Errorf("fraud score = %v, want 0", record.FraudScore)
	}
	if record.RiskLevel != domain.RiskLow {
		t.Errorf("risk level = %q, want LOW", record.RiskLevel)
	}
	if record.Result.LegitimacyScore != 1 {
		t.Errorf("legitimacy = %v, want 1", record.Result.LegitimacyScore)
	}
	if record.Result.RecommendedPayout != 25000 {
		t.Errorf("payout = %v, want full amount", record.Result.RecommendedPayout)
	}
	if record.Confidence != 70 {
		t.Errorf("confidence = %d, want 70", record.Confidence)
	}

	// A fully legitimate claim gets the auto-approve recommendation
	if len(record.Result.Recommendations) != 1 {
		t.Fatalf("recommendations = %+v", record.Result.Recommendations)
	}
	if record.Result.Recommendations[0].ActionType != domain.ActionApprove {
		t.Errorf("action = %q", record.Result.Recommendations[0].ActionType)
	}

	if record.Result.RiskAnalysis == nil {
		t.Fatal("expected risk analysis section")
	}
	// Geographic placeholder is always present
	found := false
	for _, f := range record.Result.RiskAnalysis.RiskFactors {
		if f.FactorName == "Geographic Risk Assessment" {
			found = true
		}
	}
	if !found {
		t.Error("missing geographic risk factor")
	}

	t.Run("RecordPersisted", func(t *testing.T) {
		analyses, err := repo.ListAnalyses(ctx, tenantID, "claim-quiet", 10)
		if err != nil {
			t.Fatalf("ListAnalyses failed: %v", err)
		}
		if len(analyses) != 1 {
			t.Fatalf("expected 1 analysis, got %d", len(analyses))
		}
		if analyses[0].ID != record.ID {
			t.Errorf("persisted ID = %q, want %q", analyses[0].ID, record.ID)
		}
	})

	t.Run("ClaimMirrorsAssessment", func(t *testing.T) {
		claim, err := repo.GetClaim(ctx, tenantID, "claim-quiet")
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}
		if claim.FraudScore != record.FraudScore || claim.RiskLevel != record.RiskLevel {
			t.Errorf("claim assessment = (%v, %q), want (%v, %q)",
				claim.FraudScore, claim.RiskLevel, record.FraudScore, record.RiskLevel)
		}
	})

	t.Run("RerunIsStable", func(t *testing.T) {
		again, err := analyzer.Analyze(ctx, tenantID, "claim-quiet", DefaultOptions())
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if again.ID == record.ID {
			t.Error("expected a fresh record identity")
		}
		if again.FraudScore != record.FraudScore || again.RiskLevel != record.RiskLevel || again.Confidence != record.Confidence {
			t.Errorf("rerun diverged: %+v vs %+v", again, record)
		}
	})

	t.Run("UnknownClaim", func(t *testing.T) {
		_, err := analyzer.Analyze(ctx, tenantID, "missing", DefaultOptions())
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantScoped", func(t *testing.T) {
		_, err := analyzer.Analyze(ctx, "tenant-b", "claim-quiet", DefaultOptions())
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound for wrong tenant, got %v", err)
		}
	})
}

func TestAnalyzeOptions(t *testing.T) {
	repo := newTestRepo(t)
	analyzer := newTestAnalyzer(t, repo, nil)
	ctx := context.Background()
	tenantID := "tenant-a"

	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seedClaim(t, repo, tenantID, quietClaim("claim-opts", 25000, filed))

	record, err := analyzer.Analyze(ctx, tenantID, "claim-opts", Options{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if record.Result.Recommendations != nil {
		t.Errorf("recommendations present despite disabled option: %+v", record.Result.Recommendations)
	}
	if record.Result.RiskAnalysis != nil {
		t.Errorf("risk analysis present despite disabled option")
	}
	if record.Result.DocumentAnalysis != nil {
		t.Errorf("document analysis present despite disabled option")
	}

	// The fraud assessment always runs
	if record.RiskLevel == "" {
		t.Error("missing fraud assessment")
	}
}

// failingHistoryRepo simulates a broken aggregate query.
type failingHistoryRepo struct {
	domain.Repository
}

func (r *failingHistoryRepo) GetCustomerHistory(ctx context.Context, tenantID, customerID, excludeClaimID string) (*domain.CustomerHistory, error) {
	return nil, errors.New("aggregate query timed out")
}

func TestAnalyzeHistoryDegradation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-a"

	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seedClaim(t, repo, tenantID, quietClaim("claim-degraded", 25000, filed))

	detector := patterns.NewDetector(repo, nil)
	analyzer := NewAnalyzer(&failingHistoryRepo{repo}, nil, detector, nil, nil, nil)
	analyzer.now = func() time.Time {
		return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	}

	record, err := analyzer.Analyze(ctx, tenantID, "claim-degraded", DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze must degrade, not fail: %v", err)
	}

	// Neutral history contributes nothing to the blend
	if record.FraudScore != 0 {
		t.Errorf("fraud score = %v, want 0", record.FraudScore)
	}
}

// failingSaveRepo rejects analysis writes.
type failingSaveRepo struct {
	domain.Repository
}

func (r *failingSaveRepo) SaveAnalysis(ctx context.Context, tenantID string, record *domain.AnalysisRecord) error {
	return errors.New("disk full")
}

func TestAnalyzePersistenceFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-a"

	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seedClaim(t, repo, tenantID, quietClaim("claim-nosave", 25000, filed))

	detector := patterns.NewDetector(repo, nil)
	analyzer := NewAnalyzer(&failingSaveRepo{repo}, nil, detector, nil, nil, nil)

	if _, err := analyzer.Analyze(ctx, tenantID, "claim-nosave", DefaultOptions()); err == nil {
		t.Error("expected persistence error to surface")
	}
}

func TestAnalyzeCachesHistory(t *testing.T) {
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(100)
	analyzer := newTestAnalyzer(t, repo, lru)
	ctx := context.Background()
	tenantID := "tenant-a"

	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seedClaim(t, repo, tenantID, quietClaim("claim-cached", 25000, filed))

	if _, err := analyzer.Analyze(ctx, tenantID, "claim-cached", DefaultOptions()); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	history, err := lru.GetCustomerHistory(ctx, tenantID, "cust-quiet")
	if err != nil {
		t.Fatalf("GetCustomerHistory failed: %v", err)
	}
	if history == nil {
		t.Fatal("expected memoized customer history")
	}
	if history.TotalClaims != 0 {
		t.Errorf("total claims = %d, want 0", history.TotalClaims)
	}
}

func TestAnalyzeTracksRate(t *testing.T) {
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(100)
	analyzer := newTestAnalyzer(t, repo, lru)
	ctx := context.Background()
	tenantID := "tenant-a"

	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seedClaim(t, repo, tenantID, quietClaim("claim-rated", 25000, filed))

	for i := 0; i < 2; i++ {
		if _, err := analyzer.Analyze(ctx, tenantID, "claim-rated", DefaultOptions()); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}

	// Two analyses already counted, so the next increment lands on 3.
	count, err := lru.IncrementCounter(ctx, tenantID, "analysis_rate:cust-quiet", time.Hour)
	if err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if count != 3 {
		t.Errorf("rate counter = %d, want 3", count)
	}
}

func TestAnalyzeBatch(t *testing.T) {
	repo := newTestRepo(t)
	analyzer := newTestAnalyzer(t, repo, nil)
	ctx := context.Background()
	tenantID := "tenant-a"

	filed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	ids := make([]string, 0, 5)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("claim-batch-%d", i)
		seedClaim(t, repo, tenantID, quietClaim(id, 25000, filed))
		ids = append(ids, id)
	}
	ids = append(ids, "claim-missing")

	items, err := analyzer.AnalyzeBatch(ctx, tenantID, ids, DefaultOptions())
	if err != nil {
		t.Fatalf("AnalyzeBatch failed: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}

	for i := 0; i < 4; i++ {
		item := items[i]
		if !item.Success || item.Status != "analyzed" {
			t.Errorf("item %d = %+v", i, item)
		}
		if item.Analysis == nil {
			t.Errorf("item %d missing analysis record", i)
		}
	}

	missing := items[4]
	if missing.Success || missing.Status != "not_found" {
		t.Errorf("missing item = %+v", missing)
	}
	if missing.Analysis != nil {
		t.Error("missing item must not carry an analysis")
	}

	t.Run("EmptyBatch", func(t *testing.T) {
		if _, err := analyzer.AnalyzeBatch(ctx, tenantID, nil, DefaultOptions()); !errors.Is(err, ErrEmptyBatch) {
			t.Errorf("expected ErrEmptyBatch, got %v", err)
		}
	})

	t.Run("OversizedBatch", func(t *testing.T) {
		big := make([]string, MaxBatchSize+1)
		for i := range big {
			big[i] = fmt.Sprintf("claim-%d", i)
		}
		if _, err := analyzer.AnalyzeBatch(ctx, tenantID, big, DefaultOptions()); !errors.Is(err, ErrBatchTooLarge) {
			t.Errorf("expected ErrBatchTooLarge, got %v", err)
		}
	})
}
